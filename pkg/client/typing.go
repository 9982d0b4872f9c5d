package client

import (
	"sync"
	"time"
)

const DefaultQuietInterval = 2 * time.Second

type TypingState int

const (
	// TypingIdle: no indicator is shown to others.
	TypingIdle TypingState = iota
	// TypingActive: the first keystroke started the indicator.
	TypingActive
	// TypingDebouncing: later keystrokes keep pushing the stop out.
	TypingDebouncing
)

func (s TypingState) String() string {
	switch s {
	case TypingIdle:
		return "idle"
	case TypingActive:
		return "typing"
	case TypingDebouncing:
		return "debouncing"
	}
	return "unknown"
}

type stopper interface {
	Stop() bool
}

// Typing turns keystrokes into start/stop typing signals. A stop is sent
// once no keystroke arrived for the quiet interval, when a message is sent,
// or when the conversation is closed. It is safe for concurrent use; emit
// is called with the internal lock held so signals never reorder.
type Typing struct {
	quiet time.Duration
	emit  func(isTyping bool)
	after func(time.Duration, func()) stopper

	mu     sync.Mutex
	state  TypingState
	timer  stopper
	gen    uint64
	closed bool
}

func NewTyping(quiet time.Duration, emit func(isTyping bool)) *Typing {
	if quiet <= 0 {
		quiet = DefaultQuietInterval
	}
	return &Typing{
		quiet: quiet,
		emit:  emit,
		after: func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
	}
}

// Keystroke records local input.
func (t *Typing) Keystroke() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	switch t.state {
	case TypingIdle:
		t.state = TypingActive
		t.emit(true)
	case TypingActive:
		t.state = TypingDebouncing
	}
	t.arm()
}

// Sent ends the indicator because the message went out.
func (t *Typing) Sent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stop()
}

// Close ends the indicator and ignores any later keystrokes.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stop()
	t.closed = true
}

func (t *Typing) State() TypingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Typing) arm() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.after(t.quiet, func() { t.expire(gen) })
}

func (t *Typing) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// A keystroke re-armed the timer after this one fired.
	if gen != t.gen {
		return
	}
	t.stop()
}

// stop cancels the timer and emits a final stop if the indicator is on.
func (t *Typing) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	if t.state != TypingIdle {
		t.state = TypingIdle
		t.emit(false)
	}
}
