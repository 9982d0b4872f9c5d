// Package client keeps a local view of one conversation consistent with
// the server. Sends are shown optimistically, and server events are merged
// by message id in any order.
package client

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/model"
)

// Status is the display status of a message. Sending through Read are
// ordered and only ever increase; Failed sits outside that order.
type Status int

const (
	StatusSending Status = iota
	StatusSent
	StatusDelivered
	StatusRead
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

const (
	// maxHeldPerID bounds events kept for a message that has not arrived yet.
	maxHeldPerID = 32
	// maxHeldIDs bounds how many missing messages have events waiting.
	maxHeldIDs = 256
)

var (
	ErrUnknownEntry = errors.New("unknown timeline entry")
	ErrNotFailed    = errors.New("entry has not failed")
)

// Entry is one message as this client shows it.
type Entry struct {
	// Key is stable for the entry's lifetime: the correlation id of a local
	// send, or "m:<id>" for messages that arrived from the server.
	Key         string
	ID          int64 // 0 until the server confirms
	Sender      string
	Kind        model.MessageKind
	Body        string
	Attachment  *model.Attachment
	ReplyTo     *int64
	CreatedAt   time.Time
	EditedAt    *time.Time
	Reactions   []model.Reaction
	DeliveredTo []string
	ReadBy      []string
	Deleted     bool
	Status      Status
	Err         error

	hidden bool
	// version of the server copy Reactions came from.
	version int64
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Reactions = slices.Clone(e.Reactions)
	c.DeliveredTo = slices.Clone(e.DeliveredTo)
	c.ReadBy = slices.Clone(e.ReadBy)
	return &c
}

// Commands sends mutations of confirmed messages to the server.
type Commands interface {
	Edit(id int64, body string)
	Delete(id int64, forEveryone bool)
	React(id int64, emoji string)
}

type opKind int

const (
	opEdit opKind = iota
	opDelete
	opHide
	opReact
)

type op struct {
	kind opKind
	arg  string
}

// Timeline is not safe for concurrent use; drive it from one goroutine.
type Timeline struct {
	conversationID int64
	me             string
	commands       Commands

	byKey  map[string]*Entry
	byID   map[int64]*Entry
	queued map[string][]op
	held   map[int64][]model.Event
	hidden map[int64]bool

	now   func() time.Time
	newID func() string
}

func NewTimeline(conversationID int64, me string, commands Commands) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		me:             me,
		commands:       commands,
		byKey:          make(map[string]*Entry),
		byID:           make(map[int64]*Entry),
		queued:         make(map[string][]op),
		held:           make(map[int64][]model.Event),
		hidden:         make(map[int64]bool),
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

func serverKey(id int64) string {
	return "m:" + strconv.FormatInt(id, 10)
}

// SendLocal adds a pending message and returns it. Its Key is the
// correlation id to pass to Confirm or Fail.
func (t *Timeline) SendLocal(body string, kind model.MessageKind, replyTo *int64) *Entry {
	if kind == "" {
		kind = model.KindText
	}
	e := &Entry{
		Key:       t.newID(),
		Sender:    t.me,
		Kind:      kind,
		Body:      body,
		ReplyTo:   replyTo,
		CreatedAt: t.now(),
		Status:    StatusSending,
	}
	t.byKey[e.Key] = e
	return e.clone()
}

// Confirm attaches the server's copy to a pending send, flushes commands
// queued against it and applies events that arrived for its id first.
func (t *Timeline) Confirm(key string, server model.MessageView) error {
	e, ok := t.byKey[key]
	if !ok || e.ID != 0 {
		return fmt.Errorf("confirm %s: %w", key, ErrUnknownEntry)
	}

	ops := t.queued[key]
	delete(t.queued, key)

	if existing, ok := t.byID[server.ID]; ok && existing != e {
		// The message reached us through another path first.
		delete(t.byKey, existing.Key)
		mergeReceipts(e, existing.DeliveredTo, existing.ReadBy)
		if len(e.Reactions) == 0 {
			e.Reactions = existing.Reactions
		}
		e.version = existing.version
	}
	if !e.Deleted {
		e.Attachment = server.Attachment
		if !slices.ContainsFunc(ops, func(o op) bool { return o.kind == opEdit }) {
			e.Body = server.Body
		}
	}
	e.ID = server.ID
	e.CreatedAt = server.CreatedAt
	e.Err = nil
	if e.Status == StatusSending || e.Status == StatusFailed {
		e.Status = StatusSent
	}
	mergeReceipts(e, server.DeliveredTo, server.ReadBy)
	t.byID[e.ID] = e
	t.refreshStatus(e)

	for _, o := range ops {
		t.flush(e, o)
	}

	t.release(e.ID)
	return nil
}

func (t *Timeline) flush(e *Entry, o op) {
	switch o.kind {
	case opEdit:
		t.commands.Edit(e.ID, o.arg)
	case opDelete:
		t.commands.Delete(e.ID, true)
	case opHide:
		t.commands.Delete(e.ID, false)
		t.HideLocal(e.ID)
	case opReact:
		t.commands.React(e.ID, o.arg)
	}
}

// Fail marks a pending send as failed. The entry stays visible.
func (t *Timeline) Fail(key string, err error) error {
	e, ok := t.byKey[key]
	if !ok || e.ID != 0 {
		return fmt.Errorf("fail %s: %w", key, ErrUnknownEntry)
	}
	e.Status = StatusFailed
	e.Err = err
	return nil
}

// Retry moves a failed send back to sending and returns it so the caller
// can resend it under the same key.
func (t *Timeline) Retry(key string) (*Entry, error) {
	e, ok := t.byKey[key]
	if !ok {
		return nil, fmt.Errorf("retry %s: %w", key, ErrUnknownEntry)
	}
	if e.Status != StatusFailed {
		return nil, fmt.Errorf("retry %s: %w", key, ErrNotFailed)
	}
	e.Status = StatusSending
	e.Err = nil
	return e.clone(), nil
}

// Apply merges a server event. Events for other conversations and unknown
// types are ignored. It reports whether the event was applied or held.
func (t *Timeline) Apply(ev model.Event) bool {
	switch p := ev.Payload.(type) {
	case model.MessageView:
		return t.applyMessage(p)
	case *model.MessageView:
		return t.applyMessage(*p)
	case model.MessagesRead:
		return t.applyReceipt(ev, p.ConversationID, p.MessageIDs, p.ReadBy, true)
	case *model.MessagesRead:
		return t.applyReceipt(ev, p.ConversationID, p.MessageIDs, p.ReadBy, true)
	case model.MessagesDelivered:
		return t.applyReceipt(ev, p.ConversationID, p.MessageIDs, p.DeliveredTo, false)
	case *model.MessagesDelivered:
		return t.applyReceipt(ev, p.ConversationID, p.MessageIDs, p.DeliveredTo, false)
	case model.MessageEdited:
		return t.applyEdit(ev, p)
	case *model.MessageEdited:
		return t.applyEdit(ev, *p)
	case model.MessageDeleted:
		return t.applyDelete(ev, p)
	case *model.MessageDeleted:
		return t.applyDelete(ev, *p)
	case model.MessageReaction:
		return t.applyReaction(ev, p)
	case *model.MessageReaction:
		return t.applyReaction(ev, *p)
	}
	return false
}

func (t *Timeline) applyMessage(v model.MessageView) bool {
	if v.ConversationID != t.conversationID || t.hidden[v.ID] {
		return false
	}
	if e, ok := t.byID[v.ID]; ok {
		mergeReceipts(e, v.DeliveredTo, v.ReadBy)
		if v.Deleted {
			tombstone(e)
		} else if !e.Deleted {
			if newer(v.EditedAt, e.EditedAt) {
				e.Body, e.EditedAt = v.Body, v.EditedAt
			}
			// A refetched copy restores reactions whose events were missed.
			if v.Version > e.version {
				e.Reactions = slices.Clone(v.Reactions)
				e.version = v.Version
			}
		}
		t.refreshStatus(e)
		return true
	}

	e := &Entry{
		Key:        serverKey(v.ID),
		ID:         v.ID,
		Sender:     v.Sender,
		Kind:       v.Kind,
		Body:       v.Body,
		Attachment: v.Attachment,
		ReplyTo:    v.ReplyTo,
		CreatedAt:  v.CreatedAt,
		EditedAt:   v.EditedAt,
		Reactions:  slices.Clone(v.Reactions),
		Deleted:    v.Deleted,
		Status:     StatusSent,
		version:    v.Version,
	}
	if e.Deleted {
		tombstone(e)
	}
	mergeReceipts(e, v.DeliveredTo, v.ReadBy)
	t.byKey[e.Key] = e
	t.byID[e.ID] = e
	t.refreshStatus(e)
	t.release(e.ID)
	return true
}

func (t *Timeline) applyReceipt(ev model.Event, convID int64, ids []int64, user string, read bool) bool {
	if convID != t.conversationID {
		return false
	}
	applied := false
	for _, id := range ids {
		if t.hidden[id] {
			continue
		}
		e, ok := t.byID[id]
		if !ok {
			t.hold(id, receiptFor(ev, id))
			applied = true
			continue
		}
		if read {
			mergeReceipts(e, []string{user}, []string{user})
		} else {
			mergeReceipts(e, []string{user}, nil)
		}
		t.refreshStatus(e)
		applied = true
	}
	return applied
}

// receiptFor narrows a multi-message receipt to the single id being held.
func receiptFor(ev model.Event, id int64) model.Event {
	switch p := ev.Payload.(type) {
	case model.MessagesRead:
		p.MessageIDs = []int64{id}
		return model.Event{Type: ev.Type, Payload: p}
	case *model.MessagesRead:
		c := *p
		c.MessageIDs = []int64{id}
		return model.Event{Type: ev.Type, Payload: c}
	case model.MessagesDelivered:
		p.MessageIDs = []int64{id}
		return model.Event{Type: ev.Type, Payload: p}
	case *model.MessagesDelivered:
		c := *p
		c.MessageIDs = []int64{id}
		return model.Event{Type: ev.Type, Payload: c}
	}
	return ev
}

func (t *Timeline) applyEdit(ev model.Event, p model.MessageEdited) bool {
	if p.ConversationID != t.conversationID || t.hidden[p.MessageID] {
		return false
	}
	e, ok := t.byID[p.MessageID]
	if !ok {
		t.hold(p.MessageID, ev)
		return true
	}
	if e.Deleted {
		return false
	}
	editedAt := p.EditedAt
	if newer(&editedAt, e.EditedAt) {
		e.Body, e.EditedAt = p.Text, &editedAt
	}
	return true
}

func (t *Timeline) applyDelete(ev model.Event, p model.MessageDeleted) bool {
	if p.ConversationID != t.conversationID || t.hidden[p.MessageID] {
		return false
	}
	e, ok := t.byID[p.MessageID]
	if !ok {
		t.hold(p.MessageID, ev)
		return true
	}
	tombstone(e)
	return true
}

func (t *Timeline) applyReaction(ev model.Event, p model.MessageReaction) bool {
	if p.ConversationID != t.conversationID || t.hidden[p.MessageID] {
		return false
	}
	e, ok := t.byID[p.MessageID]
	if !ok {
		t.hold(p.MessageID, ev)
		return true
	}
	if p.Version != 0 && p.Version < e.version {
		return false
	}
	e.Reactions = slices.Clone(p.Reactions)
	e.version = max(e.version, p.Version)
	return true
}

// hold keeps ev until message id arrives. When too many ids are waiting
// the oldest id is given up, since ids grow with time.
func (t *Timeline) hold(id int64, ev model.Event) {
	if _, ok := t.held[id]; !ok && len(t.held) >= maxHeldIDs {
		oldest := slices.Min(slices.Collect(maps.Keys(t.held)))
		if id < oldest {
			return
		}
		delete(t.held, oldest)
	}
	q := append(t.held[id], ev)
	if len(q) > maxHeldPerID {
		q = q[len(q)-maxHeldPerID:]
	}
	t.held[id] = q
}

// release applies events held for id now that its message exists.
func (t *Timeline) release(id int64) {
	q := t.held[id]
	delete(t.held, id)
	for _, ev := range q {
		t.Apply(ev)
	}
}

// HideLocal removes a message from this view for good, as delete-for-me
// does. Later events for the id are dropped.
func (t *Timeline) HideLocal(id int64) {
	t.hidden[id] = true
	delete(t.held, id)
	if e, ok := t.byID[id]; ok {
		delete(t.byID, id)
		delete(t.byKey, e.Key)
	}
}

// Edit changes the body of one of our messages. Against a pending send
// the command waits for Confirm.
func (t *Timeline) Edit(key, body string) error {
	e, err := t.own(key)
	if err != nil {
		return err
	}
	if e.Deleted {
		return chaterr.ErrDeleted
	}
	now := t.now()
	e.Body, e.EditedAt = body, &now
	t.dispatch(e, op{kind: opEdit, arg: body})
	return nil
}

// Delete tombstones one of our messages for everyone, or with
// forEveryone unset hides any message for this user.
func (t *Timeline) Delete(key string, forEveryone bool) error {
	if !forEveryone {
		e, ok := t.byKey[key]
		if !ok || e.hidden {
			return fmt.Errorf("delete %s: %w", key, ErrUnknownEntry)
		}
		if e.ID == 0 {
			e.hidden = true
			t.queued[key] = append(t.queued[key], op{kind: opHide})
			return nil
		}
		t.commands.Delete(e.ID, false)
		t.HideLocal(e.ID)
		return nil
	}

	e, err := t.own(key)
	if err != nil {
		return err
	}
	if e.Deleted {
		return nil
	}
	tombstone(e)
	t.dispatch(e, op{kind: opDelete})
	return nil
}

// React sets our reaction on a message. An empty emoji removes it.
func (t *Timeline) React(key, emoji string) error {
	e, ok := t.byKey[key]
	if !ok || e.hidden {
		return fmt.Errorf("react %s: %w", key, ErrUnknownEntry)
	}
	if e.Deleted {
		return chaterr.ErrDeleted
	}
	m := model.Message{Reactions: e.Reactions}
	m.SetReaction(t.me, emoji)
	e.Reactions = m.Reactions
	t.dispatch(e, op{kind: opReact, arg: emoji})
	return nil
}

func (t *Timeline) own(key string) (*Entry, error) {
	e, ok := t.byKey[key]
	if !ok || e.hidden {
		return nil, fmt.Errorf("%s: %w", key, ErrUnknownEntry)
	}
	if e.Sender != t.me {
		return nil, chaterr.ErrNotOwner
	}
	return e, nil
}

// dispatch sends o now, or queues it until the entry has a server id.
func (t *Timeline) dispatch(e *Entry, o op) {
	if e.ID == 0 {
		t.queued[e.Key] = append(t.queued[e.Key], o)
		return
	}
	t.flush(e, o)
}

// Get returns a copy of the entry with the given key.
func (t *Timeline) Get(key string) (*Entry, bool) {
	e, ok := t.byKey[key]
	if !ok || e.hidden {
		return nil, false
	}
	return e.clone(), true
}

// ByID returns a copy of the confirmed entry with the given server id.
func (t *Timeline) ByID(id int64) (*Entry, bool) {
	e, ok := t.byID[id]
	if !ok || e.hidden {
		return nil, false
	}
	return e.clone(), true
}

// Entries returns the visible timeline, oldest first.
func (t *Timeline) Entries() []*Entry {
	out := make([]*Entry, 0, len(t.byKey))
	for _, e := range t.byKey {
		if !e.hidden {
			out = append(out, e.clone())
		}
	}
	slices.SortFunc(out, func(a, b *Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID == 0 && b.ID != 0:
			return 1
		case a.ID != 0 && b.ID == 0:
			return -1
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Held reports how many events wait for message id.
func (t *Timeline) Held(id int64) int {
	return len(t.held[id])
}

// refreshStatus raises the status of our own confirmed messages to what
// their receipts prove. It never lowers it.
func (t *Timeline) refreshStatus(e *Entry) {
	if e.Sender != t.me || e.ID == 0 || e.Status == StatusFailed {
		return
	}
	s := StatusSent
	if len(e.DeliveredTo) > 0 {
		s = StatusDelivered
	}
	if len(e.ReadBy) > 0 {
		s = StatusRead
	}
	e.Status = max(e.Status, s)
}

func mergeReceipts(e *Entry, delivered, read []string) {
	for _, u := range delivered {
		if u != e.Sender && !slices.Contains(e.DeliveredTo, u) {
			e.DeliveredTo = append(e.DeliveredTo, u)
		}
	}
	for _, u := range read {
		if u != e.Sender && !slices.Contains(e.ReadBy, u) {
			e.ReadBy = append(e.ReadBy, u)
		}
	}
}

func tombstone(e *Entry) {
	e.Deleted = true
	e.Body = ""
	e.Attachment = nil
}

func newer(a, b *time.Time) bool {
	return a != nil && (b == nil || a.After(*b))
}
