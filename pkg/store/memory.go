package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/model"
)

const stripes = 64

// Memory is an in-process Store. Records are cloned on the way in and out.
type Memory struct {
	mu             sync.RWMutex
	conversations  map[int64]*model.Conversation
	byUser         map[string]map[int64]struct{}
	direct         map[string]int64
	messages       map[int64]*model.Message
	byConversation map[int64][]int64 // ascending ids

	// Held for the whole read-modify-write of one record.
	convLocks [stripes]sync.Mutex
	msgLocks  [stripes]sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		conversations:  make(map[int64]*model.Conversation),
		byUser:         make(map[string]map[int64]struct{}),
		direct:         make(map[string]int64),
		messages:       make(map[int64]*model.Message),
		byConversation: make(map[int64][]int64),
	}
}

func stripe(id int64) int {
	return int(uint64(id) % stripes)
}

func (s *Memory) CreateConversation(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertConversation(c)
}

func (s *Memory) insertConversation(c *model.Conversation) error {
	if _, ok := s.conversations[c.ID]; ok {
		return fmt.Errorf("conversation %d already exists", c.ID)
	}
	s.conversations[c.ID] = c.Clone()
	for _, p := range c.Participants {
		if s.byUser[p] == nil {
			s.byUser[p] = make(map[int64]struct{})
		}
		s.byUser[p][c.ID] = struct{}{}
	}
	return nil
}

func (s *Memory) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", chaterr.ErrConversationNotFound, id)
	}
	return c.Clone(), nil
}

func (s *Memory) UpdateConversation(ctx context.Context, id int64, fn func(*model.Conversation) error) (*model.Conversation, error) {
	l := &s.convLocks[stripe(id)]
	l.Lock()
	defer l.Unlock()

	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	c.Version++

	s.mu.Lock()
	s.conversations[id] = c.Clone()
	s.mu.Unlock()
	return c, nil
}

func (s *Memory) FindConversationsByUser(ctx context.Context, user string) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Conversation, 0, len(s.byUser[user]))
	for id := range s.byUser[user] {
		out = append(out, s.conversations[id].Clone())
	}
	return out, nil
}

func (s *Memory) FindDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	s.mu.RLock()
	id, ok := s.direct[model.DirectKey(a, b)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: direct %s/%s", chaterr.ErrConversationNotFound, a, b)
	}
	return s.GetConversation(ctx, id)
}

func (s *Memory) ClaimDirect(ctx context.Context, c *model.Conversation) (*model.Conversation, bool, error) {
	if len(c.Participants) != 2 {
		return nil, false, chaterr.Invalid("direct conversation needs exactly two participants")
	}
	key := model.DirectKey(c.Participants[0], c.Participants[1])

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.direct[key]; ok {
		return s.conversations[id].Clone(), false, nil
	}
	if err := s.insertConversation(c); err != nil {
		return nil, false, err
	}
	s.direct[key] = c.ID
	return c.Clone(), true, nil
}

func (s *Memory) CreateMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return fmt.Errorf("message %d already exists", m.ID)
	}
	s.messages[m.ID] = m.Clone()
	ids := s.byConversation[m.ConversationID]
	i, _ := slices.BinarySearch(ids, m.ID)
	s.byConversation[m.ConversationID] = slices.Insert(ids, i, m.ID)
	return nil
}

func (s *Memory) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", chaterr.ErrMessageNotFound, id)
	}
	return m.Clone(), nil
}

func (s *Memory) UpdateMessage(ctx context.Context, id int64, fn func(*model.Message) error) (*model.Message, error) {
	l := &s.msgLocks[stripe(id)]
	l.Lock()
	defer l.Unlock()

	m, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	m.Version++

	s.mu.Lock()
	s.messages[id] = m.Clone()
	s.mu.Unlock()
	return m, nil
}

func (s *Memory) FindMessages(ctx context.Context, q MessageQuery) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConversation[q.ConversationID]
	var out []*model.Message
	for i := len(ids) - 1; i >= 0; i-- {
		m := s.messages[ids[i]]
		if q.Before != nil && !m.CreatedAt.Before(*q.Before) {
			continue
		}
		out = append(out, m.Clone())
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// MemoryProfiles is a fixed user directory.
type MemoryProfiles struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func NewMemoryProfiles(users ...model.User) *MemoryProfiles {
	p := &MemoryProfiles{users: make(map[string]model.User)}
	for _, u := range users {
		p.users[u.ID] = u
	}
	return p
}

func (p *MemoryProfiles) PutUser(ctx context.Context, u model.User) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[u.ID] = u
	return nil
}

func (p *MemoryProfiles) GetUser(ctx context.Context, id string) (*model.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, chaterr.ErrNotFound)
	}
	return &u, nil
}
