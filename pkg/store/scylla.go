package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/db"
	"github.com/mahaj/chatsync/pkg/metrics"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/snowflake"
)

// maxCASAttempts bounds how often an update is retried after losing a
// compare-and-set race on the version column.
const maxCASAttempts = 8

var ErrTooManyConflicts = errors.New("update lost too many concurrent races")

// Scylla is a Store over ScyllaDB. Updates are lightweight transactions
// conditioned on the version read, so concurrent writers to one record
// serialize and the loser re-applies its change to the fresh row.
type Scylla struct {
	db *db.Session
}

func NewScylla(session *db.Session) *Scylla {
	return &Scylla{db: session}
}

func (s *Scylla) CreateConversation(ctx context.Context, c *model.Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.db.Query(`INSERT INTO conversations (id, data, version) VALUES (?, ?, ?)`,
		c.ID, string(data), c.Version).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("insert conversation %d: %w", c.ID, err)
	}
	for _, p := range c.Participants {
		if err := s.db.Query(`INSERT INTO user_conversations (user_id, conversation_id) VALUES (?, ?)`,
			p, c.ID).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("index conversation %d for %s: %w", c.ID, p, err)
		}
	}
	return nil
}

func (s *Scylla) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	var data string
	var version int64
	err := s.db.Query(`SELECT data, version FROM conversations WHERE id = ?`, id).
		WithContext(ctx).Scan(&data, &version)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", chaterr.ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var c model.Conversation
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode conversation %d: %w", id, err)
	}
	c.Version = version
	return &c, nil
}

func (s *Scylla) UpdateConversation(ctx context.Context, id int64, fn func(*model.Conversation) error) (*model.Conversation, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		c, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		prev := c.Version
		if err := fn(c); err != nil {
			return nil, err
		}
		c.Version = prev + 1
		data, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		applied, err := s.db.Query(`UPDATE conversations SET data = ?, version = ? WHERE id = ? IF version = ?`,
			string(data), c.Version, id, prev).WithContext(ctx).MapScanCAS(map[string]any{})
		if err != nil {
			return nil, fmt.Errorf("update conversation %d: %w", id, err)
		}
		if applied {
			return c, nil
		}
		metrics.CASRetries.Inc()
	}
	return nil, fmt.Errorf("conversation %d: %w", id, ErrTooManyConflicts)
}

func (s *Scylla) FindConversationsByUser(ctx context.Context, user string) ([]*model.Conversation, error) {
	iter := s.db.Query(`SELECT conversation_id FROM user_conversations WHERE user_id = ?`, user).
		WithContext(ctx).Iter()
	var ids []int64
	var id int64
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list conversations of %s: %w", user, err)
	}

	out := make([]*model.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetConversation(ctx, id)
		if errors.Is(err, chaterr.ErrNotFound) {
			// Orphan index row left behind by a lost ClaimDirect.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Scylla) FindDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	var id int64
	err := s.db.Query(`SELECT conversation_id FROM direct_pairs WHERE pair_key = ?`, model.DirectKey(a, b)).
		WithContext(ctx).Scan(&id)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("%w: direct %s/%s", chaterr.ErrConversationNotFound, a, b)
	}
	if err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, id)
}

// ClaimDirect writes the conversation first and then claims the pair key,
// so a claimed key always points at a readable row. The row of a losing
// claim is removed again.
func (s *Scylla) ClaimDirect(ctx context.Context, c *model.Conversation) (*model.Conversation, bool, error) {
	if len(c.Participants) != 2 {
		return nil, false, chaterr.Invalid("direct conversation needs exactly two participants")
	}
	key := model.DirectKey(c.Participants[0], c.Participants[1])
	if err := s.CreateConversation(ctx, c); err != nil {
		return nil, false, err
	}

	existing := map[string]any{}
	applied, err := s.db.Query(`INSERT INTO direct_pairs (pair_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`,
		key, c.ID).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return nil, false, fmt.Errorf("claim %s: %w", key, err)
	}
	if applied {
		return c, true, nil
	}

	if err := s.db.Query(`DELETE FROM conversations WHERE id = ?`, c.ID).WithContext(ctx).Exec(); err != nil {
		return nil, false, fmt.Errorf("drop losing conversation %d: %w", c.ID, err)
	}
	id, _ := existing["conversation_id"].(int64)
	winner, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return winner, false, nil
}

func (s *Scylla) CreateMessage(ctx context.Context, m *model.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := s.db.Query(`INSERT INTO messages (conversation_id, id, data, version) VALUES (?, ?, ?, ?)`,
		m.ConversationID, m.ID, string(data), m.Version).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("insert message %d: %w", m.ID, err)
	}
	if err := s.db.Query(`INSERT INTO messages_by_id (id, conversation_id) VALUES (?, ?)`,
		m.ID, m.ConversationID).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("index message %d: %w", m.ID, err)
	}
	return nil
}

func (s *Scylla) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	var convID int64
	err := s.db.Query(`SELECT conversation_id FROM messages_by_id WHERE id = ?`, id).
		WithContext(ctx).Scan(&convID)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", chaterr.ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return s.getMessage(ctx, convID, id)
}

func (s *Scylla) getMessage(ctx context.Context, convID, id int64) (*model.Message, error) {
	var data string
	var version int64
	err := s.db.Query(`SELECT data, version FROM messages WHERE conversation_id = ? AND id = ?`, convID, id).
		WithContext(ctx).Scan(&data, &version)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", chaterr.ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeMessage(data, version)
}

func decodeMessage(data string, version int64) (*model.Message, error) {
	var m model.Message
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	m.Version = version
	return &m, nil
}

func (s *Scylla) UpdateMessage(ctx context.Context, id int64, fn func(*model.Message) error) (*model.Message, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		m, err := s.GetMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		prev := m.Version
		if err := fn(m); err != nil {
			return nil, err
		}
		m.Version = prev + 1
		data, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		applied, err := s.db.Query(`UPDATE messages SET data = ?, version = ? WHERE conversation_id = ? AND id = ? IF version = ?`,
			string(data), m.Version, m.ConversationID, id, prev).WithContext(ctx).MapScanCAS(map[string]any{})
		if err != nil {
			return nil, fmt.Errorf("update message %d: %w", id, err)
		}
		if applied {
			return m, nil
		}
		metrics.CASRetries.Inc()
	}
	return nil, fmt.Errorf("message %d: %w", id, ErrTooManyConflicts)
}

func (s *Scylla) FindMessages(ctx context.Context, q MessageQuery) ([]*model.Message, error) {
	stmt := `SELECT data, version FROM messages WHERE conversation_id = ?`
	args := []any{q.ConversationID}
	if q.Before != nil {
		stmt += ` AND id < ?`
		args = append(args, snowflake.FirstID(*q.Before))
	}
	if q.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	iter := s.db.Query(stmt, args...).WithContext(ctx).Iter()
	var out []*model.Message
	var data string
	var version int64
	for iter.Scan(&data, &version) {
		m, err := decodeMessage(data, version)
		if err != nil {
			iter.Close()
			return nil, err
		}
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list messages of %d: %w", q.ConversationID, err)
	}
	return out, nil
}

// ScyllaProfiles reads the users table.
type ScyllaProfiles struct {
	db *db.Session
}

func NewScyllaProfiles(session *db.Session) *ScyllaProfiles {
	return &ScyllaProfiles{db: session}
}

func (p *ScyllaProfiles) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := model.User{ID: id}
	err := p.db.Query(`SELECT name, avatar FROM users WHERE id = ?`, id).WithContext(ctx).Scan(&u.Name, &u.Avatar)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", id, chaterr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// PutUser upserts a profile. The login handler uses it to register users
// on first sign-in.
func (p *ScyllaProfiles) PutUser(ctx context.Context, u model.User) error {
	return p.db.Query(`INSERT INTO users (id, name, avatar) VALUES (?, ?, ?)`, u.ID, u.Name, u.Avatar).
		WithContext(ctx).Exec()
}
