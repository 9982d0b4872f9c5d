package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	// Retry policy
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	return &Session{Session: session}, nil
}

// Records are stored as JSON documents next to a version column that
// lightweight transactions compare against.
var tables = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id bigint PRIMARY KEY,
		data text,
		version bigint
	)`,
	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		conversation_id bigint,
		PRIMARY KEY (user_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS direct_pairs (
		pair_key text PRIMARY KEY,
		conversation_id bigint
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id bigint,
		id bigint,
		data text,
		version bigint,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS messages_by_id (
		id bigint PRIMARY KEY,
		conversation_id bigint
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		name text,
		avatar text
	)`,
}

// Tables lists the names EnsureSchema creates, in creation order.
var Tables = []string{"conversations", "user_conversations", "direct_pairs", "messages", "messages_by_id", "users"}

// EnsureSchema creates the keyspace and tables if they do not exist. It
// connects through the system keyspace first, since keyspace may not exist yet.
func EnsureSchema(hosts []string, keyspace string) error {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return fmt.Errorf("connect system keyspace: %w", err)
	}
	err = sys.Query(fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)).Exec()
	sys.Close()
	if err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}

	session, err := NewSession(hosts, keyspace)
	if err != nil {
		return fmt.Errorf("connect %s keyspace: %w", keyspace, err)
	}
	defer session.Close()

	for i, stmt := range tables {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", Tables[i], err)
		}
	}
	return nil
}
