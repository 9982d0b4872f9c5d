package store

import (
	"fmt"

	"github.com/mahaj/chatsync/pkg/config"
	"github.com/mahaj/chatsync/pkg/db"
)

// Open builds the store selected by cfg.Store. The returned func releases
// the underlying session.
func Open(cfg *config.Config) (Store, ProfileStore, func(), error) {
	switch cfg.Store {
	case "memory":
		return NewMemory(), NewMemoryProfiles(), func() {}, nil
	case "scylla", "":
		session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to ScyllaDB: %w", err)
		}
		return NewScylla(session), NewScyllaProfiles(session), session.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
