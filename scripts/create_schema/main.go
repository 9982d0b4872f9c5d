package main

import (
	"log"

	"github.com/mahaj/chatsync/pkg/config"
	"github.com/mahaj/chatsync/pkg/db"
)

func main() {
	cfg := config.LoadConfig()

	log.Printf("Creating keyspace %s on %v...", cfg.ScyllaKeyspace, cfg.ScyllaHosts)
	if err := db.EnsureSchema(cfg.ScyllaHosts, cfg.ScyllaKeyspace); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}
	log.Printf("Tables ready: %v", db.Tables)
}
