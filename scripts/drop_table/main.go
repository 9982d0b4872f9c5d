package main

import (
	"flag"
	"log"
	"slices"

	"github.com/mahaj/chatsync/pkg/config"
	"github.com/mahaj/chatsync/pkg/db"
)

func main() {
	table := flag.String("table", "", "table to drop; all chat tables when empty")
	flag.Parse()

	cfg := config.LoadConfig()

	targets := db.Tables
	if *table != "" {
		if !slices.Contains(db.Tables, *table) {
			log.Fatalf("Unknown table %q, expected one of %v", *table, db.Tables)
		}
		targets = []string{*table}
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	for _, name := range targets {
		log.Printf("Dropping table %s...", name)
		if err := session.Query("DROP TABLE IF EXISTS " + name).Exec(); err != nil {
			log.Fatalf("Failed to drop table %s: %v", name, err)
		}
	}
	log.Println("Tables dropped successfully.")
}
