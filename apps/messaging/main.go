package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/chatsync/pkg/config"
	"github.com/mahaj/chatsync/pkg/db"
	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/presence"
	"github.com/mahaj/chatsync/pkg/relay"
	"github.com/mahaj/chatsync/pkg/store"
)

// The messaging service bootstraps the schema and then runs the offline
// push notifier.
func main() {
	cfg := config.LoadConfig()

	log, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	log = log.With("service", "messaging")

	if cfg.Store == "scylla" {
		// In production, schema creation should be handled by migration tools.
		if err := db.EnsureSchema(cfg.ScyllaHosts, cfg.ScyllaKeyspace); err != nil {
			log.Fatal("Failed to create schema", "error", err)
		}
		log.Info("Schema ready", "keyspace", cfg.ScyllaKeyspace)
	}

	st, profiles, closeStore, err := store.Open(cfg)
	if err != nil {
		log.Fatal("Failed to open store", "error", err)
	}
	defer closeStore()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	notifier := NewNotifier(st, profiles, presence.NewRedisMirror(rdb), log)

	// A fixed group: notifier instances share the partitions.
	consumer := relay.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, "messaging-notifier", log)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting Kafka Consumer...", "topic", cfg.KafkaTopic)
	if err := consumer.Run(ctx, notifier.Handle); err != nil {
		log.Error("consumer stopped", "error", err)
	}
	log.Info("Messaging service exited")
}
