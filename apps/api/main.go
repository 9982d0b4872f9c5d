package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/chatsync/pkg/auth"
	"github.com/mahaj/chatsync/pkg/chat"
	"github.com/mahaj/chatsync/pkg/config"
	"github.com/mahaj/chatsync/pkg/fanout"
	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/presence"
	"github.com/mahaj/chatsync/pkg/relay"
	"github.com/mahaj/chatsync/pkg/snowflake"
	"github.com/mahaj/chatsync/pkg/store"
)

func main() {
	cfg := config.LoadConfig()

	log, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	log = log.With("service", "api")

	st, profiles, closeStore, err := store.Open(cfg)
	if err != nil {
		log.Fatal("Failed to open store", "error", err)
	}
	defer closeStore()

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		log.Fatal("Invalid node id", "node_id", cfg.NodeID, "error", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	mirror := presence.NewRedisMirror(rdb)

	// Events leave through Kafka; every gateway delivers to the
	// connections it holds.
	producer := relay.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	broadcaster := fanout.NewBroadcaster(fanout.StoreParticipants(st), producer, log, cfg.FanoutQueue)
	broadcaster.Start(cfg.FanoutWorkers)
	defer broadcaster.Close()

	svc := chat.NewService(st, profiles, broadcaster, node, log)
	svc.SetPresence(mirror)

	api := &API{
		svc:       svc,
		profiles:  profiles,
		presence:  mirror,
		auth:      auth.New(cfg.JWTSecret),
		limits:    newLimiterPool(cfg.RateLimitRPS, cfg.RateLimitBurst),
		log:       log,
		uploadDir: cfg.UploadDir,
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatal("Failed to create upload dir", "dir", cfg.UploadDir, "error", err)
	}

	srv := &http.Server{
		Addr:         cfg.APIAddr,
		Handler:      api.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("API Service Starting", "addr", cfg.APIAddr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	log.Info("Server exited")
}
