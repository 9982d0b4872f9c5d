package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mahaj/chatsync/pkg/auth"
	"github.com/mahaj/chatsync/pkg/chat"
	"github.com/mahaj/chatsync/pkg/config"
	"github.com/mahaj/chatsync/pkg/fanout"
	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/metrics"
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
	log = log.With("service", "gateway")

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

	// Events produced here (typing, receipts, presence) travel the same
	// relay as the API's, so every gateway sees them in one order.
	producer := relay.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	broadcaster := fanout.NewBroadcaster(fanout.StoreParticipants(st), producer, log, cfg.FanoutQueue)
	broadcaster.Start(cfg.FanoutWorkers)
	defer broadcaster.Close()

	svc := chat.NewService(st, profiles, broadcaster, node, log)
	svc.SetPresence(mirror)
	hub := NewHub(svc, broadcaster, mirror, auth.New(cfg.JWTSecret), log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// A group unique to this instance so every gateway reads every record.
	consumer := relay.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, "gateway-"+uuid.NewString(), log)
	defer consumer.Close()
	go func() {
		if err := consumer.Run(ctx, hub.Relay); err != nil {
			log.Error("relay consumer stopped", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:        cfg.GatewayAddr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Gateway Service Starting", "addr", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down gateway...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	log.Info("Gateway exited")
}
