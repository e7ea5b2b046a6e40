package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studybuddy/match-app/internal/config"
	"github.com/studybuddy/match-app/internal/match"
	"github.com/studybuddy/match-app/internal/messaging"
	"github.com/studybuddy/match-app/internal/metrics"
	"github.com/studybuddy/match-app/internal/queue"
	"github.com/studybuddy/match-app/internal/room"
	"github.com/studybuddy/match-app/internal/session"
	"github.com/studybuddy/match-app/internal/storage"
)

func main() {
	log.Println("Starting matchmaking daemon...")

	cfg := config.Load()

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// PostgreSQL setup.
	db, err := storage.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// NATS setup.
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "studybuddy-matchd"

	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	rooms := room.NewStore(rdb)
	queueMgr := queue.NewManager(rdb)
	sessions := session.NewStore(db)

	ctx, stop := context.WithCancel(context.Background())
	go match.StartSweeper(ctx, cfg.SweepInterval, rooms, queueMgr, sessions, natsClient)

	// Metrics endpoint.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	log.Printf("matchmaking daemon running")
	log.Printf("  redis_addr:  %s", cfg.RedisAddr)
	log.Printf("  nats_url:    %s", cfg.NATSURL)
	log.Printf("  listen_addr: %s", cfg.ListenAddr)
	log.Printf("  sweep_every: %s", cfg.SweepInterval)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	natsClient.Close()
	rdb.Close()
	db.Close()
}
