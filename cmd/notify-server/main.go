package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/sparkpost-monitor/internal/config"
	"github.com/ignite/sparkpost-monitor/internal/notify"
	"github.com/ignite/sparkpost-monitor/internal/notify/directory"
	"github.com/ignite/sparkpost-monitor/internal/notify/prefs"
	"github.com/ignite/sparkpost-monitor/internal/notify/schedule"
)

func main() {
	log.Println("Starting document notification API server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(3)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	accessor := newDocumentAccessor(db)
	dir := directory.NewPostgresDirectory(db, accessor)
	store := prefs.NewStore(db)
	unsubLookup := notify.DirectoryUnsubscribeLookup{Dir: dir}

	handlers := notify.NewHandlers(store, unsubLookup)

	// The decider (component E) only needs Add into the batch store/delay
	// queue, never the firing side, so this process shares the same Redis
	// backend as cmd/notify-worker without running an Engine.Run loop of
	// its own.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	redisPingCtx, redisPingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(redisPingCtx).Err(); err != nil {
		redisPingCancel()
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	redisPingCancel()
	log.Println("Connected to redis")

	engine := notify.NewEngine(
		notify.NewRedisBatchStore(redisClient),
		notify.NewRedisDelayQueue(redisClient, 5*time.Minute),
		notify.NewRedisStagingStore(redisClient),
		schedule.Process(),
	)
	handlers.SetDecider(notify.NewDecider(dir, engine))

	router := notify.SetupRoutes(handlers, corsOrigins())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: router}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func corsOrigins() []string {
	if v := os.Getenv("NOTIFY_ALLOWED_ORIGINS"); v != "" {
		return []string{v}
	}
	return []string{"http://localhost:5173", "http://localhost:8080"}
}
