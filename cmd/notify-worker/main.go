package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/sparkpost-monitor/internal/config"
	"github.com/ignite/sparkpost-monitor/internal/notify"
	"github.com/ignite/sparkpost-monitor/internal/notify/directory"
	"github.com/ignite/sparkpost-monitor/internal/notify/schedule"
	"github.com/ignite/sparkpost-monitor/internal/pkg/distlock"
)

func main() {
	log.Println("Starting document notification worker...")

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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	pingCancel()
	log.Println("Connected to redis")

	// Bootstrap lock: only one worker process applies the configured
	// schedule overrides to the process-wide registry at a time, the same
	// way the teacher guards a single startup-time mutation with distlock
	// rather than letting every replica race to do it.
	bootLock := distlock.NewLock(redisClient, nil, "notify:bootstrap", 30*time.Second)
	acquired, err := bootLock.Acquire(ctx)
	if err != nil {
		log.Fatalf("Bootstrap lock error: %v", err)
	}
	if acquired {
		log.Println("Acquired notify:bootstrap lock; applying schedule overrides")
		applyScheduleOverrides(cfg)
		if err := bootLock.Release(ctx); err != nil {
			log.Printf("Warning: failed to release bootstrap lock: %v", err)
		}
	} else {
		log.Println("notify:bootstrap lock held elsewhere; using process defaults")
	}

	batches := notify.NewRedisBatchStore(redisClient)
	delays := notify.NewRedisDelayQueue(redisClient, 5*time.Minute)
	staging := notify.NewRedisStagingStore(redisClient)
	engine := notify.NewEngine(batches, delays, staging, schedule.Process())

	accessor := newDocumentAccessor(db)
	dir := directory.NewPostgresDirectory(db, accessor)

	sender := buildSender(cfg)
	renderer := notify.NewRenderer(dir, cfg.HomeURL, notify.SenderConfig{
		Name:                    cfg.Notifications.Sender.Name,
		Email:                   cfg.Notifications.Sender.Email,
		DocNotificationsFrom:    cfg.Notifications.Sender.DocNotificationsFrom,
		DocNotificationsReplyTo: cfg.Notifications.Sender.DocNotificationsReplyTo,
	}, notify.DefaultTemplates())

	engine.SetHandler(renderer.Handler(sender))

	workerID := fmt.Sprintf("worker-%d", os.Getpid())
	go func() {
		if err := engine.Run(ctx, workerID); err != nil {
			log.Printf("Engine run stopped: %v", err)
		}
	}()
	log.Printf("Engine running as %s", workerID)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Println("Shutting down...")
	cancel()
	log.Println("Worker stopped")
}

func applyScheduleOverrides(cfg *config.Config) {
	overrides := map[schedule.Category]schedule.Entry{}
	if cfg.Schedules.DocChange.FirstDelayMS > 0 || cfg.Schedules.DocChange.ThrottleMS > 0 {
		overrides[schedule.DocChange] = schedule.Entry{
			FirstDelay: cfg.Schedules.DocChange.FirstDelay(),
			Throttle:   cfg.Schedules.DocChange.Throttle(),
		}
	}
	if cfg.Schedules.Comment.FirstDelayMS > 0 || cfg.Schedules.Comment.ThrottleMS > 0 {
		overrides[schedule.Comment] = schedule.Entry{
			FirstDelay: cfg.Schedules.Comment.FirstDelay(),
			Throttle:   cfg.Schedules.Comment.Throttle(),
		}
	}
	if len(overrides) == 0 {
		return
	}
	schedule.Bootstrap(schedule.New(overrides))
}

func buildSender(cfg *config.Config) notify.Sender {
	if endpoint := os.Getenv("NOTIFY_TRANSPORT_ENDPOINT"); endpoint != "" {
		return notify.NewHTTPSender(endpoint, 3)
	}
	log.Println("NOTIFY_TRANSPORT_ENDPOINT not set; using in-memory sender (mail is recorded, not delivered)")
	return notify.NewMemSender()
}
