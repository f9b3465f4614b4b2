// cmd/worker consumes queued notification jobs and delivers them.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zabefest/platform/internal/config"
	"github.com/zabefest/platform/internal/database"
	"github.com/zabefest/platform/internal/notify"
	"github.com/zabefest/platform/internal/queue"
	"github.com/zabefest/platform/internal/repository"
	"github.com/zabefest/platform/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	var jobs queue.Queue
	if cfg.QueueBackend == "memory" {
		jobs = queue.NewInMemory(64)
	} else {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
		jobs = queue.NewRedis(client, cfg.QueueKey)
	}

	notificationRepo := repository.NewPGNotificationRepository(pool)
	userRepo := repository.NewPGUserRepository(pool)
	svc := service.NewNotificationService(notificationRepo, userRepo, notify.LogSender{}, jobs)

	messages, err := jobs.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for jobs")
	for job := range messages {
		if err := svc.Deliver(ctx, job.NotificationID); err != nil {
			log.Printf("deliver %s failed: %v", job.NotificationID, err)
		}
	}
	log.Println("worker stopped")
}
