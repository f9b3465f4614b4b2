// cmd/api is the HTTP API server entry point.
// It wires together all layers and starts the server with graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zabefest/platform/internal/config"
	"github.com/zabefest/platform/internal/database"
	"github.com/zabefest/platform/internal/handler"
	"github.com/zabefest/platform/internal/notify"
	"github.com/zabefest/platform/internal/queue"
	"github.com/zabefest/platform/internal/repository"
	"github.com/zabefest/platform/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	log.Println("connected to postgres")

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

	eventRepo := repository.NewPGEventRepository(pool)
	appRepo := repository.NewPGApplicationRepository(pool)
	participantRepo := repository.NewPGParticipantRepository(pool)
	userRepo := repository.NewPGUserRepository(pool)
	notificationRepo := repository.NewPGNotificationRepository(pool)

	sender := notify.LogSender{}

	eventSvc := service.NewEventService(eventRepo)
	registrationSvc := service.NewRegistrationService(eventRepo, appRepo, participantRepo, notificationRepo, sender)
	authSvc := service.NewAuthService(userRepo, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
	notificationSvc := service.NewNotificationService(notificationRepo, userRepo, sender, jobs)

	if err := authSvc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Fatalf("admin seed: %v", err)
	}

	h := handler.New(eventSvc, registrationSvc, authSvc, notificationSvc)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("server listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}
