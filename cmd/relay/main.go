package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clinicrelay/internal/app"
	"clinicrelay/internal/chat"
	"clinicrelay/internal/config"
	"clinicrelay/internal/ledger"
	"clinicrelay/internal/secrets"
	"clinicrelay/internal/tracker"
)

func main() {
	cfg := config.Load()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	var backend ledger.Backend
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for ledger storage")
		redisBackend, err := ledger.NewRedisBackend(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisBackend.Close()
		backend = redisBackend
	} else {
		log.Printf("Using local files for ledger storage")
		backend = ledger.NewFileBackend(cfg.DataDir)
	}

	secretStore := secrets.NewStore(cfg.DataDir)
	chatClient := chat.NewClient(cfg.ChatBaseURL, cfg.OutboundTimeout)
	newTracker := func(token, repo string) (app.Tracker, error) {
		return tracker.New(token, repo, cfg.TrackerBaseURL, cfg.OutboundTimeout)
	}

	service := app.New(cfg, secretStore, backend, chatClient, newTracker)
	httpServer := app.NewHTTPServer(service)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("relay listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
