package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gridsync/api/internal/app"
	"gridsync/api/internal/archive"
	"gridsync/api/internal/config"
	"gridsync/api/internal/export"
	"gridsync/api/internal/relay"
	"gridsync/api/internal/search"
	"gridsync/api/internal/session"
	"gridsync/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var deps app.Deps
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
			log.Fatalf("failed to create bolt dir: %v", err)
		}
		boltStore, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			log.Fatalf("bolt open failed: %v", err)
		}
		defer boltStore.Close()
		log.Printf("Using bolt revision log at %s", cfg.BoltPath)
		deps.Store = boltStore
	default:
		db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		log.Printf("Using PostgreSQL revision log")
		deps.Store = store.NewPostgresStore(db)
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for the revision relay and refresh tokens")
		redisRelay, err := relay.NewRedisRelay(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis relay connection failed: %v", err)
		}
		defer redisRelay.Close()
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Relay = redisRelay
		deps.Sessions = redisStore
	} else {
		log.Printf("Using in-process relay and refresh token storage")
	}

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		log.Fatalf("failed to create archive dir: %v", err)
	}
	deps.Archive = archive.New(cfg.ArchiveDir)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient)

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		sinkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		sink, err := export.NewS3Sink(sinkCtx, export.S3Config{
			Endpoint:   cfg.S3Endpoint,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Bucket:     cfg.S3Bucket,
			UseSSL:     cfg.S3UseSSL,
			PresignTTL: cfg.S3PresignTTL,
		})
		cancel()
		if err != nil {
			log.Printf("WARNING: export uploads disabled: %v", err)
		} else {
			deps.Sink = sink
		}
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Gridsync API listening on %s", cfg.Addr)
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
