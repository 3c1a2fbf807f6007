package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"loreanchor/internal/sessiontoken"
	"loreanchor/internal/util"
	"loreanchor/pkg/queue"
	"loreanchor/pkg/scan"
	"loreanchor/pkg/storage"
	"loreanchor/pkg/store"
	"loreanchor/services/patrol/internal/app"
	"loreanchor/services/patrol/internal/config"
	"loreanchor/services/patrol/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var st store.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init database: %v", err)
		}
		st = gormStore
	} else {
		// No database configured: volatile in-memory store for local runs.
		slog.Warn("databaseURL not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	scanQueue, err := queue.NewRedisScanQueue(queue.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueStream,
		Group:    cfg.QueueGroup,
		Consumer: cfg.QueueConsumer,
	})
	if err != nil {
		log.Fatalf("failed to init scan queue: %v", err)
	}

	scanner := scan.NewHTTPClient(cfg.ScanServiceURL, cfg.ScanAPIKey, time.Duration(cfg.ScanTimeoutSeconds)*time.Second)

	appCore, err := app.New(app.Config{
		Store:            st,
		Objects:          objects,
		Scanner:          scanner,
		Queue:            scanQueue,
		ScanTimeout:      time.Duration(cfg.ScanTimeoutSeconds) * time.Second,
		DefaultWhitelist: cfg.DefaultWhitelist,
		PresignExpiry:    time.Duration(cfg.PresignExpiryMinutes) * time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	tokens, err := sessiontoken.New(cfg.SessionSecret, time.Duration(cfg.SessionTTLHours)*time.Hour)
	if err != nil {
		log.Fatalf("failed to init session tokens: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Tokens:         tokens,
		MaxUploadBytes: app.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	workers := cfg.QueueWorkers
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		go func() {
			if err := scanQueue.Consume(context.Background(), appCore.RunScan); err != nil {
				logger.Error("scan worker stopped", "err", err)
			}
		}()
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("patrol server listening", "addr", addr, "workers", workers)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
