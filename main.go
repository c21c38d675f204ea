package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"readable/internal/api"
	"readable/internal/archive"
	"readable/internal/auth"
	"readable/internal/config"
	"readable/internal/credential"
	"readable/internal/logger"
	"readable/internal/redis"
	"readable/internal/service/reasoning"
	"readable/internal/session"
	"readable/internal/storage"
	"readable/internal/telemetry"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := loadConfig(os.Getenv("READABLE_CONFIG"))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	_, logCloser := logger.Initialize(cfg.Log)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry.TraceFile)
	if err != nil {
		slog.Error("init tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing()

	reasoner, err := reasoning.New(cfg.Reasoning, cfg.BasicConfig.HistoryWindow, credential.FromConfig(cfg.Reasoning), tracer)
	if err != nil {
		slog.Error("init reasoning client", "error", err)
		os.Exit(1)
	}

	opts := session.Options{
		MaxUploadBytes: cfg.BasicConfig.MaxUploadBytes,
		IdleTTL:        time.Duration(cfg.BasicConfig.SessionTTL) * time.Minute,
	}

	// The archive is optional; without a database section sessions live only in memory.
	var recorder *archive.Recorder
	if cfg.Database != "" {
		db, err := openArchive(cfg)
		if err != nil {
			slog.Error("open archive", "driver", cfg.Database, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		recorder = archive.NewRecorder(db)
		opts.Recorder = recorder
		slog.Info("archive enabled", "driver", cfg.Database)
	}

	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("create redis client", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		opts.Redis = rdb
		slog.Info("redis snapshot cache enabled", "host", cfg.Redis.Host, "port", cfg.Redis.Port)
	}

	manager := session.NewManager(reasoner, opts)
	if err := manager.Start(ctx); err != nil {
		slog.Error("start session manager", "error", err)
		os.Exit(1)
	}

	authService := auth.NewService(opts.IdleTTL, cfg.BasicConfig.SecureCookies)
	var archiveReader api.ArchiveReader
	if recorder != nil {
		archiveReader = recorder
	}
	handlers := api.NewHandler(manager, authService, archiveReader, cfg.BasicConfig.MaxUploadBytes)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), telemetry.Middleware())
	router.GET("/metrics", telemetry.Handler())
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("server listening", "addr", srv.Addr, "provider", cfg.Reasoning.Provider, "model", cfg.Reasoning.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "error", err)
	}
}

// loadConfig falls back to defaults when no config file exists.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = "config.json"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

func openArchive(cfg *config.Config) (*sql.DB, error) {
	db, err := storage.Open(cfg.Database, cfg.Databases[cfg.Database])
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db, cfg.Database); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
