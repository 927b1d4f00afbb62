package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatcache/internal/api"
	"github.com/eldtechnologies/chatcache/internal/cache"
	"github.com/eldtechnologies/chatcache/internal/config"
	"github.com/eldtechnologies/chatcache/internal/dedup"
	"github.com/eldtechnologies/chatcache/internal/orchestrator"
	"github.com/eldtechnologies/chatcache/internal/persist"
	"github.com/eldtechnologies/chatcache/internal/preload"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Structured backend: PostgreSQL when configured, SQLite otherwise.
	var primary persist.StructuredBackend
	if cfg.DatabaseURL != "" {
		pg, err := persist.NewPostgresBackend(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		primary = pg
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sq, err := persist.NewSQLiteBackend(ctx, cfg.DBPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		primary = sq
		logger.Info().Str("path", cfg.DBPath).Msg("opened SQLite store")
	}
	defer primary.Close()

	// Key-value fallback: Redis when configured, in-process otherwise.
	var fallback persist.KVBackend
	if cfg.RedisURL != "" {
		rd, err := persist.NewRedisBackend(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		fallback = rd
		logger.Info().Msg("connected to Redis")
	} else {
		fallback = persist.NewMemoryBackend()
	}
	defer fallback.Close()

	store := cache.NewMessageStore(cache.MessageStoreConfig{
		MaxRooms:          cfg.MaxRooms,
		MaxRoomBytes:      cfg.MaxRoomBytes,
		MaxMessages:       cfg.MaxMessages,
		MaxUsers:          cfg.MaxUsers,
		CompressThreshold: cfg.CompressThreshold,
	})

	cacheLayer := orchestrator.New(
		logger,
		store,
		dedup.New(),
		persist.NewStore(logger, primary, fallback),
		preload.Config{
			TopN:            cfg.PreloadTopN,
			MessagesPerRoom: cfg.MessagesPerRoom,
			AvgMessageBytes: cfg.AvgMessageBytes,
			Queue: preload.QueueConfig{
				BudgetBytesPerMinute: cfg.PreloadBudgetBytes,
			},
		},
		orchestrator.Config{
			MessageTTL:      cfg.MessageTTL,
			CleanupInterval: cfg.CleanupInterval,
			MetricsInterval: cfg.MetricsInterval,
		},
	)

	if err := cacheLayer.WarmUp(ctx); err != nil {
		logger.Warn().Err(err).Msg("warm-up failed, starting cold")
	}
	cacheLayer.Start(ctx)
	defer cacheLayer.Stop()

	// Create router
	router := api.NewRouter(logger, cacheLayer)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chatcache daemon")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
