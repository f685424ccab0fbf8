package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gymble/internal/config"
	"gymble/internal/db"
	"gymble/internal/engine"
	"gymble/internal/handlers"
	"gymble/internal/logging"
	"gymble/internal/metrics"
	"gymble/internal/services"
	"gymble/internal/settings"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Path:       cfg.LogPath,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open db", zap.String("driver", cfg.DatabaseDriver), zap.Error(err))
		return err
	}
	defer conn.Close()

	eng := engine.New(conn, engine.Options{
		Rules:   cfg.Rules,
		Logger:  logger.Named("engine"),
		Metrics: metrics.Engine(),
	})
	uploads, err := services.NewUploadService(eng, cfg.EncryptionKey, cfg.BlindIndexKey)
	if err != nil {
		logger.Error("failed to set up upload sealing", zap.Error(err))
		return err
	}

	router := handlers.NewRouter(handlers.Deps{
		DB:       conn,
		Engine:   eng,
		Uploads:  uploads,
		Trophies: services.NewTrophyService(eng),
		Settings: settings.NewStore(conn),
		Config:   cfg,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("driver", cfg.DatabaseDriver),
			zap.Bool("sealed_metadata", cfg.EncryptionKey != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
