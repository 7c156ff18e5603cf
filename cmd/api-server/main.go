package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sungwon/mail-scheduler/internal/api"
	"github.com/sungwon/mail-scheduler/internal/attachment"
	"github.com/sungwon/mail-scheduler/internal/config"
	"github.com/sungwon/mail-scheduler/internal/deadletter"
	"github.com/sungwon/mail-scheduler/internal/deliverylog"
	"github.com/sungwon/mail-scheduler/internal/jobstore"
	"github.com/sungwon/mail-scheduler/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewFromConfig(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Msg("starting API server")

	ctx := context.Background()

	deliveries, err := deliverylog.Open(ctx, deliverylog.Config{
		Driver:         cfg.DeliveryLog.Driver,
		Path:           cfg.SentFile,
		DatabaseURL:    cfg.DeliveryLog.DatabaseURL,
		PoolMin:        cfg.DeliveryLog.PoolMin,
		PoolMax:        cfg.DeliveryLog.PoolMax,
		ConnectTimeout: cfg.DeliveryLog.ConnectTimeout,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open delivery log")
	}
	if c, ok := deliveries.(interface{ Close() }); ok {
		defer c.Close()
	}

	deadLetters, err := deadletter.Open(ctx, deadletter.Config{
		Driver:        cfg.DeadLetter.Driver,
		Path:          cfg.DeadLetter.Path,
		RedisAddr:     cfg.DeadLetter.RedisAddr,
		RedisPassword: cfg.DeadLetter.RedisPassword,
		RedisDB:       cfg.DeadLetter.RedisDB,
		Stream:        cfg.DeadLetter.Stream,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open dead letter sink")
	}
	var deadLetterReader api.DeadLetterReader
	if deadLetters != nil {
		deadLetterReader = deadLetters
	}

	files, err := attachment.New(ctx, attachment.Config{
		Type:       cfg.Attachments.Driver,
		Path:       cfg.Attachments.UploadDir,
		S3Bucket:   cfg.Attachments.S3Bucket,
		S3Prefix:   cfg.Attachments.S3Prefix,
		S3Endpoint: cfg.Attachments.S3Endpoint,
		S3Region:   cfg.Attachments.S3Region,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize attachment store")
	}

	logPath := ""
	if cfg.Logging.Output == "file" || cfg.Logging.Output == "both" {
		logPath = cfg.Logging.FilePath
	}

	router := api.NewRouter(api.Deps{
		Store:       jobstore.NewFileStore(cfg.JSONFile, log),
		Attachments: files,
		Deliveries:  deliveries,
		DeadLetters: deadLetterReader,
		LogPath:     logPath,
	}, log)

	// Configure HTTP server
	addr := cfg.API.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	// Graceful shutdown with 30-second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if c, ok := deadLetters.(interface{ Close() error }); ok {
		c.Close()
	}

	log.Info().Msg("server stopped")
}
