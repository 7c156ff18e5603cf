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

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/mail-scheduler/internal/attachment"
	"github.com/sungwon/mail-scheduler/internal/config"
	"github.com/sungwon/mail-scheduler/internal/deadletter"
	"github.com/sungwon/mail-scheduler/internal/deliverylog"
	"github.com/sungwon/mail-scheduler/internal/dispatch"
	"github.com/sungwon/mail-scheduler/internal/jobstore"
	"github.com/sungwon/mail-scheduler/internal/logger"
	"github.com/sungwon/mail-scheduler/internal/metrics"
	"github.com/sungwon/mail-scheduler/internal/retry"
	"github.com/sungwon/mail-scheduler/internal/transport"
)

func main() {
	// Load configuration from the "config" directory.
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Str("relay", cfg.SMTPAddr()).Msg("starting dispatcher")

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load timezone")
	}

	ctx := context.Background()

	store := jobstore.NewFileStore(cfg.JSONFile, log)

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

	signer, err := transport.NewDKIMSigner(transport.DKIMConfig{
		Domain:         cfg.DKIM.Domain,
		Selector:       cfg.DKIM.Selector,
		PrivateKeyPath: cfg.DKIM.PrivateKeyPath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load DKIM key")
	}
	if signer != nil {
		log.Info().Str("selector", signer.Selector()).Msg("DKIM signing enabled")
	}

	sender := transport.NewSMTPClient(transport.Config{
		Host:               cfg.SMTPServer,
		Port:               cfg.SMTPPort,
		Username:           cfg.Username,
		Password:           cfg.Password,
		DisplayName:        cfg.YourName,
		DialTimeout:        cfg.Dispatch.DialTimeout,
		SendTimeout:        cfg.Dispatch.SendTimeout,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	}, log, transport.WithAttachments(files), transport.WithDKIM(signer))

	opts := []dispatch.Option{
		dispatch.WithRetryTracker(retry.NewTracker(retry.Policy{
			MaxAttempts:           cfg.Retry.MaxAttempts,
			Schedule:              cfg.Retry.Schedule,
			PermanentToDeadLetter: cfg.Retry.PermanentToDeadLetter,
		})),
	}
	if deadLetters != nil {
		opts = append(opts, dispatch.WithDeadLetter(deadLetters))
	}

	engine := dispatch.New(store, sender, deliveries, dispatch.Config{
		Interval:    cfg.Dispatch.Interval,
		ErrorPause:  cfg.Dispatch.ErrorPause,
		SendTimeout: cfg.Dispatch.SendTimeout,
		Location:    loc,
	}, log, opts...)

	// Optional metrics and liveness listener.
	var srv *http.Server
	if cfg.Dispatch.MetricsAddr != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", metrics.Handler())
		r.Get("/healthz", livenessHandler(engine, 3*cfg.Dispatch.Interval))
		srv = &http.Server{
			Addr:              cfg.Dispatch.MetricsAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	engine.Start(ctx)
	log.Info().
		Str("pending", cfg.JSONFile).
		Dur("interval", cfg.Dispatch.Interval).
		Str("timezone", loc.String()).
		Msg("dispatcher started")

	// Wait for interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down dispatcher")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	engine.Stop(shutdownCtx)
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server forced to shutdown")
		}
	}
	if c, ok := deadLetters.(interface{ Close() error }); ok {
		c.Close()
	}

	log.Info().Msg("dispatcher stopped")
}

// livenessHandler reports unhealthy when no cycle has finished within
// maxAge or the last cycle failed.
func livenessHandler(engine *dispatch.Engine, maxAge time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		at, err := engine.LastCycle()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case at.IsZero():
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"status":"starting"}`)
		case time.Since(at) > maxAge:
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"stalled","last_cycle":%q}`, at.Format(time.RFC3339))
		case err != nil:
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"degraded","last_cycle":%q}`, at.Format(time.RFC3339))
		default:
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok","last_cycle":%q}`, at.Format(time.RFC3339))
		}
	}
}
