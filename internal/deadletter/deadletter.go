// Package deadletter stores jobs that the dispatcher gave up on.
package deadletter

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-scheduler/internal/job"
)

// Sink receives dead-lettered jobs.
type Sink interface {
	Put(ctx context.Context, rec job.DeadLetterRecord) error
	Records(ctx context.Context) ([]job.DeadLetterRecord, error)
}

// Config selects and configures a Sink.
type Config struct {
	Driver string // "file", "redis" or "none"
	Path   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Stream        string
}

// Open creates the configured Sink. It returns (nil, nil) when dead lettering
// is disabled.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (Sink, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("deadletter: path is required for the file driver")
		}
		log.Info().Str("driver", "file").Str("path", cfg.Path).Msg("dead letter sink opened")
		return NewFileSink(cfg.Path), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("deadletter: ping redis: %w", err)
		}
		log.Info().Str("driver", "redis").Str("addr", cfg.RedisAddr).Msg("dead letter sink opened")
		return NewRedisSink(client, cfg.Stream), nil
	default:
		return nil, fmt.Errorf("deadletter: unknown driver %q", cfg.Driver)
	}
}
