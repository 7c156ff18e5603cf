// Package deliverylog records delivered jobs. The log is append-only.
package deliverylog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-scheduler/internal/job"
)

// Log appends delivery records.
type Log interface {
	Append(ctx context.Context, rec job.DeliveryRecord) error
}

// Reader lists delivery records in append order.
type Reader interface {
	Records(ctx context.Context) ([]job.DeliveryRecord, error)
}

// ReadLog is a Log that can also be read back.
type ReadLog interface {
	Log
	Reader
}

// Config selects and configures a delivery log backend.
type Config struct {
	Driver string // "file" (default) or "postgres"
	Path   string

	DatabaseURL    string
	PoolMin        int32
	PoolMax        int32
	ConnectTimeout time.Duration
}

// Open creates the configured delivery log.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (ReadLog, error) {
	switch cfg.Driver {
	case "", "file":
		log.Info().Str("driver", "file").Str("path", cfg.Path).Msg("delivery log opened")
		return NewFileLog(cfg.Path), nil
	case "postgres":
		log.Info().Str("driver", "postgres").Msg("delivery log opened")
		return NewPostgresLog(ctx, cfg.DatabaseURL, cfg.PoolMin, cfg.PoolMax, cfg.ConnectTimeout)
	default:
		return nil, fmt.Errorf("deliverylog: unknown driver %q", cfg.Driver)
	}
}
