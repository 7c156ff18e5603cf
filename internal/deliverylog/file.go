package deliverylog

import (
	"context"
	"fmt"
	"sync"

	"github.com/sungwon/mail-scheduler/internal/fsutil"
	"github.com/sungwon/mail-scheduler/internal/job"
	"github.com/sungwon/mail-scheduler/internal/metrics"
)

// FileLog keeps delivery records in a JSON document of the form
// {"emails": [...]}. Existing records are carried as raw JSON so fields this
// program does not know about survive every append.
type FileLog struct {
	path string
	mu   sync.Mutex
}

// NewFileLog creates a FileLog at path. The file is created on first append.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Path returns the backing file path.
func (l *FileLog) Path() string {
	return l.path
}

// Append adds rec after every existing record.
func (l *FileLog) Append(ctx context.Context, rec job.DeliveryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := fsutil.AppendDocument(l.path, &l.mu, rec)
	if err != nil {
		metrics.DeliveryLogAppendsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("deliverylog: %w", err)
	}
	metrics.DeliveryLogAppendsTotal.WithLabelValues("ok").Inc()
	return nil
}

// Records returns every delivery record in append order.
func (l *FileLog) Records(ctx context.Context) ([]job.DeliveryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := fsutil.ReadDocument[job.DeliveryRecord](l.path)
	if err != nil {
		return nil, fmt.Errorf("deliverylog: %w", err)
	}
	return records, nil
}
