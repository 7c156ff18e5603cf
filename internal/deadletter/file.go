package deadletter

import (
	"context"
	"fmt"
	"sync"

	"github.com/sungwon/mail-scheduler/internal/fsutil"
	"github.com/sungwon/mail-scheduler/internal/job"
)

// FileSink appends dead-lettered jobs to a JSON document shaped like the
// delivery log.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates a FileSink at path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Put(ctx context.Context, rec job.DeadLetterRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fsutil.AppendDocument(s.path, &s.mu, rec); err != nil {
		return fmt.Errorf("deadletter: %w", err)
	}
	return nil
}

func (s *FileSink) Records(ctx context.Context) ([]job.DeadLetterRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := fsutil.ReadDocument[job.DeadLetterRecord](s.path)
	if err != nil {
		return nil, fmt.Errorf("deadletter: %w", err)
	}
	return records, nil
}
