// Package jobstore persists the pending set of scheduled jobs.
package jobstore

import (
	"context"
	"errors"

	"github.com/sungwon/mail-scheduler/internal/job"
)

// ErrConflict is returned by ReplaceAll when the stored set changed after it
// was loaded.
var ErrConflict = errors.New("jobstore: version conflict")

// PendingSet is an ordered snapshot of pending jobs together with the store
// version it was read at.
type PendingSet struct {
	Jobs    []job.Job
	Version string
}

// MutateFunc receives the current jobs and returns the jobs to store.
type MutateFunc func(current []job.Job) ([]job.Job, error)

// Store is the durable pending set.
type Store interface {
	// LoadAll returns every pending job. A store that was never written
	// yields an empty set.
	LoadAll(ctx context.Context) (PendingSet, error)
	// ReplaceAll overwrites the stored set with set.Jobs, failing with
	// ErrConflict when the store is no longer at set.Version.
	ReplaceAll(ctx context.Context, set PendingSet) error
	// Update performs a locked read-modify-write.
	Update(ctx context.Context, fn MutateFunc) error
}
