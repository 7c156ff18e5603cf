package jobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-scheduler/internal/fsutil"
	"github.com/sungwon/mail-scheduler/internal/job"
	"github.com/sungwon/mail-scheduler/internal/metrics"
)

// FileStore keeps the pending set in a single JSON document. Writers inside
// the process are serialized by a mutex and writers in other processes by an
// advisory lock next to the file.
type FileStore struct {
	path string
	log  zerolog.Logger
	mu   sync.Mutex
}

// NewFileStore creates a FileStore backed by path. The file is created on the
// first write.
func NewFileStore(path string, log zerolog.Logger) *FileStore {
	return &FileStore{
		path: path,
		log:  log.With().Str("component", "jobstore").Str("path", path).Logger(),
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// LoadAll reads the pending set.
func (s *FileStore) LoadAll(ctx context.Context) (PendingSet, error) {
	if err := ctx.Err(); err != nil {
		return PendingSet{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := fsutil.Lock(s.path)
	if err != nil {
		return PendingSet{}, fmt.Errorf("jobstore: %w", err)
	}
	defer unlock()

	return s.readLocked()
}

// ReplaceAll overwrites the pending set if it is still at set.Version.
func (s *FileStore) ReplaceAll(ctx context.Context, set PendingSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := fsutil.Lock(s.path)
	if err != nil {
		return fmt.Errorf("jobstore: %w", err)
	}
	defer unlock()

	current, err := s.readLocked()
	if err != nil {
		return err
	}
	if current.Version != set.Version {
		metrics.JobStoreConflictsTotal.Inc()
		s.log.Warn().
			Str("expected_version", shortVersion(set.Version)).
			Str("current_version", shortVersion(current.Version)).
			Msg("pending set changed since load")
		return ErrConflict
	}
	return s.writeLocked(set.Jobs)
}

// Update applies fn to the current pending set and stores the result.
func (s *FileStore) Update(ctx context.Context, fn MutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := fsutil.Lock(s.path)
	if err != nil {
		return fmt.Errorf("jobstore: %w", err)
	}
	defer unlock()

	current, err := s.readLocked()
	if err != nil {
		return err
	}
	next, err := fn(current.Jobs)
	if err != nil {
		return err
	}
	return s.writeLocked(next)
}

func (s *FileStore) readLocked() (PendingSet, error) {
	data, ok, err := fsutil.ReadFile(s.path)
	if err != nil {
		return PendingSet{}, fmt.Errorf("jobstore: %w", err)
	}
	if !ok {
		return PendingSet{Jobs: []job.Job{}}, nil
	}

	set := PendingSet{Jobs: []job.Job{}, Version: version(data)}
	if len(bytes.TrimSpace(data)) == 0 {
		return set, nil
	}

	var doc job.Document[job.Job]
	if err := json.Unmarshal(data, &doc); err != nil {
		return PendingSet{}, fmt.Errorf("jobstore: decode %s: %w", s.path, err)
	}
	if doc.Emails != nil {
		set.Jobs = doc.Emails
	}
	return set, nil
}

func (s *FileStore) writeLocked(jobs []job.Job) error {
	if jobs == nil {
		jobs = []job.Job{}
	}
	data, err := fsutil.Encode(job.Document[job.Job]{Emails: jobs}, "    ")
	if err != nil {
		return fmt.Errorf("jobstore: encode: %w", err)
	}
	if err := fsutil.WriteAtomic(s.path, data); err != nil {
		return fmt.Errorf("jobstore: %w", err)
	}
	metrics.PendingJobs.Set(float64(len(jobs)))
	return nil
}

func version(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}
