package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-scheduler/internal/deliverylog"
	"github.com/sungwon/mail-scheduler/internal/job"
	"github.com/sungwon/mail-scheduler/internal/jobstore"
)

// fakeClock reports a settable time. After fires immediately and records the
// requested pause; onAfter runs first when set.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pauses  []time.Duration
	onAfter func(n int)
	block   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.pauses = append(c.pauses, d)
	n := len(c.pauses)
	hook := c.onAfter
	block := c.block
	now := c.now
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	ch := make(chan time.Time, 1)
	if !block {
		ch <- now
	}
	return ch
}

func (c *fakeClock) Pauses() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.pauses...)
}

// fakeSender fails for addresses in fail and records every call.
type fakeSender struct {
	mu     sync.Mutex
	fail   map[string]error
	calls  []job.Job
	before func(j job.Job)
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: make(map[string]error)}
}

func (s *fakeSender) Send(_ context.Context, j job.Job) error {
	if s.before != nil {
		s.before(j)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, j)
	return s.fail[j.ToAddress]
}

func (s *fakeSender) Calls() []job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]job.Job(nil), s.calls...)
}

// flakyStore wraps a Store and injects failures.
type flakyStore struct {
	jobstore.Store
	mu        sync.Mutex
	loadErrs  []error
	loadPanic bool
	replaced  int
}

func (s *flakyStore) LoadAll(ctx context.Context) (jobstore.PendingSet, error) {
	s.mu.Lock()
	if s.loadPanic {
		s.loadPanic = false
		s.mu.Unlock()
		panic("disk on fire")
	}
	var err error
	if len(s.loadErrs) > 0 {
		err, s.loadErrs = s.loadErrs[0], s.loadErrs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return jobstore.PendingSet{}, err
	}
	return s.Store.LoadAll(ctx)
}

func (s *flakyStore) ReplaceAll(ctx context.Context, set jobstore.PendingSet) error {
	s.mu.Lock()
	s.replaced++
	s.mu.Unlock()
	return s.Store.ReplaceAll(ctx, set)
}

// failingLog rejects every append.
type failingLog struct{}

func (failingLog) Append(context.Context, job.DeliveryRecord) error {
	return errors.New("disk full")
}

// failingSink rejects every dead letter.
type failingSink struct{}

func (failingSink) Put(context.Context, job.DeadLetterRecord) error {
	return errors.New("redis unreachable")
}

func (failingSink) Records(context.Context) ([]job.DeadLetterRecord, error) {
	return nil, nil
}

// fixture wires an engine to files in a temp dir.
type fixture struct {
	t       *testing.T
	dir     string
	store   *jobstore.FileStore
	log     *deliverylog.FileLog
	sender  *fakeSender
	clock   *fakeClock
	cfg     Config
	pending string
	sent    string
}

func newFixture(t *testing.T, now string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		t:       t,
		dir:     dir,
		pending: filepath.Join(dir, "email_data.json"),
		sent:    filepath.Join(dir, "sent_emails.json"),
		sender:  newFakeSender(),
		clock:   newFakeClock(mustTime(t, now)),
		cfg: Config{
			Interval:    time.Minute,
			ErrorPause:  5 * time.Second,
			SendTimeout: time.Second,
			Location:    time.UTC,
		},
	}
	f.store = jobstore.NewFileStore(f.pending, zerolog.Nop())
	f.log = deliverylog.NewFileLog(f.sent)
	return f
}

func (f *fixture) engine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(f.clock)}, opts...)
	return New(f.store, f.sender, f.log, f.cfg, zerolog.Nop(), opts...)
}

func (f *fixture) seed(jobs ...job.Job) {
	f.t.Helper()
	if err := f.store.Update(context.Background(), func([]job.Job) ([]job.Job, error) {
		return jobs, nil
	}); err != nil {
		f.t.Fatalf("seed: %v", err)
	}
}

func (f *fixture) pendingJobs() []job.Job {
	f.t.Helper()
	set, err := f.store.LoadAll(context.Background())
	if err != nil {
		f.t.Fatalf("load pending: %v", err)
	}
	return set.Jobs
}

func (f *fixture) delivered() []job.DeliveryRecord {
	f.t.Helper()
	recs, err := f.log.Records(context.Background())
	if err != nil {
		f.t.Fatalf("read delivery log: %v", err)
	}
	return recs
}

func (f *fixture) pendingBytes() []byte {
	f.t.Helper()
	data, err := os.ReadFile(f.pending)
	if err != nil {
		f.t.Fatalf("read pending file: %v", err)
	}
	return data
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	at, err := job.ParseTime(s, time.UTC)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return at
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
