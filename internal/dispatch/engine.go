// Package dispatch runs the scheduler loop: load the pending set, send the
// jobs that are due, record deliveries and write back what is left.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-scheduler/internal/deadletter"
	"github.com/sungwon/mail-scheduler/internal/deliverylog"
	"github.com/sungwon/mail-scheduler/internal/job"
	"github.com/sungwon/mail-scheduler/internal/jobstore"
	"github.com/sungwon/mail-scheduler/internal/logger"
	"github.com/sungwon/mail-scheduler/internal/metrics"
	"github.com/sungwon/mail-scheduler/internal/retry"
	"github.com/sungwon/mail-scheduler/internal/transport"
)

// Config holds the loop timings.
type Config struct {
	// Interval is the pause after a successful cycle.
	Interval time.Duration
	// ErrorPause is the shorter pause after a failed cycle.
	ErrorPause time.Duration
	// SendTimeout bounds each send. Zero leaves it to the sender.
	SendTimeout time.Duration
	// Location is the zone scheduled times are written in.
	Location *time.Location
}

// DefaultConfig returns the standard timings: a 60s interval and a 5s pause
// after errors.
func DefaultConfig() Config {
	return Config{
		Interval:    60 * time.Second,
		ErrorPause:  5 * time.Second,
		SendTimeout: 2 * time.Minute,
		Location:    time.Local,
	}
}

// Report summarises one cycle.
type Report struct {
	CorrelationID string
	StartedAt     time.Time

	Loaded       int
	Due          int
	Malformed    int
	Sent         int
	Failed       int
	Deferred     int
	DeadLettered int
	// Skipped counts due jobs left untouched after a record store write
	// failed.
	Skipped int

	// Merged is set when the pending set changed during the cycle and the
	// write-back was merged into the newer version.
	Merged bool
}

// Engine is the single scheduling worker. Cycles never overlap.
type Engine struct {
	store      jobstore.Store
	sender     transport.Sender
	deliveries deliverylog.Log
	deadLetter deadletter.Sink
	retries    *retry.Tracker
	cfg        Config
	clock      Clock
	log        zerolog.Logger

	cycleMu sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc

	lastCycle atomic.Pointer[cycleStatus]
}

type cycleStatus struct {
	at  time.Time
	err error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRetryTracker applies a retry policy to failed sends.
func WithRetryTracker(t *retry.Tracker) Option {
	return func(e *Engine) { e.retries = t }
}

// WithDeadLetter sets where jobs that run out of retries go. Without a sink
// such jobs stay pending.
func WithDeadLetter(s deadletter.Sink) Option {
	return func(e *Engine) { e.deadLetter = s }
}

// New creates an Engine.
func New(store jobstore.Store, sender transport.Sender, deliveries deliverylog.Log, cfg Config, log zerolog.Logger, opts ...Option) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	e := &Engine{
		store:      store,
		sender:     sender,
		deliveries: deliveries,
		cfg:        cfg,
		clock:      realClock{},
		log:        log.With().Str("component", "dispatch").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retries == nil {
		e.retries = retry.NewTracker(retry.Policy{})
	}
	return e
}

// Start runs the loop in a goroutine until Stop is called or ctx ends.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Run(ctx)
	}()

	e.log.Info().
		Dur("interval", e.cfg.Interval).
		Dur("error_pause", e.cfg.ErrorPause).
		Msg("dispatcher started")
}

// Stop signals the loop and waits for the current cycle to finish, or for ctx
// to end, whichever comes first.
func (e *Engine) Stop(ctx context.Context) {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info().Msg("dispatcher stopped gracefully")
	case <-ctx.Done():
		e.log.Warn().Msg("dispatcher shutdown timed out")
	}
}

// Run loops until ctx is cancelled. Cancellation is honoured between cycles;
// a cycle in progress runs to completion.
func (e *Engine) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		pause := e.cfg.Interval
		if _, err := e.safeCycle(context.WithoutCancel(ctx)); err != nil {
			pause = e.cfg.ErrorPause
		}

		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(pause):
		}
	}
}

// LastCycle returns when the last cycle finished and how it ended. The time
// is zero before the first cycle.
func (e *Engine) LastCycle() (time.Time, error) {
	st := e.lastCycle.Load()
	if st == nil {
		return time.Time{}, nil
	}
	return st.at, st.err
}

// safeCycle runs one cycle and turns a panic into an error.
func (e *Engine) safeCycle(ctx context.Context) (rep Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: cycle panicked: %v", r)
		}
		if err != nil {
			metrics.DispatchCyclesTotal.WithLabelValues("error").Inc()
			e.log.Error().
				Err(err).
				Str("correlation_id", rep.CorrelationID).
				Dur("pause", e.cfg.ErrorPause).
				Msg("dispatch cycle failed")
		} else {
			metrics.DispatchCyclesTotal.WithLabelValues("ok").Inc()
		}
		e.lastCycle.Store(&cycleStatus{at: e.clock.Now(), err: err})
	}()
	return e.Cycle(ctx)
}

// Cycle performs one load, evaluate, dispatch and reconcile pass. The
// returned error is non-nil when the cycle could not complete cleanly;
// deliveries that did complete are still reflected in durable state.
func (e *Engine) Cycle(ctx context.Context) (Report, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	rep := Report{CorrelationID: logger.NewCorrelationID(), StartedAt: e.clock.Now()}
	log := e.log.With().Str("correlation_id", rep.CorrelationID).Logger()
	ctx = logger.WithCorrelationID(logger.WithLogger(ctx, log), rep.CorrelationID)

	defer func(start time.Time) {
		metrics.DispatchCycleDuration.Observe(time.Since(start).Seconds())
	}(time.Now())

	set, err := e.store.LoadAll(ctx)
	if err != nil {
		return rep, fmt.Errorf("dispatch: load pending set: %w", err)
	}
	rep.Loaded = len(set.Jobs)

	now := rep.StartedAt
	part := Split(set.Jobs, now, e.cfg.Location)
	rep.Due = len(part.Due)
	rep.Malformed = len(part.Malformed)
	metrics.DispatchDueJobs.Set(float64(rep.Due))

	for _, m := range part.Malformed {
		metrics.DispatchMalformedJobsTotal.Inc()
		log.Warn().
			Err(m.Err).
			Int("index", m.Index).
			Str("to_address", m.Job.ToAddress).
			Str("time", m.Job.Time).
			Msg("pending job has no usable scheduled time, leaving it in place")
	}

	live := make(map[string]struct{}, len(set.Jobs))
	for _, j := range set.Jobs {
		live[j.Fingerprint()] = struct{}{}
	}
	e.retries.Retain(live)
	metrics.DispatchRetryingJobs.Set(float64(e.retries.Len()))

	var (
		removed []job.Job
		errs    []error
	)
	for i, j := range part.Due {
		gone, err := e.dispatch(ctx, log, j, now, &rep)
		if gone {
			removed = append(removed, j)
		}
		if err != nil {
			// A record store that cannot be written would turn every
			// further send into a duplicate next cycle.
			errs = append(errs, err)
			rep.Skipped = len(part.Due) - i - 1
			log.Error().Err(err).Int("skipped", rep.Skipped).Msg("record store write failed, aborting dispatch for this cycle")
			break
		}
	}

	if len(removed) > 0 {
		if err := e.reconcile(ctx, log, set, removed, &rep); err != nil {
			errs = append(errs, err)
		}
	}

	log.Info().
		Int("loaded", rep.Loaded).
		Int("due", rep.Due).
		Int("sent", rep.Sent).
		Int("failed", rep.Failed).
		Int("deferred", rep.Deferred).
		Int("skipped", rep.Skipped).
		Int("dead_lettered", rep.DeadLettered).
		Int("malformed", rep.Malformed).
		Msg("dispatch cycle finished")

	return rep, errors.Join(errs...)
}

// dispatch sends one due job and records the outcome. gone reports whether
// the job left the pending set.
func (e *Engine) dispatch(ctx context.Context, log zerolog.Logger, j job.Job, now time.Time, rep *Report) (gone bool, err error) {
	key := j.Fingerprint()
	jlog := log.With().Str("to_address", j.ToAddress).Str("scheduled", j.Time).Logger()

	if !e.retries.Ready(key, now) {
		rep.Deferred++
		st, _ := e.retries.Get(key)
		jlog.Debug().
			Int("attempts", st.Attempts).
			Time("next_attempt", st.NextAt).
			Str("last_error", st.LastError).
			Msg("job is backing off, skipping this cycle")
		return false, nil
	}

	sendErr := e.send(ctx, j)
	if sendErr == nil {
		rec := j.Delivered(e.clock.Now(), e.cfg.Location)
		if err := e.deliveries.Append(ctx, rec); err != nil {
			// The message went out but is not logged; keep it pending so
			// it is sent again rather than lost.
			jlog.Error().Err(err).Msg("email sent but delivery log append failed, keeping job pending")
			return false, fmt.Errorf("dispatch: append delivery record: %w", err)
		}
		e.retries.Forget(key)
		rep.Sent++
		jlog.Info().Str("sent_time", rec.SentTime).Msg("email sent")
		return true, nil
	}

	rep.Failed++
	st := e.retries.RecordFailure(key, now, sendErr)
	policy := e.retries.Policy()

	reason := ""
	switch {
	case policy.PermanentToDeadLetter && transport.IsPermanent(sendErr):
		reason = "permanent"
	case policy.Exhausted(st.Attempts):
		reason = "exhausted"
	}

	if reason == "" || e.deadLetter == nil {
		jlog.Warn().
			Err(sendErr).
			Int("attempts", st.Attempts).
			Time("next_attempt", st.NextAt).
			Msg("failed to send email, will retry")
		return false, nil
	}

	rec := job.DeadLetterRecord{
		Job:        j,
		FailedTime: job.FormatTime(e.clock.Now(), e.cfg.Location),
		Attempts:   st.Attempts,
		LastError:  sendErr.Error(),
	}
	if err := e.deadLetter.Put(ctx, rec); err != nil {
		jlog.Error().Err(err).Msg("failed to dead letter job, keeping it pending")
		return false, fmt.Errorf("dispatch: dead letter: %w", err)
	}
	e.retries.Forget(key)
	rep.DeadLettered++
	metrics.DispatchDeadLetteredTotal.WithLabelValues(reason).Inc()
	jlog.Warn().
		Err(sendErr).
		Int("attempts", st.Attempts).
		Str("reason", reason).
		Msg("giving up on email, moved to dead letter")
	return true, nil
}

// send calls the sender with the per-send timeout and contains panics.
func (e *Engine) send(ctx context.Context, j job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: sender panicked: %v", r)
		}
	}()
	if e.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SendTimeout)
		defer cancel()
	}
	return e.sender.Send(ctx, j)
}

// reconcile writes the pending set back without the removed jobs. The fast
// path replaces the set at the version it was loaded at; if another writer
// got in first the removal is applied to the current set instead.
func (e *Engine) reconcile(ctx context.Context, log zerolog.Logger, set jobstore.PendingSet, removed []job.Job, rep *Report) error {
	remaining, err := jobstore.Without(removed)(append([]job.Job(nil), set.Jobs...))
	if err != nil {
		return fmt.Errorf("dispatch: compute pending set: %w", err)
	}

	err = e.store.ReplaceAll(ctx, jobstore.PendingSet{Jobs: remaining, Version: set.Version})
	if err == nil {
		return nil
	}
	if !errors.Is(err, jobstore.ErrConflict) {
		log.Error().Err(err).Int("removed", len(removed)).Msg("failed to write pending set")
		return fmt.Errorf("dispatch: write pending set: %w", err)
	}

	rep.Merged = true
	log.Info().Int("removed", len(removed)).Msg("pending set changed during cycle, merging")
	if err := e.store.Update(ctx, jobstore.Without(removed)); err != nil {
		log.Error().Err(err).Int("removed", len(removed)).Msg("failed to merge pending set")
		return fmt.Errorf("dispatch: merge pending set: %w", err)
	}
	return nil
}
