// Package retry decides when a failed job may be attempted again and when it
// should be given up on.
package retry

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Policy bounds retries of failed sends. The zero Policy retries forever,
// every cycle.
type Policy struct {
	// MaxAttempts is the number of failed attempts after which a job is dead
	// lettered. Zero means unlimited.
	MaxAttempts int
	// Schedule holds the backoff before each retry; the last entry repeats.
	// An empty schedule retries on the next cycle.
	Schedule []time.Duration
	// PermanentToDeadLetter dead letters a job on its first permanent failure.
	PermanentToDeadLetter bool
}

// Exhausted reports whether a job that has failed attempts times is out of
// budget.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// NextBackoff returns the wait before the retry that follows failure number
// attempts (1-based), with jitter: base * (0.5 + rand * 0.5).
func (p Policy) NextBackoff(attempts int) time.Duration {
	if len(p.Schedule) == 0 {
		return 0
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Schedule) {
		idx = len(p.Schedule) - 1
	}

	base := p.Schedule[idx]
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}

// State is what the tracker knows about one job.
type State struct {
	Attempts  int
	NextAt    time.Time
	LastError string
}

// Tracker remembers failures per job fingerprint for the life of the process.
type Tracker struct {
	policy Policy
	mu     sync.Mutex
	states map[string]State
}

// NewTracker creates a Tracker applying policy.
func NewTracker(policy Policy) *Tracker {
	return &Tracker{policy: policy, states: make(map[string]State)}
}

// Policy returns the tracker's policy.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// Ready reports whether key may be attempted at now.
func (t *Tracker) Ready(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[key]
	return !ok || !now.Before(st.NextAt)
}

// RecordFailure counts a failed attempt and schedules the next one.
func (t *Tracker) RecordFailure(key string, now time.Time, err error) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[key]
	st.Attempts++
	st.NextAt = now.Add(t.policy.NextBackoff(st.Attempts))
	if err != nil {
		st.LastError = err.Error()
	}
	t.states[key] = st
	return st
}

// Get returns the state for key.
func (t *Tracker) Get(key string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[key]
	return st, ok
}

// Forget drops the state for key.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
}

// Retain drops every state whose key is not in live, so edited or deleted
// jobs do not accumulate.
func (t *Tracker) Retain(live map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.states {
		if _, ok := live[key]; !ok {
			delete(t.states, key)
		}
	}
}

// Len returns the number of tracked jobs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
