package retry

import (
	"errors"
	"testing"
	"time"
)

var testSchedule = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
}

func TestExhausted(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		attempts    int
		want        bool
	}{
		{"unlimited never exhausts", 0, 1000, false},
		{"below budget", 3, 2, false},
		{"at budget", 3, 3, true},
		{"past budget", 3, 7, true},
		{"single attempt allowed", 1, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{MaxAttempts: tt.maxAttempts}
			if got := p.Exhausted(tt.attempts); got != tt.want {
				t.Errorf("Exhausted(%d) with max=%d: got %v, want %v", tt.attempts, tt.maxAttempts, got, tt.want)
			}
		})
	}
}

func TestNextBackoff(t *testing.T) {
	// Jitter keeps the result within [base*0.5, base].
	tests := []struct {
		name     string
		attempts int
		wantMin  time.Duration
		wantMax  time.Duration
	}{
		{"first failure (30s base)", 1, 15 * time.Second, 30 * time.Second},
		{"second failure (1m base)", 2, 30 * time.Second, 1 * time.Minute},
		{"third failure (5m base)", 3, 150 * time.Second, 5 * time.Minute},
		{"beyond schedule uses last entry", 10, 150 * time.Second, 5 * time.Minute},
		{"zero attempts uses first entry", 0, 15 * time.Second, 30 * time.Second},
	}

	p := Policy{Schedule: testSchedule}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				got := p.NextBackoff(tt.attempts)
				if got < tt.wantMin || got > tt.wantMax {
					t.Fatalf("NextBackoff(%d) iteration %d: got %v, want within [%v, %v]",
						tt.attempts, i, got, tt.wantMin, tt.wantMax)
				}
			}
		})
	}
}

func TestNextBackoff_EmptyScheduleIsImmediate(t *testing.T) {
	if got := (Policy{}).NextBackoff(3); got != 0 {
		t.Errorf("expected zero backoff, got %v", got)
	}
}

func TestTracker_ReadyAfterBackoff(t *testing.T) {
	tr := NewTracker(Policy{Schedule: []time.Duration{time.Minute}})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if !tr.Ready("job", now) {
		t.Fatal("unknown job should be ready")
	}

	st := tr.RecordFailure("job", now, errors.New("relay down"))
	if st.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", st.Attempts)
	}
	if st.LastError != "relay down" {
		t.Errorf("expected last error recorded, got %q", st.LastError)
	}
	if tr.Ready("job", now) {
		t.Error("job should not be ready during backoff")
	}
	if !tr.Ready("job", now.Add(time.Minute)) {
		t.Error("job should be ready once the backoff elapsed")
	}
}

func TestTracker_EmptyScheduleAlwaysReady(t *testing.T) {
	tr := NewTracker(Policy{})
	now := time.Now()
	tr.RecordFailure("job", now, nil)
	if !tr.Ready("job", now) {
		t.Error("with no schedule a failed job should be retried on the next cycle")
	}
}

func TestTracker_RetainAndForget(t *testing.T) {
	tr := NewTracker(Policy{})
	now := time.Now()
	tr.RecordFailure("a", now, nil)
	tr.RecordFailure("b", now, nil)
	tr.RecordFailure("c", now, nil)

	tr.Retain(map[string]struct{}{"a": {}, "c": {}})
	if tr.Len() != 2 {
		t.Fatalf("expected 2 tracked jobs, got %d", tr.Len())
	}
	if _, ok := tr.Get("b"); ok {
		t.Error("b should have been dropped")
	}

	tr.Forget("a")
	if _, ok := tr.Get("a"); ok {
		t.Error("a should have been forgotten")
	}
}
