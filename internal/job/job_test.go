package job

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	loc := time.FixedZone("test", 2*60*60)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "valid timestamp",
			input: "2024-01-01 00:00:00",
			want:  time.Date(2024, 1, 1, 0, 0, 0, 0, loc),
		},
		{
			name:  "surrounding whitespace",
			input: " 2024-03-05 13:14:15 ",
			want:  time.Date(2024, 3, 5, 13, 14, 15, 0, loc),
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "wrong layout",
			input:   "2024/01/01 00:00",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.input, loc)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTime(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTime(%q) unexpected error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTime_MissingIsSentinel(t *testing.T) {
	_, err := ParseTime("   ", time.UTC)
	if !errors.Is(err, ErrMissingTime) {
		t.Errorf("expected ErrMissingTime, got %v", err)
	}
}

func TestFormatTime_UsesLocation(t *testing.T) {
	loc := time.FixedZone("plus3", 3*60*60)
	instant := time.Date(2024, 1, 1, 21, 30, 0, 0, time.UTC)

	if got := FormatTime(instant, loc); got != "2024-01-02 00:30:00" {
		t.Errorf("FormatTime = %q, want %q", got, "2024-01-02 00:30:00")
	}
}

func TestDelivered_FlattensSentTime(t *testing.T) {
	j := Job{ToAddress: "a@x.com", Subject: "hi", Body: "b", Time: "2024-01-01 00:00:00"}
	rec := j.Delivered(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.UTC)

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["sent_time"] != "2024-01-02 00:00:00" {
		t.Errorf("sent_time = %q", fields["sent_time"])
	}
	if fields["to_address"] != "a@x.com" {
		t.Errorf("to_address = %q", fields["to_address"])
	}
	if _, ok := fields["Job"]; ok {
		t.Error("embedded job should be flattened")
	}
}

func TestFingerprint(t *testing.T) {
	a := Job{ToAddress: "a@x.com", Time: "2024-01-01 00:00:00"}
	b := a
	c := a
	c.Subject = "changed"

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical jobs should share a fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different jobs should not share a fingerprint")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		job      Job
		problems []string
	}{
		{
			name: "valid",
			job:  Job{ToAddress: "a@x.com", Time: "2024-01-01 00:00:00"},
		},
		{
			name:     "missing everything",
			job:      Job{},
			problems: []string{"to_address is required", "time is required"},
		},
		{
			name:     "bad address",
			job:      Job{ToAddress: "not-an-address", Time: "2024-01-01 00:00:00"},
			problems: []string{"to_address is not a valid email address"},
		},
		{
			name:     "bad time",
			job:      Job{ToAddress: "a@x.com", Time: "tomorrow"},
			problems: []string{"time must use the format YYYY-MM-DD HH:MM:SS"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.job.Validate()
			if strings.Join(got, "|") != strings.Join(tt.problems, "|") {
				t.Errorf("Validate() = %v, want %v", got, tt.problems)
			}
		})
	}
}
