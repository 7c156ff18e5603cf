// Package job defines the scheduled email record shared by the pending store,
// the delivery log, the dead-letter sinks and the management API.
package job

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// TimeLayout is the persisted format of scheduled and sent times.
const TimeLayout = "2006-01-02 15:04:05"

// ErrMissingTime is returned when a job carries no scheduled time.
var ErrMissingTime = errors.New("job: scheduled time is missing")

// Job is one scheduled delivery.
type Job struct {
	ToAddress string `json:"to_address"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	FilePath  string `json:"file_path"`
	Time      string `json:"time"`
}

// DeliveryRecord is a delivered Job stamped with the time it was sent.
type DeliveryRecord struct {
	Job
	SentTime string `json:"sent_time"`
}

// DeadLetterRecord is a Job that was given up on.
type DeadLetterRecord struct {
	Job
	FailedTime string `json:"failed_time"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error"`
}

// ParseTime parses a persisted timestamp in loc. A nil loc means time.Local.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrMissingTime
	}
	t, err := time.ParseInLocation(TimeLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("job: parse time %q: %w", s, err)
	}
	return t, nil
}

// FormatTime renders t in loc using TimeLayout. A nil loc means time.Local.
func FormatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(TimeLayout)
}

// ScheduledAt returns the job's scheduled time in loc.
func (j Job) ScheduledAt(loc *time.Location) (time.Time, error) {
	return ParseTime(j.Time, loc)
}

// HasAttachment reports whether the job references a file.
func (j Job) HasAttachment() bool {
	return strings.TrimSpace(j.FilePath) != ""
}

// Delivered stamps the job with its sent time.
func (j Job) Delivered(sentAt time.Time, loc *time.Location) DeliveryRecord {
	return DeliveryRecord{Job: j, SentTime: FormatTime(sentAt, loc)}
}

// Fingerprint identifies a job by content. Two byte-identical records share a
// fingerprint.
func (j Job) Fingerprint() string {
	data, _ := json.Marshal(j)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Validate reports every problem that would stop the job from being stored.
func (j Job) Validate() []string {
	var problems []string
	if strings.TrimSpace(j.ToAddress) == "" {
		problems = append(problems, "to_address is required")
	} else if _, err := mail.ParseAddress(j.ToAddress); err != nil {
		problems = append(problems, "to_address is not a valid email address")
	}
	if strings.TrimSpace(j.Time) == "" {
		problems = append(problems, "time is required")
	} else if _, err := time.Parse(TimeLayout, strings.TrimSpace(j.Time)); err != nil {
		problems = append(problems, "time must use the format YYYY-MM-DD HH:MM:SS")
	}
	return problems
}

// Document is the on-disk shape shared by the pending store and the logs.
type Document[T any] struct {
	Emails []T `json:"emails"`
}
