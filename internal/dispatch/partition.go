package dispatch

import (
	"time"

	"github.com/sungwon/mail-scheduler/internal/job"
)

// MalformedJob is a pending job whose scheduled time could not be parsed.
type MalformedJob struct {
	Index int
	Job   job.Job
	Err   error
}

// Partition is a pending set split by due time.
type Partition struct {
	// Due holds jobs scheduled at or before now, in pending order.
	Due []job.Job
	// NotDue holds future jobs and malformed jobs, in pending order.
	NotDue []job.Job
	// Malformed lists the jobs in NotDue that have no usable time.
	Malformed []MalformedJob
}

// Split partitions jobs against now. A job scheduled exactly at now is due.
// A job whose time cannot be parsed in loc is treated as not due.
func Split(jobs []job.Job, now time.Time, loc *time.Location) Partition {
	var p Partition
	for i, j := range jobs {
		at, err := j.ScheduledAt(loc)
		if err != nil {
			p.NotDue = append(p.NotDue, j)
			p.Malformed = append(p.Malformed, MalformedJob{Index: i, Job: j, Err: err})
			continue
		}
		if at.After(now) {
			p.NotDue = append(p.NotDue, j)
			continue
		}
		p.Due = append(p.Due, j)
	}
	return p
}
