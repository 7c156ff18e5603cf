// Package transport delivers one job to the configured mail relay.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/sungwon/mail-scheduler/internal/job"
)

// Sender sends a single job. A nil error means the relay accepted the
// message for delivery. Send never panics.
type Sender interface {
	Send(ctx context.Context, j job.Job) error
}

// Stages at which a send can fail.
const (
	StageAttachment = "attachment"
	StageCompose    = "compose"
	StageDial       = "dial"
	StageAuth       = "auth"
	StageMail       = "mail"
	StageRcpt       = "rcpt"
	StageData       = "data"
	StageInternal   = "internal"
)

// Error describes a failed send.
type Error struct {
	// Stage is where the send stopped.
	Stage string
	// Code is the SMTP reply code, when the relay sent one.
	Code int
	// Permanent indicates that retrying the same job will not help.
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport: %s: %d: %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent returns true if err is a failure that should not be retried.
func IsPermanent(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Permanent
	}
	return false
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, j job.Job) error

func (f SenderFunc) Send(ctx context.Context, j job.Job) error { return f(ctx, j) }
