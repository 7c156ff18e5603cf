// Package api serves the management interface over the pending set and the
// delivery records.
package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-scheduler/internal/attachment"
	"github.com/sungwon/mail-scheduler/internal/deliverylog"
	"github.com/sungwon/mail-scheduler/internal/job"
	"github.com/sungwon/mail-scheduler/internal/jobstore"
	"github.com/sungwon/mail-scheduler/internal/metrics"
)

// DeadLetterReader lists dead-lettered jobs.
type DeadLetterReader interface {
	Records(ctx context.Context) ([]job.DeadLetterRecord, error)
}

// Deps holds everything the handlers need.
type Deps struct {
	Store       jobstore.Store
	Attachments attachment.Store
	Deliveries  deliverylog.Reader
	DeadLetters DeadLetterReader // nil when dead lettering is disabled
	LogPath     string
}

// NewRouter creates a chi router with all routes and middleware configured.
func NewRouter(deps Deps, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware(log))
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))
	r.Use(MetricsMiddleware)

	// Health endpoints
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(deps.Store))
	r.Handle("/metrics", metrics.Handler())

	// Pending set
	r.Get("/email_data", ListEmailsHandler(deps.Store))
	r.Post("/add_email", AddEmailHandler(deps.Store, deps.Attachments))
	r.Post("/edit_email/{index}", EditEmailHandler(deps.Store, deps.Attachments))
	r.Post("/delete_email/{index}", DeleteEmailHandler(deps.Store))
	r.Delete("/delete_email/{index}", DeleteEmailHandler(deps.Store))

	// Records
	r.Get("/sent", SentHandler(deps.Deliveries))
	r.Get("/dead_letter", DeadLetterHandler(deps.DeadLetters))
	r.Get("/logs", LogsHandler(deps.LogPath))

	return r
}
