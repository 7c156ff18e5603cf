package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"

	"github.com/sungwon/mail-scheduler/internal/deliverylog"
	"github.com/sungwon/mail-scheduler/internal/job"
	"github.com/sungwon/mail-scheduler/internal/logger"
)

// SentHandler handles GET /sent.
func SentHandler(deliveries deliverylog.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deliveries.Records(r.Context())
		if err != nil {
			logger.FromContext(r.Context()).Error().Err(err).Msg("failed to read delivery log")
			respondError(w, http.StatusInternalServerError, "failed to read sent emails")
			return
		}
		if records == nil {
			records = []job.DeliveryRecord{}
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"emails": records})
	}
}

// DeadLetterHandler handles GET /dead_letter. A nil reader lists nothing.
func DeadLetterHandler(deadLetters DeadLetterReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records := []job.DeadLetterRecord{}
		if deadLetters != nil {
			got, err := deadLetters.Records(r.Context())
			if err != nil {
				logger.FromContext(r.Context()).Error().Err(err).Msg("failed to read dead letter sink")
				respondError(w, http.StatusInternalServerError, "failed to read dead-lettered emails")
				return
			}
			if got != nil {
				records = got
			}
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"emails": records})
	}
}

// LogsHandler handles GET /logs, returning the operational log file as text.
func LogsHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if path == "" {
			respondError(w, http.StatusNotFound, "file logging is disabled")
			return
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			respondError(w, http.StatusNotFound, "log file not found")
			return
		}
		if err != nil {
			logger.FromContext(r.Context()).Error().Err(err).Str("path", path).Msg("failed to read log file")
			respondError(w, http.StatusInternalServerError, "failed to read log file")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
