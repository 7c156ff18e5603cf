package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/sungwon/mail-scheduler/internal/job"
)

func TestSentHandler(t *testing.T) {
	env := newTestEnv(t)
	j := job.Job{ToAddress: "a@x.com", Subject: "hi", Time: "2024-01-01 00:00:00"}
	if err := env.deliveries.Append(context.Background(), j.Delivered(time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC), time.UTC)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/sent", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Emails []job.DeliveryRecord `json:"emails"`
	}
	decode(t, rec, &resp)
	if len(resp.Emails) != 1 || resp.Emails[0].SentTime != "2024-01-01 00:00:05" {
		t.Errorf("unexpected records: %+v", resp.Emails)
	}
}

func TestDeadLetterHandler(t *testing.T) {
	env := newTestEnv(t)
	rec := job.DeadLetterRecord{
		Job:        job.Job{ToAddress: "a@x.com", Time: "2024-01-01 00:00:00"},
		FailedTime: "2024-01-01 00:05:00",
		Attempts:   3,
		LastError:  "550 mailbox unavailable",
	}
	if err := env.deadLetters.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	resp := env.do(httptest.NewRequest(http.MethodGet, "/dead_letter", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var body struct {
		Emails []job.DeadLetterRecord `json:"emails"`
	}
	decode(t, resp, &body)
	if len(body.Emails) != 1 || body.Emails[0].Attempts != 3 {
		t.Errorf("unexpected records: %+v", body.Emails)
	}
}

func TestDeadLetterHandler_Disabled(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/dead_letter", nil)
	rec := httptest.NewRecorder()

	DeadLetterHandler(nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "{\"emails\":[]}\n" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestLogsHandler(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(env.logPath, []byte("{\"level\":\"info\"}\n"), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/logs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("unexpected Content-Type %s", ct)
	}
	if rec.Body.String() != "{\"level\":\"info\"}\n" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestLogsHandler_Missing(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/logs", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}
