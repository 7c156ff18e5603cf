package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-scheduler/internal/attachment"
	"github.com/sungwon/mail-scheduler/internal/deadletter"
	"github.com/sungwon/mail-scheduler/internal/deliverylog"
	"github.com/sungwon/mail-scheduler/internal/job"
	"github.com/sungwon/mail-scheduler/internal/jobstore"
)

var errBoom = errors.New("boom")

type testEnv struct {
	store       *jobstore.FileStore
	files       *attachment.LocalStore
	deliveries  *deliverylog.FileLog
	deadLetters *deadletter.FileSink
	uploadDir   string
	logPath     string
	router      *chi.Mux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	files, err := attachment.NewLocalStore(filepath.Join(dir, "resume"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	env := &testEnv{
		store:       jobstore.NewFileStore(filepath.Join(dir, "email_data.json"), zerolog.Nop()),
		files:       files,
		deliveries:  deliverylog.NewFileLog(filepath.Join(dir, "sent_emails.json")),
		deadLetters: deadletter.NewFileSink(filepath.Join(dir, "dead_letter_emails.json")),
		uploadDir:   filepath.Join(dir, "resume"),
		logPath:     filepath.Join(dir, "email_scheduler.log"),
	}
	env.router = NewRouter(Deps{
		Store:       env.store,
		Attachments: env.files,
		Deliveries:  env.deliveries,
		DeadLetters: env.deadLetters,
		LogPath:     env.logPath,
	}, zerolog.Nop())
	return env
}

func (e *testEnv) seed(t *testing.T, jobs ...job.Job) {
	t.Helper()
	if err := e.store.Update(context.Background(), func([]job.Job) ([]job.Job, error) {
		return jobs, nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (e *testEnv) pending(t *testing.T) []job.Job {
	t.Helper()
	set, err := e.store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	return set.Jobs
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type upload struct {
	name    string
	content string
}

func multipartRequest(t *testing.T, target string, fields map[string]string, file *upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", file.name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		io.WriteString(fw, file.content)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) LoadAll(context.Context) (jobstore.PendingSet, error) {
	return jobstore.PendingSet{}, errBoom
}

func (failingStore) ReplaceAll(context.Context, jobstore.PendingSet) error { return errBoom }

func (failingStore) Update(context.Context, jobstore.MutateFunc) error { return errBoom }
