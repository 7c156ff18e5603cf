package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/mail-scheduler/internal/attachment"
	"github.com/sungwon/mail-scheduler/internal/job"
	"github.com/sungwon/mail-scheduler/internal/jobstore"
	"github.com/sungwon/mail-scheduler/internal/logger"
)

// maxUploadBytes bounds a multipart request held in memory before spilling
// to temporary files.
const maxUploadBytes = 32 << 20

// browserTimeLayouts are the values an HTML datetime-local input submits.
var browserTimeLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05"}

// emailRequest is the body accepted by add and edit.
type emailRequest struct {
	ToAddress string `json:"to_address"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	SendTime  string `json:"send_time"`
	Time      string `json:"time"`
}

// emailView is a pending job together with its position.
type emailView struct {
	Index int `json:"index"`
	job.Job
}

// ListEmailsHandler handles GET /email_data.
func ListEmailsHandler(store jobstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, err := store.LoadAll(r.Context())
		if err != nil {
			logger.FromContext(r.Context()).Error().Err(err).Msg("failed to load pending jobs")
			respondError(w, http.StatusInternalServerError, "failed to load pending emails")
			return
		}

		views := make([]emailView, 0, len(set.Jobs))
		for i, j := range set.Jobs {
			views = append(views, emailView{Index: i, Job: j})
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"emails": views})
	}
}

// AddEmailHandler handles POST /add_email with a JSON or multipart body.
func AddEmailHandler(store jobstore.Store, files attachment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		j, ok := readEmail(w, r)
		if !ok {
			return
		}
		if problems := j.Validate(); len(problems) > 0 {
			respondValidationErrors(w, problems)
			return
		}

		ref, ok := saveUpload(w, r, files)
		if !ok {
			return
		}
		j.FilePath = ref

		var index int
		err := store.Update(r.Context(), func(current []job.Job) ([]job.Job, error) {
			index = len(current)
			return jobstore.Append(j)(current)
		})
		if err != nil {
			writeStoreError(w, r, err)
			return
		}

		log.Info().
			Int("index", index).
			Str("to", j.ToAddress).
			Str("time", j.Time).
			Bool("attachment", j.HasAttachment()).
			Msg("email scheduled")
		respondJSON(w, http.StatusCreated, emailView{Index: index, Job: j})
	}
}

// EditEmailHandler handles POST /edit_email/{index}. The stored attachment
// is kept unless a new file is uploaded.
func EditEmailHandler(store jobstore.Store, files attachment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		index, ok := pathIndex(w, r)
		if !ok {
			return
		}
		j, ok := readEmail(w, r)
		if !ok {
			return
		}
		if problems := j.Validate(); len(problems) > 0 {
			respondValidationErrors(w, problems)
			return
		}

		ref, ok := saveUpload(w, r, files)
		if !ok {
			return
		}

		var updated job.Job
		err := store.Update(r.Context(), jobstore.Edit(index, func(existing job.Job) job.Job {
			updated = j
			updated.FilePath = existing.FilePath
			if ref != "" {
				updated.FilePath = ref
			}
			return updated
		}))
		if err != nil {
			writeStoreError(w, r, err)
			return
		}

		log.Info().Int("index", index).Str("to", updated.ToAddress).Msg("email updated")
		respondJSON(w, http.StatusOK, emailView{Index: index, Job: updated})
	}
}

// DeleteEmailHandler handles POST and DELETE /delete_email/{index}.
func DeleteEmailHandler(store jobstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		index, ok := pathIndex(w, r)
		if !ok {
			return
		}

		var removed job.Job
		if err := store.Update(r.Context(), jobstore.Delete(index, &removed)); err != nil {
			writeStoreError(w, r, err)
			return
		}

		log.Info().Int("index", index).Str("to", removed.ToAddress).Msg("email deleted")
		respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": removed})
	}
}

func pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		respondError(w, http.StatusBadRequest, "index must be a non-negative integer")
		return 0, false
	}
	return index, true
}

// readEmail decodes the request body into a job. Multipart and urlencoded
// forms use the same field names as the JSON body.
func readEmail(w http.ResponseWriter, r *http.Request) (job.Job, bool) {
	var req emailRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return job.Job{}, false
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			respondError(w, http.StatusBadRequest, "invalid multipart body")
			return job.Job{}, false
		}
		req = formRequest(r)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			respondError(w, http.StatusBadRequest, "invalid form body")
			return job.Job{}, false
		}
		req = formRequest(r)
	default:
		respondError(w, http.StatusUnsupportedMediaType, "unsupported content type")
		return job.Job{}, false
	}

	sendTime := req.SendTime
	if sendTime == "" {
		sendTime = req.Time
	}
	return job.Job{
		ToAddress: strings.TrimSpace(req.ToAddress),
		Subject:   req.Subject,
		Body:      req.Body,
		Time:      normalizeSendTime(sendTime),
	}, true
}

func formRequest(r *http.Request) emailRequest {
	return emailRequest{
		ToAddress: r.FormValue("to_address"),
		Subject:   r.FormValue("subject"),
		Body:      r.FormValue("body"),
		SendTime:  r.FormValue("send_time"),
		Time:      r.FormValue("time"),
	}
}

// normalizeSendTime converts browser datetime-local values to job.TimeLayout.
// Anything else is returned trimmed and left for validation.
func normalizeSendTime(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range browserTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(job.TimeLayout)
		}
	}
	return s
}

// saveUpload stores the "file" part of a multipart request, if any, and
// returns its reference. An empty reference means nothing was uploaded.
func saveUpload(w http.ResponseWriter, r *http.Request, files attachment.Store) (string, bool) {
	if r.MultipartForm == nil {
		return "", true
	}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return "", true
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid file upload")
		return "", false
	}
	defer file.Close()

	if header.Filename == "" {
		return "", true
	}
	if !attachment.Allowed(header.Filename) {
		respondValidationErrors(w, []string{"file type is not allowed"})
		return "", false
	}

	ref, err := files.Save(r.Context(), header.Filename, file)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Str("filename", header.Filename).Msg("failed to save upload")
		respondError(w, http.StatusInternalServerError, "failed to save attachment")
		return "", false
	}
	return ref, true
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *jobstore.ValidationError
	switch {
	case errors.As(err, &verr):
		respondValidationErrors(w, verr.Problems)
	case errors.Is(err, jobstore.ErrIndexOutOfRange):
		respondError(w, http.StatusNotFound, "email not found")
	default:
		logger.FromContext(r.Context()).Error().Err(err).Msg("failed to update pending jobs")
		respondError(w, http.StatusInternalServerError, "failed to update pending emails")
	}
}
