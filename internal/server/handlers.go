package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/slidecast/slidecast/internal/artifact"
	"github.com/slidecast/slidecast/internal/broker"
	"github.com/slidecast/slidecast/internal/job"
	"github.com/slidecast/slidecast/internal/pipeline"
	"github.com/slidecast/slidecast/internal/retention"
)

// maxUploadBytes bounds multipart uploads (decks and voice clips).
const maxUploadBytes = 200 << 20

// builtinSpeakers are the engine-provided voices selectable without an
// uploaded reference clip.
var builtinSpeakers = []string{"en-default", "en-us", "en-br", "en-au", "en-india"}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	jobs      job.Store
	artifacts artifact.Store
	broker    broker.Broker
	canceller *pipeline.Canceller
	retention *retention.Service
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(jobs job.Store, artifacts artifact.Store, brk broker.Broker, canceller *pipeline.Canceller, ret *retention.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		jobs:      jobs,
		artifacts: artifacts,
		broker:    brk,
		canceller: canceller,
		retention: ret,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// UploadPresentation handles POST /presentations: it stores the uploaded
// deck under a fresh nonce, creates the job and enqueues decomposition.
func (h *Handlers) UploadPresentation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	ownerID, ok := formUint(w, r, "owner_id")
	if !ok {
		return
	}
	voiceRefID, ok := formUint(w, r, "voice_ref_id")
	if !ok {
		return
	}

	if _, err := h.jobs.GetUser(r.Context(), ownerID); err != nil {
		writeError(w, http.StatusBadRequest, "unknown owner_id", "UNKNOWN_OWNER")
		return
	}
	if _, err := h.jobs.GetVoiceReference(r.Context(), voiceRefID); err != nil {
		writeError(w, http.StatusBadRequest, "unknown voice_ref_id", "UNKNOWN_VOICE")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "deck file is required", "MISSING_FILE")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".pptx" && ext != ".ppt" {
		writeError(w, http.StatusBadRequest, "only .pptx decks are supported", "UNSUPPORTED_FORMAT")
		return
	}

	key := uuid.NewString() + ext
	sourceKey, err := h.artifacts.Put(r.Context(), artifact.BucketIngest, key, file, header.Size)
	if err != nil {
		h.logger.Error("failed to store deck", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store deck", "UPLOAD_FAILED")
		return
	}

	j, err := h.jobs.CreateJob(r.Context(), ownerID, voiceRefID, sourceKey)
	if err != nil {
		h.logger.Error("failed to create job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	if _, err := h.broker.Enqueue(r.Context(), broker.QueueCPU, broker.TaskDecompose, pipeline.DecomposePayload{JobID: j.ID}); err != nil {
		h.logger.Error("failed to enqueue decomposition", "job_id", j.ID, "error", err)
		msg := "failed to enqueue decomposition"
		_, _ = h.jobs.SetJobStatus(r.Context(), j.ID, job.StatusFailed, job.StatusUpdate{Error: &msg})
		writeError(w, http.StatusInternalServerError, msg, "ENQUEUE_FAILED")
		return
	}

	h.logger.Info("presentation accepted", "job_id", j.ID, "source", sourceKey, "filename", header.Filename)
	writeJSON(w, http.StatusAccepted, jobResponse(j, false))
}

// ListPresentations handles GET /presentations requests.
func (h *Handlers) ListPresentations(w http.ResponseWriter, r *http.Request) {
	page := job.Page{Limit: 100}
	if v := r.URL.Query().Get("offset"); v != "" {
		page.Offset, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		page.Limit, _ = strconv.Atoi(v)
	}

	jobs, err := h.jobs.ListAllJobs(r.Context(), page)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse(j, false))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPresentation handles GET /presentations/{id} requests.
func (h *Handlers) GetPresentation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	j, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(j, true))
}

// DownloadPresentation handles GET /presentations/{id}/download requests,
// streaming the assembled video.
func (h *Handlers) DownloadPresentation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	j, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}
	if j.Status != job.StatusCompleted || j.ResultKey == nil {
		writeError(w, http.StatusConflict, "video is not ready", "NOT_READY")
		return
	}

	bucket, key, err := artifact.ParseCanonical(*j.ResultKey)
	if err != nil {
		h.logger.Error("invalid result key", "job_id", id, "key", *j.ResultKey, "error", err)
		writeError(w, http.StatusInternalServerError, "invalid result key", "INVALID_RESULT_KEY")
		return
	}
	rc, err := h.artifacts.Get(r.Context(), bucket, key)
	if err != nil {
		h.logger.Error("failed to open video", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open video", "DOWNLOAD_FAILED")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(key)))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("video stream interrupted", "job_id", id, "error", err)
	}
}

// CancelPresentation handles POST /presentations/{id}/cancel requests.
func (h *Handlers) CancelPresentation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	applied, err := h.canceller.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to cancel job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel job", "CANCEL_FAILED")
		return
	}
	if !applied {
		writeError(w, http.StatusConflict, "job is already settled", "ALREADY_SETTLED")
		return
	}

	j, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to reload cancelled job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(j, true))
}

// UploadVoice handles POST /voices: it stores the reference clip and
// registers a named voice reference for the owner.
func (h *Handlers) UploadVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	ownerID, ok := formUint(w, r, "owner_id")
	if !ok {
		return
	}
	name := r.FormValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required", "MISSING_NAME")
		return
	}
	if _, err := h.jobs.GetUser(r.Context(), ownerID); err != nil {
		writeError(w, http.StatusBadRequest, "unknown owner_id", "UNKNOWN_OWNER")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "reference audio file is required", "MISSING_FILE")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".wav" && ext != ".mp3" {
		writeError(w, http.StatusBadRequest, "only .wav and .mp3 references are supported", "UNSUPPORTED_FORMAT")
		return
	}

	key := uuid.NewString() + ext
	storageKey, err := h.artifacts.Put(r.Context(), artifact.BucketVoiceClones, key, file, header.Size)
	if err != nil {
		h.logger.Error("failed to store voice reference", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store reference audio", "UPLOAD_FAILED")
		return
	}

	v, err := h.jobs.CreateVoiceReference(r.Context(), ownerID, name, storageKey)
	if err != nil {
		h.logger.Error("failed to create voice reference", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create voice reference", "VOICE_CREATION_FAILED")
		return
	}

	h.logger.Info("voice reference created", "voice_ref_id", v.ID, "owner_id", ownerID, "name", name)
	writeJSON(w, http.StatusCreated, voiceResponse(v))
}

// ListVoices handles GET /voices?owner_id= requests.
func (h *Handlers) ListVoices(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("owner_id")
	ownerID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner_id query parameter is required", "MISSING_OWNER")
		return
	}

	voices, err := h.jobs.ListVoiceReferencesByOwner(r.Context(), uint(ownerID))
	if err != nil {
		h.logger.Error("failed to list voice references", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list voice references", "VOICE_LIST_FAILED")
		return
	}

	out := make([]VoiceResponse, 0, len(voices))
	for _, v := range voices {
		out = append(out, voiceResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListBuiltinVoices handles GET /voices/builtin requests.
func (h *Handlers) ListBuiltinVoices(w http.ResponseWriter, r *http.Request) {
	out := make([]BuiltinVoiceResponse, 0, len(builtinSpeakers))
	for _, name := range builtinSpeakers {
		out = append(out, BuiltinVoiceResponse{
			Name:       name,
			StorageKey: job.BuiltinScheme + name,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// CleanupPreview handles GET /cleanup/preview requests.
func (h *Handlers) CleanupPreview(w http.ResponseWriter, r *http.Request) {
	age, statuses, ok := cleanupQuery(w, r)
	if !ok {
		return
	}

	jobs, err := h.retention.Preview(r.Context(), age, statuses)
	if err != nil {
		h.logger.Error("cleanup preview failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cleanup preview failed", "CLEANUP_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, CleanupPreviewResponse{
		Count:  len(jobs),
		Cutoff: time.Now().Add(-age),
		Jobs:   jobs,
	})
}

// CleanupExecute handles POST /cleanup/execute requests.
func (h *Handlers) CleanupExecute(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	age := time.Duration(req.AgeDays) * 24 * time.Hour
	sum, err := h.retention.DeleteOld(r.Context(), age, toStatuses(req.Statuses))
	if err != nil {
		h.logger.Error("cleanup execute failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cleanup failed", "CLEANUP_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// CleanupJobs handles POST /cleanup/jobs requests.
func (h *Handlers) CleanupJobs(w http.ResponseWriter, r *http.Request) {
	var req CleanupJobsRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	sum, err := h.retention.DeleteSpecific(r.Context(), req.JobIDs)
	if err != nil {
		h.logger.Error("cleanup jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cleanup failed", "CLEANUP_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// Workers handles GET /dashboard/workers requests with per-queue backlogs
// and in-flight tasks.
func (h *Handlers) Workers(w http.ResponseWriter, r *http.Request) {
	resp := WorkersResponse{Queues: make(map[string]QueueStatus, 2)}
	for _, q := range []string{broker.QueueCPU, broker.QueueGPU} {
		info, err := h.broker.Inspect(r.Context(), q)
		if err != nil {
			h.logger.Error("failed to inspect queue", "queue", q, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to inspect queue", "QUEUE_INSPECT_FAILED")
			return
		}
		resp.Queues[q] = queueStatus(info)
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeJSON decodes and validates a JSON request body, writing the error
// response itself on failure.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// cleanupQuery parses the age_days and statuses query parameters with the
// sweep defaults.
func cleanupQuery(w http.ResponseWriter, r *http.Request) (time.Duration, []job.Status, bool) {
	days := 7
	if raw := r.URL.Query().Get("age_days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid age_days", "INVALID_AGE")
			return 0, nil, false
		}
		days = v
	}
	return time.Duration(days) * 24 * time.Hour, toStatuses(r.URL.Query()["status"]), true
}

func toStatuses(names []string) []job.Status {
	out := make([]job.Status, 0, len(names))
	for _, n := range names {
		out = append(out, job.Status(n))
	}
	return out
}

// pathID parses the {id} path segment, writing the error response itself
// on failure.
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id", "INVALID_JOB_ID")
		return 0, false
	}
	return uint(id), true
}

// formUint parses a required unsigned integer form field.
func formUint(w http.ResponseWriter, r *http.Request, field string) (uint, bool) {
	raw := r.FormValue(field)
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, field+" is required", "MISSING_"+strings.ToUpper(field))
		return 0, false
	}
	return uint(v), true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
