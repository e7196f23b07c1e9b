// Package server provides the HTTP API for the narration pipeline.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/slidecast/slidecast/internal/broker"
	"github.com/slidecast/slidecast/internal/job"
	"github.com/slidecast/slidecast/internal/retention"
)

// TaskResponse is one task row in a job detail response.
type TaskResponse struct {
	ID         uint   `json:"id"`
	Kind       string `json:"kind"`
	SlideIndex *int   `json:"slide_index,omitempty"`
	Status     string `json:"status"`
	Progress   string `json:"progress,omitempty"`
	Error      string `json:"error,omitempty"`
}

// JobResponse is the HTTP representation of a job.
type JobResponse struct {
	ID         uint           `json:"id"`
	Status     string         `json:"status"`
	Stage      string         `json:"stage"`
	SlideCount *int           `json:"slide_count,omitempty"`
	Error      string         `json:"error,omitempty"`
	ResultKey  string         `json:"result_artifact_key,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Tasks      []TaskResponse `json:"tasks,omitempty"`
}

// jobResponse maps a domain job to its DTO. Tasks are included only when
// withTasks is set; list endpoints stay shallow.
func jobResponse(j *job.Job, withTasks bool) JobResponse {
	resp := JobResponse{
		ID:         j.ID,
		Status:     string(j.Status),
		Stage:      j.Stage,
		SlideCount: j.SlideCount,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if j.Error != nil {
		resp.Error = *j.Error
	}
	if j.ResultKey != nil {
		resp.ResultKey = *j.ResultKey
	}
	if withTasks {
		for _, t := range j.Tasks {
			tr := TaskResponse{
				ID:         t.ID,
				Kind:       string(t.Kind),
				SlideIndex: t.SlideIndex,
				Status:     string(t.Status),
				Progress:   t.Progress,
			}
			if t.Error != nil {
				tr.Error = *t.Error
			}
			resp.Tasks = append(resp.Tasks, tr)
		}
	}
	return resp
}

// VoiceResponse is the HTTP representation of a voice reference.
type VoiceResponse struct {
	ID         uint      `json:"id"`
	OwnerID    uint      `json:"owner_id"`
	Name       string    `json:"name"`
	StorageKey string    `json:"storage_key"`
	Builtin    bool      `json:"builtin"`
	CreatedAt  time.Time `json:"created_at"`
}

func voiceResponse(v *job.VoiceReference) VoiceResponse {
	return VoiceResponse{
		ID:         v.ID,
		OwnerID:    v.OwnerID,
		Name:       v.Name,
		StorageKey: v.StorageKey,
		Builtin:    v.IsBuiltin(),
		CreatedAt:  v.CreatedAt,
	}
}

// BuiltinVoiceResponse names one engine-provided speaker.
type BuiltinVoiceResponse struct {
	Name       string `json:"name"`
	StorageKey string `json:"storage_key"`
}

// CleanupRequest is the HTTP request body for an age-based sweep.
type CleanupRequest struct {
	AgeDays  int      `json:"age_days" validate:"min=0"`
	Statuses []string `json:"statuses,omitempty" validate:"dive,oneof=completed failed cancelled"`
}

// CleanupJobsRequest is the HTTP request body for deleting specific jobs.
type CleanupJobsRequest struct {
	JobIDs []uint `json:"job_ids" validate:"required,min=1"`
}

// CleanupPreviewResponse lists what an execute call would remove.
type CleanupPreviewResponse struct {
	Count  int                   `json:"count"`
	Cutoff time.Time             `json:"cutoff"`
	Jobs   []retention.Candidate `json:"jobs"`
}

// ActiveTaskResponse is one in-flight task on a worker queue.
type ActiveTaskResponse struct {
	TaskID     string    `json:"task_id"`
	Name       string    `json:"name"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QueueStatus reports one queue's waiting backlog and in-flight work.
type QueueStatus struct {
	Reserved int64                `json:"reserved"`
	Active   []ActiveTaskResponse `json:"active"`
}

// WorkersResponse reports queue status keyed by queue name.
type WorkersResponse struct {
	Queues map[string]QueueStatus `json:"queues"`
}

func queueStatus(info broker.QueueInfo) QueueStatus {
	st := QueueStatus{Reserved: info.Reserved, Active: make([]ActiveTaskResponse, 0, len(info.Active))}
	for _, t := range info.Active {
		st.Active = append(st.Active, ActiveTaskResponse{
			TaskID:     t.ID,
			Name:       t.Name,
			EnqueuedAt: t.EnqueuedAt,
		})
	}
	return st
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
