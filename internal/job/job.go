// Package job provides the Job and Task entities for the narration pipeline,
// the status state machines for both, and the Store port for persistence.
package job

import (
	"time"
)

// Status represents the current state of a Job.
// Jobs progress along pending -> decomposing -> synthesizing -> assembling ->
// completed, with failed and cancelled reachable from any non-terminal state.
type Status string

const (
	// StatusPending indicates the job has been created but not picked up yet.
	StatusPending Status = "pending"
	// StatusDecomposing indicates the deck is being split into slides and notes.
	StatusDecomposing Status = "decomposing"
	// StatusSynthesizing indicates per-slide audio synthesis is in flight.
	StatusSynthesizing Status = "synthesizing"
	// StatusAssembling indicates the final video is being assembled.
	StatusAssembling Status = "assembling"
	// StatusCompleted indicates the job finished and the video is available.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job encountered a fatal error.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the job was cancelled by the client.
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the status is absorbing.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ActiveStatuses are the non-terminal states. Jobs in these states must not
// be swept by retention.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusDecomposing, StatusSynthesizing, StatusAssembling}
}

// validTransitions defines which status transitions are allowed.
// failed and cancelled are reachable from every non-terminal state;
// terminal states allow nothing.
var validTransitions = map[Status][]Status{
	StatusPending:      {StatusDecomposing, StatusFailed, StatusCancelled},
	StatusDecomposing:  {StatusSynthesizing, StatusFailed, StatusCancelled},
	StatusSynthesizing: {StatusAssembling, StatusFailed, StatusCancelled},
	StatusAssembling:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:    {},
	StatusFailed:       {},
	StatusCancelled:    {},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents a single deck-to-video conversion request.
// Child tasks hold only the JobID; the Tasks slice is eager-loaded at query
// time and never written through.
type Job struct {
	// ID is the monotonic identifier visible to clients.
	ID uint `gorm:"primaryKey" json:"id"`
	// OwnerID references the submitting user.
	OwnerID uint `gorm:"index" json:"owner_id"`
	// VoiceRefID references the voice reference used for synthesis.
	VoiceRefID uint `json:"voice_ref_id"`
	// SourceKey is the canonical object-store path of the uploaded deck,
	// of the form "/ingest/{uuid}.{ext}". The uuid is the per-job nonce
	// used for artifact addressing.
	SourceKey string `gorm:"column:source_artifact_key;not null" json:"source_artifact_key"`
	// ResultKey is the canonical path of the final video. Non-nil iff completed.
	ResultKey *string `gorm:"column:result_artifact_key" json:"result_artifact_key,omitempty"`
	// Status is the current lifecycle state.
	Status Status `gorm:"index;default:pending" json:"status"`
	// Stage is a human-facing string mirroring Status; free text for sub-stages.
	Stage string `json:"stage"`
	// SlideCount is set once decomposition counts the deck's slides.
	SlideCount *int `json:"slide_count,omitempty"`
	// Error holds the single-line failure reason. Non-nil iff failed.
	Error *string `json:"error,omitempty"`
	// CreatedAt is when the job was created (server clock).
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	// UpdatedAt is when the job row was last written.
	UpdatedAt time.Time `json:"updated_at"`

	// Tasks are the job's child units of work, eager-loaded on reads.
	Tasks []Task `gorm:"-" json:"tasks,omitempty"`
}

// TableName maps the Job entity to its table.
func (Job) TableName() string { return "jobs" }

// IsTerminal returns true if the job is in an absorbing state.
func (j *Job) IsTerminal() bool { return j.Status.IsTerminal() }

// Kind identifies the type of work a Task performs.
type Kind string

const (
	// KindDecompose splits the deck into notes and rendered slides.
	KindDecompose Kind = "decompose"
	// KindSynthesize produces one slide's narration audio.
	KindSynthesize Kind = "synthesize"
	// KindAssemble waits for the fan-out and muxes the final video.
	KindAssemble Kind = "assemble"
)

// TaskStatus represents the current state of a Task.
type TaskStatus string

const (
	// TaskPending indicates the task is queued but not started.
	TaskPending TaskStatus = "pending"
	// TaskRunning indicates a worker is executing the task.
	TaskRunning TaskStatus = "running"
	// TaskCompleted indicates the task finished successfully.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed indicates the task terminated with an error.
	TaskFailed TaskStatus = "failed"
	// TaskCancelled indicates the task was revoked.
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true if the task status is absorbing.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Task is a child unit of work owned by a Job, executed by a worker on a
// specific queue and independently trackable.
type Task struct {
	// ID is the task's internal identifier.
	ID uint `gorm:"primaryKey" json:"id"`
	// JobID references the owning job.
	JobID uint `gorm:"index;not null" json:"job_id"`
	// Kind is the type of work.
	Kind Kind `gorm:"index" json:"kind"`
	// SlideIndex is the 1-based slide number for synthesize tasks; nil otherwise.
	SlideIndex *int `json:"slide_index,omitempty"`
	// ExternalID is the opaque handle assigned by the broker, used for
	// barrier polling and cancellation.
	ExternalID string `gorm:"index" json:"external_id,omitempty"`
	// Status is the task's lifecycle state.
	Status TaskStatus `gorm:"default:pending" json:"status"`
	// Progress is advisory free text ("synthesized", "fallback: base", ...).
	Progress string `json:"progress,omitempty"`
	// Error holds the failure detail for failed tasks.
	Error *string `json:"error,omitempty"`
	// StartedAt is stamped on the first transition to running.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is stamped when the task reaches a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// CreatedAt is when the task row was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task row was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName maps the Task entity to its table.
func (Task) TableName() string { return "tasks" }

// BuiltinScheme prefixes voice-reference keys that name an engine built-in
// speaker instead of an uploaded clip.
const BuiltinScheme = "builtin://"

// VoiceReference is a named pointer to reference audio: either an uploaded
// clip in the voice-clones bucket or a "builtin://<id>" sentinel.
type VoiceReference struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OwnerID   uint      `gorm:"index" json:"owner_id"`
	Name      string    `json:"name"`
	StorageKey string   `gorm:"column:storage_key;not null" json:"storage_key"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName maps the VoiceReference entity to its table.
func (VoiceReference) TableName() string { return "voice_references" }

// IsBuiltin returns true if the reference names an engine built-in speaker.
func (v *VoiceReference) IsBuiltin() bool {
	return len(v.StorageKey) >= len(BuiltinScheme) && v.StorageKey[:len(BuiltinScheme)] == BuiltinScheme
}

// BuiltinSpeaker returns the engine speaker handle for builtin references,
// with any ".pth" suffix stripped.
func (v *VoiceReference) BuiltinSpeaker() string {
	if !v.IsBuiltin() {
		return ""
	}
	name := v.StorageKey[len(BuiltinScheme):]
	const ext = ".pth"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		name = name[:len(name)-len(ext)]
	}
	return name
}

// User is opaque to the engine and referenced by id only.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	Email     *string   `gorm:"uniqueIndex" json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName maps the User entity to its table.
func (User) TableName() string { return "users" }
