package job

import (
	"context"
	"errors"
	"time"
)

// Static errors for store operations.
var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrTaskNotFound is returned when a task cannot be found.
	ErrTaskNotFound = errors.New("task not found")
	// ErrVoiceReferenceNotFound is returned when a voice reference is missing.
	ErrVoiceReferenceNotFound = errors.New("voice reference not found")
	// ErrUserNotFound is returned when a user cannot be found by ID.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidTransition is returned when a status write does not follow
	// the job lifecycle DAG.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// StatusUpdate carries the optional columns written together with a job
// status transition.
type StatusUpdate struct {
	// Stage overrides the human-facing stage string. When nil, the stage
	// mirrors the new status.
	Stage *string
	// Error is the failure reason; only meaningful with StatusFailed.
	Error *string
	// ResultKey is the canonical result path; only meaningful with StatusCompleted.
	ResultKey *string
	// SlideCount sets the deck's slide count once decomposition knows it.
	SlideCount *int
}

// TaskUpdate carries the columns written by a task status report.
// Nil fields are left untouched.
type TaskUpdate struct {
	Status     *TaskStatus
	Progress   *string
	Error      *string
	ExternalID *string
}

// Page bounds a paged listing.
type Page struct {
	Offset int
	Limit  int
}

// Store defines the persistence port for jobs, tasks, voice references and
// users. Implementations serialize writes per row; no cross-row transactions
// are required.
type Store interface {
	// CreateJob persists a new job in pending status and returns it.
	CreateJob(ctx context.Context, ownerID, voiceRefID uint, sourceKey string) (*Job, error)

	// GetJob retrieves a job with its tasks eager-loaded.
	// Returns ErrJobNotFound if the job does not exist.
	GetJob(ctx context.Context, id uint) (*Job, error)

	// ListJobsByStatus returns jobs whose status is in the given set,
	// newest first.
	ListJobsByStatus(ctx context.Context, statuses []Status) ([]*Job, error)

	// ListJobsOlderThan returns jobs created before cutoff whose status is
	// in the given set.
	ListJobsOlderThan(ctx context.Context, cutoff time.Time, statuses []Status) ([]*Job, error)

	// ListAllJobs returns jobs newest first, bounded by the page.
	ListAllJobs(ctx context.Context, page Page) ([]*Job, error)

	// SetJobStatus applies a status transition plus the optional columns in
	// upd. It returns (false, nil) when the row is already terminal (the
	// already-terminal signal) and ErrInvalidTransition when the transition
	// does not follow the DAG. A write repeating the current non-terminal
	// status succeeds, so a redelivered task can resume its work.
	SetJobStatus(ctx context.Context, id uint, status Status, upd StatusUpdate) (applied bool, err error)

	// SetSlideCount records the deck's slide count without touching status.
	// Decomposition learns the count mid-stage, before any transition fires.
	SetSlideCount(ctx context.Context, id uint, count int) error

	// CreateTask persists a new task row in pending status.
	// slideIndex is nil for non-per-slide kinds.
	CreateTask(ctx context.Context, jobID uint, kind Kind, slideIndex *int, externalID string) (*Task, error)

	// UpdateTask applies a task update by internal id. On a transition to
	// running it stamps StartedAt if unset; on any terminal status it stamps
	// CompletedAt. Rows already terminal ignore the update entirely.
	UpdateTask(ctx context.Context, id uint, upd TaskUpdate) (*Task, error)

	// UpdateTaskByExternalID is UpdateTask addressed by the broker handle.
	UpdateTaskByExternalID(ctx context.Context, externalID string, upd TaskUpdate) (*Task, error)

	// ListTasks returns a job's tasks ordered by (kind, slide_index nulls last).
	ListTasks(ctx context.Context, jobID uint) ([]Task, error)

	// DeleteJobCascade removes the job row and all of its task rows.
	DeleteJobCascade(ctx context.Context, id uint) error

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, name string, email *string) (*User, error)

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id uint) (*User, error)

	// CreateVoiceReference persists a named voice reference.
	CreateVoiceReference(ctx context.Context, ownerID uint, name, storageKey string) (*VoiceReference, error)

	// GetVoiceReference retrieves a voice reference by id.
	// Returns ErrVoiceReferenceNotFound if it does not exist.
	GetVoiceReference(ctx context.Context, id uint) (*VoiceReference, error)

	// ListVoiceReferencesByOwner returns a user's voice references.
	ListVoiceReferencesByOwner(ctx context.Context, ownerID uint) ([]*VoiceReference, error)
}
