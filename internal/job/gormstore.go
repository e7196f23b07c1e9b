package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Compile-time check that GormStore implements Store.
var _ Store = (*GormStore)(nil)

// GormStore is the relational implementation of Store.
// It is driver-agnostic: production wiring opens Postgres, tests open sqlite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm handle and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&User{}, &VoiceReference{}, &Job{}, &Task{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateJob persists a new job in pending status.
func (s *GormStore) CreateJob(ctx context.Context, ownerID, voiceRefID uint, sourceKey string) (*Job, error) {
	j := &Job{
		OwnerID:    ownerID,
		VoiceRefID: voiceRefID,
		SourceKey:  sourceKey,
		Status:     StatusPending,
		Stage:      string(StatusPending),
	}
	if err := s.db.WithContext(ctx).Create(j).Error; err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return j, nil
}

// GetJob retrieves a job with its tasks eager-loaded.
func (s *GormStore) GetJob(ctx context.Context, id uint) (*Job, error) {
	var j Job
	if err := s.db.WithContext(ctx).First(&j, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	tasks, err := s.ListTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	j.Tasks = tasks
	return &j, nil
}

// ListJobsByStatus returns jobs whose status is in the given set, newest first.
func (s *GormStore) ListJobsByStatus(ctx context.Context, statuses []Status) ([]*Job, error) {
	var jobs []*Job
	err := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return jobs, nil
}

// ListJobsOlderThan returns jobs created before cutoff in the given statuses.
func (s *GormStore) ListJobsOlderThan(ctx context.Context, cutoff time.Time, statuses []Status) ([]*Job, error) {
	var jobs []*Job
	err := s.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", cutoff, statuses).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs older than %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return jobs, nil
}

// ListAllJobs returns jobs newest first, bounded by the page.
func (s *GormStore) ListAllJobs(ctx context.Context, page Page) ([]*Job, error) {
	if page.Limit <= 0 {
		page.Limit = 100
	}
	var jobs []*Job
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(page.Offset).
		Limit(page.Limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list all jobs: %w", err)
	}
	return jobs, nil
}

// SetJobStatus applies a status transition inside a transaction.
// Terminal rows are left untouched and reported via (false, nil).
// Re-entering the current status succeeds, so a redelivered task can
// resume its key-addressed work after a worker crash.
func (s *GormStore) SetJobStatus(ctx context.Context, id uint, status Status, upd StatusUpdate) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j Job
		if err := tx.First(&j, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}

		// Terminal states are absorbing.
		if j.Status.IsTerminal() {
			return nil
		}
		if j.Status != status && !CanTransition(j.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
		}

		cols := map[string]any{
			"status": status,
			"stage":  string(status),
		}
		if upd.Stage != nil {
			cols["stage"] = *upd.Stage
		}
		if upd.Error != nil {
			cols["error"] = *upd.Error
		}
		if upd.ResultKey != nil {
			cols["result_artifact_key"] = *upd.ResultKey
		}
		if upd.SlideCount != nil {
			cols["slide_count"] = *upd.SlideCount
		}

		if err := tx.Model(&j).Updates(cols).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// SetSlideCount records the deck's slide count without touching status.
func (s *GormStore) SetSlideCount(ctx context.Context, id uint, count int) error {
	res := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Update("slide_count", count)
	if res.Error != nil {
		return fmt.Errorf("set slide count for job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// CreateTask persists a new task row in pending status.
func (s *GormStore) CreateTask(ctx context.Context, jobID uint, kind Kind, slideIndex *int, externalID string) (*Task, error) {
	t := &Task{
		JobID:      jobID,
		Kind:       kind,
		SlideIndex: slideIndex,
		ExternalID: externalID,
		Status:     TaskPending,
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// UpdateTask applies a task update by internal id.
func (s *GormStore) UpdateTask(ctx context.Context, id uint, upd TaskUpdate) (*Task, error) {
	return s.updateTask(ctx, "id = ?", id, upd)
}

// UpdateTaskByExternalID applies a task update by broker handle.
func (s *GormStore) UpdateTaskByExternalID(ctx context.Context, externalID string, upd TaskUpdate) (*Task, error) {
	return s.updateTask(ctx, "external_id = ?", externalID, upd)
}

func (s *GormStore) updateTask(ctx context.Context, query string, arg any, upd TaskUpdate) (*Task, error) {
	var t Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(query, arg).First(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return err
		}

		// Terminal rows are immutable: a late worker write racing a cancel
		// must not stamp progress or error text onto a settled task.
		if t.Status.IsTerminal() {
			return nil
		}

		cols := map[string]any{}
		if upd.ExternalID != nil {
			cols["external_id"] = *upd.ExternalID
		}
		if upd.Progress != nil {
			cols["progress"] = *upd.Progress
		}
		if upd.Error != nil {
			cols["error"] = *upd.Error
		}
		if upd.Status != nil {
			now := time.Now().UTC()
			cols["status"] = *upd.Status
			if *upd.Status == TaskRunning && t.StartedAt == nil {
				cols["started_at"] = now
			}
			if upd.Status.IsTerminal() {
				cols["completed_at"] = now
			}
		}
		if len(cols) == 0 {
			return nil
		}
		return tx.Model(&t).Updates(cols).Error
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns a job's tasks ordered by (kind, slide_index nulls last).
func (s *GormStore) ListTasks(ctx context.Context, jobID uint) ([]Task, error) {
	var tasks []Task
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("kind, slide_index ASC NULLS LAST").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list tasks for job %d: %w", jobID, err)
	}
	return tasks, nil
}

// DeleteJobCascade removes the job row and all of its task rows.
func (s *GormStore) DeleteJobCascade(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&Job{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrJobNotFound
		}
		return tx.Where("job_id = ?", id).Delete(&Task{}).Error
	})
}

// CreateUser persists a new user.
func (s *GormStore) CreateUser(ctx context.Context, name string, email *string) (*User, error) {
	u := &User{Name: name, Email: email}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUser retrieves a user by id.
func (s *GormStore) GetUser(ctx context.Context, id uint) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// CreateVoiceReference persists a named voice reference.
func (s *GormStore) CreateVoiceReference(ctx context.Context, ownerID uint, name, storageKey string) (*VoiceReference, error) {
	v := &VoiceReference{OwnerID: ownerID, Name: name, StorageKey: storageKey}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return nil, fmt.Errorf("create voice reference: %w", err)
	}
	return v, nil
}

// GetVoiceReference retrieves a voice reference by id.
func (s *GormStore) GetVoiceReference(ctx context.Context, id uint) (*VoiceReference, error) {
	var v VoiceReference
	if err := s.db.WithContext(ctx).First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoiceReferenceNotFound
		}
		return nil, fmt.Errorf("get voice reference %d: %w", id, err)
	}
	return &v, nil
}

// ListVoiceReferencesByOwner returns a user's voice references.
func (s *GormStore) ListVoiceReferencesByOwner(ctx context.Context, ownerID uint) ([]*VoiceReference, error) {
	var refs []*VoiceReference
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&refs).Error
	if err != nil {
		return nil, fmt.Errorf("list voice references: %w", err)
	}
	return refs, nil
}
