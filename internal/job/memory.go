package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It uses maps with a single mutex for thread-safe access.
// Suitable for development and testing; production wiring uses GormStore.
type MemoryStore struct {
	mu         sync.RWMutex
	jobs       map[uint]*Job
	tasks      map[uint]*Task
	users      map[uint]*User
	voices     map[uint]*VoiceReference
	nextJob    uint
	nextTask   uint
	nextUser   uint
	nextVoice  uint
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[uint]*Job),
		tasks:  make(map[uint]*Task),
		users:  make(map[uint]*User),
		voices: make(map[uint]*VoiceReference),
	}
}

func cloneJob(j *Job) *Job {
	c := *j
	c.Tasks = nil
	return &c
}

func cloneTask(t *Task) Task { return *t }

// CreateJob persists a new job in pending status.
func (s *MemoryStore) CreateJob(_ context.Context, ownerID, voiceRefID uint, sourceKey string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextJob++
	now := time.Now().UTC()
	j := &Job{
		ID:         s.nextJob,
		OwnerID:    ownerID,
		VoiceRefID: voiceRefID,
		SourceKey:  sourceKey,
		Status:     StatusPending,
		Stage:      string(StatusPending),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.jobs[j.ID] = j
	return cloneJob(j), nil
}

// GetJob retrieves a job with its tasks attached.
func (s *MemoryStore) GetJob(_ context.Context, id uint) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := cloneJob(j)
	out.Tasks = s.tasksForJob(id)
	return out, nil
}

// ListJobsByStatus returns jobs whose status is in the given set, newest first.
func (s *MemoryStore) ListJobsByStatus(_ context.Context, statuses []Status) ([]*Job, error) {
	in := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		in[st] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Job
	for _, j := range s.jobs {
		if in[j.Status] {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

// ListJobsOlderThan returns jobs created before cutoff in the given statuses.
func (s *MemoryStore) ListJobsOlderThan(_ context.Context, cutoff time.Time, statuses []Status) ([]*Job, error) {
	in := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		in[st] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Job
	for _, j := range s.jobs {
		if in[j.Status] && j.CreatedAt.Before(cutoff) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// ListAllJobs returns jobs newest first, bounded by the page.
func (s *MemoryStore) ListAllJobs(_ context.Context, page Page) ([]*Job, error) {
	if page.Limit <= 0 {
		page.Limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		all = append(all, cloneJob(j))
	}
	sort.Slice(all, func(i, k int) bool { return all[i].CreatedAt.After(all[k].CreatedAt) })
	if page.Offset >= len(all) {
		return nil, nil
	}
	end := page.Offset + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[page.Offset:end], nil
}

// SetJobStatus applies a status transition; terminal rows report (false, nil).
// Re-entering the current status succeeds so redelivered tasks can resume.
func (s *MemoryStore) SetJobStatus(_ context.Context, id uint, status Status, upd StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if j.Status.IsTerminal() {
		return false, nil
	}
	if j.Status != status && !CanTransition(j.Status, status) {
		return false, ErrInvalidTransition
	}
	j.Status = status
	j.Stage = string(status)
	if upd.Stage != nil {
		j.Stage = *upd.Stage
	}
	if upd.Error != nil {
		j.Error = upd.Error
	}
	if upd.ResultKey != nil {
		j.ResultKey = upd.ResultKey
	}
	if upd.SlideCount != nil {
		j.SlideCount = upd.SlideCount
	}
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

// SetSlideCount records the deck's slide count without touching status.
func (s *MemoryStore) SetSlideCount(_ context.Context, id uint, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.SlideCount = &count
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateTask persists a new task row in pending status.
func (s *MemoryStore) CreateTask(_ context.Context, jobID uint, kind Kind, slideIndex *int, externalID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTask++
	now := time.Now().UTC()
	t := &Task{
		ID:         s.nextTask,
		JobID:      jobID,
		Kind:       kind,
		SlideIndex: slideIndex,
		ExternalID: externalID,
		Status:     TaskPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.tasks[t.ID] = t
	out := cloneTask(t)
	return &out, nil
}

// UpdateTask applies a task update by internal id.
func (s *MemoryStore) UpdateTask(_ context.Context, id uint, upd TaskUpdate) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return s.applyTaskUpdate(t, upd), nil
}

// UpdateTaskByExternalID applies a task update by broker handle.
func (s *MemoryStore) UpdateTaskByExternalID(_ context.Context, externalID string, upd TaskUpdate) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ExternalID == externalID {
			return s.applyTaskUpdate(t, upd), nil
		}
	}
	return nil, ErrTaskNotFound
}

func (s *MemoryStore) applyTaskUpdate(t *Task, upd TaskUpdate) *Task {
	// Terminal rows are immutable.
	if t.Status.IsTerminal() {
		out := cloneTask(t)
		return &out
	}
	now := time.Now().UTC()
	if upd.ExternalID != nil {
		t.ExternalID = *upd.ExternalID
	}
	if upd.Progress != nil {
		t.Progress = *upd.Progress
	}
	if upd.Error != nil {
		t.Error = upd.Error
	}
	if upd.Status != nil {
		t.Status = *upd.Status
		if *upd.Status == TaskRunning && t.StartedAt == nil {
			t.StartedAt = &now
		}
		if upd.Status.IsTerminal() {
			t.CompletedAt = &now
		}
	}
	t.UpdatedAt = now
	out := cloneTask(t)
	return &out
}

// ListTasks returns a job's tasks ordered by (kind, slide_index nulls last).
func (s *MemoryStore) ListTasks(_ context.Context, jobID uint) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasksForJob(jobID), nil
}

func (s *MemoryStore) tasksForJob(jobID uint) []Task {
	var out []Task
	for _, t := range s.tasks {
		if t.JobID == jobID {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Kind != out[k].Kind {
			return out[i].Kind < out[k].Kind
		}
		a, b := out[i].SlideIndex, out[k].SlideIndex
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[k].ID
		case a == nil:
			return false // nulls last
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return out
}

// DeleteJobCascade removes the job row and all of its task rows.
func (s *MemoryStore) DeleteJobCascade(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	for tid, t := range s.tasks {
		if t.JobID == id {
			delete(s.tasks, tid)
		}
	}
	return nil
}

// CreateUser persists a new user.
func (s *MemoryStore) CreateUser(_ context.Context, name string, email *string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUser++
	u := &User{ID: s.nextUser, Name: name, Email: email, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	out := *u
	return &out, nil
}

// GetUser retrieves a user by id.
func (s *MemoryStore) GetUser(_ context.Context, id uint) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *u
	return &out, nil
}

// CreateVoiceReference persists a named voice reference.
func (s *MemoryStore) CreateVoiceReference(_ context.Context, ownerID uint, name, storageKey string) (*VoiceReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextVoice++
	v := &VoiceReference{ID: s.nextVoice, OwnerID: ownerID, Name: name, StorageKey: storageKey, CreatedAt: time.Now().UTC()}
	s.voices[v.ID] = v
	out := *v
	return &out, nil
}

// GetVoiceReference retrieves a voice reference by id.
func (s *MemoryStore) GetVoiceReference(_ context.Context, id uint) (*VoiceReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.voices[id]
	if !ok {
		return nil, ErrVoiceReferenceNotFound
	}
	out := *v
	return &out, nil
}

// ListVoiceReferencesByOwner returns a user's voice references.
func (s *MemoryStore) ListVoiceReferencesByOwner(_ context.Context, ownerID uint) ([]*VoiceReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*VoiceReference
	for _, v := range s.voices {
		if v.OwnerID == ownerID {
			c := *v
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}
