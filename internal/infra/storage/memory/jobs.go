package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"jobchat/internal/domain/chat"
)

// JobStore is an in-memory job record store for demos and tests.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[chat.ConversationID]chat.Job
	now  func() time.Time
}

// NewJobStore builds a store seeded with jobs.
func NewJobStore(jobs ...chat.Job) *JobStore {
	s := &JobStore{jobs: make(map[chat.ConversationID]chat.Job), now: time.Now}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s
}

// Save stores or replaces a job.
func (s *JobStore) Save(ctx context.Context, job chat.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *JobStore) Job(ctx context.Context, id chat.ConversationID) (chat.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return chat.Job{}, chat.ErrConversationNotFound
	}
	return job, nil
}

// ListForUser returns the jobs the user takes part in, newest update first.
func (s *JobStore) ListForUser(ctx context.Context, user chat.UserID) ([]chat.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Job, 0)
	for _, job := range s.jobs {
		if job.SeekerID == user || (job.ProviderID != "" && job.ProviderID == user) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *JobStore) UpdateStatus(ctx context.Context, id chat.ConversationID, status string) (chat.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return chat.Job{}, chat.ErrConversationNotFound
	}
	job.Status = strings.ToLower(strings.TrimSpace(status))
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return job, nil
}
