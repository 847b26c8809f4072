package store

import (
	"context"
	"sort"
	"sync"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/model"
)

// MemoryStore keeps jobs in process memory. Used in development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.CompositeVideo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*model.CompositeVideo)}
}

func (s *MemoryStore) Create(ctx context.Context, job *model.CompositeVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return apperr.Conflict("job already exists")
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.CompositeVideo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job")
	}
	cp := job.Clone()
	sort.Slice(cp.Clips, func(i, j int) bool { return cp.Clips[i].Index < cp.Clips[j].Index })
	return cp, nil
}

func (s *MemoryStore) SaveJob(ctx context.Context, job *model.CompositeVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return apperr.Persistence("save job", apperr.NotFound("job"))
	}
	cp := job.Clone()
	cp.Clips = existing.Clips
	cp.CancelRequested = existing.CancelRequested || job.CancelRequested
	s.jobs[job.ID] = cp
	return nil
}

func (s *MemoryStore) SaveClip(ctx context.Context, clip *model.Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[clip.CompositeID]
	if !ok {
		return apperr.Persistence("save clip", apperr.NotFound("job"))
	}
	for i := range job.Clips {
		if job.Clips[i].Index == clip.Index {
			job.Clips[i] = *clip.Clone()
			return nil
		}
	}
	return apperr.Persistence("save clip", apperr.NotFound("clip"))
}

func (s *MemoryStore) RequestCancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return apperr.NotFound("job")
	}
	job.CancelRequested = true
	return nil
}

func (s *MemoryStore) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, apperr.NotFound("job")
	}
	return job.CancelRequested, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
