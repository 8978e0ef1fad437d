package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// MemoryJobRepository in-memory хранилище задач
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*entity.Job
}

// NewMemoryJobRepository создаёт пустое хранилище задач
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		jobs: make(map[string]*entity.Job),
	}
}

// Save сохраняет копию задачи
func (r *MemoryJobRepository) Save(ctx context.Context, job *entity.Job) error {
	c := job.Clone()

	r.mu.Lock()
	r.jobs[job.ID] = c
	r.mu.Unlock()

	return nil
}

// Get возвращает копию задачи
func (r *MemoryJobRepository) Get(ctx context.Context, id string) (*entity.Job, error) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()

	if !ok {
		return nil, entity.ErrJobNotFound
	}
	return job.Clone(), nil
}

// List возвращает задачи, новые первыми
func (r *MemoryJobRepository) List(ctx context.Context, limit int) ([]*entity.Job, error) {
	r.mu.RLock()
	jobs := make([]*entity.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

var _ port.JobRepository = (*MemoryJobRepository)(nil)
