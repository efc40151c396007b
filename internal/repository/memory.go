package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/reporun/reporun/internal/models"
)

// MemoryRunRepository is an in-process RunRepository with the same
// check-and-set semantics as the database implementation. It backs the
// worker tests.
type MemoryRunRepository struct {
	mu   sync.Mutex
	runs map[uuid.UUID]models.Run
}

// Compile-time interface check.
var _ RunRepository = (*MemoryRunRepository)(nil)

// NewMemoryRunRepository creates an empty in-memory repository.
func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{runs: make(map[uuid.UUID]models.Run)}
}

func (r *MemoryRunRepository) Create(_ context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return ErrDuplicateRun
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *MemoryRunRepository) FindByID(_ context.Context, id uuid.UUID) (*models.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &run, nil
}

func (r *MemoryRunRepository) GetAll(_ context.Context) ([]*models.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Run, 0, len(r.runs))
	for id := range r.runs {
		run := r.runs[id]
		out = append(out, &run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRunRepository) UpdateIf(_ context.Context, run *models.Run, from ...models.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.runs[run.ID]
	if !ok {
		return ErrStaleRun
	}
	for _, s := range from {
		if cur.Status == s {
			r.runs[run.ID] = *run
			return nil
		}
	}
	return ErrStaleRun
}
