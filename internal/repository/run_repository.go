package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reporun/reporun/internal/models"
)

var (
	// ErrRunNotFound is returned when no record exists for the identifier.
	ErrRunNotFound = errors.New("reporun/repository: run not found")

	// ErrDuplicateRun is returned by Create when a record for the
	// identifier already exists.
	ErrDuplicateRun = errors.New("reporun/repository: run already exists")

	// ErrStaleRun is returned by UpdateIf when the stored status was not
	// in the allowed set. The caller lost an optimistic race or received
	// a stale event; it must treat this as a no-op.
	ErrStaleRun = errors.New("reporun/repository: stale run update")
)

// RunRepository defines the interface for run persistence operations.
type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Run, error)
	GetAll(ctx context.Context) ([]*models.Run, error)

	// UpdateIf writes the full record only while the stored status is in
	// the given set (optimistic check-and-set). A run whose status moved
	// out of the set concurrently yields ErrStaleRun.
	UpdateIf(ctx context.Context, run *models.Run, from ...models.RunStatus) error
}

// runRepository implements the RunRepository interface.
type runRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new instance of RunRepository.
func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{
		db: db,
	}
}

// Create persists a new run. A redelivered creation for the same
// identifier is reported as ErrDuplicateRun, not as a write.
func (r *runRepository) Create(ctx context.Context, run *models.Run) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(run)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateRun
	}
	return nil
}

// FindByID retrieves a run by its identifier.
func (r *runRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var run models.Run
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetAll retrieves all runs, newest first.
func (r *runRepository) GetAll(ctx context.Context) ([]*models.Run, error) {
	var runs []*models.Run
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// UpdateIf applies the guarded write. The WHERE clause on the current
// status makes two racing workers serialize: the loser updates zero rows.
func (r *runRepository) UpdateIf(ctx context.Context, run *models.Run, from ...models.RunStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.Run{}).
		Where("id = ? AND status IN ?", run.ID, from).
		Select("*").Omit("id", "created_at").
		Updates(run)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleRun
	}
	return nil
}
