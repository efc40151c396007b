package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/reporun/reporun/internal/models"
	"github.com/reporun/reporun/internal/repository"
)

func newRun(status models.RunStatus) *models.Run {
	return &models.Run{
		ID:      uuid.New(),
		RepoURL: "https://example.com/repo.git",
		Branch:  "main",
		Mode:    models.ModeDockerfile,
		Status:  status,
	}
}

func TestCreate_DuplicateIsRejected(t *testing.T) {
	repo := repository.NewMemoryRunRepository()
	ctx := context.Background()

	run := newRun(models.StatusQueued)
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, run); !errors.Is(err, repository.ErrDuplicateRun) {
		t.Errorf("second Create error = %v, want ErrDuplicateRun", err)
	}
}

func TestFindByID_Unknown(t *testing.T) {
	repo := repository.NewMemoryRunRepository()
	if _, err := repo.FindByID(context.Background(), uuid.New()); !errors.Is(err, repository.ErrRunNotFound) {
		t.Errorf("FindByID error = %v, want ErrRunNotFound", err)
	}
}

func TestUpdateIf_GuardsOnStatus(t *testing.T) {
	repo := repository.NewMemoryRunRepository()
	ctx := context.Background()

	run := newRun(models.StatusQueued)
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	run.Status = models.StatusBuilding
	if err := repo.UpdateIf(ctx, run, models.StatusQueued); err != nil {
		t.Fatalf("UpdateIf from queued: %v", err)
	}

	got, err := repo.FindByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != models.StatusBuilding {
		t.Errorf("Status = %s, want building", got.Status)
	}

	// Guard no longer holds: the stored status left the set.
	stale := *got
	stale.Status = models.StatusFailed
	if err := repo.UpdateIf(ctx, &stale, models.StatusQueued); !errors.Is(err, repository.ErrStaleRun) {
		t.Errorf("UpdateIf with stale guard error = %v, want ErrStaleRun", err)
	}
	got, _ = repo.FindByID(ctx, run.ID)
	if got.Status != models.StatusBuilding {
		t.Errorf("Status mutated to %s by stale update, want building", got.Status)
	}
}

func TestUpdateIf_RacingWorkersSerialize(t *testing.T) {
	repo := repository.NewMemoryRunRepository()
	ctx := context.Background()

	run := newRun(models.StatusDeploying)
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Both workers read the same snapshot and race their writes.
	winner := *run
	winner.Status = models.StatusSucceeded
	loser := *run
	loser.Status = models.StatusFailed

	if err := repo.UpdateIf(ctx, &winner, models.StatusDeploying); err != nil {
		t.Fatalf("winner UpdateIf: %v", err)
	}
	if err := repo.UpdateIf(ctx, &loser, models.StatusDeploying); !errors.Is(err, repository.ErrStaleRun) {
		t.Errorf("loser UpdateIf error = %v, want ErrStaleRun", err)
	}

	got, _ := repo.FindByID(ctx, run.ID)
	if got.Status != models.StatusSucceeded {
		t.Errorf("Status = %s, want succeeded (winner's write)", got.Status)
	}
}
