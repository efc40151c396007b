package models_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reporun/reporun/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.RunStatus
		want     bool
	}{
		{models.StatusQueued, models.StatusBuilding, true},
		{models.StatusQueued, models.StatusDeploying, true}, // build outcome may arrive before any progress
		{models.StatusQueued, models.StatusFailed, true},
		{models.StatusQueued, models.StatusStopped, true},
		{models.StatusBuilding, models.StatusBuilding, true}, // progress redelivery
		{models.StatusBuilding, models.StatusDeploying, true},
		{models.StatusDeploying, models.StatusSucceeded, true},
		{models.StatusDeploying, models.StatusFailed, true},
		{models.StatusDeploying, models.StatusStopped, true},

		{models.StatusQueued, models.StatusSucceeded, false},
		{models.StatusDeploying, models.StatusBuilding, false}, // no regression
		{models.StatusSucceeded, models.StatusFailed, false},
		{models.StatusFailed, models.StatusDeploying, false},
		{models.StatusStopped, models.StatusQueued, false},
		{models.StatusSucceeded, models.StatusStopped, false},
	}
	for _, tt := range tests {
		if got := models.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []models.RunStatus{models.StatusSucceeded, models.StatusFailed, models.StatusStopped}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	active := []models.RunStatus{models.StatusQueued, models.StatusBuilding, models.StatusDeploying}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestFinish_SetsCompletedAtOnce(t *testing.T) {
	run := &models.Run{ID: uuid.New(), Status: models.StatusDeploying}

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run.Finish(models.StatusFailed, first)

	if run.Status != models.StatusFailed {
		t.Fatalf("Status = %s, want %s", run.Status, models.StatusFailed)
	}
	if run.CompletedAt == nil || !run.CompletedAt.Equal(first) {
		t.Fatalf("CompletedAt = %v, want %v", run.CompletedAt, first)
	}

	// A redelivered terminal event must not move the run or the stamp.
	run.Finish(models.StatusSucceeded, first.Add(time.Hour))
	if run.Status != models.StatusFailed {
		t.Errorf("Status = %s after second Finish, want %s", run.Status, models.StatusFailed)
	}
	if !run.CompletedAt.Equal(first) {
		t.Errorf("CompletedAt overwritten to %v, want %v", run.CompletedAt, first)
	}
}
