// Package reaper reclaims cluster namespaces left behind by finished or
// orphaned runs. It runs on a fixed interval independent of the event
// path, so a lost event can delay cleanup but never prevent it. It is the
// only component permitted to delete cluster resources.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/reporun/reporun/internal/repository"
	"github.com/reporun/reporun/internal/runner"
)

// Reaper periodically scans managed namespaces and deletes those whose
// run is terminal and past the grace period, or whose run record no
// longer exists.
type Reaper struct {
	client   kubernetes.Interface
	runs     repository.RunRepository
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger

	now func() time.Time
}

// New creates a reaper.
func New(client kubernetes.Interface, runs repository.RunRepository, interval, grace time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		client:   client,
		runs:     runs,
		interval: interval,
		grace:    grace,
		logger:   logger.With("component", "reaper"),
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled. Scan failures are logged and
// retried on the next interval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Scan(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("scan failed", "error", err)
			}
		}
	}
}

// Scan performs one reap pass over every managed namespace.
func (r *Reaper) Scan(ctx context.Context) error {
	namespaces, err := r.client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{
		LabelSelector: runner.ManagedByLabel + "=" + runner.ManagedByValue,
	})
	if err != nil {
		return err
	}

	for i := range namespaces.Items {
		ns := &namespaces.Items[i]
		if ns.DeletionTimestamp != nil {
			continue // already terminating
		}
		if reap, reason := r.shouldReap(ctx, ns.Annotations[runner.RunIDAnnotation]); reap {
			r.delete(ctx, ns.Name, reason)
		}
	}
	return nil
}

// shouldReap decides one namespace's fate. A namespace whose run is
// non-terminal is never touched; that guard is what keeps the reaper and
// an in-flight deploy from racing.
func (r *Reaper) shouldReap(ctx context.Context, rawID string) (bool, string) {
	runID, err := uuid.Parse(rawID)
	if err != nil {
		// Not one of ours despite the label; leave it alone.
		return false, ""
	}

	run, err := r.runs.FindByID(ctx, runID)
	if errors.Is(err, repository.ErrRunNotFound) {
		return true, "orphaned"
	}
	if err != nil {
		r.logger.Warn("run lookup failed, skipping namespace", "run", runID, "error", err)
		return false, ""
	}

	if !run.Status.Terminal() {
		return false, ""
	}
	if run.CompletedAt != nil && r.now().Sub(*run.CompletedAt) < r.grace {
		return false, ""
	}
	return true, "run " + string(run.Status)
}

func (r *Reaper) delete(ctx context.Context, name, reason string) {
	err := r.client.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return
	}
	if err != nil {
		// Retried on the next interval.
		r.logger.Warn("namespace delete failed", "namespace", name, "error", err)
		return
	}
	r.logger.Info("namespace reaped", "namespace", name, "reason", reason)
}
