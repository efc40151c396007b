// Package orchestrator owns the run state machine. It consumes lifecycle
// events from the shared stream, applies guarded transitions, and
// persists the authoritative run record. Guards make at-least-once,
// out-of-order delivery safe: an event whose guard fails is acknowledged
// and dropped, never an error.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reporun/reporun/internal/eventlog"
	"github.com/reporun/reporun/internal/events"
	"github.com/reporun/reporun/internal/models"
	"github.com/reporun/reporun/internal/repository"
	"github.com/reporun/reporun/internal/utils"
)

// Service is the consumer group prefix for orchestrator workers.
const Service = "orchestrator"

// retryDelay is how long a worker backs off after a transient failure
// before the unacked event is picked up again.
const retryDelay = 2 * time.Second

// subscriptions are the variants the orchestrator folds into run state.
var subscriptions = []events.Type{
	events.TypeRunRequested,
	events.TypeRunStopRequested,
	events.TypeBuildProgress,
	events.TypeBuildSucceeded,
	events.TypeBuildFailed,
	events.TypeRunSucceeded,
	events.TypeRunFailed,
}

// ProjectionCache receives best-effort run projections after accepted
// transitions. *cache.RedisCache satisfies it.
type ProjectionCache interface {
	Set(ctx context.Context, run *models.Run) error
}

// Orchestrator is the run state machine worker.
type Orchestrator struct {
	log      eventlog.Log
	runs     repository.RunRepository
	cache    ProjectionCache
	consumer string
	logger   *slog.Logger
}

// New creates an orchestrator. cache may be nil; projections are then
// skipped entirely.
func New(log eventlog.Log, runs repository.RunRepository, cache ProjectionCache, consumer string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		log:      log,
		runs:     runs,
		cache:    cache,
		consumer: consumer,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Run starts one consume loop per subscribed variant group and blocks
// until the context is cancelled and every loop has drained.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, typ := range subscriptions {
		wg.Add(1)
		go func(typ events.Type) {
			defer wg.Done()
			o.consumeLoop(ctx, typ)
		}(typ)
	}
	wg.Wait()
}

// consumeLoop processes one variant group. Every delivery ends in exactly
// one of: handled-and-acked, no-op-and-acked, or left unacked for
// redelivery after a transient failure.
func (o *Orchestrator) consumeLoop(ctx context.Context, typ events.Type) {
	group := eventlog.GroupName(Service, typ)
	for {
		d, err := o.log.Next(ctx, group, o.consumer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if d.ID != "" {
				// Poison entry: ack so it is not redelivered forever.
				o.logger.Warn("dropping malformed stream entry", "group", group, "entry", d.ID, "error", err)
				o.ack(ctx, group, d)
				continue
			}
			o.logger.Warn("stream read failed", "group", group, "error", err)
			sleepCtx(ctx, retryDelay)
			continue
		}

		// The shared stream fans every variant to every group; foreign
		// variants are cheap filter-rejects.
		if d.Event.Type != typ {
			o.ack(ctx, group, d)
			continue
		}

		switch err := o.apply(ctx, d.Event); {
		case err == nil:
			o.ack(ctx, group, d)
		case errors.Is(err, errGuardFailed):
			o.logger.Debug("event dropped by guard", "type", typ, "run", d.Event.RunID, "reason", err)
			o.ack(ctx, group, d)
		case errors.Is(err, errMalformed):
			o.logger.Warn("malformed event payload", "type", typ, "run", d.Event.RunID, "error", err)
			o.ack(ctx, group, d)
		default:
			// Transient: leave unacked so the entry is redelivered.
			o.logger.Warn("transition failed, will retry", "type", typ, "run", d.Event.RunID, "error", err)
			sleepCtx(ctx, retryDelay)
		}
	}
}

var (
	// errGuardFailed marks duplicate, stale or out-of-order events. They
	// are acknowledged no-ops, not failures.
	errGuardFailed = errors.New("guard failed")

	// errMalformed marks contract violations in the payload. Acked to
	// avoid poison-message loops; the run keeps its last valid state.
	errMalformed = errors.New("malformed payload")
)

// apply runs the transition table for one event.
func (o *Orchestrator) apply(ctx context.Context, env events.Envelope) error {
	switch env.Type {
	case events.TypeRunRequested:
		return o.applyRunRequested(ctx, env)
	case events.TypeRunStopRequested:
		return o.applyStop(ctx, env)
	case events.TypeBuildProgress:
		return o.applyBuildProgress(ctx, env)
	case events.TypeBuildSucceeded:
		return o.applyBuildSucceeded(ctx, env)
	case events.TypeBuildFailed:
		return o.applyBuildFailed(ctx, env)
	case events.TypeRunSucceeded:
		return o.applyRunSucceeded(ctx, env)
	case events.TypeRunFailed:
		return o.applyRunFailed(ctx, env)
	}
	return errGuardFailed
}

func (o *Orchestrator) applyRunRequested(ctx context.Context, env events.Envelope) error {
	var p events.RunRequested
	if err := env.Decode(&p); err != nil {
		return errors.Join(errMalformed, err)
	}
	mode := models.RunMode(p.Mode)
	if !mode.Valid() || p.RepoURL == "" {
		return errMalformed
	}

	now := time.Now().UTC()
	run := &models.Run{
		ID:             env.RunID,
		RepoURL:        p.RepoURL,
		Branch:         p.Branch,
		Mode:           mode,
		ComposePath:    p.ComposePath,
		PrimaryService: p.PrimaryService,
		Status:         models.StatusQueued,
		CreatedAt:      env.Timestamp,
		StartedAt:      now,
	}
	err := o.runs.Create(ctx, run)
	if errors.Is(err, repository.ErrDuplicateRun) {
		return errGuardFailed // redelivered creation
	}
	if err != nil {
		return err
	}
	o.project(ctx, run)
	return nil
}

func (o *Orchestrator) applyStop(ctx context.Context, env events.Envelope) error {
	return o.transition(ctx, env.RunID,
		[]models.RunStatus{models.StatusQueued, models.StatusBuilding, models.StatusDeploying},
		func(run *models.Run) {
			run.ErrorMessage = "stopped by request"
			run.Finish(models.StatusStopped, time.Now().UTC())
		})
}

func (o *Orchestrator) applyBuildProgress(ctx context.Context, env events.Envelope) error {
	var p events.BuildProgress
	if err := env.Decode(&p); err != nil {
		return errors.Join(errMalformed, err)
	}
	return o.transition(ctx, env.RunID,
		[]models.RunStatus{models.StatusQueued, models.StatusBuilding},
		func(run *models.Run) {
			run.Status = models.StatusBuilding
		})
}

func (o *Orchestrator) applyBuildSucceeded(ctx context.Context, env events.Envelope) error {
	var p events.BuildSucceeded
	if err := env.Decode(&p); err != nil {
		return errors.Join(errMalformed, err)
	}
	if len(p.ImageRefs) == 0 {
		return errMalformed
	}
	return o.transition(ctx, env.RunID,
		[]models.RunStatus{models.StatusQueued, models.StatusBuilding},
		func(run *models.Run) {
			run.ImageRefs = p.ImageRefs
			run.Ports = p.Ports
			if p.LogKey != "" {
				run.LogKey = p.LogKey
			}
			run.Namespace = utils.NamespaceName(run.ID)
			run.Status = models.StatusDeploying
		})
}

func (o *Orchestrator) applyBuildFailed(ctx context.Context, env events.Envelope) error {
	var p events.BuildFailed
	if err := env.Decode(&p); err != nil {
		return errors.Join(errMalformed, err)
	}
	return o.transition(ctx, env.RunID,
		[]models.RunStatus{models.StatusQueued, models.StatusBuilding},
		func(run *models.Run) {
			run.ErrorMessage = p.ErrorMessage
			if p.LogKey != "" {
				run.LogKey = p.LogKey
			}
			run.Finish(models.StatusFailed, time.Now().UTC())
		})
}

func (o *Orchestrator) applyRunSucceeded(ctx context.Context, env events.Envelope) error {
	var p events.RunSucceeded
	if err := env.Decode(&p); err != nil {
		return errors.Join(errMalformed, err)
	}
	return o.transition(ctx, env.RunID,
		[]models.RunStatus{models.StatusDeploying},
		func(run *models.Run) {
			run.PreviewURL = p.PreviewURL
			if p.Namespace != "" {
				run.Namespace = p.Namespace
			}
			if len(p.Ports) > 0 {
				run.Ports = p.Ports
			}
			run.Finish(models.StatusSucceeded, time.Now().UTC())
		})
}

func (o *Orchestrator) applyRunFailed(ctx context.Context, env events.Envelope) error {
	var p events.RunFailed
	if err := env.Decode(&p); err != nil {
		return errors.Join(errMalformed, err)
	}
	return o.transition(ctx, env.RunID,
		[]models.RunStatus{models.StatusDeploying},
		func(run *models.Run) {
			run.ErrorMessage = p.ErrorMessage
			run.Finish(models.StatusFailed, time.Now().UTC())
		})
}

// transition fetches the run, evaluates the guard set, applies the
// mutation and writes it back with the same guard as the check-and-set
// condition. A concurrent writer that moves the status out of the set
// makes the write a stale no-op.
func (o *Orchestrator) transition(ctx context.Context, id uuid.UUID, from []models.RunStatus, mutate func(*models.Run)) error {
	run, err := o.runs.FindByID(ctx, id)
	if errors.Is(err, repository.ErrRunNotFound) {
		return errGuardFailed // event for an unknown run
	}
	if err != nil {
		return err
	}
	if !statusIn(run.Status, from) {
		return errGuardFailed
	}

	mutate(run)

	err = o.runs.UpdateIf(ctx, run, from...)
	if errors.Is(err, repository.ErrStaleRun) {
		return errGuardFailed // lost the optimistic race
	}
	if err != nil {
		return err
	}
	o.project(ctx, run)
	return nil
}

// project pushes the new state to the read-accelerator cache. Strictly
// best effort: failures are logged and never fail the transition.
func (o *Orchestrator) project(ctx context.Context, run *models.Run) {
	if o.cache == nil {
		return
	}
	snapshot := *run
	go func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := o.cache.Set(cctx, &snapshot); err != nil {
			o.logger.Warn("cache projection failed", "run", snapshot.ID, "error", err)
		}
	}()
}

func (o *Orchestrator) ack(ctx context.Context, group string, d eventlog.Delivery) {
	if err := o.log.Ack(ctx, group, d); err != nil && ctx.Err() == nil {
		o.logger.Warn("ack failed", "group", group, "entry", d.ID, "error", err)
	}
}

func statusIn(s models.RunStatus, set []models.RunStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// sleepCtx sleeps for the given duration, or returns early if the context
// is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
