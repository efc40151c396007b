// Package runner is the deployment engine. It consumes build outcomes,
// applies the rendered resources to the cluster, waits for readiness and
// reports the run outcome back onto the stream. It never mutates run
// records and never deletes cluster resources; a failed deploy leaves
// its namespace behind for the reaper.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/reporun/reporun/internal/eventlog"
	"github.com/reporun/reporun/internal/events"
	"github.com/reporun/reporun/internal/repository"
)

// Service is the consumer group prefix for runner workers.
const Service = "runner"

const retryDelay = 2 * time.Second

// Runner deploys built images into the cluster.
type Runner struct {
	log      eventlog.Log
	runs     repository.RunRepository
	client   kubernetes.Interface
	consumer string
	logger   *slog.Logger

	previewDomain    string
	readinessTimeout time.Duration
	readinessPoll    time.Duration
}

// Options tune deployment behavior.
type Options struct {
	PreviewDomain    string
	ReadinessTimeout time.Duration
	ReadinessPoll    time.Duration
}

// New creates a runner worker.
func New(log eventlog.Log, runs repository.RunRepository, client kubernetes.Interface, consumer string, logger *slog.Logger, opts Options) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReadinessTimeout <= 0 {
		opts.ReadinessTimeout = 5 * time.Minute
	}
	if opts.ReadinessPoll <= 0 {
		opts.ReadinessPoll = 3 * time.Second
	}
	return &Runner{
		log:              log,
		runs:             runs,
		client:           client,
		consumer:         consumer,
		logger:           logger.With("component", "runner"),
		previewDomain:    opts.PreviewDomain,
		readinessTimeout: opts.ReadinessTimeout,
		readinessPoll:    opts.ReadinessPoll,
	}
}

// Run consumes build.succeeded events until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	group := eventlog.GroupName(Service, events.TypeBuildSucceeded)
	for {
		d, err := r.log.Next(ctx, group, r.consumer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if d.ID != "" {
				r.logger.Warn("dropping malformed stream entry", "entry", d.ID, "error", err)
				r.ack(ctx, group, d)
				continue
			}
			r.logger.Warn("stream read failed", "error", err)
			sleepCtx(ctx, retryDelay)
			continue
		}
		if d.Event.Type != events.TypeBuildSucceeded {
			r.ack(ctx, group, d)
			continue
		}

		if err := r.handle(ctx, d.Event); err != nil {
			// Transient: leave unacked, apply is idempotent on redelivery.
			r.logger.Warn("deploy attempt failed, will retry", "run", d.Event.RunID, "error", err)
			sleepCtx(ctx, retryDelay)
			continue
		}
		r.ack(ctx, group, d)
	}
}

// handle deploys one built run. A nil return means the event is done with:
// either the workload is live and run.succeeded was published, or the
// failure was terminal and run.failed was published. Only infrastructure
// errors on the emit path itself are returned for redelivery.
func (r *Runner) handle(ctx context.Context, env events.Envelope) error {
	var built events.BuildSucceeded
	if err := env.Decode(&built); err != nil {
		r.logger.Warn("malformed build outcome, dropping", "run", env.RunID, "error", err)
		return nil
	}
	if len(built.ImageRefs) == 0 {
		r.logger.Warn("build outcome carries no images, dropping", "run", env.RunID)
		return nil
	}

	run, err := r.runs.FindByID(ctx, env.RunID)
	if errors.Is(err, repository.ErrRunNotFound) {
		r.logger.Warn("build outcome for unknown run, dropping", "run", env.RunID)
		return nil
	}
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		// Stopped or already finished while the build was in flight.
		r.logger.Debug("run already terminal, skipping deploy", "run", run.ID, "status", run.Status)
		return nil
	}

	manifests, err := Render(run, built)
	if err != nil {
		return r.emitFailed(ctx, env.RunID, err.Error())
	}

	if err := r.apply(ctx, manifests); err != nil {
		// Partially applied resources stay behind; the reaper reclaims
		// them once the run record is terminal.
		return r.emitFailed(ctx, env.RunID, fmt.Sprintf("apply resources: %v", err))
	}

	if err := r.waitReady(ctx, manifests); err != nil {
		return r.emitFailed(ctx, env.RunID, fmt.Sprintf("workload not ready: %v", err))
	}

	ns := manifests.Namespace.Name
	outcome, err := events.New(events.TypeRunSucceeded, env.RunID, events.RunSucceeded{
		PreviewURL: r.previewURL(ns),
		Namespace:  ns,
		Ports:      manifests.Ports,
	})
	if err != nil {
		return err
	}
	if err := r.log.Publish(ctx, outcome); err != nil {
		return err
	}
	r.logger.Info("run deployed", "run", env.RunID, "namespace", ns, "preview", r.previewURL(ns))
	return nil
}

// apply creates every rendered resource. An already existing resource is
// a no-op, which makes redelivered deploys safe.
func (r *Runner) apply(ctx context.Context, m Manifests) error {
	_, err := r.client.CoreV1().Namespaces().Create(ctx, m.Namespace, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("create namespace %s: %w", m.Namespace.Name, err)
	}
	for _, d := range m.Deployments {
		_, err := r.client.AppsV1().Deployments(d.Namespace).Create(ctx, d, metav1.CreateOptions{})
		if err != nil && !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("create deployment %s: %w", d.Name, err)
		}
	}
	for _, s := range m.Services {
		_, err := r.client.CoreV1().Services(s.Namespace).Create(ctx, s, metav1.CreateOptions{})
		if err != nil && !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("create service %s: %w", s.Name, err)
		}
	}
	return nil
}

// waitReady polls until every deployment reports a ready replica and the
// primary service exists, bounded by the readiness timeout.
func (r *Runner) waitReady(ctx context.Context, m Manifests) error {
	deadline := time.Now().Add(r.readinessTimeout)
	ns := m.Namespace.Name

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ready, err := r.checkReady(ctx, ns, m)
		if err == nil && ready {
			return nil
		}
		if err != nil {
			r.logger.Debug("readiness probe error", "namespace", ns, "error", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s", r.readinessTimeout)
		}
		sleepCtx(ctx, r.readinessPoll)
	}
}

func (r *Runner) checkReady(ctx context.Context, ns string, m Manifests) (bool, error) {
	for _, d := range m.Deployments {
		dep, err := r.client.AppsV1().Deployments(ns).Get(ctx, d.Name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		if dep.Status.ReadyReplicas < 1 {
			return false, nil
		}
	}
	_, err := r.client.CoreV1().Services(ns).Get(ctx, m.PrimaryService, metav1.GetOptions{})
	if err != nil {
		return false, err
	}
	return true, nil
}

// emitFailed publishes a terminal run.failed outcome. The returned error
// is only non-nil when the publish itself fails.
func (r *Runner) emitFailed(ctx context.Context, runID uuid.UUID, msg string) error {
	env, err := events.New(events.TypeRunFailed, runID, events.RunFailed{ErrorMessage: msg})
	if err != nil {
		return err
	}
	if err := r.log.Publish(ctx, env); err != nil {
		return err
	}
	r.logger.Info("run failed", "run", runID, "error", msg)
	return nil
}

func (r *Runner) previewURL(namespace string) string {
	return fmt.Sprintf("http://%s.%s", namespace, r.previewDomain)
}

func (r *Runner) ack(ctx context.Context, group string, d eventlog.Delivery) {
	if err := r.log.Ack(ctx, group, d); err != nil && ctx.Err() == nil {
		r.logger.Warn("ack failed", "entry", d.ID, "error", err)
	}
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
