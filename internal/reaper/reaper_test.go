package reaper

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/reporun/reporun/internal/models"
	"github.com/reporun/reporun/internal/repository"
	"github.com/reporun/reporun/internal/runner"
	"github.com/reporun/reporun/internal/utils"
)

var scanTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func managedNamespace(runID uuid.UUID) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:        utils.NamespaceName(runID),
			Labels:      map[string]string{runner.ManagedByLabel: runner.ManagedByValue},
			Annotations: map[string]string{runner.RunIDAnnotation: runID.String()},
		},
	}
}

func newTestReaper(t *testing.T, runs repository.RunRepository, namespaces ...*corev1.Namespace) (*Reaper, *fake.Clientset) {
	t.Helper()
	cs := fake.NewClientset()
	for _, ns := range namespaces {
		if _, err := cs.CoreV1().Namespaces().Create(context.Background(), ns, metav1.CreateOptions{}); err != nil {
			t.Fatalf("create namespace: %v", err)
		}
	}
	r := New(cs, runs, time.Minute, 5*time.Minute, slog.Default())
	r.now = func() time.Time { return scanTime }
	return r, cs
}

func storeRun(t *testing.T, runs repository.RunRepository, status models.RunStatus, completedAgo time.Duration) uuid.UUID {
	t.Helper()
	run := &models.Run{
		ID:      uuid.New(),
		RepoURL: "https://example.com/app.git",
		Mode:    models.ModeDockerfile,
		Status:  status,
	}
	if status.Terminal() {
		at := scanTime.Add(-completedAgo)
		run.CompletedAt = &at
	}
	if err := runs.Create(context.Background(), run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return run.ID
}

func namespaceExists(t *testing.T, cs *fake.Clientset, name string) bool {
	t.Helper()
	_, err := cs.CoreV1().Namespaces().Get(context.Background(), name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false
	}
	if err != nil {
		t.Fatalf("Get namespace: %v", err)
	}
	return true
}

func TestScan_ReapsTerminalRunPastGrace(t *testing.T) {
	runs := repository.NewMemoryRunRepository()
	id := storeRun(t, runs, models.StatusSucceeded, 10*time.Minute)
	r, cs := newTestReaper(t, runs, managedNamespace(id))

	if err := r.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if namespaceExists(t, cs, utils.NamespaceName(id)) {
		t.Error("namespace survived scan, want reaped")
	}

	// Second scan finds nothing to do.
	if err := r.Scan(context.Background()); err != nil {
		t.Errorf("second Scan: %v", err)
	}
}

func TestScan_KeepsTerminalRunWithinGrace(t *testing.T) {
	runs := repository.NewMemoryRunRepository()
	id := storeRun(t, runs, models.StatusFailed, 2*time.Minute)
	r, cs := newTestReaper(t, runs, managedNamespace(id))

	if err := r.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !namespaceExists(t, cs, utils.NamespaceName(id)) {
		t.Error("namespace reaped inside the grace period")
	}
}

func TestScan_NeverTouchesActiveRun(t *testing.T) {
	runs := repository.NewMemoryRunRepository()
	for _, status := range []models.RunStatus{models.StatusQueued, models.StatusBuilding, models.StatusDeploying} {
		id := storeRun(t, runs, status, 0)
		r, cs := newTestReaper(t, runs, managedNamespace(id))

		if err := r.Scan(context.Background()); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if !namespaceExists(t, cs, utils.NamespaceName(id)) {
			t.Errorf("namespace for %s run was reaped while deploy may be in flight", status)
		}
	}
}

func TestScan_ReapsOrphanedNamespace(t *testing.T) {
	runs := repository.NewMemoryRunRepository()
	orphanID := uuid.New() // no run record at all
	r, cs := newTestReaper(t, runs, managedNamespace(orphanID))

	if err := r.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if namespaceExists(t, cs, utils.NamespaceName(orphanID)) {
		t.Error("orphaned namespace survived scan")
	}
}

func TestScan_IgnoresUnmanagedNamespaces(t *testing.T) {
	runs := repository.NewMemoryRunRepository()
	r, cs := newTestReaper(t, runs)

	other := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "kube-system"}}
	if _, err := cs.CoreV1().Namespaces().Create(context.Background(), other, metav1.CreateOptions{}); err != nil {
		t.Fatalf("create namespace: %v", err)
	}

	if err := r.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !namespaceExists(t, cs, "kube-system") {
		t.Error("unmanaged namespace was deleted")
	}
}
