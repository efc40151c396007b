package runner

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/reporun/reporun/internal/compose"
	"github.com/reporun/reporun/internal/events"
	"github.com/reporun/reporun/internal/models"
	"github.com/reporun/reporun/internal/utils"
)

const (
	// ManagedByLabel marks every namespace this system owns; the reaper
	// only ever considers namespaces carrying it.
	ManagedByLabel = "app.kubernetes.io/managed-by"
	ManagedByValue = "reporun"

	// RunIDAnnotation ties a namespace back to its run record.
	RunIDAnnotation = "reporun.dev/run-id"

	defaultPort int32 = 8080
)

// Manifests is the full set of cluster resources rendered for one run.
// Rendering is a pure function of the run metadata and build outcome, so
// repeated invocations produce identical definitions and re-apply is
// idempotent.
type Manifests struct {
	Namespace   *corev1.Namespace
	Deployments []*appsv1.Deployment
	Services    []*corev1.Service

	// PrimaryService names the service exposed through the preview URL.
	PrimaryService string
	Ports          []int32
}

// workload is one deployment/service pair before rendering.
type workload struct {
	name  string
	image string
	port  int32
}

// Render produces the cluster resource definitions for a built run.
func Render(run *models.Run, built events.BuildSucceeded) (Manifests, error) {
	ns := utils.NamespaceName(run.ID)

	var workloads []workload
	switch run.Mode {
	case models.ModeDockerfile:
		port := defaultPort
		if len(built.Ports) > 0 {
			port = built.Ports[0]
		}
		workloads = []workload{{name: "app", image: built.ImageRefs[0], port: port}}

	case models.ModeCompose:
		services, err := compose.ParseServices([]byte(built.ComposeConfig))
		if err != nil {
			return Manifests{}, fmt.Errorf("reporun/runner: discover services: %w", err)
		}
		if len(built.ImageRefs) < len(services) {
			return Manifests{}, fmt.Errorf("reporun/runner: %d services but %d image refs", len(services), len(built.ImageRefs))
		}
		for i, svc := range services {
			port := defaultPort
			if len(svc.Ports) > 0 {
				port = svc.Ports[0]
			} else if i < len(built.Ports) {
				port = built.Ports[i]
			}
			workloads = append(workloads, workload{name: svc.Name, image: built.ImageRefs[i], port: port})
		}

	default:
		return Manifests{}, fmt.Errorf("reporun/runner: unknown mode %q", run.Mode)
	}

	primary := run.PrimaryService
	if primary == "" {
		primary = workloads[0].name
	}

	m := Manifests{
		Namespace:      renderNamespace(ns, run),
		PrimaryService: primary,
	}
	for _, w := range workloads {
		m.Deployments = append(m.Deployments, renderDeployment(ns, w))
		m.Services = append(m.Services, renderService(ns, w, w.name == primary))
		m.Ports = append(m.Ports, w.port)
	}
	return m, nil
}

func renderNamespace(name string, run *models.Run) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{ManagedByLabel: ManagedByValue},
			Annotations: map[string]string{
				RunIDAnnotation: run.ID.String(),
			},
		},
	}
}

func renderDeployment(ns string, w workload) *appsv1.Deployment {
	labels := map[string]string{
		"app":          w.name,
		ManagedByLabel: ManagedByValue,
	}
	replicas := int32(1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      w.name,
			Namespace: ns,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": w.name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  w.name,
							Image: w.image,
							Ports: []corev1.ContainerPort{{ContainerPort: w.port}},
						},
					},
				},
			},
		},
	}
}

func renderService(ns string, w workload, exposed bool) *corev1.Service {
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      w.name,
			Namespace: ns,
			Labels:    map[string]string{ManagedByLabel: ManagedByValue},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": w.name},
			Ports: []corev1.ServicePort{
				{
					Port:       w.port,
					TargetPort: intstr.FromInt32(w.port),
				},
			},
		},
	}
	if exposed {
		// Only the primary service is reachable from outside the cluster.
		svc.Spec.Type = corev1.ServiceTypeNodePort
	}
	return svc
}
