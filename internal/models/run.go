package models

import (
	"time"

	"github.com/google/uuid"
)

// RunMode selects how the repository is built and deployed.
type RunMode string

const (
	ModeDockerfile RunMode = "dockerfile"
	ModeCompose    RunMode = "compose"
)

// Valid reports whether the value is a known run mode.
func (m RunMode) Valid() bool {
	return m == ModeDockerfile || m == ModeCompose
}

// Run is the authoritative record of one build-and-deploy attempt.
// It is created and mutated only by the orchestrator; the runner and
// reaper read it and communicate mutations back through the event log.
type Run struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	RepoURL        string     `json:"repo_url" gorm:"not null"`
	Branch         string     `json:"branch" gorm:"not null"`
	Mode           RunMode    `json:"mode" gorm:"not null"`
	ComposePath    string     `json:"compose_path,omitempty"`
	PrimaryService string     `json:"primary_service,omitempty"`
	Status         RunStatus  `json:"status" gorm:"not null;index"`
	ImageRefs      []string   `json:"image_refs,omitempty" gorm:"serializer:json"`
	Ports          []int32    `json:"ports,omitempty" gorm:"serializer:json"`
	PreviewURL     string     `json:"preview_url,omitempty"`
	Namespace      string     `json:"namespace,omitempty" gorm:"index"`
	LogKey         string     `json:"log_key,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Finish moves the run to a terminal status, stamping CompletedAt exactly
// once. It is a no-op if the run is already terminal.
func (r *Run) Finish(status RunStatus, at time.Time) {
	if r.Status.Terminal() {
		return
	}
	r.Status = status
	if r.CompletedAt == nil {
		t := at
		r.CompletedAt = &t
	}
}
