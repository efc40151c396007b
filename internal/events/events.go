// Package events defines the lifecycle event variants exchanged over the
// shared run stream and their JSON envelope.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	TypeRunRequested     Type = "run.requested"
	TypeRunStopRequested Type = "run.stop_requested"
	TypeBuildProgress    Type = "build.progress"
	TypeBuildSucceeded   Type = "build.succeeded"
	TypeBuildFailed      Type = "build.failed"
	TypeRunSucceeded     Type = "run.succeeded"
	TypeRunFailed        Type = "run.failed"
	TypeIndexingComplete Type = "indexing.complete"
)

// Envelope is the wire form appended to the stream. Payload holds the
// variant-specific document.
type Envelope struct {
	Type      Type            `json:"type"`
	RunID     uuid.UUID       `json:"run_id"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RunRequested is published by the gateway when a new run is accepted.
type RunRequested struct {
	RepoURL        string `json:"repo_url"`
	Branch         string `json:"branch"`
	Mode           string `json:"mode"`
	ComposePath    string `json:"compose_path,omitempty"`
	PrimaryService string `json:"primary_service,omitempty"`
}

// BuildProgress reports a fractional build progress update.
type BuildProgress struct {
	Fraction float64 `json:"fraction"`
}

// BuildSucceeded is published by the build step once all images exist.
// For compose mode ImageRefs[i] corresponds to the i-th service of
// ComposeConfig in file order.
type BuildSucceeded struct {
	ImageRefs     []string `json:"image_refs"`
	Ports         []int32  `json:"ports"`
	ComposeConfig string   `json:"compose_config,omitempty"`
	LogKey        string   `json:"log_key,omitempty"`
}

// BuildFailed is published by the build step on a build error.
type BuildFailed struct {
	ErrorMessage string `json:"error_message"`
	LogKey       string `json:"log_key,omitempty"`
}

// RunSucceeded is published by the runner once the workload is ready.
type RunSucceeded struct {
	PreviewURL string  `json:"preview_url"`
	Namespace  string  `json:"namespace"`
	Ports      []int32 `json:"ports"`
}

// RunFailed is published by the runner when deployment fails.
type RunFailed struct {
	ErrorMessage string `json:"error_message"`
}

// New builds an envelope for the given variant, serializing the payload.
func New(typ Type, runID uuid.UUID, payload any) (Envelope, error) {
	env := Envelope{Type: typ, RunID: runID, Timestamp: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("reporun/events: marshal %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Decode unmarshals the envelope payload into the variant struct.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("reporun/events: decode %s payload: %w", e.Type, err)
	}
	return nil
}
