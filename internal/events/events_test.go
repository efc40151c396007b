package events_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/reporun/reporun/internal/events"
)

func TestEnvelopeCarriesPayload(t *testing.T) {
	id := uuid.New()
	env, err := events.New(events.TypeBuildSucceeded, id, events.BuildSucceeded{
		ImageRefs: []string{"registry.local/app:1"},
		Ports:     []int32{8080},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if env.Type != events.TypeBuildSucceeded || env.RunID != id {
		t.Fatalf("envelope = %+v", env)
	}
	if env.Timestamp.IsZero() {
		t.Error("Timestamp not stamped")
	}

	var p events.BuildSucceeded
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(p.ImageRefs) != 1 || p.ImageRefs[0] != "registry.local/app:1" {
		t.Errorf("ImageRefs = %v", p.ImageRefs)
	}
}

func TestDecodeMismatchedPayload(t *testing.T) {
	env, err := events.New(events.TypeBuildProgress, uuid.New(), events.BuildProgress{Fraction: 0.4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var p events.BuildSucceeded
	// Shapes overlap as JSON objects; the zero value is the tell.
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(p.ImageRefs) != 0 {
		t.Errorf("ImageRefs = %v from a progress payload", p.ImageRefs)
	}
}
