package eventlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reporun/reporun/internal/eventlog"
	"github.com/reporun/reporun/internal/events"
)

func publish(t *testing.T, log *eventlog.MemoryLog, typ events.Type) uuid.UUID {
	t.Helper()
	id := uuid.New()
	env, err := events.New(typ, id, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := log.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return id
}

func TestMemoryLog_DeliversInOrderPerGroup(t *testing.T) {
	log := eventlog.NewMemoryLog()
	ctx := context.Background()

	id1 := publish(t, log, events.TypeRunRequested)
	id2 := publish(t, log, events.TypeBuildProgress)

	d1, err := log.Next(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if d1.Event.RunID != id1 {
		t.Errorf("first delivery run = %s, want %s", d1.Event.RunID, id1)
	}
	d2, err := log.Next(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if d2.Event.RunID != id2 {
		t.Errorf("second delivery run = %s, want %s", d2.Event.RunID, id2)
	}

	// A second group starts from the beginning of the stream.
	d, err := log.Next(ctx, "g2", "c1")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if d.Event.RunID != id1 {
		t.Errorf("g2 first delivery run = %s, want %s", d.Event.RunID, id1)
	}
}

func TestMemoryLog_RedeliversUnacked(t *testing.T) {
	log := eventlog.NewMemoryLog()
	ctx := context.Background()

	id := publish(t, log, events.TypeBuildSucceeded)

	d, err := log.Next(ctx, "g", "c")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	// Not acked: a crash-and-redeliver hands it out again.
	log.Redeliver("g")
	again, err := log.Next(ctx, "g", "c")
	if err != nil {
		t.Fatalf("Next after redeliver: %v", err)
	}
	if again.ID != d.ID || again.Event.RunID != id {
		t.Errorf("redelivered entry %s run %s, want %s run %s", again.ID, again.Event.RunID, d.ID, id)
	}

	// Acked: redelivery produces nothing.
	if err := log.Ack(ctx, "g", again); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	log.Redeliver("g")
	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := log.Next(cctx, "g", "c"); err == nil {
		t.Error("Next returned a delivery after ack, want timeout")
	}
}

func TestMemoryLog_Lag(t *testing.T) {
	log := eventlog.NewMemoryLog()
	ctx := context.Background()

	publish(t, log, events.TypeRunRequested)
	publish(t, log, events.TypeRunRequested)

	lag, err := log.Lag(ctx, "g")
	if err != nil {
		t.Fatalf("Lag: %v", err)
	}
	if lag != 2 {
		t.Errorf("Lag = %d before any delivery, want 2", lag)
	}

	d, _ := log.Next(ctx, "g", "c")
	if lag, _ = log.Lag(ctx, "g"); lag != 2 {
		t.Errorf("Lag = %d with one pending, want 2", lag)
	}

	_ = log.Ack(ctx, "g", d)
	if lag, _ = log.Lag(ctx, "g"); lag != 1 {
		t.Errorf("Lag = %d after ack, want 1", lag)
	}
}

func TestMemoryLog_NextHonorsCancellation(t *testing.T) {
	log := eventlog.NewMemoryLog()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := log.Next(ctx, "g", "c")
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Next returned nil error after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after cancellation")
	}
}
