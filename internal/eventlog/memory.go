package eventlog

import (
	"context"
	"strconv"
	"sync"

	"github.com/reporun/reporun/internal/events"
)

// MemoryLog is an in-process Log with the same group semantics as the
// Redis implementation: per-group cursor, per-group pending set, and
// redelivery of unacked entries. It backs the worker tests.
type MemoryLog struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries []Delivery
	groups  map[string]*memGroup
	closed  bool
}

type memGroup struct {
	cursor  int
	pending map[string]int // entry ID → entries index
	redeliv []string       // IDs queued for redelivery, oldest first
}

// Compile-time interface check.
var _ Log = (*MemoryLog)(nil)

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	l := &MemoryLog{groups: make(map[string]*memGroup)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *MemoryLog) group(name string) *memGroup {
	g, ok := l.groups[name]
	if !ok {
		g = &memGroup{pending: make(map[string]int)}
		l.groups[name] = g
	}
	return g
}

// Publish appends the event and wakes blocked consumers.
func (l *MemoryLog) Publish(_ context.Context, evt events.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := strconv.Itoa(len(l.entries))
	l.entries = append(l.entries, Delivery{ID: id, Event: evt})
	l.cond.Broadcast()
	return nil
}

// Next delivers the group's oldest redelivery, else the entry at the
// group cursor, blocking until one exists or the context is cancelled.
func (l *MemoryLog) Next(ctx context.Context, group, _ string) (Delivery, error) {
	// Wake the wait loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.cond.Broadcast()
		case <-done:
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.group(group)
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		if l.closed {
			return Delivery{}, ErrClosed
		}
		if len(g.redeliv) > 0 {
			id := g.redeliv[0]
			g.redeliv = g.redeliv[1:]
			if idx, ok := g.pending[id]; ok {
				return l.entries[idx], nil
			}
			continue
		}
		if g.cursor < len(l.entries) {
			d := l.entries[g.cursor]
			g.pending[d.ID] = g.cursor
			g.cursor++
			return d, nil
		}
		l.cond.Wait()
	}
}

// Ack removes the delivery from the group's pending set.
func (l *MemoryLog) Ack(_ context.Context, group string, d Delivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.group(group).pending, d.ID)
	return nil
}

// Lag counts undelivered plus pending entries for the group.
func (l *MemoryLog) Lag(_ context.Context, group string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.group(group)
	return int64(len(l.entries)-g.cursor) + int64(len(g.pending)), nil
}

// Redeliver queues every pending entry of the group for another delivery,
// simulating a consumer crash past the visibility timeout.
func (l *MemoryLog) Redeliver(group string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.group(group)
	g.redeliv = g.redeliv[:0]
	for id := range g.pending {
		g.redeliv = append(g.redeliv, id)
	}
	l.cond.Broadcast()
}

// Close makes every blocked and future Next return ErrClosed.
func (l *MemoryLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.cond.Broadcast()
}

// Entries returns a snapshot of everything published, for assertions.
func (l *MemoryLog) Entries() []Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Delivery, len(l.entries))
	copy(out, l.entries)
	return out
}
