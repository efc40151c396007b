// Package eventlog wraps the durable append-only run stream. One physical
// stream multiplexes every event variant; each consuming service registers
// a distinct consumer group per variant it handles, so each variant is
// acknowledged and retried independently while the stream keeps a single
// globally ordered history per run.
package eventlog

import (
	"context"
	"errors"

	"github.com/reporun/reporun/internal/events"
)

// Stream is the single physical stream all run lifecycle events share.
const Stream = "repo-runs"

// ErrClosed is returned by Next once the log has been closed.
var ErrClosed = errors.New("reporun/eventlog: log closed")

// Delivery is one at-least-once delivery of an event to a group. The same
// event may be delivered again if it is not acknowledged before the
// visibility timeout.
type Delivery struct {
	// ID is the log entry identifier, used to acknowledge the delivery.
	ID string

	Event events.Envelope
}

// Log is the event log client. Publish appends durably; Next blocks the
// calling worker until an entry is available for the group or the context
// is cancelled, and is the sole suspension point of the event-driven
// workers. Ack commits a delivery as processed for its group.
type Log interface {
	Publish(ctx context.Context, evt events.Envelope) error
	Next(ctx context.Context, group, consumer string) (Delivery, error)
	Ack(ctx context.Context, group string, d Delivery) error

	// Lag returns the number of entries the group has not yet processed.
	// It is a health signal, not a correctness one.
	Lag(ctx context.Context, group string) (int64, error)
}

// GroupName returns the consumer group a service registers for one event
// variant, e.g. "orchestrator:build.succeeded".
func GroupName(service string, typ events.Type) string {
	return service + ":" + string(typ)
}
