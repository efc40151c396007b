package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reporun/reporun/internal/events"
)

const (
	// defaultBlock bounds how long a single XREADGROUP blocks, so that
	// context cancellation is observed within this interval.
	defaultBlock = 5 * time.Second

	// defaultMinIdle is the visibility timeout: a delivery left unacked
	// this long may be claimed by another consumer in the group.
	defaultMinIdle = 30 * time.Second
)

// RedisLog implements Log on a Redis stream with consumer groups.
type RedisLog struct {
	client  *redis.Client
	stream  string
	block   time.Duration
	minIdle time.Duration

	mu      sync.Mutex
	created map[string]bool // groups known to exist
}

// Compile-time interface check.
var _ Log = (*RedisLog)(nil)

// NewRedisLog creates a log client over the given Redis address.
func NewRedisLog(addr string) *RedisLog {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisLog{
		client:  rdb,
		stream:  Stream,
		block:   defaultBlock,
		minIdle: defaultMinIdle,
		created: make(map[string]bool),
	}
}

// Client exposes the underlying Redis client for health checks.
func (l *RedisLog) Client() *redis.Client { return l.client }

// Publish appends the event to the stream and returns once Redis has
// accepted it.
func (l *RedisLog) Publish(ctx context.Context, evt events.Envelope) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("reporun/eventlog: marshal event: %w", err)
	}
	err = l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		Values: map[string]interface{}{
			"type": string(evt.Type),
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("reporun/eventlog: publish %s: %w", evt.Type, err)
	}
	return nil
}

// ensureGroup creates the consumer group at the start of the stream if it
// does not exist yet. BUSYGROUP from a concurrent creation is fine.
func (l *RedisLog) ensureGroup(ctx context.Context, group string) error {
	l.mu.Lock()
	known := l.created[group]
	l.mu.Unlock()
	if known {
		return nil
	}

	err := l.client.XGroupCreateMkStream(ctx, l.stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("reporun/eventlog: create group %s: %w", group, err)
	}

	l.mu.Lock()
	l.created[group] = true
	l.mu.Unlock()
	return nil
}

// Next blocks until an entry is available for the group. Entries another
// consumer in the group left unacked past the visibility timeout are
// claimed before new entries are read.
func (l *RedisLog) Next(ctx context.Context, group, consumer string) (Delivery, error) {
	if err := l.ensureGroup(ctx, group); err != nil {
		return Delivery{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}

		// First pick up deliveries abandoned by crashed consumers.
		claimed, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   l.stream,
			Group:    group,
			Consumer: consumer,
			MinIdle:  l.minIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Delivery{}, fmt.Errorf("reporun/eventlog: autoclaim %s: %w", group, err)
		}
		if len(claimed) > 0 {
			return decodeMessage(claimed[0])
		}

		streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{l.stream, ">"},
			Count:    1,
			Block:    l.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue // block interval elapsed, loop to re-check ctx
		}
		if err != nil {
			return Delivery{}, fmt.Errorf("reporun/eventlog: read %s: %w", group, err)
		}
		for _, s := range streams {
			if len(s.Messages) > 0 {
				return decodeMessage(s.Messages[0])
			}
		}
	}
}

// Ack commits the delivery as processed for its group.
func (l *RedisLog) Ack(ctx context.Context, group string, d Delivery) error {
	if err := l.client.XAck(ctx, l.stream, group, d.ID).Err(); err != nil {
		return fmt.Errorf("reporun/eventlog: ack %s %s: %w", group, d.ID, err)
	}
	return nil
}

// Lag returns undelivered plus delivered-but-unacked entries for the group.
func (l *RedisLog) Lag(ctx context.Context, group string) (int64, error) {
	if err := l.ensureGroup(ctx, group); err != nil {
		return 0, err
	}
	infos, err := l.client.XInfoGroups(ctx, l.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("reporun/eventlog: group info: %w", err)
	}
	for _, g := range infos {
		if g.Name == group {
			return g.Lag + g.Pending, nil
		}
	}
	return 0, fmt.Errorf("reporun/eventlog: group %s not found", group)
}

// decodeMessage unpacks a stream entry. On a malformed entry the Delivery
// still carries the entry ID so the caller can acknowledge the poison
// message instead of looping on it.
func decodeMessage(msg redis.XMessage) (Delivery, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return Delivery{ID: msg.ID}, fmt.Errorf("reporun/eventlog: entry %s has no data field", msg.ID)
	}
	var env events.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Delivery{ID: msg.ID}, fmt.Errorf("reporun/eventlog: decode entry %s: %w", msg.ID, err)
	}
	return Delivery{ID: msg.ID, Event: env}, nil
}
