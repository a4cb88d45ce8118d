package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet_traffic/internal/fleet"
	"fleet_traffic/internal/logging"
)

const (
	DefaultEventStream = "fleet:events"
	defaultMaxLen      = 10000
	defaultBuffer      = 1024
	emitTimeout        = 2 * time.Second
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("event repository closed")

// EventRepository appends fleet events to a capped Redis stream. It is a
// fleet.EventSink: Emit only enqueues, and a single writer goroutine
// performs the XADDs, so a slow or unreachable Redis never stalls the
// caller. When the buffer is full new events are dropped and counted.
type EventRepository struct {
	client *redis.Client
	stream string
	maxLen int64
	logger logging.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan pending
	done    chan struct{}
	dropped atomic.Int64
}

// pending is either an event to write or, with ack set, a flush marker.
type pending struct {
	event fleet.Event
	ack   chan struct{}
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen caps the stream; zero means 10000 entries.
	MaxLen int64
	// Buffer is how many events may wait for the writer; zero means 1024.
	Buffer int
}

func NewEventRepository(opts RedisOptions, logger logging.Logger) *EventRepository {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newEventRepository(client, opts, logger)
}

func newEventRepository(client *redis.Client, opts RedisOptions, logger logging.Logger) *EventRepository {
	if opts.Stream == "" {
		opts.Stream = DefaultEventStream
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = defaultMaxLen
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	r := &EventRepository{
		client: client,
		stream: opts.Stream,
		maxLen: opts.MaxLen,
		logger: logger,
		queue:  make(chan pending, opts.Buffer),
		done:   make(chan struct{}),
	}
	go r.write()
	return r
}

func (r *EventRepository) write() {
	defer close(r.done)
	for p := range r.queue {
		if p.ack != nil {
			close(p.ack)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		if err := r.Append(ctx, p.event); err != nil {
			r.logger.Warn("event %s (%s) not recorded: %v", p.event.ID, p.event.Kind, err)
		}
		cancel()
	}
}

func (r *EventRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

// Close stops accepting events, waits for the queued ones to be written
// and closes the client.
func (r *EventRepository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return r.client.Close()
}

// Append writes one event to the stream synchronously.
func (r *EventRepository) Append(ctx context.Context, e fleet.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Values: map[string]any{
			"agent": e.AgentID,
			"epoch": e.Epoch,
			"kind":  string(e.Kind),
			"event": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Emit implements fleet.EventSink. It never blocks.
func (r *EventRepository) Emit(e fleet.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- pending{event: e}:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("event buffer full, dropped event %s (%s), %d dropped so far", e.ID, e.Kind, n)
	}
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (r *EventRepository) Dropped() int64 { return r.dropped.Load() }

// Flush waits until every event emitted before the call has been handed to
// Redis, or ctx ends.
func (r *EventRepository) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	select {
	case r.queue <- pending{ack: ack}:
		r.mu.RUnlock()
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns up to count of the most recent events, oldest first.
// A non-empty epoch or agentID limits the result to that fleet epoch or
// agent.
func (r *EventRepository) History(ctx context.Context, epoch, agentID string, count int64) ([]fleet.Event, error) {
	if count <= 0 {
		count = 100
	}
	// Filtering happens client side, so read further back when filtering.
	scan := count
	if agentID != "" || epoch != "" {
		scan = r.maxLen
	}
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", scan).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	var out []fleet.Event
	for _, msg := range msgs {
		if int64(len(out)) == count {
			break
		}
		if agentID != "" && msg.Values["agent"] != agentID {
			continue
		}
		if epoch != "" && msg.Values["epoch"] != epoch {
			continue
		}
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var e fleet.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", msg.ID, err)
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
