package fleet

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet_traffic/internal/logging"
	"fleet_traffic/internal/robot"
)

type EventKind string

const (
	EventSpawned       EventKind = "spawned"
	EventTaskAssigned  EventKind = "task_assigned"
	EventTaskRejected  EventKind = "task_rejected"
	EventMoved         EventKind = "moved"
	EventWaiting       EventKind = "waiting"
	EventWoken         EventKind = "woken"
	EventPromoted      EventKind = "promoted"
	EventDroppedStale  EventKind = "dropped_stale"
	EventTaskComplete  EventKind = "task_complete"
	EventCycleError    EventKind = "cycle_error"
	EventReset         EventKind = "reset"
	EventLevelSwitched EventKind = "level_switched"
)

// Event is one entry of the per-agent audit trail. Fleet-wide events
// (reset, level switch) have an empty AgentID. Epoch is the fleet run the
// event belongs to; a reset or level switch starts a new one and the event
// announcing it already carries the new epoch.
type Event struct {
	ID           string       `json:"id"`
	Epoch        string       `json:"epoch"`
	Time         time.Time    `json:"time"`
	AgentID      string       `json:"agent_id,omitempty"`
	Kind         EventKind    `json:"kind"`
	From         int          `json:"from"`
	To           int          `json:"to"`
	Lane         string       `json:"lane,omitempty"`
	StatusBefore robot.Status `json:"status_before,omitempty"`
	StatusAfter  robot.Status `json:"status_after,omitempty"`
	SpeedLimit   float64      `json:"speed_limit,omitempty"`
	Detail       string       `json:"detail,omitempty"`
}

func newEvent(epoch, agentID string, kind EventKind) Event {
	return Event{
		ID:      uuid.NewString(),
		Epoch:   epoch,
		Time:    time.Now(),
		AgentID: agentID,
		Kind:    kind,
	}
}

// EventSink receives events after the director has released its lock.
type EventSink interface {
	Emit(Event)
}

// LogSink writes every event through the process logger.
type LogSink struct {
	Logger logging.Logger
}

func (s LogSink) Emit(e Event) {
	switch e.Kind {
	case EventCycleError, EventTaskRejected, EventDroppedStale:
		s.Logger.Warn("[%s] %s %d->%d %s", e.AgentID, e.Kind, e.From, e.To, e.Detail)
	case EventReset, EventLevelSwitched:
		s.Logger.Info("fleet %s %s", e.Kind, e.Detail)
	case EventMoved:
		s.Logger.Info("[%s] moved %d->%d (speed limit %v)", e.AgentID, e.From, e.To, e.SpeedLimit)
	default:
		s.Logger.Info("[%s] %s %d->%d %s -> %s", e.AgentID, e.Kind, e.From, e.To, e.StatusBefore, e.StatusAfter)
	}
}

// MemorySink keeps the most recent events in a bounded ring.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemorySink{events: make([]Event, capacity)}
}

func (s *MemorySink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[s.next] = e
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
}

// Events returns the retained events, oldest first.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		return append([]Event(nil), s.events[:s.next]...)
	}
	out := make([]Event, 0, len(s.events))
	out = append(out, s.events[s.next:]...)
	return append(out, s.events[:s.next]...)
}

// Select returns the retained events matching epoch and agentID, oldest
// first. An empty argument matches everything.
func (s *MemorySink) Select(epoch, agentID string) []Event {
	var out []Event
	for _, e := range s.Events() {
		if (epoch == "" || e.Epoch == epoch) && (agentID == "" || e.AgentID == agentID) {
			out = append(out, e)
		}
	}
	return out
}

// MultiSink fans out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
