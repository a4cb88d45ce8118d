// Package fleet owns the robots and drives them over the navigation graph,
// asking the traffic arbiter before every hop.
//
// RunMovementCycle is the only code path that issues movement requests and
// completions. A cycle runs in three phases:
//
//  1. queued requests whose lane and target vertex have become free are
//     promoted in FIFO order, and stale queue entries are dropped;
//  2. every other active robot requests its next hop, in spawn order;
//  3. approved robots advance one hop and release what they left behind.
//     Robots woken by a release are re-driven straight away.
//
// No robot moves more than one hop per cycle.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet_traffic/internal/logging"
	"fleet_traffic/internal/models"
	"fleet_traffic/internal/navgraph"
	"fleet_traffic/internal/robot"
	"fleet_traffic/internal/traffic"
)

var (
	ErrInvalidVertex      = errors.New("invalid vertex")
	ErrUnknownAgent       = errors.New("unknown agent")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrNoPath             = errors.New("no path")
)

// DefaultTickInterval paces Run between movement cycles.
const DefaultTickInterval = 500 * time.Millisecond

// AgentError attributes a failure inside a movement cycle to one robot.
type AgentError struct {
	AgentID string
	Err     error
}

func (e AgentError) Error() string { return fmt.Sprintf("agent %s: %v", e.AgentID, e.Err) }
func (e AgentError) Unwrap() error { return e.Err }

// CycleReport summarizes one RunMovementCycle.
type CycleReport struct {
	Moved     []string
	Waiting   []string
	Completed []string
	Errors    []AgentError
}

type hop struct {
	agentID string
	from    int
	to      int
}

type Director struct {
	mu      sync.Mutex
	graph   *navgraph.NavGraph
	arbiter *traffic.Arbiter
	robots  map[string]*robot.Robot
	order   []string
	counter int
	// epoch names the current run of the fleet. It changes on every reset
	// and level switch, so robot ids are only unique within an epoch.
	epoch string

	sink   EventSink
	logger logging.Logger

	wake    chan struct{}
	changes chan struct{}
}

type Option func(*Director)

func WithLogger(l logging.Logger) Option {
	return func(d *Director) { d.logger = l }
}

// WithSink sets where audit events go.
func WithSink(s EventSink) Option {
	return func(d *Director) { d.sink = s }
}

func New(graph *navgraph.NavGraph, opts ...Option) *Director {
	d := &Director{
		graph:   graph,
		arbiter: traffic.NewArbiter(graph),
		robots:  make(map[string]*robot.Robot),
		sink:    discardSink{},
		logger:  logging.NoOpLogger{},
		epoch:   uuid.NewString(),
		wake:    make(chan struct{}, 1),
		changes: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Spawn creates an idle robot at vertex and returns its id.
func (d *Director) Spawn(vertex int) (string, error) {
	d.mu.Lock()
	if !d.graph.HasVertex(vertex) {
		d.mu.Unlock()
		return "", fmt.Errorf("%w: cannot spawn at vertex %d", ErrInvalidVertex, vertex)
	}
	d.counter++
	id := fmt.Sprintf("R%d", d.counter)
	d.robots[id] = robot.New(id, vertex)
	d.order = append(d.order, id)
	epoch := d.epoch
	d.mu.Unlock()

	e := newEvent(epoch, id, EventSpawned)
	e.From, e.To = vertex, vertex
	e.StatusAfter = robot.Idle
	d.emit(e)
	return id, nil
}

// AssignTask routes agentID from its current position to destination and
// returns the full path, start included. On any error the robot is left
// as it was.
func (d *Director) AssignTask(agentID string, destination int) ([]int, error) {
	d.mu.Lock()
	r, ok := d.robots[agentID]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	from := r.Position()
	epoch := d.epoch
	reject := func(err error) ([]int, error) {
		d.mu.Unlock()
		e := newEvent(epoch, agentID, EventTaskRejected)
		e.From, e.To = from, destination
		e.Detail = err.Error()
		d.emit(e)
		return nil, err
	}
	if !d.graph.HasVertex(destination) {
		return reject(fmt.Errorf("%w: agent %s: vertex %d", ErrInvalidDestination, agentID, destination))
	}
	path, err := d.graph.ShortestPath(from, destination)
	if err != nil {
		return reject(fmt.Errorf("%w: agent %s from %d to %d", ErrNoPath, agentID, from, destination))
	}

	before := r.Status()
	if err := r.AssignTask(destination, path); err != nil {
		return reject(err)
	}
	d.arbiter.Withdraw(agentID)
	after := r.Status()
	d.mu.Unlock()

	e := newEvent(epoch, agentID, EventTaskAssigned)
	e.From, e.To = from, destination
	e.StatusBefore, e.StatusAfter = before, after
	e.Detail = fmt.Sprintf("path %v", path)
	d.emit(e)
	d.signal(d.wake)
	return path, nil
}

// RunMovementCycle advances every active robot by at most one hop. A
// failure for one robot is reported and does not stop the others.
func (d *Director) RunMovementCycle() CycleReport {
	d.mu.Lock()
	var (
		report    CycleReport
		events    []Event
		scheduled = make(map[string]bool)
		approved  []hop
		epoch     = d.epoch
	)

	rb := d.arbiter.RebalanceQueues(d.positionOf)
	for _, w := range rb.Dropped {
		e := newEvent(epoch, w.AgentID, EventDroppedStale)
		e.From, e.To, e.Lane = w.From, w.To, w.Lane().String()
		events = append(events, e)
	}
	for _, w := range rb.Promoted {
		scheduled[w.AgentID] = true
		approved = append(approved, hop{agentID: w.AgentID, from: w.From, to: w.To})
		e := newEvent(epoch, w.AgentID, EventPromoted)
		e.From, e.To, e.Lane = w.From, w.To, w.Lane().String()
		events = append(events, e)
	}

	for _, id := range d.order {
		r := d.robots[id]
		if scheduled[id] || !r.Status().Active() {
			continue
		}
		if d.arbiter.IsQueued(id) {
			r.Wait()
			report.Waiting = append(report.Waiting, id)
			continue
		}
		h, ok, ev := d.request(id, r, &report)
		events = append(events, ev...)
		if ok {
			scheduled[id] = true
			approved = append(approved, h)
		}
	}

	for i := 0; i < len(approved); i++ {
		h := approved[i]
		r := d.robots[h.agentID]
		if next, ok := r.NextHop(); !ok || r.Position() != h.from || next != h.to {
			d.arbiter.Cancel(h.agentID, h.from, h.to)
			report.Errors = append(report.Errors, AgentError{
				AgentID: h.agentID,
				Err:     fmt.Errorf("approved hop %d->%d no longer matches robot at %d", h.from, h.to, r.Position()),
			})
			continue
		}

		before := r.Status()
		still := r.Advance()
		report.Moved = append(report.Moved, h.agentID)
		e := newEvent(epoch, h.agentID, EventMoved)
		e.From, e.To, e.Lane = h.from, r.Position(), navgraph.Key(h.from, h.to).String()
		e.StatusBefore, e.StatusAfter = before, r.Status()
		e.SpeedLimit, _ = d.graph.SpeedLimit(h.from, h.to)
		events = append(events, e)
		if !still {
			report.Completed = append(report.Completed, h.agentID)
			c := newEvent(epoch, h.agentID, EventTaskComplete)
			c.From, c.To = r.Position(), r.Position()
			c.StatusAfter = r.Status()
			events = append(events, c)
		}

		woken, ok, err := d.arbiter.CompleteMovement(h.agentID, h.from, r.Position())
		if err != nil {
			report.Errors = append(report.Errors, AgentError{AgentID: h.agentID, Err: err})
		}
		if !ok {
			continue
		}
		wr, exists := d.robots[woken]
		if !exists || scheduled[woken] || !wr.Status().Active() {
			continue
		}
		we := newEvent(epoch, woken, EventWoken)
		we.From, we.To, we.Lane = h.from, h.to, navgraph.Key(h.from, h.to).String()
		we.StatusBefore = wr.Status()
		events = append(events, we)

		nh, ok, ev := d.request(woken, wr, &report)
		events = append(events, ev...)
		if ok {
			scheduled[woken] = true
			approved = append(approved, nh)
		}
	}

	for _, ae := range report.Errors {
		e := newEvent(epoch, ae.AgentID, EventCycleError)
		e.Detail = ae.Err.Error()
		events = append(events, e)
	}
	d.mu.Unlock()

	for _, e := range events {
		d.emit(e)
	}
	if len(report.Moved) > 0 || len(report.Errors) > 0 {
		d.signal(d.changes)
	}
	return report
}

// request asks the arbiter for r's next hop. The caller holds d.mu.
func (d *Director) request(id string, r *robot.Robot, report *CycleReport) (hop, bool, []Event) {
	next, ok := r.NextHop()
	if !ok {
		return hop{}, false, nil
	}
	from := r.Position()
	decision, err := d.arbiter.RequestMovement(id, from, next)
	if err != nil {
		report.Errors = append(report.Errors, AgentError{AgentID: id, Err: err})
		return hop{}, false, nil
	}
	if decision == traffic.Approved {
		return hop{agentID: id, from: from, to: next}, true, nil
	}

	before := r.Status()
	r.Wait()
	report.Waiting = append(report.Waiting, id)
	if before == robot.Waiting {
		return hop{}, false, nil
	}
	e := newEvent(d.epoch, id, EventWaiting)
	e.From, e.To, e.Lane = from, next, navgraph.Key(from, next).String()
	e.StatusBefore, e.StatusAfter = before, r.Status()
	return hop{}, false, []Event{e}
}

// positionOf is handed to the arbiter while d.mu is held. Only robots that
// still have somewhere to go count as present.
func (d *Director) positionOf(id string) (int, bool) {
	r, ok := d.robots[id]
	if !ok || !r.Status().Active() {
		return 0, false
	}
	return r.Position(), true
}

// Run drives movement cycles every interval until ctx is cancelled. While
// no robot is active it sleeps until a task is assigned.
func (d *Director) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !d.hasActive() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.wake:
				continue
			}
		}

		report := d.RunMovementCycle()
		for _, ae := range report.Errors {
			d.logger.Warn("movement cycle: %v", ae)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Changes is signalled after any cycle that moved a robot and after every
// spawn, assignment, reset or level switch. It is buffered to one pending
// signal, so a slow reader sees at least the latest change.
func (d *Director) Changes() <-chan struct{} { return d.changes }

// Reset removes every robot and all arbiter state in one step and restarts
// robot numbering.
func (d *Director) Reset() {
	d.mu.Lock()
	d.resetLocked()
	epoch := d.epoch
	d.mu.Unlock()

	e := newEvent(epoch, "", EventReset)
	d.emit(e)
}

func (d *Director) resetLocked() {
	d.robots = make(map[string]*robot.Robot)
	d.order = nil
	d.counter = 0
	d.epoch = uuid.NewString()
	d.arbiter.Reset()
}

// SwitchLevel replaces the graph. Robots and arbiter state are cleared
// together since their vertex ids refer to the old graph.
func (d *Director) SwitchLevel(graph *navgraph.NavGraph) {
	d.mu.Lock()
	d.resetLocked()
	d.graph = graph
	d.arbiter = traffic.NewArbiter(graph)
	epoch := d.epoch
	d.mu.Unlock()

	e := newEvent(epoch, "", EventLevelSwitched)
	e.Detail = graph.Level()
	d.emit(e)
}

// Epoch identifies the current fleet run. Events carry it so that robot ids
// reused after a reset can be told apart.
func (d *Director) Epoch() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.epoch
}

func (d *Director) Graph() *navgraph.NavGraph {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.graph
}

func (d *Director) Snapshot(agentID string) (robot.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.robots[agentID]
	if !ok {
		return robot.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return r.Snapshot(), nil
}

// Snapshots returns every robot in spawn order.
func (d *Director) Snapshots() []robot.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]robot.Snapshot, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.robots[id].Snapshot())
	}
	return out
}

func (d *Director) QueueLengths() map[navgraph.LaneKey]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.arbiter.QueueLengths()
}

func (d *Director) Queues() []models.LaneQueue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.arbiter.Queues()
}

func (d *Director) Occupancy() traffic.Occupancy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.arbiter.Occupancy()
}

func (d *Director) Stats() models.FleetStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := models.FleetStats{Robots: len(d.robots)}
	for _, r := range d.robots {
		switch r.Status() {
		case robot.Idle:
			s.Idle++
		case robot.Moving:
			s.Moving++
		case robot.Waiting:
			s.Waiting++
		case robot.Charging:
			s.Charging++
		case robot.TaskComplete:
			s.TaskComplete++
		}
	}
	return s
}

func (d *Director) hasActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.robots {
		if r.Status().Active() {
			return true
		}
	}
	return false
}

func (d *Director) emit(e Event) {
	d.sink.Emit(e)
	if e.Kind != EventMoved && e.Kind != EventWaiting && e.Kind != EventTaskComplete {
		d.signal(d.changes)
	}
}

func (d *Director) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
