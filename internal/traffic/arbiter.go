// Package traffic arbitrates exclusive use of lanes and vertices between
// agents moving over a shared navigation graph.
//
// All occupancy and queue state sits behind one mutex; every check-and-
// reserve happens inside a single critical section. Contested lanes are
// served strictly first come, first served.
package traffic

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"fleet_traffic/internal/models"
	"fleet_traffic/internal/navgraph"
)

var (
	// ErrInvalidRequest is returned when the two vertices of a request are
	// not joined by a lane.
	ErrInvalidRequest = errors.New("invalid movement request")

	// ErrNotHeld is returned by CompleteMovement when the agent does not
	// hold the lane it claims to have traversed.
	ErrNotHeld = errors.New("lane not held by agent")
)

// Decision is the outcome of RequestMovement.
type Decision int

const (
	Approved Decision = iota
	Queued
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case Queued:
		return "queued"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Topology is the part of the navigation graph the arbiter needs.
type Topology interface {
	Adjacent(a, b int) bool
}

// Waiter is a queued movement request.
type Waiter struct {
	AgentID string
	From    int
	To      int
}

// Lane returns the canonical key of the lane the waiter wants.
func (w Waiter) Lane() navgraph.LaneKey { return navgraph.Key(w.From, w.To) }

// RebalanceReport lists what a RebalanceQueues pass changed.
type RebalanceReport struct {
	Promoted []Waiter
	Dropped  []Waiter
}

// Occupancy is a point-in-time copy of who holds what.
type Occupancy struct {
	Lanes    map[navgraph.LaneKey]string
	Vertices map[int]string
}

type Arbiter struct {
	topo Topology

	mu       sync.Mutex
	lanes    map[navgraph.LaneKey]string
	vertices map[int]string
	queues   map[navgraph.LaneKey][]Waiter
	queuedOn map[string]navgraph.LaneKey
	// woken holds agents popped off a queue by CompleteMovement that have
	// not retried yet. Their retry keeps their place at the head.
	woken map[string]navgraph.LaneKey
}

func NewArbiter(topo Topology) *Arbiter {
	a := &Arbiter{topo: topo}
	a.clear()
	return a
}

func (a *Arbiter) clear() {
	a.lanes = make(map[navgraph.LaneKey]string)
	a.vertices = make(map[int]string)
	a.queues = make(map[navgraph.LaneKey][]Waiter)
	a.queuedOn = make(map[string]navgraph.LaneKey)
	a.woken = make(map[string]navgraph.LaneKey)
}

// RequestMovement asks for the lane from->to and the vertex to. On approval
// both are reserved for agentID. Otherwise the agent joins the lane's FIFO
// queue, once; repeated requests while queued do not move it back.
func (a *Arbiter) RequestMovement(agentID string, from, to int) (Decision, error) {
	if from == to || !a.topo.Adjacent(from, to) {
		return Queued, fmt.Errorf("%w: agent %s: no lane between %d and %d", ErrInvalidRequest, agentID, from, to)
	}
	key := navgraph.Key(from, to)
	w := Waiter{AgentID: agentID, From: from, To: to}

	a.mu.Lock()
	defer a.mu.Unlock()

	if wokenKey, ok := a.woken[agentID]; ok {
		delete(a.woken, agentID)
		if wokenKey == key {
			if a.freeFor(agentID, key, to) {
				a.reserve(agentID, key, to)
				return Approved, nil
			}
			a.queues[key] = append([]Waiter{w}, a.queues[key]...)
			a.queuedOn[agentID] = key
			return Queued, nil
		}
	}

	if queuedKey, ok := a.queuedOn[agentID]; ok {
		if queuedKey == key && a.indexOf(key, w) >= 0 {
			if a.indexOf(key, w) == 0 && a.freeFor(agentID, key, to) {
				a.popHead(key)
				a.reserve(agentID, key, to)
				return Approved, nil
			}
			return Queued, nil
		}
		a.remove(agentID)
	}

	if len(a.queues[key]) > 0 || !a.freeFor(agentID, key, to) {
		a.queues[key] = append(a.queues[key], w)
		a.queuedOn[agentID] = key
		return Queued, nil
	}
	a.reserve(agentID, key, to)
	return Approved, nil
}

// CompleteMovement releases the lane old->new and the vertex old after
// agentID has moved. The vertex new stays held by the agent until it
// leaves it. If another agent was queued on the lane, the head of that
// queue is removed and returned; the caller must re-drive it.
func (a *Arbiter) CompleteMovement(agentID string, oldVertex, newVertex int) (string, bool, error) {
	key := navgraph.Key(oldVertex, newVertex)

	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	if holder, ok := a.lanes[key]; ok && holder == agentID {
		delete(a.lanes, key)
	} else {
		err = fmt.Errorf("%w: agent %s lane %s", ErrNotHeld, agentID, key)
	}
	if a.vertices[oldVertex] == agentID {
		delete(a.vertices, oldVertex)
	}

	head, ok := a.popHead(key)
	if !ok {
		return "", false, err
	}
	a.woken[head.AgentID] = key
	return head.AgentID, true, err
}

// RebalanceQueues promotes queue heads whose lane and target vertex are
// free, reserving on their behalf. position reports where an agent
// currently is; heads whose agent is gone or no longer at the lane origin
// are dropped instead of promoted.
func (a *Arbiter) RebalanceQueues(position func(agentID string) (int, bool)) RebalanceReport {
	var report RebalanceReport

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, key := range a.sortedQueueKeys() {
		for len(a.queues[key]) > 0 {
			head := a.queues[key][0]
			if pos, ok := position(head.AgentID); !ok || pos != head.From {
				a.popHead(key)
				report.Dropped = append(report.Dropped, head)
				continue
			}
			if !a.freeFor(head.AgentID, key, head.To) {
				break
			}
			a.popHead(key)
			a.reserve(head.AgentID, key, head.To)
			report.Promoted = append(report.Promoted, head)
			break
		}
	}
	return report
}

// Cancel gives back an approved hop that will not be taken: the lane and
// the target vertex are released if agentID holds them, and the lane's
// queue head is woken as in CompleteMovement.
func (a *Arbiter) Cancel(agentID string, from, to int) (string, bool) {
	key := navgraph.Key(from, to)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lanes[key] == agentID {
		delete(a.lanes, key)
	}
	if a.vertices[to] == agentID {
		delete(a.vertices, to)
	}
	head, ok := a.popHead(key)
	if !ok {
		return "", false
	}
	a.woken[head.AgentID] = key
	return head.AgentID, true
}

// Withdraw removes any queue entry or pending wake-up for agentID. Vertex
// and lane reservations are untouched.
func (a *Arbiter) Withdraw(agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remove(agentID)
	delete(a.woken, agentID)
}

// IsQueued reports whether agentID is waiting in some lane queue.
func (a *Arbiter) IsQueued(agentID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.queuedOn[agentID]
	return ok
}

// QueueLengths returns the number of waiting agents per contested lane.
func (a *Arbiter) QueueLengths() map[navgraph.LaneKey]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[navgraph.LaneKey]int, len(a.queues))
	for k, q := range a.queues {
		if len(q) > 0 {
			out[k] = len(q)
		}
	}
	return out
}

// Queues returns the waiting agents per contested lane, ordered by lane.
func (a *Arbiter) Queues() []models.LaneQueue {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.LaneQueue
	for _, k := range a.sortedQueueKeys() {
		q := a.queues[k]
		ids := make([]string, len(q))
		for i, w := range q {
			ids[i] = w.AgentID
		}
		out = append(out, models.LaneQueue{Start: k.A, End: k.B, Waiting: ids})
	}
	return out
}

func (a *Arbiter) Occupancy() Occupancy {
	a.mu.Lock()
	defer a.mu.Unlock()
	occ := Occupancy{
		Lanes:    make(map[navgraph.LaneKey]string, len(a.lanes)),
		Vertices: make(map[int]string, len(a.vertices)),
	}
	for k, v := range a.lanes {
		occ.Lanes[k] = v
	}
	for k, v := range a.vertices {
		occ.Vertices[k] = v
	}
	return occ
}

// Reset drops all reservations, queues and pending wake-ups.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clear()
}

func (a *Arbiter) freeFor(agentID string, key navgraph.LaneKey, to int) bool {
	if _, held := a.lanes[key]; held {
		return false
	}
	holder, held := a.vertices[to]
	return !held || holder == agentID
}

func (a *Arbiter) reserve(agentID string, key navgraph.LaneKey, to int) {
	a.lanes[key] = agentID
	a.vertices[to] = agentID
}

func (a *Arbiter) popHead(key navgraph.LaneKey) (Waiter, bool) {
	q := a.queues[key]
	if len(q) == 0 {
		return Waiter{}, false
	}
	head := q[0]
	if len(q) == 1 {
		delete(a.queues, key)
	} else {
		a.queues[key] = q[1:]
	}
	delete(a.queuedOn, head.AgentID)
	return head, true
}

func (a *Arbiter) indexOf(key navgraph.LaneKey, w Waiter) int {
	for i, q := range a.queues[key] {
		if q == w {
			return i
		}
	}
	return -1
}

func (a *Arbiter) remove(agentID string) {
	key, ok := a.queuedOn[agentID]
	if !ok {
		return
	}
	delete(a.queuedOn, agentID)
	q := a.queues[key]
	kept := q[:0]
	for _, w := range q {
		if w.AgentID != agentID {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		delete(a.queues, key)
	} else {
		a.queues[key] = kept
	}
}

func (a *Arbiter) sortedQueueKeys() []navgraph.LaneKey {
	keys := make([]navgraph.LaneKey, 0, len(a.queues))
	for k := range a.queues {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
	return keys
}
