// Package robot is the per-agent state machine: where an agent is, where it
// is going, and the hops it still has to make.
//
// A Robot is not safe for concurrent use. The fleet director owns every
// robot and only touches it while holding its own lock.
package robot

import (
	"errors"
	"fmt"
)

// ErrInvalidTask is returned when a task's path is empty or does not end at
// its destination.
var ErrInvalidTask = errors.New("invalid task")

type Status string

const (
	Idle         Status = "idle"
	Moving       Status = "moving"
	Waiting      Status = "waiting"
	Charging     Status = "charging" // reserved for a battery subsystem; nothing here sets it
	TaskComplete Status = "task_complete"
)

// Active reports whether a robot in this status still has hops to drive.
func (s Status) Active() bool { return s == Moving || s == Waiting }

type Robot struct {
	id          string
	position    int
	destination int
	hasDest     bool
	path        []int
	status      Status
}

func New(id string, position int) *Robot {
	return &Robot{id: id, position: position, status: Idle}
}

func (r *Robot) ID() string     { return r.id }
func (r *Robot) Position() int  { return r.position }
func (r *Robot) Status() Status { return r.status }
func (r *Robot) PathLen() int   { return len(r.path) }

// NextHop is the vertex the robot wants to move to next.
func (r *Robot) NextHop() (int, bool) {
	if len(r.path) == 0 {
		return 0, false
	}
	return r.path[0], true
}

// AssignTask replaces any current task. path is the full route as returned
// by the navigation graph, so a leading entry equal to the current position
// is dropped. A route that is already finished completes immediately.
func (r *Robot) AssignTask(destination int, path []int) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: robot %s: empty path to %d", ErrInvalidTask, r.id, destination)
	}
	if path[len(path)-1] != destination {
		return fmt.Errorf("%w: robot %s: path %v does not end at %d", ErrInvalidTask, r.id, path, destination)
	}

	remaining := path
	if remaining[0] == r.position {
		remaining = remaining[1:]
	}
	r.path = append([]int(nil), remaining...)
	r.destination = destination
	r.hasDest = true
	if len(r.path) == 0 {
		r.status = TaskComplete
	} else {
		r.status = Moving
	}
	return nil
}

// Advance moves the robot onto the next vertex of its path. It does not
// consult anyone: callers must hold an approval for the hop. It returns
// false once the path is exhausted.
func (r *Robot) Advance() bool {
	if len(r.path) == 0 {
		r.status = TaskComplete
		return false
	}
	r.position = r.path[0]
	r.path = r.path[1:]
	if len(r.path) == 0 {
		r.status = TaskComplete
		return false
	}
	r.status = Moving
	return true
}

// Wait marks the robot as blocked. Calling it again changes nothing.
func (r *Robot) Wait() {
	if r.status != Waiting {
		r.status = Waiting
	}
}

// Snapshot is a read-only copy of a robot's state.
type Snapshot struct {
	ID          string `json:"id"`
	Position    int    `json:"position"`
	Status      Status `json:"status"`
	Destination *int   `json:"destination"`
	Path        []int  `json:"path"`
}

func (r *Robot) Snapshot() Snapshot {
	s := Snapshot{
		ID:       r.id,
		Position: r.position,
		Status:   r.status,
		Path:     append([]int{}, r.path...),
	}
	if r.hasDest {
		d := r.destination
		s.Destination = &d
	}
	return s
}
