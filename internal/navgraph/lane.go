package navgraph

import "fmt"

// LaneKey is the order-independent identity of a lane: A <= B always.
type LaneKey struct {
	A int
	B int
}

// Key canonicalizes the lane between a and b.
func Key(a, b int) LaneKey {
	if a > b {
		a, b = b, a
	}
	return LaneKey{A: a, B: b}
}

func (k LaneKey) String() string { return fmt.Sprintf("(%d,%d)", k.A, k.B) }

// Vertex is a location. X and Y are layout only and never used for routing.
type Vertex struct {
	ID        int
	X, Y      float64
	Name      string
	IsCharger bool
}

// Lane is one directed record of an undirected lane. A zero SpeedLimit
// means 1.
type Lane struct {
	Start      int
	End        int
	SpeedLimit float64
}

// Key returns the canonical key of the lane.
func (l Lane) Key() LaneKey { return Key(l.Start, l.End) }
