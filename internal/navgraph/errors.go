package navgraph

import "errors"

var (
	// ErrConfig marks malformed or missing level data. It is fatal at load.
	ErrConfig = errors.New("config error")

	// ErrNotFound is returned by ShortestPath when the destination is
	// unreachable from the start.
	ErrNotFound = errors.New("no path found")

	// ErrUnknownVertex is returned when a vertex id is not part of the graph.
	ErrUnknownVertex = errors.New("unknown vertex")
)
