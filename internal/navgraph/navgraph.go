// Package navgraph holds the navigation graph: vertices, undirected lanes
// with speed limits, and shortest-path queries over them.
//
// A NavGraph is immutable once built, so it may be shared between
// goroutines without locking. Switching levels means building a new one.
package navgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"fleet_traffic/internal/dijkstra"
	"fleet_traffic/internal/models"
)

type NavGraph struct {
	level    string
	vertices []Vertex
	adj      dijkstra.Graph
	speeds   map[LaneKey]float64
	order    []LaneKey
}

// Load builds a graph from vertices and lanes. Vertex ids are assigned by
// position. Lanes are added in both directions.
func Load(vertices []Vertex, lanes []Lane) (*NavGraph, error) {
	g := &NavGraph{
		vertices: make([]Vertex, len(vertices)),
		adj:      make(dijkstra.Graph, len(vertices)),
		speeds:   make(map[LaneKey]float64, len(lanes)),
	}
	for i, v := range vertices {
		v.ID = i
		g.vertices[i] = v
		g.adj[i] = nil
	}

	for i, lane := range lanes {
		if !g.HasVertex(lane.Start) || !g.HasVertex(lane.End) {
			return nil, fmt.Errorf("%w: lane %d (%d-%d) references an unknown vertex", ErrConfig, i, lane.Start, lane.End)
		}
		if lane.Start == lane.End {
			return nil, fmt.Errorf("%w: lane %d connects vertex %d to itself", ErrConfig, i, lane.Start)
		}
		speed := lane.SpeedLimit
		if speed == 0 {
			speed = 1
		}
		if speed < 0 {
			return nil, fmt.Errorf("%w: lane %d (%d-%d) has non-positive speed limit %v", ErrConfig, i, lane.Start, lane.End, lane.SpeedLimit)
		}
		key := lane.Key()
		if _, dup := g.speeds[key]; dup {
			continue
		}
		g.speeds[key] = speed
		g.order = append(g.order, key)
		g.adj[lane.Start] = append(g.adj[lane.Start], dijkstra.Edge{To: lane.End, SpeedLimit: speed})
		g.adj[lane.End] = append(g.adj[lane.End], dijkstra.Edge{To: lane.Start, SpeedLimit: speed})
	}
	return g, nil
}

// LoadLevel builds the graph for the named level of file.
func LoadLevel(file models.LevelFile, name string) (*NavGraph, error) {
	level, ok := file.Levels[name]
	if !ok {
		available := make([]string, 0, len(file.Levels))
		for n := range file.Levels {
			available = append(available, n)
		}
		sort.Strings(available)
		return nil, fmt.Errorf("%w: level %q not found, available levels: [%s]", ErrConfig, name, strings.Join(available, ", "))
	}
	g, err := FromLevel(level)
	if err != nil {
		return nil, fmt.Errorf("level %q: %w", name, err)
	}
	g.level = name
	return g, nil
}

// FromLevel converts the load contract into a graph.
func FromLevel(level models.Level) (*NavGraph, error) {
	vertices := make([]Vertex, len(level.Vertices))
	for i, v := range level.Vertices {
		vertices[i] = Vertex{X: v.X, Y: v.Y, Name: v.Properties.Name, IsCharger: v.Properties.IsCharger}
	}
	lanes := make([]Lane, len(level.Lanes))
	for i, l := range level.Lanes {
		speed := l.Properties.Speed()
		if speed <= 0 {
			return nil, fmt.Errorf("%w: lane %d (%d-%d) has non-positive speed limit %v", ErrConfig, i, l.Start, l.End, speed)
		}
		lanes[i] = Lane{Start: l.Start, End: l.End, SpeedLimit: speed}
	}
	return Load(vertices, lanes)
}

// ParseLevelFile reads and decodes a JSON level file.
func ParseLevelFile(path string) (models.LevelFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.LevelFile{}, fmt.Errorf("%w: reading level file: %v", ErrConfig, err)
	}
	var file models.LevelFile
	if err := json.Unmarshal(data, &file); err != nil {
		return models.LevelFile{}, fmt.Errorf("%w: parsing level file %s: %v", ErrConfig, path, err)
	}
	return file, nil
}

// ReadLevelFile parses a JSON level file and loads one level from it.
func ReadLevelFile(path, name string) (*NavGraph, error) {
	file, err := ParseLevelFile(path)
	if err != nil {
		return nil, err
	}
	return LoadLevel(file, name)
}

// Level is the name of the level this graph was loaded from, if any.
func (g *NavGraph) Level() string { return g.level }

func (g *NavGraph) HasVertex(id int) bool { return id >= 0 && id < len(g.vertices) }

func (g *NavGraph) Vertex(id int) (Vertex, bool) {
	if !g.HasVertex(id) {
		return Vertex{}, false
	}
	return g.vertices[id], true
}

// Vertices returns a copy of all vertices ordered by id.
func (g *NavGraph) Vertices() []Vertex {
	out := make([]Vertex, len(g.vertices))
	copy(out, g.vertices)
	return out
}

// Lanes returns one directed record per adjacency entry, so every lane
// appears twice. Use LaneKeys for one entry per lane.
func (g *NavGraph) Lanes() []Lane {
	var out []Lane
	for _, v := range g.vertices {
		for _, e := range g.adj[v.ID] {
			out = append(out, Lane{Start: v.ID, End: e.To, SpeedLimit: e.SpeedLimit})
		}
	}
	return out
}

// LaneKeys returns every lane once, in load order.
func (g *NavGraph) LaneKeys() []LaneKey {
	out := make([]LaneKey, len(g.order))
	copy(out, g.order)
	return out
}

// SpeedLimit looks up the lane between a and b in either direction.
func (g *NavGraph) SpeedLimit(a, b int) (float64, bool) {
	s, ok := g.speeds[Key(a, b)]
	return s, ok
}

// Adjacent reports whether a lane connects a and b.
func (g *NavGraph) Adjacent(a, b int) bool {
	_, ok := g.speeds[Key(a, b)]
	return ok
}

// ShortestPath returns the minimum-hop path from start to destination,
// including both. Speed limits do not influence the result; ties go to
// the route discovered first.
func (g *NavGraph) ShortestPath(start, destination int) ([]int, error) {
	return g.ShortestPathWeighted(start, destination, dijkstra.HopCount)
}

// ShortestPathWeighted is ShortestPath with a caller-chosen edge cost, for
// example dijkstra.SpeedWeighted.
func (g *NavGraph) ShortestPathWeighted(start, destination int, weight dijkstra.WeightFunc) ([]int, error) {
	if !g.HasVertex(start) {
		return nil, fmt.Errorf("start %d: %w", start, ErrUnknownVertex)
	}
	if !g.HasVertex(destination) {
		return nil, fmt.Errorf("destination %d: %w", destination, ErrUnknownVertex)
	}
	distances, previous := dijkstra.Dijkstra(g.adj, start, destination, weight)
	path, _, err := dijkstra.Travel(distances, previous, start, destination)
	if err != nil {
		return nil, fmt.Errorf("%w: from %d to %d", ErrNotFound, start, destination)
	}
	return path, nil
}

// Reachable splits vertex ids into those reachable from start and the rest.
func (g *NavGraph) Reachable(start int) ([]int, []int) {
	return dijkstra.FindInaccessibleNodes(g.adj, start)
}

// GraphData renders the graph for the UI, one lane record per lane.
func (g *NavGraph) GraphData() models.GraphData {
	data := models.GraphData{
		Level:    g.level,
		Vertices: make([]models.VertexView, 0, len(g.vertices)),
		Lanes:    make([]models.LaneView, 0, len(g.order)),
	}
	for _, v := range g.vertices {
		data.Vertices = append(data.Vertices, models.VertexView{
			ID: v.ID, X: v.X, Y: v.Y, Name: v.Name, IsCharger: v.IsCharger,
		})
	}
	for _, k := range g.order {
		data.Lanes = append(data.Lanes, models.LaneView{Start: k.A, End: k.B, SpeedLimit: g.speeds[k]})
	}
	return data
}
