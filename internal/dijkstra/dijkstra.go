package dijkstra

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrUnreachable is returned by Travel when the goal was never settled.
var ErrUnreachable = errors.New("destination not reachable")

// Edge is one directed half of a lane.
type Edge struct {
	To         int
	SpeedLimit float64
}

// Graph maps a vertex to its outgoing edges, in load order.
type Graph map[int][]Edge

// WeightFunc assigns a traversal cost to an edge.
type WeightFunc func(Edge) float64

// HopCount charges every edge 1 regardless of its speed limit.
func HopCount(Edge) float64 { return 1 }

// SpeedWeighted charges 1/speed_limit, so faster lanes are cheaper.
func SpeedWeighted(e Edge) float64 {
	if e.SpeedLimit <= 0 {
		return math.Inf(1)
	}
	return 1 / e.SpeedLimit
}

// Item is a queue entry. Entries with equal cost pop by vertex id, then in
// insertion order.
type Item struct {
	Vertex int
	From   int
	Cost   float64
	seq    uint64
	Index  int
}

// PriorityQueue implements heap.Interface keyed by (Cost, Vertex, insertion
// sequence).
type PriorityQueue []*Item

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].Cost != pq[j].Cost {
		return pq[i].Cost < pq[j].Cost
	}
	if pq[i].Vertex != pq[j].Vertex {
		return pq[i].Vertex < pq[j].Vertex
	}
	return pq[i].seq < pq[j].seq
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*Item)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[0 : n-1]
	return item
}

// Dijkstra settles vertices from start until goal is settled or the queue
// drains. Vertices of equal cost settle lowest id first and a vertex's
// predecessor is fixed when it is first popped, so on cost ties the route
// through lower-numbered vertices wins. The returned maps only hold
// settled vertices; start maps to itself in previous.
func Dijkstra(graph Graph, start, goal int, weight WeightFunc) (map[int]float64, map[int]int) {
	if weight == nil {
		weight = HopCount
	}
	distances := make(map[int]float64)
	previous := make(map[int]int)

	var seq uint64
	pq := make(PriorityQueue, 0)
	heap.Init(&pq)
	heap.Push(&pq, &Item{Vertex: start, From: start, Cost: 0, seq: seq})

	for pq.Len() > 0 {
		current := heap.Pop(&pq).(*Item)
		u := current.Vertex
		if _, settled := distances[u]; settled {
			continue
		}
		distances[u] = current.Cost
		previous[u] = current.From

		if u == goal {
			break
		}

		for _, edge := range graph[u] {
			if _, settled := distances[edge.To]; settled {
				continue
			}
			seq++
			heap.Push(&pq, &Item{
				Vertex: edge.To,
				From:   u,
				Cost:   current.Cost + weight(edge),
				seq:    seq,
			})
		}
	}
	return distances, previous
}

// Travel rebuilds the start..end path from a predecessor map produced by
// Dijkstra. The path includes both endpoints.
func Travel(distances map[int]float64, previous map[int]int, start, end int) ([]int, float64, error) {
	cost, ok := distances[end]
	if !ok || math.IsInf(cost, 1) {
		return nil, 0, fmt.Errorf("vertex %d from %d: %w", end, start, ErrUnreachable)
	}

	path := []int{end}
	current := end
	for current != start {
		predecessor, exists := previous[current]
		if !exists || predecessor == current {
			return nil, 0, fmt.Errorf("could not reconstruct path to %d (predecessor missing for %d)", end, current)
		}
		if len(path) > len(previous) {
			return nil, 0, fmt.Errorf("path reconstruction loop detected from %d to %d", start, end)
		}
		path = append(path, predecessor)
		current = predecessor
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, cost, nil
}

// FindInaccessibleNodes splits the vertices of graph into those reachable
// from startNode and those that are not. Both slices are sorted.
func FindInaccessibleNodes(graph Graph, startNode int) ([]int, []int) {
	if len(graph) == 0 {
		return []int{}, []int{}
	}

	visited := make(map[int]bool)
	if _, ok := graph[startNode]; ok {
		visited[startNode] = true
		queue := []int{startNode}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for _, neighbor := range graph[current] {
				if !visited[neighbor.To] {
					visited[neighbor.To] = true
					queue = append(queue, neighbor.To)
				}
			}
		}
	}

	accessible := []int{}
	inaccessible := []int{}
	for node := range graph {
		if visited[node] {
			accessible = append(accessible, node)
		} else {
			inaccessible = append(inaccessible, node)
		}
	}
	sort.Ints(accessible)
	sort.Ints(inaccessible)
	return accessible, inaccessible
}
