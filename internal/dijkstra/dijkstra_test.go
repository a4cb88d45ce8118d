package dijkstra

import (
	"container/heap"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func undirected(lanes ...[3]float64) Graph {
	g := Graph{}
	for _, l := range lanes {
		a, b := int(l[0]), int(l[1])
		g[a] = append(g[a], Edge{To: b, SpeedLimit: l[2]})
		g[b] = append(g[b], Edge{To: a, SpeedLimit: l[2]})
	}
	return g
}

func TestDijkstraHopCountIgnoresSpeed(t *testing.T) {
	// 0-1-3 is two hops of slow lanes, 0-2-4-3 is three hops of fast lanes.
	g := undirected(
		[3]float64{0, 1, 0.1},
		[3]float64{1, 3, 0.1},
		[3]float64{0, 2, 10},
		[3]float64{2, 4, 10},
		[3]float64{4, 3, 10},
	)

	dist, prev := Dijkstra(g, 0, 3, HopCount)
	path, cost, err := Travel(dist, prev, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, path)
	assert.Equal(t, 2.0, cost)

	dist, prev = Dijkstra(g, 0, 3, SpeedWeighted)
	path, _, err = Travel(dist, prev, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4, 3}, path)
}

func TestDijkstraTieBreaksByVertexID(t *testing.T) {
	// Two equal routes 0-1-3 and 0-2-3, in both lane orders.
	graphs := []Graph{
		undirected(
			[3]float64{0, 1, 1},
			[3]float64{0, 2, 1},
			[3]float64{1, 3, 1},
			[3]float64{2, 3, 1},
		),
		undirected(
			[3]float64{0, 2, 1},
			[3]float64{0, 1, 1},
			[3]float64{1, 3, 1},
			[3]float64{2, 3, 1},
		),
	}
	for _, g := range graphs {
		for i := 0; i < 20; i++ {
			dist, prev := Dijkstra(g, 0, 3, nil)
			path, _, err := Travel(dist, prev, 0, 3)
			require.NoError(t, err)
			assert.Equal(t, []int{0, 1, 3}, path)
		}
	}
}

func TestTravelUnreachable(t *testing.T) {
	g := undirected([3]float64{0, 1, 1}, [3]float64{2, 3, 1})
	dist, prev := Dijkstra(g, 0, 3, HopCount)
	path, _, err := Travel(dist, prev, 0, 3)
	assert.Nil(t, path)
	assert.True(t, errors.Is(err, ErrUnreachable))
}

func TestTravelToSelf(t *testing.T) {
	g := undirected([3]float64{0, 1, 1})
	dist, prev := Dijkstra(g, 1, 1, HopCount)
	path, cost, err := Travel(dist, prev, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, path)
	assert.Zero(t, cost)
}

func TestFindInaccessibleNodes(t *testing.T) {
	g := undirected([3]float64{0, 1, 1}, [3]float64{1, 2, 1}, [3]float64{5, 6, 1})
	g[9] = nil

	accessible, inaccessible := FindInaccessibleNodes(g, 1)
	assert.Equal(t, []int{0, 1, 2}, accessible)
	assert.Equal(t, []int{5, 6, 9}, inaccessible)

	accessible, inaccessible = FindInaccessibleNodes(g, 42)
	assert.Empty(t, accessible)
	assert.Len(t, inaccessible, 6)
}

func TestPriorityQueueOrdering(t *testing.T) {
	pq := &PriorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &Item{Vertex: 1, Cost: 2, seq: 0})
	heap.Push(pq, &Item{Vertex: 2, Cost: 1, seq: 1})
	heap.Push(pq, &Item{Vertex: 3, Cost: 1, seq: 2})
	heap.Push(pq, &Item{Vertex: 4, Cost: 0, seq: 3})
	heap.Push(pq, &Item{Vertex: 0, Cost: 1, seq: 4})

	var got []int
	for pq.Len() > 0 {
		got = append(got, heap.Pop(pq).(*Item).Vertex)
	}
	assert.Equal(t, []int{4, 0, 2, 3, 1}, got)
}
