package navgraph

import (
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet_traffic/internal/dijkstra"
	"fleet_traffic/internal/models"
)

const levelJSON = `{
  "levels": {
    "l0": {
      "vertices": [
        [0, 0, {"name": "dock"}],
        [1, 0],
        {"x": 2, "y": 0, "properties": {"name": "charger", "is_charger": true}},
        [3, 0]
      ],
      "lanes": [
        [0, 1],
        [1, 2, {"speed_limit": 2}],
        {"start": 2, "end": 3, "properties": {"speed_limit": 0.5}}
      ]
    },
    "l1": {"vertices": [[0, 0], [1, 1]], "lanes": [[0, 5]]}
  }
}`

func line(t *testing.T, n int) *NavGraph {
	t.Helper()
	vertices := make([]Vertex, n)
	var lanes []Lane
	for i := 0; i+1 < n; i++ {
		lanes = append(lanes, Lane{Start: i, End: i + 1, SpeedLimit: 1})
	}
	g, err := Load(vertices, lanes)
	require.NoError(t, err)
	return g
}

func parse(t *testing.T) models.LevelFile {
	t.Helper()
	var file models.LevelFile
	require.NoError(t, json.Unmarshal([]byte(levelJSON), &file))
	return file
}

func TestLoadLevelMixedFormats(t *testing.T) {
	g, err := LoadLevel(parse(t), "l0")
	require.NoError(t, err)

	assert.Equal(t, "l0", g.Level())
	require.Len(t, g.Vertices(), 4)

	v, ok := g.Vertex(2)
	require.True(t, ok)
	assert.Equal(t, "charger", v.Name)
	assert.True(t, v.IsCharger)
	assert.Equal(t, 2.0, v.X)

	dock, _ := g.Vertex(0)
	assert.Equal(t, "dock", dock.Name)
	assert.False(t, dock.IsCharger)

	s, ok := g.SpeedLimit(0, 1)
	assert.True(t, ok)
	assert.Equal(t, 1.0, s)
	s, _ = g.SpeedLimit(2, 1)
	assert.Equal(t, 2.0, s)
	s, _ = g.SpeedLimit(3, 2)
	assert.Equal(t, 0.5, s)

	_, ok = g.SpeedLimit(0, 3)
	assert.False(t, ok)
}

func TestLoadLevelUnknownName(t *testing.T) {
	_, err := LoadLevel(parse(t), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Contains(t, err.Error(), "l0, l1")
}

func TestLoadRejectsLaneToUnknownVertex(t *testing.T) {
	g, err := LoadLevel(parse(t), "l1")
	assert.Nil(t, g)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Contains(t, err.Error(), "0-5")
}

func TestLoadRejectsBadLanes(t *testing.T) {
	_, err := Load(make([]Vertex, 2), []Lane{{Start: 1, End: 1}})
	assert.True(t, errors.Is(err, ErrConfig))

	_, err = Load(make([]Vertex, 2), []Lane{{Start: 0, End: 1, SpeedLimit: -1}})
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestLoadLevelRejectsExplicitZeroSpeed(t *testing.T) {
	for _, lane := range []string{`[0, 1, {"speed_limit": 0}]`, `{"start": 0, "end": 1, "properties": {"speed_limit": -2}}`} {
		var file models.LevelFile
		require.NoError(t, json.Unmarshal([]byte(`{"levels": {"z": {"vertices": [[0, 0], [1, 0]], "lanes": [`+lane+`]}}}`), &file))
		_, err := LoadLevel(file, "z")
		assert.ErrorIs(t, err, ErrConfig, lane)
		assert.ErrorContains(t, err, "speed limit")
	}

	var file models.LevelFile
	require.NoError(t, json.Unmarshal([]byte(`{"levels": {"z": {"vertices": [[0, 0], [1, 0]], "lanes": [[0, 1, {}]]}}}`), &file))
	g, err := LoadLevel(file, "z")
	require.NoError(t, err)
	s, _ := g.SpeedLimit(0, 1)
	assert.Equal(t, 1.0, s)
}

func TestReadLevelFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nav.json")
	require.NoError(t, os.WriteFile(path, []byte(levelJSON), 0o644))

	g, err := ReadLevelFile(path, "l0")
	require.NoError(t, err)
	assert.Len(t, g.LaneKeys(), 3)

	_, err = ReadLevelFile(filepath.Join(t.TempDir(), "nope.json"), "l0")
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestLanesAreSymmetric(t *testing.T) {
	g, err := LoadLevel(parse(t), "l0")
	require.NoError(t, err)

	lanes := g.Lanes()
	assert.Len(t, lanes, 6)
	seen := map[[2]int]float64{}
	for _, l := range lanes {
		seen[[2]int{l.Start, l.End}] = l.SpeedLimit
	}
	for _, l := range lanes {
		w, ok := seen[[2]int{l.End, l.Start}]
		assert.True(t, ok, "missing reverse of %d->%d", l.Start, l.End)
		assert.Equal(t, l.SpeedLimit, w)
	}
	assert.Equal(t, []LaneKey{{0, 1}, {1, 2}, {2, 3}}, g.LaneKeys())
}

func TestShortestPathLine(t *testing.T) {
	g := line(t, 4)
	path, err := g.ShortestPath(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, path)

	path, err = g.ShortestPath(3, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1, 0}, path)

	path, err = g.ShortestPath(2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, path)
}

func TestShortestPathUnreachable(t *testing.T) {
	g, err := Load(make([]Vertex, 4), []Lane{{Start: 0, End: 1}, {Start: 2, End: 3}})
	require.NoError(t, err)

	path, err := g.ShortestPath(0, 3)
	assert.Nil(t, path)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = g.ShortestPath(0, 9)
	assert.True(t, errors.Is(err, ErrUnknownVertex))

	reach, unreach := g.Reachable(0)
	assert.Equal(t, []int{0, 1}, reach)
	assert.Equal(t, []int{2, 3}, unreach)
}

func TestShortestPathWeightedPrefersFastLanes(t *testing.T) {
	g, err := Load(make([]Vertex, 4), []Lane{
		{Start: 0, End: 3, SpeedLimit: 0.1},
		{Start: 0, End: 1, SpeedLimit: 5},
		{Start: 1, End: 2, SpeedLimit: 5},
		{Start: 2, End: 3, SpeedLimit: 5},
	})
	require.NoError(t, err)

	hops, err := g.ShortestPath(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, hops)

	fast, err := g.ShortestPathWeighted(0, 3, dijkstra.SpeedWeighted)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, fast)
}

func bfsDistances(g *NavGraph, start int) map[int]int {
	dist := map[int]int{start: 0}
	queue := []int{start}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, e := range g.adj[u] {
			if _, ok := dist[e.To]; !ok {
				dist[e.To] = dist[u] + 1
				queue = append(queue, e.To)
			}
		}
	}
	return dist
}

func TestShortestPathMatchesBFSOnRandomGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.Intn(15)
		var lanes []Lane
		for i := 0; i < n*2; i++ {
			a, b := rng.Intn(n), rng.Intn(n)
			if a == b {
				continue
			}
			lanes = append(lanes, Lane{Start: a, End: b, SpeedLimit: 0.1 + rng.Float64()*3})
		}
		g, err := Load(make([]Vertex, n), lanes)
		require.NoError(t, err)

		for s := 0; s < n; s++ {
			dist := bfsDistances(g, s)
			for d := 0; d < n; d++ {
				path, err := g.ShortestPath(s, d)
				want, reachable := dist[d]
				if !reachable {
					assert.Nil(t, path)
					assert.True(t, errors.Is(err, ErrNotFound))
					continue
				}
				require.NoError(t, err)
				assert.Equal(t, want, len(path)-1)
				assert.Equal(t, s, path[0])
				assert.Equal(t, d, path[len(path)-1])

				seen := map[int]bool{}
				for i, v := range path {
					assert.False(t, seen[v], "repeated vertex %d in %v", v, path)
					seen[v] = true
					if i > 0 {
						assert.True(t, g.Adjacent(path[i-1], v))
					}
				}
			}
		}
	}
}

func TestGraphData(t *testing.T) {
	g, err := LoadLevel(parse(t), "l0")
	require.NoError(t, err)

	data := g.GraphData()
	assert.Equal(t, "l0", data.Level)
	assert.Len(t, data.Vertices, 4)
	require.Len(t, data.Lanes, 3)
	assert.Equal(t, models.LaneView{Start: 1, End: 2, SpeedLimit: 2}, data.Lanes[1])
}

func TestKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, Key(3, 1), Key(1, 3))
	assert.Equal(t, "(1,3)", Key(3, 1).String())
}
