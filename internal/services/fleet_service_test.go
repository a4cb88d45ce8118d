package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet_traffic/internal/fleet"
	"fleet_traffic/internal/navgraph"
	"fleet_traffic/internal/repositories"
	"fleet_traffic/internal/robot"
)

const levels = `{
  "levels": {
    "line": {
      "vertices": [[0, 0], [1, 0], [2, 0], [3, 0, {"name": "charger", "is_charger": true}]],
      "lanes": [[0, 1], [1, 2], [2, 3, {"speed_limit": 2}]]
    },
    "pair": {
      "vertices": [[0, 0], [0, 1]],
      "lanes": [[0, 1]]
    }
  }
}`

func writeLevels(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nav.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newService(t *testing.T, opts Options) (*FleetService, string) {
	t.Helper()
	path := writeLevels(t, levels)
	s, err := NewFleetService(context.Background(), FileLevelSource{Path: path}, "line", opts)
	require.NoError(t, err)
	return s, path
}

func TestNewFleetServiceUnknownLevel(t *testing.T) {
	path := writeLevels(t, levels)
	_, err := NewFleetService(context.Background(), FileLevelSource{Path: path}, "roof", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, navgraph.ErrConfig))
	assert.Contains(t, err.Error(), "line, pair")

	_, err = NewFleetService(context.Background(), FileLevelSource{Path: filepath.Join(t.TempDir(), "x.json")}, "line", Options{})
	assert.True(t, errors.Is(err, navgraph.ErrConfig))
}

func TestSpawnAssignStep(t *testing.T) {
	s, _ := newService(t, Options{})

	snap, err := s.Spawn(0)
	require.NoError(t, err)
	assert.Equal(t, "R1", snap.ID)
	assert.Equal(t, robot.Idle, snap.Status)

	route, err := s.AssignTask(snap.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, route.Path)
	assert.Equal(t, 3, route.Hops)

	for i := 0; i < 3; i++ {
		s.Step()
	}
	got, err := s.Robot(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Position)
	assert.Equal(t, robot.TaskComplete, got.Status)
	assert.Equal(t, 1, s.Stats().TaskComplete)

	_, err = s.AssignTask("R9", 1)
	assert.True(t, errors.Is(err, fleet.ErrUnknownAgent))
}

func TestRoutePreview(t *testing.T) {
	s, _ := newService(t, Options{})
	route, err := s.Route(3, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1, 0}, route.Path)
	assert.Empty(t, s.Robots())

	_, err = s.Route(0, 42)
	assert.True(t, errors.Is(err, navgraph.ErrUnknownVertex))
}

func TestLevelsAndSwitch(t *testing.T) {
	s, _ := newService(t, Options{})
	ctx := context.Background()

	names, err := s.Levels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"line", "pair"}, names)

	_, err = s.Spawn(3)
	require.NoError(t, err)

	require.NoError(t, s.SwitchLevel(ctx, "pair"))
	assert.Equal(t, "pair", s.Graph().Level)
	assert.Len(t, s.Graph().Vertices, 2)
	assert.Empty(t, s.Robots())

	err = s.SwitchLevel(ctx, "roof")
	assert.True(t, errors.Is(err, navgraph.ErrConfig))
	assert.Equal(t, "pair", s.Graph().Level)
}

func TestReloadPicksUpFileChanges(t *testing.T) {
	s, path := newService(t, Options{})
	_, err := s.Spawn(0)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"levels":{"line":{"vertices":[[0,0],[1,0]],"lanes":[[0,1]]}}}`), 0o644))
	require.NoError(t, s.Reload(context.Background()))
	assert.Len(t, s.Graph().Vertices, 2)
	assert.Empty(t, s.Robots())

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o644))
	assert.Error(t, s.Reload(context.Background()))
	assert.Len(t, s.Graph().Vertices, 2)
}

func TestEventsFromMemory(t *testing.T) {
	s, _ := newService(t, Options{RecentEvents: 8})
	snap, _ := s.Spawn(0)
	_, _ = s.AssignTask(snap.ID, 1)
	s.Step()
	_, _ = s.Spawn(2)

	events, err := s.Events(context.Background(), EventQuery{AgentID: snap.ID})
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, fleet.EventSpawned, events[0].Kind)
	assert.Equal(t, fleet.EventTaskComplete, events[3].Kind)

	last, err := s.Events(context.Background(), EventQuery{Count: 1})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "R2", last[0].AgentID)
}

func TestEventsForReusedIDStayInTheirEpoch(t *testing.T) {
	s, _ := newService(t, Options{})
	ctx := context.Background()

	first, _ := s.Spawn(0)
	oldEpoch := s.Epoch()
	s.Reset()
	second, _ := s.Spawn(3)
	require.Equal(t, first.ID, second.ID)

	events, err := s.Events(ctx, EventQuery{AgentID: second.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].From)

	events, err = s.Events(ctx, EventQuery{Epoch: oldEpoch, AgentID: first.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].From)
}

func TestEventsFromRedisHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	repo := repositories.NewEventRepository(repositories.RedisOptions{Addr: mr.Addr()}, nil)
	t.Cleanup(func() { repo.Close() })

	s, _ := newService(t, Options{History: repo})
	snap, _ := s.Spawn(1)
	_, _ = s.AssignTask(snap.ID, 2)

	require.NoError(t, repo.Flush(context.Background()))

	// A robot with the same id in an earlier epoch is not mixed in.
	s.Reset()
	snap, _ = s.Spawn(1)
	_, _ = s.AssignTask(snap.ID, 2)
	require.NoError(t, repo.Flush(context.Background()))

	events, err := s.Events(context.Background(), EventQuery{AgentID: snap.ID, Count: 10})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, fleet.EventTaskAssigned, events[1].Kind)
	assert.Equal(t, s.Epoch(), events[1].Epoch)

	// With Redis gone the in-memory ring still answers.
	mr.Close()
	events, err = s.Events(context.Background(), EventQuery{AgentID: snap.ID, Count: 10})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newService(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx, 0), context.Canceled)
}

var _ LevelLister = (*repositories.LevelRepository)(nil)

type listingSource struct {
	FileLevelSource
	names []string
}

func (s listingSource) ListLevels(context.Context) ([]string, error) { return s.names, nil }

func TestLevelsPreferListingSource(t *testing.T) {
	path := writeLevels(t, levels)
	source := listingSource{FileLevelSource: FileLevelSource{Path: path}, names: []string{"empty", "line", "pair"}}

	names, err := ListLevels(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "line", "pair"}, names)

	names, err = ListLevels(context.Background(), FileLevelSource{Path: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"line", "pair"}, names)

	s, err := NewFleetService(context.Background(), source, "line", Options{})
	require.NoError(t, err)
	names, err = s.Levels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "line", "pair"}, names)
}
