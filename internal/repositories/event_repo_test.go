package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet_traffic/internal/fleet"
	"fleet_traffic/internal/navgraph"
)

func newTestEventRepository(t *testing.T, opts RedisOptions) (*EventRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := newEventRepository(client, opts, nil)
	t.Cleanup(func() { repo.Close() })
	return repo, mr
}

func lineDirector(t *testing.T, n int, sink fleet.EventSink) *fleet.Director {
	t.Helper()
	var lanes []navgraph.Lane
	for i := 0; i < n-1; i++ {
		lanes = append(lanes, navgraph.Lane{Start: i, End: i + 1})
	}
	g, err := navgraph.Load(make([]navgraph.Vertex, n), lanes)
	require.NoError(t, err)
	return fleet.New(g, fleet.WithSink(sink))
}

func TestEventRepositoryAppendAndHistory(t *testing.T) {
	repo, mr := newTestEventRepository(t, RedisOptions{})
	ctx := context.Background()
	require.NoError(t, repo.Ping(ctx))

	for i := 0; i < 5; i++ {
		agent := "R1"
		if i%2 == 1 {
			agent = "R2"
		}
		epoch := "a"
		if i >= 3 {
			epoch = "b"
		}
		require.NoError(t, repo.Append(ctx, fleet.Event{
			ID: fmt.Sprintf("e%d", i), Epoch: epoch, AgentID: agent, Kind: fleet.EventMoved, From: i, To: i + 1,
		}))
	}
	assert.True(t, mr.Exists(DefaultEventStream))

	all, err := repo.History(ctx, "", "", 3)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"e2", "e3", "e4"}, []string{all[0].ID, all[1].ID, all[2].ID})

	r2, err := repo.History(ctx, "", "R2", 10)
	require.NoError(t, err)
	require.Len(t, r2, 2)
	assert.Equal(t, 1, r2[0].From)
	assert.Equal(t, 3, r2[1].From)

	// R1 in epoch a is e0 and e2; e4 belongs to a later fleet.
	r1a, err := repo.History(ctx, "a", "R1", 10)
	require.NoError(t, err)
	require.Len(t, r1a, 2)
	assert.Equal(t, []string{"e0", "e2"}, []string{r1a[0].ID, r1a[1].ID})

	b, err := repo.History(ctx, "b", "", 10)
	require.NoError(t, err)
	assert.Len(t, b, 2)
}

func TestEventRepositoryCapsStream(t *testing.T) {
	repo, _ := newTestEventRepository(t, RedisOptions{MaxLen: 3})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		repo.Emit(fleet.Event{ID: fmt.Sprintf("e%d", i), Kind: fleet.EventReset})
	}
	require.NoError(t, repo.Flush(ctx))
	events, err := repo.History(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e3", events[0].ID)
}

func TestEventRepositoryAsDirectorSink(t *testing.T) {
	repo, _ := newTestEventRepository(t, RedisOptions{})

	d := lineDirector(t, 4, repo)
	id, err := d.Spawn(0)
	require.NoError(t, err)
	_, err = d.AssignTask(id, 2)
	require.NoError(t, err)
	d.RunMovementCycle()
	d.RunMovementCycle()

	require.NoError(t, repo.Flush(context.Background()))
	events, err := repo.History(context.Background(), d.Epoch(), id, 20)
	require.NoError(t, err)
	var kinds []fleet.EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []fleet.EventKind{
		fleet.EventSpawned, fleet.EventTaskAssigned,
		fleet.EventMoved, fleet.EventMoved, fleet.EventTaskComplete,
	}, kinds)
}

func TestEventRepositoryUnreachable(t *testing.T) {
	repo, mr := newTestEventRepository(t, RedisOptions{})
	mr.Close()

	assert.Error(t, repo.Ping(context.Background()))
	// Emit swallows the failure.
	repo.Emit(fleet.Event{ID: "x", Kind: fleet.EventReset})
}

func TestCycleStaysFastWithRedisDown(t *testing.T) {
	repo, mr := newTestEventRepository(t, RedisOptions{})
	d := lineDirector(t, 20, repo)

	var ids []string
	for v := 0; v < 20; v += 4 {
		id, err := d.Spawn(v)
		require.NoError(t, err)
		_, err = d.AssignTask(id, v+3)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, repo.Flush(context.Background()))
	mr.Close()

	start := time.Now()
	report := d.RunMovementCycle()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.ElementsMatch(t, ids, report.Moved)
	assert.Empty(t, report.Errors)
}

func TestEmitDropsWhenBufferFull(t *testing.T) {
	repo, mr := newTestEventRepository(t, RedisOptions{Buffer: 1})
	mr.Close()

	for i := 0; i < 1000; i++ {
		repo.Emit(fleet.Event{ID: fmt.Sprintf("e%d", i), Kind: fleet.EventReset})
	}
	assert.Positive(t, repo.Dropped())
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	repo := NewEventRepository(RedisOptions{Addr: mr.Addr()}, nil)
	for i := 0; i < 50; i++ {
		repo.Emit(fleet.Event{ID: fmt.Sprintf("e%d", i), Kind: fleet.EventReset})
	}
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close())
	assert.ErrorIs(t, repo.Flush(context.Background()), ErrClosed)

	// Emit after Close is ignored.
	repo.Emit(fleet.Event{ID: "late", Kind: fleet.EventReset})

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	n, err := client.XLen(context.Background(), DefaultEventStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
	assert.Zero(t, repo.Dropped())
}
