package services

import (
	"context"
	"sync"
	"time"

	"fleet_traffic/internal/fleet"
	"fleet_traffic/internal/logging"
	"fleet_traffic/internal/models"
	"fleet_traffic/internal/robot"
)

// EventHistory is a durable audit trail that can be queried back.
type EventHistory interface {
	fleet.EventSink
	History(ctx context.Context, epoch, agentID string, count int64) ([]fleet.Event, error)
}

// FleetService is what the HTTP layer and the CLI talk to. It owns the
// director and knows where levels come from.
type FleetService struct {
	source  LevelSource
	logger  logging.Logger
	recent  *fleet.MemorySink
	history EventHistory

	mu       sync.Mutex
	director *fleet.Director
}

type Options struct {
	Logger logging.Logger
	// History, when set, receives every event alongside the in-memory ring
	// and serves Events queries.
	History EventHistory
	// RecentEvents sizes the in-memory ring.
	RecentEvents int
}

// NewFleetService loads level from source and starts an empty fleet on it.
func NewFleetService(ctx context.Context, source LevelSource, level string, opts Options) (*FleetService, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	graph, err := LoadGraph(ctx, source, level)
	if err != nil {
		return nil, err
	}

	s := &FleetService{
		source:  source,
		logger:  opts.Logger,
		recent:  fleet.NewMemorySink(opts.RecentEvents),
		history: opts.History,
	}
	sinks := fleet.MultiSink{fleet.LogSink{Logger: opts.Logger}, s.recent}
	if opts.History != nil {
		sinks = append(sinks, opts.History)
	}
	s.director = fleet.New(graph, fleet.WithLogger(opts.Logger), fleet.WithSink(sinks))
	opts.Logger.Info("level %q loaded: %d vertices, %d lanes", level, len(graph.Vertices()), len(graph.LaneKeys()))
	return s, nil
}

func (s *FleetService) Director() *fleet.Director { return s.director }

// Epoch is the current fleet run; it changes on reset and level switch.
func (s *FleetService) Epoch() string { return s.director.Epoch() }

// Run drives the movement loop until ctx ends.
func (s *FleetService) Run(ctx context.Context, interval time.Duration) error {
	return s.director.Run(ctx, interval)
}

func (s *FleetService) Spawn(vertex int) (robot.Snapshot, error) {
	id, err := s.director.Spawn(vertex)
	if err != nil {
		return robot.Snapshot{}, err
	}
	return s.director.Snapshot(id)
}

func (s *FleetService) AssignTask(agentID string, destination int) (models.Route, error) {
	path, err := s.director.AssignTask(agentID, destination)
	if err != nil {
		return models.Route{}, err
	}
	return models.Route{AgentID: agentID, Path: path, Hops: len(path) - 1, Target: destination}, nil
}

func (s *FleetService) Robots() []robot.Snapshot { return s.director.Snapshots() }

func (s *FleetService) Robot(agentID string) (robot.Snapshot, error) {
	return s.director.Snapshot(agentID)
}

func (s *FleetService) Queues() []models.LaneQueue { return s.director.Queues() }

func (s *FleetService) Stats() models.FleetStats { return s.director.Stats() }

func (s *FleetService) Graph() models.GraphData { return s.director.Graph().GraphData() }

func (s *FleetService) Step() fleet.CycleReport { return s.director.RunMovementCycle() }

func (s *FleetService) Reset() { s.director.Reset() }

// Route previews the hop-count path between two vertices without
// touching any robot.
func (s *FleetService) Route(from, to int) (models.Route, error) {
	path, err := s.director.Graph().ShortestPath(from, to)
	if err != nil {
		return models.Route{}, err
	}
	return models.Route{Path: path, Hops: len(path) - 1, Target: to}, nil
}

// Levels lists the level names the source currently offers.
func (s *FleetService) Levels(ctx context.Context) ([]string, error) {
	return ListLevels(ctx, s.source)
}

// SwitchLevel loads name from the source and swaps it in, clearing the
// fleet. On error the current level stays.
func (s *FleetService) SwitchLevel(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	graph, err := LoadGraph(ctx, s.source, name)
	if err != nil {
		return err
	}
	s.director.SwitchLevel(graph)
	return nil
}

// Reload re-reads the current level, typically after the level file
// changed on disk.
func (s *FleetService) Reload(ctx context.Context) error {
	name := s.director.Graph().Level()
	if err := s.SwitchLevel(ctx, name); err != nil {
		s.logger.Error("reloading level %q: %v", name, err)
		return err
	}
	s.logger.Info("level %q reloaded", name)
	return nil
}

// EventQuery selects events. Robot ids restart after a reset, so a query
// for one agent without an epoch is limited to the current epoch.
type EventQuery struct {
	Epoch   string
	AgentID string
	Count   int
}

// Events returns recent events, oldest first, from the durable history
// when configured and from memory otherwise.
func (s *FleetService) Events(ctx context.Context, q EventQuery) ([]fleet.Event, error) {
	if q.Count <= 0 {
		q.Count = 100
	}
	if q.AgentID != "" && q.Epoch == "" {
		q.Epoch = s.director.Epoch()
	}
	if s.history != nil {
		events, err := s.history.History(ctx, q.Epoch, q.AgentID, int64(q.Count))
		if err == nil {
			return events, nil
		}
		s.logger.Warn("event history unavailable, serving memory: %v", err)
	}
	events := s.recent.Select(q.Epoch, q.AgentID)
	if len(events) > q.Count {
		events = events[len(events)-q.Count:]
	}
	return events, nil
}
