package repositories

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"fleet_traffic/internal/models"
)

// LevelRepository stores navigation levels in Neo4j as
// (:Level)-[:HAS_VERTEX]->(:Vertex) with undirected lanes written as
// (:Vertex)-[:LANE]->(:Vertex). Vertex ids are the index property.
type LevelRepository struct {
	Driver neo4j.DriverWithContext
}

func NewLevelRepository(driver neo4j.DriverWithContext) *LevelRepository {
	return &LevelRepository{Driver: driver}
}

const (
	listLevelsQuery = `
	MATCH (l:Level)
	RETURN l.name AS name
	ORDER BY name`

	vertexRowsQuery = `
	MATCH (l:Level)-[:HAS_VERTEX]->(v:Vertex)
	RETURN l.name AS level, v.index AS index, v.x AS x, v.y AS y,
	       v.name AS name, v.is_charger AS is_charger
	ORDER BY level, index`

	laneRowsQuery = `
	MATCH (l:Level)-[:HAS_VERTEX]->(a:Vertex)-[r:LANE]->(b:Vertex)<-[:HAS_VERTEX]-(l)
	RETURN l.name AS level, a.index AS start, b.index AS end, r.speed_limit AS speed_limit
	ORDER BY level, start, end`

	deleteLevelQuery = `
	MATCH (l:Level {name: $name})
	OPTIONAL MATCH (l)-[:HAS_VERTEX]->(v:Vertex)
	DETACH DELETE l, v`

	createVerticesQuery = `
	CREATE (l:Level {name: $name})
	WITH l
	UNWIND $vertices AS vx
	CREATE (l)-[:HAS_VERTEX]->(:Vertex {index: vx.index, x: vx.x, y: vx.y, name: vx.name, is_charger: vx.is_charger})`

	createLanesQuery = `
	MATCH (l:Level {name: $name})
	UNWIND $lanes AS ln
	MATCH (l)-[:HAS_VERTEX]->(a:Vertex {index: ln.start})
	MATCH (l)-[:HAS_VERTEX]->(b:Vertex {index: ln.end})
	CREATE (a)-[:LANE {speed_limit: ln.speed_limit}]->(b)`
)

// ListLevels returns the stored level names in order.
func (r *LevelRepository) ListLevels(ctx context.Context) ([]string, error) {
	session := r.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := collect(ctx, tx, listLevelsQuery, nil)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(rows))
		for _, row := range rows {
			if name, ok := row["name"].(string); ok {
				names = append(names, name)
			}
		}
		return names, nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing levels: %w", err)
	}
	return result.([]string), nil
}

// LoadLevelFile reads every stored level into the same shape a JSON level
// file decodes to.
func (r *LevelRepository) LoadLevelFile(ctx context.Context) (models.LevelFile, error) {
	session := r.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		vertexRows, err := collect(ctx, tx, vertexRowsQuery, nil)
		if err != nil {
			return nil, err
		}
		laneRows, err := collect(ctx, tx, laneRowsQuery, nil)
		if err != nil {
			return nil, err
		}
		return BuildLevelFile(vertexRows, laneRows)
	})
	if err != nil {
		return models.LevelFile{}, fmt.Errorf("error loading levels: %w", err)
	}
	return result.(models.LevelFile), nil
}

// SaveLevel replaces the stored level name with level.
func (r *LevelRepository) SaveLevel(ctx context.Context, name string, level models.Level) error {
	session := r.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	vertices, lanes := LevelParams(level)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, deleteLevelQuery, map[string]any{"name": name}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx, createVerticesQuery, map[string]any{"name": name, "vertices": vertices}); err != nil {
			return nil, err
		}
		if len(lanes) == 0 {
			return nil, nil
		}
		_, err := tx.Run(ctx, createLanesQuery, map[string]any{"name": name, "lanes": lanes})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("error saving level %q: %w", name, err)
	}
	return nil
}

func collect(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]map[string]any, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for result.Next(ctx) {
		rows = append(rows, result.Record().AsMap())
	}
	return rows, result.Err()
}

// BuildLevelFile assembles levels from query rows. Vertex indexes of each
// level must run 0..n-1 since vertex ids are positional.
func BuildLevelFile(vertexRows, laneRows []map[string]any) (models.LevelFile, error) {
	type indexed struct {
		index int
		spec  models.VertexSpec
	}
	byLevel := map[string][]indexed{}
	for _, row := range vertexRows {
		level, _ := row["level"].(string)
		idx, ok := toInt(row["index"])
		if !ok {
			return models.LevelFile{}, fmt.Errorf("level %q: vertex without integer index", level)
		}
		x, _ := toFloat(row["x"])
		y, _ := toFloat(row["y"])
		name, _ := row["name"].(string)
		charger, _ := row["is_charger"].(bool)
		byLevel[level] = append(byLevel[level], indexed{idx, models.VertexSpec{
			X: x, Y: y,
			Properties: models.VertexProperties{Name: name, IsCharger: charger},
		}})
	}

	file := models.LevelFile{Levels: make(map[string]models.Level, len(byLevel))}
	for name, vs := range byLevel {
		sort.Slice(vs, func(i, j int) bool { return vs[i].index < vs[j].index })
		level := models.Level{Vertices: make([]models.VertexSpec, len(vs))}
		for i, v := range vs {
			if v.index != i {
				return models.LevelFile{}, fmt.Errorf("level %q: vertex indexes are not contiguous at %d", name, v.index)
			}
			level.Vertices[i] = v.spec
		}
		file.Levels[name] = level
	}

	for _, row := range laneRows {
		name, _ := row["level"].(string)
		level, ok := file.Levels[name]
		if !ok {
			continue
		}
		start, okStart := toInt(row["start"])
		end, okEnd := toInt(row["end"])
		if !okStart || !okEnd {
			return models.LevelFile{}, fmt.Errorf("level %q: lane without integer endpoints", name)
		}
		var props models.LaneProperties
		if speed, ok := toFloat(row["speed_limit"]); ok {
			props.SpeedLimit = &speed
		}
		level.Lanes = append(level.Lanes, models.LaneSpec{Start: start, End: end, Properties: props})
		file.Levels[name] = level
	}
	return file, nil
}

// LevelParams flattens a level into UNWIND parameters.
func LevelParams(level models.Level) ([]map[string]any, []map[string]any) {
	vertices := make([]map[string]any, len(level.Vertices))
	for i, v := range level.Vertices {
		vertices[i] = map[string]any{
			"index":      int64(i),
			"x":          v.X,
			"y":          v.Y,
			"name":       v.Properties.Name,
			"is_charger": v.Properties.IsCharger,
		}
	}
	lanes := make([]map[string]any, len(level.Lanes))
	for i, l := range level.Lanes {
		lanes[i] = map[string]any{
			"start":       int64(l.Start),
			"end":         int64(l.End),
			"speed_limit": l.Properties.Speed(),
		}
	}
	return vertices, lanes
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
