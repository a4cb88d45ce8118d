package services

import (
	"context"
	"sort"

	"fleet_traffic/internal/models"
	"fleet_traffic/internal/navgraph"
)

// LevelSource supplies level definitions. repositories.LevelRepository and
// FileLevelSource both satisfy it.
type LevelSource interface {
	LoadLevelFile(ctx context.Context) (models.LevelFile, error)
}

// LevelLister is implemented by sources that can name their levels
// without loading them.
type LevelLister interface {
	ListLevels(ctx context.Context) ([]string, error)
}

// FileLevelSource reads levels from a JSON file on every call.
type FileLevelSource struct {
	Path string
}

func (s FileLevelSource) LoadLevelFile(context.Context) (models.LevelFile, error) {
	return navgraph.ParseLevelFile(s.Path)
}

// LevelNames lists the levels of file in order.
func LevelNames(file models.LevelFile) []string {
	names := make([]string, 0, len(file.Levels))
	for name := range file.Levels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListLevels names the levels source offers, asking it directly when it is
// a LevelLister.
func ListLevels(ctx context.Context, source LevelSource) ([]string, error) {
	if lister, ok := source.(LevelLister); ok {
		return lister.ListLevels(ctx)
	}
	file, err := source.LoadLevelFile(ctx)
	if err != nil {
		return nil, err
	}
	return LevelNames(file), nil
}

// LoadGraph fetches the levels from source and builds the named one.
func LoadGraph(ctx context.Context, source LevelSource, name string) (*navgraph.NavGraph, error) {
	file, err := source.LoadLevelFile(ctx)
	if err != nil {
		return nil, err
	}
	return navgraph.LoadLevel(file, name)
}
