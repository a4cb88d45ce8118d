package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// LevelFile is the on-disk layout: a set of named levels.
type LevelFile struct {
	Levels map[string]Level `json:"levels"`
}

type Level struct {
	Vertices []VertexSpec `json:"vertices"`
	Lanes    []LaneSpec   `json:"lanes"`
}

type VertexProperties struct {
	Name      string `json:"name,omitempty"`
	IsCharger bool   `json:"is_charger,omitempty"`
}

// VertexSpec accepts either a positional [x, y, {properties}] tuple or a
// {"x":..,"y":..,"properties":{..}} record.
type VertexSpec struct {
	X          float64          `json:"x"`
	Y          float64          `json:"y"`
	Properties VertexProperties `json:"properties"`
}

// LaneProperties holds optional lane settings. A nil SpeedLimit was absent
// from the input.
type LaneProperties struct {
	SpeedLimit *float64 `json:"speed_limit,omitempty"`
}

// Speed returns the speed limit, 1 when none was given.
func (p LaneProperties) Speed() float64 {
	if p.SpeedLimit == nil {
		return 1
	}
	return *p.SpeedLimit
}

// LaneSpec accepts either a positional [start, end, {properties}] tuple or a
// {"start":..,"end":..,"properties":{..}} record.
type LaneSpec struct {
	Start      int            `json:"start"`
	End        int            `json:"end"`
	Properties LaneProperties `json:"properties"`
}

func (v *VertexSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if len(raw) < 2 {
			return fmt.Errorf("vertex tuple needs at least x and y, got %d elements", len(raw))
		}
		if err := json.Unmarshal(raw[0], &v.X); err != nil {
			return fmt.Errorf("vertex x: %w", err)
		}
		if err := json.Unmarshal(raw[1], &v.Y); err != nil {
			return fmt.Errorf("vertex y: %w", err)
		}
		if len(raw) > 2 {
			if err := json.Unmarshal(raw[2], &v.Properties); err != nil {
				return fmt.Errorf("vertex properties: %w", err)
			}
		}
		return nil
	}

	type plain VertexSpec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*v = VertexSpec(p)
	return nil
}

func (l *LaneSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if len(raw) < 2 {
			return fmt.Errorf("lane tuple needs at least start and end, got %d elements", len(raw))
		}
		if err := json.Unmarshal(raw[0], &l.Start); err != nil {
			return fmt.Errorf("lane start: %w", err)
		}
		if err := json.Unmarshal(raw[1], &l.End); err != nil {
			return fmt.Errorf("lane end: %w", err)
		}
		if len(raw) > 2 {
			if err := json.Unmarshal(raw[2], &l.Properties); err != nil {
				return fmt.Errorf("lane properties: %w", err)
			}
		}
	} else {
		type plain LaneSpec
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*l = LaneSpec(p)
	}
	return nil
}

// GraphData is the renderer-facing view of a loaded level.
type GraphData struct {
	Level    string       `json:"level"`
	Vertices []VertexView `json:"vertices"`
	Lanes    []LaneView   `json:"lanes"`
}

type VertexView struct {
	ID        int     `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Name      string  `json:"name,omitempty"`
	IsCharger bool    `json:"is_charger"`
}

type LaneView struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	SpeedLimit float64 `json:"speed_limit"`
}
