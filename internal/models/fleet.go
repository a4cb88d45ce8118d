package models

// LaneQueue reports contention on one lane for rendering.
type LaneQueue struct {
	Start   int      `json:"start"`
	End     int      `json:"end"`
	Waiting []string `json:"waiting"`
}

type FleetStats struct {
	Robots       int `json:"robots"`
	Idle         int `json:"idle"`
	Moving       int `json:"moving"`
	Waiting      int `json:"waiting"`
	Charging     int `json:"charging"`
	TaskComplete int `json:"task_complete"`
}
