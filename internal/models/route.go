package models

type Route struct {
	AgentID string `json:"agent_id,omitempty"`
	Path    []int  `json:"path"`
	Hops    int    `json:"hops"`
	Target  int    `json:"target_vertex"`
}
