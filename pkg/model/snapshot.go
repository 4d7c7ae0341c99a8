package model

import "time"

// TopologySnapshot is the full read-only export of the fabric: static and
// current runtime attributes of every node and link. Importing a snapshot
// reconstructs the static graph with zeroed runtime state.
type TopologySnapshot struct {
	Nodes     []Node    `json:"nodes"`
	Links     []Link    `json:"links"`
	Timestamp time.Time `json:"timestamp"`
}
