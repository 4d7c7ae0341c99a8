package model

import "time"

// Job states.
const (
	JobStable    = "Stable"
	JobAtRisk    = "AtRisk"
	JobRerouting = "Rerouting"
	JobStranded  = "Stranded"
)

// Job is a traffic demand between two nodes. The path is an ordered link-id
// sequence owned exclusively by the routing optimizer; a stranded job loses
// its assignment but is held and retried every tick, never dropped.
type Job struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	Dest          string    `json:"dest"`
	BandwidthGbps float64   `json:"bandwidthGbps"`
	Path          []string  `json:"path"`
	State         string    `json:"state"`
	PathCost      float64   `json:"pathCost"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
