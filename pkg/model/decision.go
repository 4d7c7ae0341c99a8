package model

import "time"

// Route decision reasons.
const (
	ReasonInitial   = "initial"
	ReasonDegraded  = "degraded"
	ReasonForecast  = "forecast"
	ReasonManual    = "manual"
	ReasonStranded  = "stranded"
	ReasonRecovered = "recovered"
)

// RouteDecision records one routing change (or stranding) for audit.
type RouteDecision struct {
	JobID     string    `json:"jobId"`
	OldPath   []string  `json:"oldPath,omitempty"`
	NewPath   []string  `json:"newPath,omitempty"`
	OldCost   float64   `json:"oldCost,omitempty"`
	NewCost   float64   `json:"newCost,omitempty"`
	Reason    string    `json:"reason"`
	Tick      int64     `json:"tick"`
	Timestamp time.Time `json:"timestamp"`
}
