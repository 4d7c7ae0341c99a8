package model

import "time"

// KPISnapshot aggregates fleet-level indicators for one tick.
type KPISnapshot struct {
	Tick        int64          `json:"tick"`
	FleetHealth float64        `json:"fleetHealth"`
	Bands       map[string]int `json:"bands"`
	FailedLinks int            `json:"failedLinks"`
	Anomalies   int            `json:"anomalies"`
	Jobs        map[string]int `json:"jobs"` // count per job state
	ActiveChaos int            `json:"activeChaos"`
	Reroutes    int            `json:"reroutes"` // this tick
	Alerts      int            `json:"alerts"`   // raised this tick
	TickMs      float64        `json:"tickMs"`
	Timestamp   time.Time      `json:"timestamp"`
}

// TickSummary is the compact per-tick update pushed to stream subscribers.
type TickSummary struct {
	Tick        int64     `json:"tick"`
	FleetHealth float64   `json:"fleetHealth"`
	FailedLinks int       `json:"failedLinks"`
	Anomalies   int       `json:"anomalies"`
	Reroutes    int       `json:"reroutes"`
	Stranded    int       `json:"stranded"`
	NewAlerts   []Alert   `json:"newAlerts,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
