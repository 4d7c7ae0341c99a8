package model

import "time"

// Anomaly detection method names.
const (
	MethodZScore  = "zscore"
	MethodOutlier = "outlier"
	MethodRule    = "rule"
)

// AnomalyResult is the per-tick detector verdict for one link. Methods lists
// every trigger; severity is the max of the triggered methods' severities.
// Recomputed each tick, not persisted beyond alerting.
type AnomalyResult struct {
	LinkID    string    `json:"linkId"`
	Anomalous bool      `json:"anomalous"`
	Methods   []string  `json:"methods,omitempty"`
	Severity  float64   `json:"severity"`
	Details   []string  `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
