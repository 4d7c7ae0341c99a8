package model

import "time"

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert kinds.
const (
	AlertAnomaly  = "anomaly"
	AlertHealth   = "health"
	AlertForecast = "forecast"
	AlertRouting  = "routing"
	AlertChaos    = "chaos"
)

// Alert captures an operator-relevant event raised by the control loop.
type Alert struct {
	ID        string    `json:"id"`
	Severity  string    `json:"severity"`
	Kind      string    `json:"kind"`
	Ref       string    `json:"ref,omitempty"` // link or job id
	Message   string    `json:"message"`
	Tick      int64     `json:"tick"`
	Timestamp time.Time `json:"timestamp"`
}
