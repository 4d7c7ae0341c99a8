package model

import "time"

// Chaos event types.
const (
	ChaosLinkFailure     = "link_failure"
	ChaosCongestionStorm = "congestion_storm"
	ChaosCascading       = "cascading_degradation"
)

// ChaosRequest describes a fault to inject. Target/Targets name links;
// Multiplier applies to congestion storms, Factor and Hops to cascades.
type ChaosRequest struct {
	Type        string   `json:"type"`
	Target      string   `json:"target,omitempty"`
	Targets     []string `json:"targets,omitempty"`
	Multiplier  float64  `json:"multiplier,omitempty"`
	Factor      float64  `json:"factor,omitempty"`
	Hops        int      `json:"hops,omitempty"`
	DurationSec float64  `json:"durationSec"`
}

// ChaosEvent is an injected fault with a bounded lifetime. Re-triggering an
// active event with the same type and targets refreshes it instead of
// stacking; effects revert automatically at expiry.
type ChaosEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Targets    []string  `json:"targets"`
	Multiplier float64   `json:"multiplier,omitempty"`
	Factor     float64   `json:"factor,omitempty"`
	Hops       int       `json:"hops,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	EndedAt    time.Time `json:"endedAt"`
}
