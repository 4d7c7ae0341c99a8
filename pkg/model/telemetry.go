package model

import "time"

// TelemetrySample is one per-link measurement, appended in time order to the
// link's bounded history.
type TelemetrySample struct {
	Timestamp   time.Time `json:"timestamp"`
	LatencyUs   float64   `json:"latencyUs"`
	Utilization float64   `json:"utilization"`
	BER         float64   `json:"ber"`
	TempC       float64   `json:"tempC"`
	CRCErrors   float64   `json:"crcErrors"` // errors per second
}

// Validate rejects malformed samples with ErrInvalidTelemetry.
func (s TelemetrySample) Validate() error {
	if s.LatencyUs <= 0 {
		return ErrInvalidTelemetry
	}
	if s.Utilization < 0 || s.Utilization > 1 {
		return ErrInvalidTelemetry
	}
	if s.BER < 0 || s.CRCErrors < 0 {
		return ErrInvalidTelemetry
	}
	if s.TempC <= -20 || s.TempC >= 150 {
		return ErrInvalidTelemetry
	}
	return nil
}

// TelemetryBatchItem pairs a sample with its target link for ingestion.
type TelemetryBatchItem struct {
	LinkID string          `json:"linkId"`
	Sample TelemetrySample `json:"sample"`
}

// TelemetryBatchResult reports the per-item outcome of a batch ingestion.
// Rejections are per-item, never tick-fatal.
type TelemetryBatchResult struct {
	LinkID   string `json:"linkId"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}
