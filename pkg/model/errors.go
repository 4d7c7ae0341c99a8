package model

import "errors"

// Shared error taxonomy. Callers match with errors.Is; per-link and per-job
// failures are isolated and never abort a whole tick.
var (
	ErrNotFound         = errors.New("not found")
	ErrNoData           = errors.New("no telemetry data")
	ErrInsufficientData = errors.New("insufficient data")
	ErrNoViablePath     = errors.New("no viable path")
	ErrInvalidTelemetry = errors.New("invalid telemetry")
	ErrModelFitFailure  = errors.New("model fit failure")
)
