package telemetry

import (
	"errors"
	"time"

	"fabricmon/pkg/fabric"
	"fabricmon/pkg/model"
)

// ApplyBatch ingests an externally supplied batch in order. Unknown links and
// malformed samples are rejected per-item; the rest of the batch still
// applies. Missing timestamps default to now.
func ApplyBatch(f *fabric.Fabric, items []model.TelemetryBatchItem, now time.Time) []model.TelemetryBatchResult {
	out := make([]model.TelemetryBatchResult, 0, len(items))
	for _, it := range items {
		s := it.Sample
		if s.Timestamp.IsZero() {
			s.Timestamp = now
		}
		res := model.TelemetryBatchResult{LinkID: it.LinkID, Accepted: true}
		if err := f.ApplyTelemetry(it.LinkID, s); err != nil {
			res.Accepted = false
			switch {
			case errors.Is(err, model.ErrNotFound):
				res.Error = "unknown link"
			case errors.Is(err, model.ErrInvalidTelemetry):
				res.Error = "invalid sample"
			default:
				res.Error = err.Error()
			}
		}
		out = append(out, res)
	}
	return out
}
