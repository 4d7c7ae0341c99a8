package health

import (
	"fmt"
	"math"
	"time"

	"fabricmon/pkg/config"
	"fabricmon/pkg/model"
)

// Scorer turns link readings into a smoothed 0..1 health score. Scores are
// EWMA-smoothed per link, so the scorer is stateful across ticks. Not safe
// for concurrent use; callers serialize.
type Scorer struct {
	cfg  config.HealthTuning
	prev map[string]float64
}

// NewScorer returns a scorer with empty smoothing state.
func NewScorer(cfg config.HealthTuning) *Scorer {
	return &Scorer{cfg: cfg, prev: make(map[string]float64)}
}

// Reset drops all smoothing state, as after a topology swap.
func (s *Scorer) Reset() {
	s.prev = make(map[string]float64)
}

// Score computes the weighted-penalty health of one link from its current
// readings plus the anomaly severity for this tick. A failed link scores 0
// and resets its smoothing state; a link with no reading yet returns
// ErrNoData.
func (s *Scorer) Score(link *model.Link, anomalySeverity float64, now time.Time) (model.HealthRecord, error) {
	rec := model.HealthRecord{LinkID: link.ID, Timestamp: now}
	if link.Failed {
		s.prev[link.ID] = 0
		rec.Band = model.BandCritical
		rec.Recommendation = "link is down; repair or replace before traffic returns"
		rec.Factors = map[string]float64{"failed": 1}
		return rec, nil
	}
	if link.LatencyUs <= 0 {
		return rec, fmt.Errorf("link %s: %w", link.ID, model.ErrNoData)
	}

	factors := map[string]float64{
		"latency":     s.latencyPenalty(link),
		"utilization": s.utilizationPenalty(link.Utilization),
		"ber":         s.berPenalty(link.BER),
		"temperature": s.tempPenalty(link.TempC),
		"anomaly":     clamp01(anomalySeverity),
	}
	weighted := map[string]float64{
		"latency":     s.cfg.WeightLatency * factors["latency"],
		"utilization": s.cfg.WeightUtilization * factors["utilization"],
		"ber":         s.cfg.WeightBER * factors["ber"],
		"temperature": s.cfg.WeightTemp * factors["temperature"],
		"anomaly":     s.cfg.WeightAnomaly * factors["anomaly"],
	}
	var total float64
	for _, w := range weighted {
		total += w
	}
	raw := clamp01(1 - total)

	score := raw
	if prev, ok := s.prev[link.ID]; ok {
		score = s.cfg.SmoothingAlpha*raw + (1-s.cfg.SmoothingAlpha)*prev
	}
	s.prev[link.ID] = score

	rec.Score = score
	rec.Band = model.BandForScore(score)
	rec.Factors = factors
	rec.Recommendation = recommend(rec.Band, weighted)
	return rec, nil
}

// latencyPenalty scales the observed-to-base latency ratio; the ceiling
// multiple maps to a full penalty.
func (s *Scorer) latencyPenalty(link *model.Link) float64 {
	if link.BaseLatencyUs <= 0 {
		return 0
	}
	ratio := link.LatencyUs / link.BaseLatencyUs
	return clamp01((ratio - 1) / (s.cfg.LatencyCeiling - 1))
}

func (s *Scorer) utilizationPenalty(u float64) float64 {
	return clamp01((u - s.cfg.SaturationUtil) / (1 - s.cfg.SaturationUtil))
}

// berPenalty is log-scaled between the floor and ceiling rates.
func (s *Scorer) berPenalty(ber float64) float64 {
	if ber <= s.cfg.BERFloor {
		return 0
	}
	span := math.Log10(s.cfg.BERCeiling) - math.Log10(s.cfg.BERFloor)
	if span <= 0 {
		return 0
	}
	return clamp01((math.Log10(ber) - math.Log10(s.cfg.BERFloor)) / span)
}

func (s *Scorer) tempPenalty(t float64) float64 {
	return clamp01((t - s.cfg.TempWarn) / (s.cfg.TempMax - s.cfg.TempWarn))
}

// recommend names the dominant weighted factor for degraded links.
func recommend(band string, weighted map[string]float64) string {
	if band == model.BandExcellent || band == model.BandGood {
		return ""
	}
	var worst string
	var worstVal float64
	for _, name := range []string{"latency", "utilization", "anomaly", "ber", "temperature"} {
		if weighted[name] > worstVal {
			worst, worstVal = name, weighted[name]
		}
	}
	switch worst {
	case "latency":
		return "latency is elevated; investigate congestion along this path"
	case "utilization":
		return "link is saturating; shift traffic or add capacity"
	case "ber":
		return "bit errors climbing; check cabling and transceivers"
	case "temperature":
		return "running hot; check cooling and airflow"
	case "anomaly":
		return "anomalous telemetry; inspect the flagged samples"
	default:
		return ""
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
