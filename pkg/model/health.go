package model

import "time"

// Qualitative health bands.
const (
	BandExcellent = "Excellent" // >= 0.9
	BandGood      = "Good"      // >= 0.7
	BandFair      = "Fair"      // >= 0.5
	BandPoor      = "Poor"      // >= 0.3
	BandCritical  = "Critical"  // < 0.3
)

// BandForScore maps a health score to its qualitative band.
func BandForScore(score float64) string {
	switch {
	case score >= 0.9:
		return BandExcellent
	case score >= 0.7:
		return BandGood
	case score >= 0.5:
		return BandFair
	case score >= 0.3:
		return BandPoor
	}
	return BandCritical
}

// HealthRecord is the scorer output for one link: normalized score, band,
// operator recommendation and the per-factor penalty breakdown.
type HealthRecord struct {
	LinkID         string             `json:"linkId"`
	Score          float64            `json:"score"`
	Band           string             `json:"band"`
	Recommendation string             `json:"recommendation"`
	Factors        map[string]float64 `json:"factors,omitempty"` // penalty per factor, 0..1
	Timestamp      time.Time          `json:"timestamp"`
}
