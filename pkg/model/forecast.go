package model

import "time"

// ForecastPoint is one projected value with its confidence bounds.
type ForecastPoint struct {
	Offset int     `json:"offset"` // ticks ahead, 1-based
	Value  float64 `json:"value"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
}

// ForecastResult projects a link's health over a short horizon. Breach is set
// when any point's lower bound falls below the critical health threshold.
type ForecastResult struct {
	LinkID    string          `json:"linkId"`
	Strategy  string          `json:"strategy"`
	Points    []ForecastPoint `json:"points"`
	Breach    bool            `json:"breach"`
	RMSE      float64         `json:"rmse"`
	Timestamp time.Time       `json:"timestamp"`
}
