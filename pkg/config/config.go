package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TelemetryTuning controls the synthetic generator and history bounds.
// Noise scales all random variation; zero makes the generator fully
// deterministic given the fabric state.
type TelemetryTuning struct {
	Seed       int64   `yaml:"seed"`
	HistoryCap int     `yaml:"historyCap"`
	SpikeProb  float64 `yaml:"spikeProb"`
	Noise      float64 `yaml:"noise"`
}

// AnomalyTuning controls the detector. Contamination is the expected outlier
// fraction; RefitEvery is the tick cadence for forest rebuilds.
type AnomalyTuning struct {
	MinSamples       int     `yaml:"minSamples"`
	ZLatency         float64 `yaml:"zLatency"`
	ZBER             float64 `yaml:"zBer"`
	Contamination    float64 `yaml:"contamination"`
	RefitEvery       int     `yaml:"refitEvery"`
	OutlierMinPoints int     `yaml:"outlierMinPoints"`
	Trees            int     `yaml:"trees"`
	Subsample        int     `yaml:"subsample"`
}

// HealthTuning holds the scorer weights and penalty scales. Weights sum to 1
// so the output range stays stable.
type HealthTuning struct {
	WeightLatency     float64 `yaml:"weightLatency"`
	WeightUtilization float64 `yaml:"weightUtilization"`
	WeightAnomaly     float64 `yaml:"weightAnomaly"`
	WeightBER         float64 `yaml:"weightBer"`
	WeightTemp        float64 `yaml:"weightTemp"`
	SmoothingAlpha    float64 `yaml:"smoothingAlpha"` // weight of the current raw score
	SaturationUtil    float64 `yaml:"saturationUtil"`
	LatencyCeiling    float64 `yaml:"latencyCeiling"` // penalty 1 at this multiple of base latency
	BERFloor          float64 `yaml:"berFloor"`
	BERCeiling        float64 `yaml:"berCeiling"`
	TempWarn          float64 `yaml:"tempWarn"`
	TempMax           float64 `yaml:"tempMax"`
}

// ForecastTuning selects and parameterizes the prediction strategy.
type ForecastTuning struct {
	Strategy       string  `yaml:"strategy"` // arima|neural
	Window         int     `yaml:"window"`
	MinPoints      int     `yaml:"minPoints"`
	Horizon        int     `yaml:"horizon"`
	FitEvery       int     `yaml:"fitEvery"` // ticks between refits
	CriticalHealth float64 `yaml:"criticalHealth"`
	Lookback       int     `yaml:"lookback"` // neural lag window
}

// RoutingTuning controls edge weighting and reroute hysteresis.
type RoutingTuning struct {
	RerouteHealth   float64 `yaml:"rerouteHealth"`
	Hysteresis      float64 `yaml:"hysteresis"` // required relative cost improvement
	CongestionCoeff float64 `yaml:"congestionCoeff"`
	UnhealthyCoeff  float64 `yaml:"unhealthyCoeff"`
}

// Tuning is the full knob set for the control loop.
type Tuning struct {
	Telemetry TelemetryTuning `yaml:"telemetry"`
	Anomaly   AnomalyTuning   `yaml:"anomaly"`
	Health    HealthTuning    `yaml:"health"`
	Forecast  ForecastTuning  `yaml:"forecast"`
	Routing   RoutingTuning   `yaml:"routing"`
}

// Default returns the documented baseline tuning.
func Default() Tuning {
	return Tuning{
		Telemetry: TelemetryTuning{
			Seed:       42,
			HistoryCap: 100,
			SpikeProb:  0.05,
			Noise:      1.0,
		},
		Anomaly: AnomalyTuning{
			MinSamples:       10,
			ZLatency:         3.0,
			ZBER:             2.5,
			Contamination:    0.10,
			RefitEvery:       100,
			OutlierMinPoints: 20,
			Trees:            100,
			Subsample:        64,
		},
		Health: HealthTuning{
			WeightLatency:     0.25,
			WeightUtilization: 0.25,
			WeightAnomaly:     0.25,
			WeightBER:         0.15,
			WeightTemp:        0.10,
			SmoothingAlpha:    0.7,
			SaturationUtil:    0.75,
			LatencyCeiling:    5.0,
			BERFloor:          1e-12,
			BERCeiling:        1e-6,
			TempWarn:          70,
			TempMax:           95,
		},
		Forecast: ForecastTuning{
			Strategy:       "arima",
			Window:         50,
			MinPoints:      20,
			Horizon:        10,
			FitEvery:       5,
			CriticalHealth: 0.30,
			Lookback:       20,
		},
		Routing: RoutingTuning{
			RerouteHealth:   0.60,
			Hysteresis:      0.20,
			CongestionCoeff: 50,
			UnhealthyCoeff:  100,
		},
	}
}

// Load returns the default tuning overlaid with the YAML file at path, if
// path is non-empty.
func Load(path string) (Tuning, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(b, &t); err != nil {
		return t, fmt.Errorf("parse tuning file: %w", err)
	}
	return t, nil
}

// LoadDotEnv loads .env from the working directory when present.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// Getenv returns the environment value or a default.
func Getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
