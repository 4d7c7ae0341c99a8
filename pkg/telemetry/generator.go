package telemetry

import (
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"fabricmon/pkg/config"
	"fabricmon/pkg/fabric"
	"fabricmon/pkg/model"
)

type typeBaseline struct {
	ber   float64
	tempC float64
	util  float64
}

var baselines = map[string]typeBaseline{
	model.LinkNVLink: {ber: 1e-11, tempC: 45, util: 0.30},
	model.LinkUALink: {ber: 5e-11, tempC: 50, util: 0.40},
	model.LinkPCIe:   {ber: 1e-10, tempC: 55, util: 0.50},
}

// Generator synthesizes per-tick telemetry for every live link. Output is
// deterministic for a fixed seed; chaos state (degradation, congestion boost)
// modulates the produced samples.
type Generator struct {
	rng       *rand.Rand
	spikeProb float64
	noise     float64
	logger    *zap.Logger
}

// NewGenerator builds a seeded generator.
func NewGenerator(cfg config.TelemetryTuning, logger *zap.Logger) *Generator {
	spike := cfg.SpikeProb
	if spike < 0 || spike >= 1 {
		spike = 0.05
	}
	noise := cfg.Noise
	if noise < 0 {
		noise = 1.0
	}
	return &Generator{
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		spikeProb: spike,
		noise:     noise,
		logger:    logger,
	}
}

// Sample produces one synthetic reading for a link.
func (g *Generator) Sample(l *model.Link, now time.Time) model.TelemetrySample {
	base, ok := baselines[l.Type]
	if !ok {
		base = baselines[model.LinkPCIe]
	}

	util := clamp01(base.util + 0.15*g.noise*g.rng.NormFloat64())
	if boost := l.CongestionBoost; boost > 1 {
		// a storm saturates the link toward capacity; the multiplier also
		// sets a hard utilization floor of 1-1/boost
		util = clamp01(math.Max(util*boost, 1-1/boost))
	}

	lat := l.BaseLatencyUs * (1 + 2*util + 3*l.Degradation)
	lat *= 1 + 0.1*g.noise*g.rng.NormFloat64()
	if g.spikeProb > 0 && g.rng.Float64() < g.spikeProb {
		lat *= 1.5 + 1.5*g.rng.Float64()
	}
	if lat < 0.05 {
		lat = 0.05
	}

	ber := base.ber * (1 + 50*l.Degradation) * math.Pow(10, 0.5*g.noise*g.rng.NormFloat64())
	temp := base.tempC + 15*util + 20*l.Degradation + g.noise*g.rng.NormFloat64()
	crc := 5 * (1 + 100*l.Degradation) * (0.5 + util)

	return model.TelemetrySample{
		Timestamp:   now,
		LatencyUs:   lat,
		Utilization: util,
		BER:         ber,
		TempC:       temp,
		CRCErrors:   crc,
	}
}

// Tick writes fresh samples for every non-failed link. Failed links produce
// no telemetry until the failure clears.
func (g *Generator) Tick(f *fabric.Fabric, now time.Time) {
	for _, l := range f.Links() {
		if l.Failed {
			continue
		}
		s := g.Sample(l, now)
		if err := f.ApplyTelemetry(l.ID, s); err != nil {
			g.logger.Warn("drop generated sample", zap.String("link", l.ID), zap.Error(err))
		}
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
