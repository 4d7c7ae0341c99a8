package archive

import (
	"fmt"

	"go.uber.org/zap"

	"fabricmon/pkg/model"
)

// Archive persists alerts, route decisions and KPI snapshots beyond the
// in-memory rings. Recent* methods return newest first. Writes happen after
// a tick completes, off the hot path, so implementations favor simplicity
// over throughput.
type Archive interface {
	SaveAlerts(alerts []model.Alert) error
	SaveDecisions(decisions []model.RouteDecision) error
	SaveKPI(snap model.KPISnapshot) error
	RecentAlerts(limit int) ([]model.Alert, error)
	RecentDecisions(limit int) ([]model.RouteDecision, error)
	RecentKPIs(limit int) ([]model.KPISnapshot, error)
	Close() error
}

// Open constructs the configured backend. Supported kinds: none (discard),
// sqlite, mysql (build tag gated; falls back to sqlite otherwise).
func Open(kind, path string, logger *zap.Logger) (Archive, error) {
	switch kind {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		return OpenSQLite(path, logger)
	case "mysql":
		return OpenMySQL(path, logger)
	}
	return nil, fmt.Errorf("unknown archive backend %q", kind)
}

// Nop discards writes and returns empty reads.
type Nop struct{}

func (Nop) SaveAlerts([]model.Alert) error            { return nil }
func (Nop) SaveDecisions([]model.RouteDecision) error { return nil }
func (Nop) SaveKPI(model.KPISnapshot) error           { return nil }

func (Nop) RecentAlerts(int) ([]model.Alert, error)            { return nil, nil }
func (Nop) RecentDecisions(int) ([]model.RouteDecision, error) { return nil, nil }
func (Nop) RecentKPIs(int) ([]model.KPISnapshot, error)        { return nil, nil }

func (Nop) Close() error { return nil }
