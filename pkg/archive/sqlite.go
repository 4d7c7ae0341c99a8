package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"fabricmon/pkg/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id       TEXT PRIMARY KEY,
	severity TEXT NOT NULL,
	kind     TEXT NOT NULL,
	ref      TEXT,
	message  TEXT NOT NULL,
	tick     INTEGER NOT NULL,
	ts       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts);

CREATE TABLE IF NOT EXISTS decisions (
	job_id   TEXT NOT NULL,
	old_path TEXT,
	new_path TEXT,
	old_cost REAL,
	new_cost REAL,
	reason   TEXT NOT NULL,
	tick     INTEGER NOT NULL,
	ts       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);

CREATE TABLE IF NOT EXISTS kpis (
	tick         INTEGER PRIMARY KEY,
	fleet_health REAL NOT NULL,
	bands        TEXT,
	failed_links INTEGER NOT NULL,
	anomalies    INTEGER NOT NULL,
	jobs         TEXT,
	active_chaos INTEGER NOT NULL,
	reroutes     INTEGER NOT NULL,
	alerts       INTEGER NOT NULL,
	tick_ms      REAL NOT NULL,
	ts           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kpis_ts ON kpis(ts);
`

// SQLite archives to a local file via modernc.org/sqlite (no cgo). A single
// connection avoids SQLITE_BUSY churn; writes are batched per tick anyway.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the archive database at path.
func OpenSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = "fabricmon.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite archive: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite archive: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}

	logger.Info("sqlite archive ready", zap.String("path", path))
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) SaveAlerts(alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin alert batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO alerts
		(id, severity, kind, ref, message, tick, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare alert insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range alerts {
		if _, err := stmt.Exec(a.ID, a.Severity, a.Kind, a.Ref, a.Message, a.Tick, a.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("insert alert %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) SaveDecisions(decisions []model.RouteDecision) error {
	if len(decisions) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin decision batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO decisions
		(job_id, old_path, new_path, old_cost, new_cost, reason, tick, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare decision insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range decisions {
		oldPath, _ := json.Marshal(d.OldPath)
		newPath, _ := json.Marshal(d.NewPath)
		if _, err := stmt.Exec(d.JobID, string(oldPath), string(newPath),
			d.OldCost, d.NewCost, d.Reason, d.Tick, d.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("insert decision for job %s: %w", d.JobID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) SaveKPI(snap model.KPISnapshot) error {
	bands, _ := json.Marshal(snap.Bands)
	jobs, _ := json.Marshal(snap.Jobs)
	_, err := s.db.Exec(`INSERT OR REPLACE INTO kpis
		(tick, fleet_health, bands, failed_links, anomalies, jobs, active_chaos, reroutes, alerts, tick_ms, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Tick, snap.FleetHealth, string(bands), snap.FailedLinks, snap.Anomalies,
		string(jobs), snap.ActiveChaos, snap.Reroutes, snap.Alerts, snap.TickMs,
		snap.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert kpi for tick %d: %w", snap.Tick, err)
	}
	return nil
}

func (s *SQLite) RecentAlerts(limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, severity, kind, ref, message, tick, ts
		FROM alerts ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var ref sql.NullString
		var ts int64
		if err := rows.Scan(&a.ID, &a.Severity, &a.Kind, &ref, &a.Message, &a.Tick, &ts); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Ref = ref.String
		a.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) RecentDecisions(limit int) ([]model.RouteDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT job_id, old_path, new_path, old_cost, new_cost, reason, tick, ts
		FROM decisions ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []model.RouteDecision
	for rows.Next() {
		var d model.RouteDecision
		var oldPath, newPath sql.NullString
		var ts int64
		if err := rows.Scan(&d.JobID, &oldPath, &newPath, &d.OldCost, &d.NewCost, &d.Reason, &d.Tick, &ts); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if oldPath.Valid && oldPath.String != "" {
			json.Unmarshal([]byte(oldPath.String), &d.OldPath)
		}
		if newPath.Valid && newPath.String != "" {
			json.Unmarshal([]byte(newPath.String), &d.NewPath)
		}
		d.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) RecentKPIs(limit int) ([]model.KPISnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT tick, fleet_health, bands, failed_links, anomalies, jobs, active_chaos, reroutes, alerts, tick_ms, ts
		FROM kpis ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query kpis: %w", err)
	}
	defer rows.Close()

	var out []model.KPISnapshot
	for rows.Next() {
		var k model.KPISnapshot
		var bands, jobs sql.NullString
		var ts int64
		if err := rows.Scan(&k.Tick, &k.FleetHealth, &bands, &k.FailedLinks, &k.Anomalies,
			&jobs, &k.ActiveChaos, &k.Reroutes, &k.Alerts, &k.TickMs, &ts); err != nil {
			return nil, fmt.Errorf("scan kpi: %w", err)
		}
		if bands.Valid && bands.String != "" {
			json.Unmarshal([]byte(bands.String), &k.Bands)
		}
		if jobs.Valid && jobs.String != "" {
			json.Unmarshal([]byte(jobs.String), &k.Jobs)
		}
		k.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
