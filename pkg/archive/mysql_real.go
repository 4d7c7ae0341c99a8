//go:build mysql

package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"fabricmon/pkg/model"
)

type alertRow struct {
	ID       string `gorm:"primaryKey;size:64"`
	Severity string `gorm:"size:16"`
	Kind     string `gorm:"size:16"`
	Ref      string `gorm:"size:128"`
	Message  string `gorm:"size:512"`
	Tick     int64
	TS       int64 `gorm:"index"`
}

func (alertRow) TableName() string { return "alerts" }

type decisionRow struct {
	ID      uint   `gorm:"primaryKey"`
	JobID   string `gorm:"size:64;index"`
	OldPath string `gorm:"size:1024"`
	NewPath string `gorm:"size:1024"`
	OldCost float64
	NewCost float64
	Reason  string `gorm:"size:16"`
	Tick    int64
	TS      int64 `gorm:"index"`
}

func (decisionRow) TableName() string { return "decisions" }

type kpiRow struct {
	Tick        int64 `gorm:"primaryKey"`
	FleetHealth float64
	Bands       string `gorm:"size:256"`
	FailedLinks int
	Anomalies   int
	Jobs        string `gorm:"size:256"`
	ActiveChaos int
	Reroutes    int
	Alerts      int
	TickMs      float64
	TS          int64 `gorm:"index"`
}

func (kpiRow) TableName() string { return "kpis" }

// MySQL archives via GORM, for deployments where the controller host is
// ephemeral and history must outlive it.
type MySQL struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenMySQL connects and runs migrations. The path argument is unused here;
// connection details come from the environment.
// Env:
//
//	MYSQL_DSN or MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASS, MYSQL_DB
func OpenMySQL(_ string, log *zap.Logger) (Archive, error) {
	if log == nil {
		log = zap.NewNop()
	}
	_ = loadDotEnv()
	host := getenv("MYSQL_HOST", "127.0.0.1")
	port := getenv("MYSQL_PORT", "3306")
	user := getenv("MYSQL_USER", "root")
	pass := getenv("MYSQL_PASS", "")
	dbname := getenv("MYSQL_DB", "fabricmon")

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", user, pass, host, port, dbname)
	}

	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		// Try to create database if missing
		if strings.Contains(err.Error(), "Unknown database") {
			if cerr := createDatabase(user, pass, host, port, dbname); cerr != nil {
				return nil, fmt.Errorf("create database failed: %w", cerr)
			}
			db, err = gorm.Open(mysql.Open(dsn), cfg)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	sqlDB, _ := db.DB()
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	if err := db.AutoMigrate(&alertRow{}, &decisionRow{}, &kpiRow{}); err != nil {
		return nil, err
	}
	log.Info("mysql archive ready", zap.String("host", host), zap.String("db", dbname))
	return &MySQL{db: db, logger: log}, nil
}

func (m *MySQL) SaveAlerts(alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	rows := make([]alertRow, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, alertRow{
			ID:       a.ID,
			Severity: a.Severity,
			Kind:     a.Kind,
			Ref:      a.Ref,
			Message:  a.Message,
			Tick:     a.Tick,
			TS:       a.Timestamp.UnixMilli(),
		})
	}
	return m.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (m *MySQL) SaveDecisions(decisions []model.RouteDecision) error {
	if len(decisions) == 0 {
		return nil
	}
	rows := make([]decisionRow, 0, len(decisions))
	for _, d := range decisions {
		oldPath, _ := json.Marshal(d.OldPath)
		newPath, _ := json.Marshal(d.NewPath)
		rows = append(rows, decisionRow{
			JobID:   d.JobID,
			OldPath: string(oldPath),
			NewPath: string(newPath),
			OldCost: d.OldCost,
			NewCost: d.NewCost,
			Reason:  d.Reason,
			Tick:    d.Tick,
			TS:      d.Timestamp.UnixMilli(),
		})
	}
	return m.db.Create(&rows).Error
}

func (m *MySQL) SaveKPI(snap model.KPISnapshot) error {
	bands, _ := json.Marshal(snap.Bands)
	jobs, _ := json.Marshal(snap.Jobs)
	row := kpiRow{
		Tick:        snap.Tick,
		FleetHealth: snap.FleetHealth,
		Bands:       string(bands),
		FailedLinks: snap.FailedLinks,
		Anomalies:   snap.Anomalies,
		Jobs:        string(jobs),
		ActiveChaos: snap.ActiveChaos,
		Reroutes:    snap.Reroutes,
		Alerts:      snap.Alerts,
		TickMs:      snap.TickMs,
		TS:          snap.Timestamp.UnixMilli(),
	}
	return m.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (m *MySQL) RecentAlerts(limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []alertRow
	if err := m.db.Order("ts desc, id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Alert{
			ID:        r.ID,
			Severity:  r.Severity,
			Kind:      r.Kind,
			Ref:       r.Ref,
			Message:   r.Message,
			Tick:      r.Tick,
			Timestamp: time.UnixMilli(r.TS).UTC(),
		})
	}
	return out, nil
}

func (m *MySQL) RecentDecisions(limit int) ([]model.RouteDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []decisionRow
	if err := m.db.Order("ts desc, id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.RouteDecision, 0, len(rows))
	for _, r := range rows {
		d := model.RouteDecision{
			JobID:     r.JobID,
			OldCost:   r.OldCost,
			NewCost:   r.NewCost,
			Reason:    r.Reason,
			Tick:      r.Tick,
			Timestamp: time.UnixMilli(r.TS).UTC(),
		}
		if r.OldPath != "" {
			json.Unmarshal([]byte(r.OldPath), &d.OldPath)
		}
		if r.NewPath != "" {
			json.Unmarshal([]byte(r.NewPath), &d.NewPath)
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *MySQL) RecentKPIs(limit int) ([]model.KPISnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []kpiRow
	if err := m.db.Order("tick desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.KPISnapshot, 0, len(rows))
	for _, r := range rows {
		k := model.KPISnapshot{
			Tick:        r.Tick,
			FleetHealth: r.FleetHealth,
			FailedLinks: r.FailedLinks,
			Anomalies:   r.Anomalies,
			ActiveChaos: r.ActiveChaos,
			Reroutes:    r.Reroutes,
			Alerts:      r.Alerts,
			TickMs:      r.TickMs,
			Timestamp:   time.UnixMilli(r.TS).UTC(),
		}
		if r.Bands != "" {
			json.Unmarshal([]byte(r.Bands), &k.Bands)
		}
		if r.Jobs != "" {
			json.Unmarshal([]byte(r.Jobs), &k.Jobs)
		}
		out = append(out, k)
	}
	return out, nil
}

func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func createDatabase(user, pass, host, port, dbname string) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/", user, pass, host, port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4", dbname))
	return err
}
