// Package database persists health reports and finished mining sessions.
// Persistence is best effort: callers log failures and carry on.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"web3-gateway-go/internal/health"
	"web3-gateway-go/internal/supervisor"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	db, err := sqlx.Connect("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Repository{db: db}, nil
}

// NewRepositoryFromDB wraps an existing handle.
func NewRepositoryFromDB(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sqlx.DB {
	return r.db
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// HealthReportRow 健康报告历史记录
type HealthReportRow struct {
	ID           int64           `db:"id" json:"id"`
	Kind         string          `db:"kind" json:"kind"`
	StartedAt    time.Time       `db:"started_at" json:"started_at"`
	FinishedAt   time.Time       `db:"finished_at" json:"finished_at"`
	RPCRatio     *float64        `db:"rpc_ratio" json:"rpc_health_ratio"`
	PoolRatio    *float64        `db:"pool_ratio" json:"pool_health_ratio"`
	OverallRatio *float64        `db:"overall_ratio" json:"overall_health_ratio"`
	Tier         string          `db:"tier" json:"tier"`
	Checks       json.RawMessage `db:"checks" json:"checks"`
}

// SaveHealthReport 插入一次巡检结果，单项检查以 JSONB 存储；未测量的比例存为 NULL
func (r *Repository) SaveHealthReport(ctx context.Context, report health.Report) error {
	checks, err := json.Marshal(report.Checks)
	if err != nil {
		return fmt.Errorf("encode checks: %w", err)
	}
	query := `
		INSERT INTO health_reports
		(kind, started_at, finished_at, rpc_ratio, pool_ratio, overall_ratio, tier, checks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		string(report.Kind), report.StartedAt, report.FinishedAt,
		report.RPCRatio, report.PoolRatio, report.OverallRatio,
		string(report.Tier), checks)
	return err
}

// RecentReports returns the newest reports first.
func (r *Repository) RecentReports(ctx context.Context, limit int) ([]HealthReportRow, error) {
	var rows []HealthReportRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, kind, started_at, finished_at, rpc_ratio, pool_ratio, overall_ratio, tier, checks
		FROM health_reports
		ORDER BY finished_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query health reports: %w", err)
	}
	return rows, nil
}

// RecordSession 记录一次已结束的挖矿进程
func (r *Repository) RecordSession(ctx context.Context, s supervisor.Session) error {
	query := `
		INSERT INTO mining_sessions
		(coin, pid, command, started_at, ended_at, exit_code, manual, forced)
		VALUES
		(:coin, :pid, :command, :started_at, :ended_at, :exit_code, :manual, :forced)
	`
	_, err := r.db.NamedExecContext(ctx, query, s)
	return err
}

// RecentSessions returns the newest sessions of one coin first.
func (r *Repository) RecentSessions(ctx context.Context, coin string, limit int) ([]supervisor.Session, error) {
	var sessions []supervisor.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT coin, pid, command, started_at, ended_at, exit_code, manual, forced
		FROM mining_sessions
		WHERE coin = $1
		ORDER BY ended_at DESC
		LIMIT $2
	`, coin, limit)
	if err != nil {
		return nil, fmt.Errorf("query mining sessions: %w", err)
	}
	return sessions, nil
}
