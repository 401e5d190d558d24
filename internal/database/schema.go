package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// InitSchema 确保历史表结构已就绪
func InitSchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS health_reports (
		id BIGSERIAL PRIMARY KEY,
		kind VARCHAR(16) NOT NULL,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL,
		finished_at TIMESTAMP WITH TIME ZONE NOT NULL,
		rpc_ratio DOUBLE PRECISION,
		pool_ratio DOUBLE PRECISION,
		overall_ratio DOUBLE PRECISION,
		tier VARCHAR(16) NOT NULL,
		checks JSONB NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS mining_sessions (
		id BIGSERIAL PRIMARY KEY,
		coin VARCHAR(32) NOT NULL,
		pid INTEGER NOT NULL,
		command TEXT NOT NULL,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL,
		ended_at TIMESTAMP WITH TIME ZONE NOT NULL,
		exit_code INTEGER NOT NULL,
		manual BOOLEAN NOT NULL,
		forced BOOLEAN NOT NULL DEFAULT FALSE
	);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_health_reports_finished_at ON health_reports(finished_at)",
		"CREATE INDEX IF NOT EXISTS idx_mining_sessions_coin_ended ON mining_sessions(coin, ended_at)",
	}
	for _, idx := range indices {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			slog.Warn("failed_to_create_index", "err", err)
		}
	}

	slog.Info("database_schema_ready")
	return nil
}
