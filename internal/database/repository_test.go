package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web3-gateway-go/internal/health"
	"web3-gateway-go/internal/supervisor"
)

func ratio(v float64) *float64 { return &v }

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepositoryFromDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestSaveHealthReport(t *testing.T) {
	repo, mock := newMockRepo(t)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	report := health.Report{
		Kind:         health.KindSweep,
		StartedAt:    start,
		FinishedAt:   start.Add(2 * time.Second),
		RPCRatio:     ratio(0.5),
		PoolRatio:    ratio(1),
		OverallRatio: ratio(0.75),
		Tier:         health.TierImpaired,
		Checks:       []health.CheckResult{{Kind: health.CheckRPC, Coin: "btc", Network: "mainnet", OK: true}},
	}
	checks, err := json.Marshal(report.Checks)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO health_reports").
		WithArgs("sweep", report.StartedAt, report.FinishedAt, 0.5, 1.0, 0.75, "impaired", checks).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.SaveHealthReport(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveHealthReportStoresUnmeasuredAsNull(t *testing.T) {
	repo, mock := newMockRepo(t)
	report := health.Report{Kind: health.KindLiveness, PoolRatio: ratio(1), OverallRatio: ratio(1), Tier: health.TierHealthy}

	mock.ExpectExec("INSERT INTO health_reports").
		WithArgs("liveness", report.StartedAt, report.FinishedAt, nil, 1.0, 1.0, "healthy", []byte("null")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.SaveHealthReport(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveHealthReportError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO health_reports").WillReturnError(errors.New("connection refused"))

	err := repo.SaveHealthReport(context.Background(), health.Report{Kind: health.KindLiveness})
	assert.ErrorContains(t, err, "connection refused")
}

func TestRecordSession(t *testing.T) {
	repo, mock := newMockRepo(t)
	s := supervisor.Session{
		Coin:      "rvn",
		PID:       4242,
		Command:   "/opt/miner/bin/miner --algo kawpow",
		StartedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
		ExitCode:  -1,
		Manual:    true,
		Forced:    true,
	}
	mock.ExpectExec("INSERT INTO mining_sessions").
		WithArgs(s.Coin, s.PID, s.Command, s.StartedAt, s.EndedAt, s.ExitCode, s.Manual, s.Forced).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.RecordSession(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentReports(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "kind", "started_at", "finished_at", "rpc_ratio", "pool_ratio", "overall_ratio", "tier", "checks"}).
		AddRow(2, "sweep", now, now, 1.0, 1.0, 1.0, "healthy", []byte(`[]`)).
		AddRow(1, "liveness", now, now, nil, 0.0, 0.0, "critical", []byte(`[{"kind":"pool"}]`))
	mock.ExpectQuery("SELECT (.+) FROM health_reports").WithArgs(10).WillReturnRows(rows)

	got, err := repo.RecentReports(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, "critical", got[1].Tier)
	assert.Nil(t, got[1].RPCRatio)
	require.NotNil(t, got[1].PoolRatio)
	assert.Equal(t, 0.0, *got[1].PoolRatio)
	assert.JSONEq(t, `[{"kind":"pool"}]`, string(got[1].Checks))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentSessions(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"coin", "pid", "command", "started_at", "ended_at", "exit_code", "manual", "forced"}).
		AddRow("etc", 7, "miner --algo etchash", now.Add(-time.Hour), now, 3, false, false)
	mock.ExpectQuery("SELECT (.+) FROM mining_sessions").WithArgs("etc", 5).WillReturnRows(rows)

	got, err := repo.RecentSessions(context.Background(), "etc", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].ExitCode)
	assert.False(t, got[0].Manual)
}

func TestInitSchema(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS health_reports").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_health_reports_finished_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_mining_sessions_coin_ended").WillReturnError(errors.New("permission denied"))

	require.NoError(t, InitSchema(context.Background(), repo.DB()), "index failures are not fatal")
	assert.NoError(t, mock.ExpectationsWereMet())
}
