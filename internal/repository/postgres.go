package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/secops-platform/secops-core/internal/playbook"
	"github.com/secops-platform/secops-core/internal/response"
	apperrors "github.com/secops-platform/secops-core/pkg/errors"
)

const executionSchema = `
CREATE TABLE IF NOT EXISTS soar_executions (
	id          TEXT PRIMARY KEY,
	event_id    TEXT NOT NULL,
	playbook_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ,
	payload     JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_soar_executions_started ON soar_executions (started_at DESC);
CREATE INDEX IF NOT EXISTS idx_soar_executions_status ON soar_executions (status);

CREATE TABLE IF NOT EXISTS response_reports (
	execution_id TEXT PRIMARY KEY,
	event_id     TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	payload      JSONB NOT NULL
);
`

// PostgresStore persists executions and reports in PostgreSQL. Rows
// carry the full snapshot as JSONB alongside queryable columns.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects, configures the pool, and ensures the
// schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if _, err := db.Exec(executionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) SaveExecution(ctx context.Context, exec *playbook.Execution) error {
	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	query := `
		INSERT INTO soar_executions (id, event_id, playbook_id, status, started_at, ended_at, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			ended_at = EXCLUDED.ended_at,
			payload = EXCLUDED.payload,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query,
		exec.ID, exec.EventID, exec.PlaybookID, string(exec.Status),
		exec.StartedAt, nullTime(exec.EndedAt), payload,
	); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// nullTime maps the execution's end time to the nullable column; the
// zero value means the execution is still running.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*playbook.Execution, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM soar_executions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("execution " + id)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	var exec playbook.Execution
	if err := json.Unmarshal(payload, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &exec, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, limit int) ([]*playbook.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	var payloads [][]byte
	err := s.db.SelectContext(ctx, &payloads,
		`SELECT payload FROM soar_executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	out := make([]*playbook.Execution, 0, len(payloads))
	for _, p := range payloads {
		var exec playbook.Execution
		if err := json.Unmarshal(p, &exec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		out = append(out, &exec)
	}
	return out, nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, report *response.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	query := `
		INSERT INTO response_reports (execution_id, event_id, created_at, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (execution_id) DO UPDATE SET payload = EXCLUDED.payload
	`
	if _, err := s.db.ExecContext(ctx, query,
		report.ExecutionID, report.EventID, report.GeneratedAt, payload,
	); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, executionID string) (*response.Report, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM response_reports WHERE execution_id = $1`, executionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("report for execution " + executionID)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report response.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}
