package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sedationlab/dexatlas/internal/db"
	"github.com/sedationlab/dexatlas/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used ledger operations.
var preparedStatements = map[string]string{
	"insert_run":      `INSERT INTO runs (id, stage, status, started_at) VALUES ($1, $2, $3, $4)`,
	"complete_run":    `UPDATE runs SET status = $1, finished_at = $2 WHERE id = $3`,
	"fail_run":        `UPDATE runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
	"get_run":         `SELECT id, stage, status, error, started_at, finished_at FROM runs WHERE id = $1`,
	"insert_artifact": `INSERT INTO run_artifacts (run_id, path, sha256, row_count, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (run_id, path) DO UPDATE SET sha256 = $3, row_count = $4, created_at = $5`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_artifacts (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	path       TEXT NOT NULL,
	sha256     TEXT NOT NULL,
	row_count  INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, path)
);

CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_artifacts_run_id ON run_artifacts(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) BeginRun(ctx context.Context, stage string) (*model.PipelineRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, stage, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, stage, string(model.RunStateRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for stage %s", stage)
	}

	return &model.PipelineRun{
		ID:        id,
		Stage:     stage,
		Status:    model.RunStateRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, finished_at = $2 WHERE id = $3`,
		string(model.RunStateComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		string(model.RunStateFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) RecordArtifact(ctx context.Context, runID string, artifact model.RunArtifact) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_artifacts (run_id, path, sha256, row_count, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, path) DO UPDATE SET sha256 = $3, row_count = $4, created_at = $5`,
		runID, artifact.Path, artifact.SHA256, artifact.RowCount, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record artifact %s for run %s", artifact.Path, runID)
}

// RecordArtifacts bulk-inserts artifacts for a freshly created run via COPY.
func (s *PostgresStore) RecordArtifacts(ctx context.Context, runID string, artifacts []model.RunArtifact) error {
	if len(artifacts) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(artifacts))
	for _, a := range artifacts {
		rows = append(rows, []any{runID, a.Path, a.SHA256, a.RowCount, now})
	}

	_, err := db.CopyFrom(ctx, s.pool, "run_artifacts",
		[]string{"run_id", "path", "sha256", "row_count", "created_at"}, rows)
	return eris.Wrapf(err, "postgres: record artifacts for run %s", runID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var errMsg *string
	var finished *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, stage, status, error, started_at, finished_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Stage, &r.Status, &errMsg, &r.StartedAt, &finished)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if errMsg != nil {
		r.Error = *errMsg
	}
	r.FinishedAt = finished

	artifacts, err := s.listArtifacts(ctx, runID)
	if err != nil {
		return nil, err
	}
	r.Artifacts = artifacts
	return &r, nil
}

func (s *PostgresStore) listArtifacts(ctx context.Context, runID string) ([]model.RunArtifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, path, sha256, row_count, created_at FROM run_artifacts WHERE run_id = $1 ORDER BY path`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list artifacts for run %s", runID)
	}
	defer rows.Close()

	var artifacts []model.RunArtifact
	for rows.Next() {
		var a model.RunArtifact
		if err := rows.Scan(&a.RunID, &a.Path, &a.SHA256, &a.RowCount, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact")
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, eris.Wrap(rows.Err(), "postgres: list artifacts iterate")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT id, stage, status, error, started_at, finished_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, filter.Stage)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		var r model.PipelineRun
		var errMsg *string
		var finished *time.Time

		if err := rows.Scan(&r.ID, &r.Stage, &r.Status, &errMsg, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		r.FinishedAt = finished
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
