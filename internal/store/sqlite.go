package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sedationlab/dexatlas/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_artifacts (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	path       TEXT NOT NULL,
	sha256     TEXT NOT NULL,
	row_count  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, path)
);

CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_artifacts_run_id ON run_artifacts(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) BeginRun(ctx context.Context, stage string) (*model.PipelineRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, stage, status, started_at) VALUES (?, ?, ?, ?)`,
		id, stage, string(model.RunStateRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for stage %s", stage)
	}

	return &model.PipelineRun{
		ID:        id,
		Stage:     stage,
		Status:    model.RunStateRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		string(model.RunStateComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(model.RunStateFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) RecordArtifact(ctx context.Context, runID string, artifact model.RunArtifact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_artifacts (run_id, path, sha256, row_count, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, path) DO UPDATE SET sha256 = excluded.sha256, row_count = excluded.row_count, created_at = excluded.created_at`,
		runID, artifact.Path, artifact.SHA256, artifact.RowCount, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record artifact %s for run %s", artifact.Path, runID)
}

func (s *SQLiteStore) RecordArtifacts(ctx context.Context, runID string, artifacts []model.RunArtifact) error {
	if len(artifacts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, a := range artifacts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_artifacts (run_id, path, sha256, row_count, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (run_id, path) DO UPDATE SET sha256 = excluded.sha256, row_count = excluded.row_count, created_at = excluded.created_at`,
			runID, a.Path, a.SHA256, a.RowCount, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: record artifact %s for run %s", a.Path, runID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit artifacts")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stage, status, error, started_at, finished_at FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	artifacts, err := s.listArtifacts(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Artifacts = artifacts
	return run, nil
}

func (s *SQLiteStore) listArtifacts(ctx context.Context, runID string) ([]model.RunArtifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, path, sha256, row_count, created_at FROM run_artifacts WHERE run_id = ? ORDER BY path`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list artifacts for run %s", runID)
	}
	defer rows.Close()

	var artifacts []model.RunArtifact
	for rows.Next() {
		var a model.RunArtifact
		if err := rows.Scan(&a.RunID, &a.Path, &a.SHA256, &a.RowCount, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact")
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, eris.Wrap(rows.Err(), "sqlite: list artifacts iterate")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT id, stage, status, error, started_at, finished_at FROM runs WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, filter.Stage)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var errMsg sql.NullString
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.Stage, &r.Status, &errMsg, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
