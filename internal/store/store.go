// Package store persists a ledger of pipeline runs and the artifacts
// they produce. Stages work file-to-file; the ledger is an audit trail
// of what ran, when, and what came out.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sedationlab/dexatlas/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Stage  string         `json:"stage,omitempty"`
	Status model.RunState `json:"status,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}

// Store defines the persistence interface for the run ledger.
type Store interface {
	// Runs
	BeginRun(ctx context.Context, stage string) (*model.PipelineRun, error)
	CompleteRun(ctx context.Context, runID string) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)

	// Artifacts
	RecordArtifact(ctx context.Context, runID string, artifact model.RunArtifact) error
	RecordArtifacts(ctx context.Context, runID string, artifacts []model.RunArtifact) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
}
