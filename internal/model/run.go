package model

import "time"

// RunState represents the lifecycle of a recorded pipeline run.
type RunState string

const (
	RunStateRunning  RunState = "running"
	RunStateComplete RunState = "complete"
	RunStateFailed   RunState = "failed"
)

// PipelineRun is one ledger entry for a pipeline stage invocation.
// Stages read and write files; the ledger records what ran, when, and
// what it produced.
type PipelineRun struct {
	ID         string        `json:"id"`
	Stage      string        `json:"stage"`
	Status     RunState      `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Artifacts  []RunArtifact `json:"artifacts,omitempty"`
}

// Duration reports how long the run took, or time since start for a run
// that has not finished.
func (r PipelineRun) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// RunArtifact records one file produced by a run.
type RunArtifact struct {
	RunID     string    `json:"run_id"`
	Path      string    `json:"path"`
	SHA256    string    `json:"sha256"`
	RowCount  int       `json:"row_count"`
	CreatedAt time.Time `json:"created_at"`
}
