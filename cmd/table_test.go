package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sedationlab/dexatlas/internal/model"
)

func TestRenderTable_Basic(t *testing.T) {
	out := renderTable(
		[]string{"STAGE", "N"},
		[][]string{{"extract", "42"}, {"link"}},
		[]columnAlignment{alignLeft, alignRight},
	)

	assert.Contains(t, out, "STAGE")
	assert.Contains(t, out, "extract")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "link")
}

func TestRenderTable_NoHeaders(t *testing.T) {
	assert.Equal(t, "", renderTable(nil, nil, nil))
}

func TestRenderRunsTable(t *testing.T) {
	finished := time.Now()
	started := finished.Add(-90 * time.Second)
	runs := []model.PipelineRun{
		{
			ID:         "0f47ac10b58cc4372a5670e02b2c3d47",
			Stage:      "extract",
			Status:     model.RunStateComplete,
			StartedAt:  started,
			FinishedAt: &finished,
		},
		{
			ID:        "deadbeef99",
			Stage:     "link",
			Status:    model.RunStateFailed,
			StartedAt: started,
			Error:     "event csv missing",
		},
	}

	out := renderRunsTable(runs)

	assert.Contains(t, out, "0f47ac10")
	assert.Contains(t, out, "extract")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "deadbeef")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "event csv missing")
}

func TestRenderCoverageTable(t *testing.T) {
	cov := model.LinkageCoverage{
		NTrialsCurated:   40,
		NExtractedTrials: 38,
		NExtractedRows:   41,
		NMissingInCSV:    2,
	}

	out := renderCoverageTable(cov)

	assert.Contains(t, out, "LINKAGE COVERAGE")
	assert.Contains(t, out, "curated trials")
	assert.Contains(t, out, "40")
	assert.Contains(t, out, "missing in event data")
	assert.Contains(t, out, "multi-dex trials")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a long ...", truncate("a long error message", 10))
	assert.Equal(t, "abcdefgh", truncateID("abcdefgh12345"))
	assert.Equal(t, "abc", truncateID("abc"))
}
