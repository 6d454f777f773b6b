package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sedationlab/dexatlas/internal/artifact"
	"github.com/sedationlab/dexatlas/internal/bundle"
	"github.com/sedationlab/dexatlas/internal/classify"
	"github.com/sedationlab/dexatlas/internal/extract"
	"github.com/sedationlab/dexatlas/internal/ingest"
	"github.com/sedationlab/dexatlas/internal/linkage"
	"github.com/sedationlab/dexatlas/internal/model"
	"github.com/sedationlab/dexatlas/internal/summary"
	"github.com/sedationlab/dexatlas/internal/validate"
)

// stageArtifact names one file a stage wrote, with its logical row count.
type stageArtifact struct {
	Path string
	Rows int
}

// stageOutput is what one pipeline stage hands back: a JSON-encodable
// summary for stdout and the files it wrote, for ledger recording.
type stageOutput struct {
	Summary   any
	Artifacts []stageArtifact
}

// extractSummary mirrors the unmatched-keys audit artifact.
type extractSummary struct {
	UnmatchedRoBKeys []string           `json:"unmatched_rob_keys"`
	RawWrite         rawWriteMeta       `json:"raw_write"`
	ParsedWrite      artifact.StoreMeta `json:"parsed_write"`
	NArticleRows     int                `json:"n_articles_rows"`
	NCanonicalRows   int                `json:"n_canonical_rows"`
}

// rawWriteMeta records where the shaped article rows landed.
type rawWriteMeta struct {
	Target   string `json:"target"`
	RowCount int    `json:"row_count"`
}

// extractStage canonicalizes the tabulated article rows into trial-arm
// records and writes the interim artifacts.
func extractStage(ctx context.Context) (*stageOutput, error) {
	rules := classify.DefaultRules()
	if cfg.Rules.ComparatorRules != "" {
		loaded, err := classify.LoadRules(cfg.Rules.ComparatorRules)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	articles, err := ingest.ReadArticleTable(cfg.Paths.ArticlesFile)
	if err != nil {
		return nil, err
	}
	rob, _, err := ingest.ReadRoBWorkbook(cfg.Paths.RoBFile)
	if err != nil {
		return nil, err
	}
	enrichment, err := ingest.ReadEnrichment(cfg.Paths.EnrichmentFile)
	if err != nil {
		return nil, err
	}
	adjudications, err := ingest.ReadAdjudications(cfg.Paths.AdjudicationsFile)
	if err != nil {
		return nil, err
	}
	references, err := ingest.ReadReferences(cfg.Paths.ReferencesFile)
	if err != nil {
		return nil, err
	}

	res := extract.Run(extract.Inputs{
		Articles:      articles,
		RoB:           rob,
		Rules:         rules,
		Enrichment:    enrichment,
		Adjudications: adjudications,
		References:    references,
	})

	rawPath := cfg.Paths.InterimRaw()
	if err := artifact.WriteJSON(rawPath, articles); err != nil {
		return nil, err
	}

	parsedPath := cfg.Paths.InterimParsed()
	parsedMeta, err := artifact.WriteInterimRecords(parsedPath, res.Records)
	if err != nil {
		return nil, err
	}

	sum := extractSummary{
		UnmatchedRoBKeys: res.UnmatchedRoBKeys,
		RawWrite:         rawWriteMeta{Target: rawPath, RowCount: len(articles)},
		ParsedWrite:      parsedMeta,
		NArticleRows:     res.NArticleRows,
		NCanonicalRows:   len(res.Records),
	}
	if err := artifact.WriteJSON(cfg.Paths.UnmatchedRoBKeys(), sum); err != nil {
		return nil, err
	}

	parsedOut := parsedPath
	if !parsedMeta.JSONWritten {
		parsedOut = parsedMeta.FallbackCSV
	}
	return &stageOutput{
		Summary: sum,
		Artifacts: []stageArtifact{
			{Path: rawPath, Rows: len(articles)},
			{Path: parsedOut, Rows: len(res.Records)},
			{Path: cfg.Paths.UnmatchedRoBKeys(), Rows: len(res.UnmatchedRoBKeys)},
		},
	}, nil
}

// validateStage screens the interim records, writes the curated set, the
// review queue, and the validation report, then applies the critical-flag
// gate. Artifacts land on disk before the gate fires so adjudicators can
// inspect what failed.
func validateStage(ctx context.Context, allowUnresolved bool) (*stageOutput, error) {
	records, rep, err := artifact.ReadInterimRecords(cfg.Paths.InterimParsed())
	if err != nil {
		return nil, err
	}
	zap.L().Info("interim records loaded",
		zap.Int("rows", len(records)),
		zap.String("representation", string(rep)),
	)

	res := validate.Run(records, allowUnresolved)

	if err := artifact.WriteJSON(cfg.Paths.TrialsCurated(), res.Curated); err != nil {
		return nil, err
	}
	reviewRows := make([][]string, len(res.Review))
	for i, row := range res.Review {
		reviewRows[i] = row.Record()
	}
	if err := artifact.WriteCSV(cfg.Paths.ReviewQueue(), validate.ReviewQueueColumns, reviewRows); err != nil {
		return nil, err
	}
	if err := artifact.WriteJSON(cfg.Paths.ValidationReport(), res.Report); err != nil {
		return nil, err
	}

	if err := res.Report.Gate(); err != nil {
		return nil, err
	}

	return &stageOutput{
		Summary: res.Report,
		Artifacts: []stageArtifact{
			{Path: cfg.Paths.TrialsCurated(), Rows: len(res.Curated)},
			{Path: cfg.Paths.ReviewQueue(), Rows: len(res.Review)},
			{Path: cfg.Paths.ValidationReport(), Rows: 1},
		},
	}, nil
}

// linkStage joins curated trials to delirium event counts and writes the
// arm-level table, the per-trial audit report, and the coverage summary.
// An empty tablesFile selects the built-in override tables.
func linkStage(ctx context.Context, tablesFile string) (*stageOutput, error) {
	tables := linkage.DefaultTables()
	if tablesFile != "" {
		loaded, err := linkage.LoadTables(tablesFile)
		if err != nil {
			return nil, err
		}
		tables = loaded
	}

	trials, err := ingest.ReadTrialRecords(cfg.Paths.TrialsCurated())
	if err != nil {
		return nil, err
	}
	events, err := ingest.ReadEventCounts(cfg.Paths.EventDataFile)
	if err != nil {
		return nil, err
	}

	armRows, audit, coverage, err := linkage.NewLinker(tables).Link(trials, events)
	if err != nil {
		return nil, err
	}

	armRecords := make([][]string, len(armRows))
	for i, row := range armRows {
		armRecords[i] = row.Record()
	}
	if err := artifact.WriteCSV(cfg.Paths.ArmLevel(), model.ArmLevelColumns, armRecords); err != nil {
		return nil, err
	}

	auditRecords := make([][]string, len(audit))
	for i, rec := range audit {
		auditRecords[i] = rec.Record()
	}
	if err := artifact.WriteCSV(cfg.Paths.LinkageReport(), model.LinkageAuditColumns, auditRecords); err != nil {
		return nil, err
	}
	if err := artifact.WriteJSON(cfg.Paths.CoverageSummary(), coverage); err != nil {
		return nil, err
	}

	return &stageOutput{
		Summary: coverage,
		Artifacts: []stageArtifact{
			{Path: cfg.Paths.ArmLevel(), Rows: len(armRows)},
			{Path: cfg.Paths.LinkageReport(), Rows: len(audit)},
			{Path: cfg.Paths.CoverageSummary(), Rows: 1},
		},
	}, nil
}

// bundleSummary is the stdout digest of a bundle build.
type bundleSummary struct {
	SchemaVersion int                  `json:"schema_version"`
	NRows         int                  `json:"n_rows"`
	GridPoints    int                  `json:"grid_points"`
	Coverage      model.BundleCoverage `json:"coverage"`
	Path          string               `json:"path"`
}

// bundleStage merges the arm-level counts with the externally fitted model
// tables into the precomputed viewer payload.
func bundleStage(ctx context.Context, grid bundle.GridSpec) (*stageOutput, error) {
	armRows, err := ingest.ReadArmLevelCounts(cfg.Paths.ArmLevel())
	if err != nil {
		return nil, err
	}
	shrinkage, err := ingest.ReadShrinkage(cfg.Paths.ShrinkageCSV())
	if err != nil {
		return nil, err
	}
	crude, err := ingest.ReadCrude(cfg.Paths.CrudeCSV())
	if err != nil {
		return nil, err
	}
	overall, err := ingest.ReadOverallSummary(cfg.Paths.OverallCSV())
	if err != nil {
		return nil, err
	}

	b, err := bundle.Assemble(armRows, shrinkage, crude, overall, grid)
	if err != nil {
		return nil, err
	}
	if err := artifact.WriteJSON(cfg.Paths.BundleOut(), b); err != nil {
		return nil, err
	}

	return &stageOutput{
		Summary: bundleSummary{
			SchemaVersion: b.SchemaVersion,
			NRows:         len(b.Rows),
			GridPoints:    len(b.GridOR),
			Coverage:      b.Coverage,
			Path:          cfg.Paths.BundleOut(),
		},
		Artifacts: []stageArtifact{{Path: cfg.Paths.BundleOut(), Rows: len(b.Rows)}},
	}, nil
}

// summarizeSummary is the stdout digest of a summarize pass.
type summarizeSummary struct {
	NRecords int      `json:"n_records"`
	Outputs  []string `json:"outputs"`
}

// summarizeStage builds the descriptive dose and risk-of-bias summaries
// from the curated record set.
func summarizeStage(ctx context.Context) (*stageOutput, error) {
	records, err := ingest.ReadTrialRecords(cfg.Paths.TrialsCurated())
	if err != nil {
		return nil, err
	}

	overall := summary.BuildOverall(records)
	byRoB := summary.BuildByRoB(records)

	if err := artifact.WriteJSON(cfg.Paths.SummaryOverall(), overall); err != nil {
		return nil, err
	}
	if err := artifact.WriteJSON(cfg.Paths.SummaryByRoB(), byRoB); err != nil {
		return nil, err
	}

	return &stageOutput{
		Summary: summarizeSummary{
			NRecords: len(records),
			Outputs:  []string{cfg.Paths.SummaryOverall(), cfg.Paths.SummaryByRoB()},
		},
		Artifacts: []stageArtifact{
			{Path: cfg.Paths.SummaryOverall(), Rows: 1},
			{Path: cfg.Paths.SummaryByRoB(), Rows: 1},
		},
	}, nil
}

// syncSummary is the stdout digest of a publication sync.
type syncSummary struct {
	Copied    []string          `json:"copied"`
	Checksums map[string]string `json:"checksums"`
	DocsDir   string            `json:"docs_dir"`
}

// syncStage hashes the published artifacts and copies them into the static
// site's data directory.
func syncStage(ctx context.Context) (*stageOutput, error) {
	sums, err := artifact.Checksums(ctx, cfg.Paths.ProcessedDir, artifact.PublishedNames)
	if err != nil {
		return nil, err
	}
	if err := artifact.WriteJSON(cfg.Paths.ChecksumsOut(), sums); err != nil {
		return nil, err
	}

	copied, err := artifact.SyncDir(cfg.Paths.ProcessedDir, cfg.Paths.DocsDataDir, artifact.PublishedNames)
	if err != nil {
		return nil, err
	}
	zap.L().Info("published artifacts synced",
		zap.Int("copied", len(copied)),
		zap.String("docs_dir", cfg.Paths.DocsDataDir),
	)

	return &stageOutput{
		Summary:   syncSummary{Copied: copied, Checksums: sums, DocsDir: cfg.Paths.DocsDataDir},
		Artifacts: []stageArtifact{{Path: cfg.Paths.ChecksumsOut(), Rows: len(sums)}},
	}, nil
}
