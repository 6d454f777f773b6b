package model

// ShrinkageRow is one externally fitted study-specific log-odds-ratio
// posterior summary.
type ShrinkageRow struct {
	TrialID     string
	DexArmIndex int
	MedianLogOR float64
	LowerLogOR  float64
	UpperLogOR  float64
}

// CrudeRow is one externally computed unadjusted odds-ratio estimate.
type CrudeRow struct {
	TrialID     string
	DexArmIndex int
	CrudeOR     float64
	CrudeORLow  float64
	CrudeORHigh float64
}

// OverallSummary is the single-row pooled estimate on the odds-ratio scale.
type OverallSummary struct {
	MedianOR float64
	LowerOR  float64
	UpperOR  float64
}

// BundleRow is the final published record per comparison. Rows without model
// statistics keep their counts, carry null estimates, and have an empty curve.
type BundleRow struct {
	ComparisonID       string    `json:"comparison_id"`
	TrialID            string    `json:"trial_id"`
	TrialIDCanonical   string    `json:"trial_id_canonical"`
	StudyLabel         string    `json:"study_label"`
	DexArmIndex        int       `json:"dex_arm_index"`
	DexArmLabel        string    `json:"dex_arm_label"`
	DexEvents          int       `json:"dex_events"`
	DexTotal           int       `json:"dex_total"`
	ControlEvents      int       `json:"control_events"`
	ControlTotal       int       `json:"control_total"`
	HasModel           bool      `json:"has_model"`
	ShrinkageLogOR     *float64  `json:"shrinkage_log_or"`
	ShrinkageLogORLow  *float64  `json:"shrinkage_log_or_low"`
	ShrinkageLogORHigh *float64  `json:"shrinkage_log_or_high"`
	ShrinkageOR        *float64  `json:"shrinkage_or"`
	ShrinkageORLow     *float64  `json:"shrinkage_or_low"`
	ShrinkageORHigh    *float64  `json:"shrinkage_or_high"`
	CrudeOR            *float64  `json:"crude_or"`
	CrudeORLow         *float64  `json:"crude_or_low"`
	CrudeORHigh        *float64  `json:"crude_or_high"`
	DensityNorm        []float64 `json:"density_norm"`
}

// OverallEstimate is the pooled estimate transformed onto both scales with
// its normalized density curve.
type OverallEstimate struct {
	MedianOR    float64   `json:"median_or"`
	LowerOR     float64   `json:"lower_or"`
	UpperOR     float64   `json:"upper_or"`
	MedianLogOR float64   `json:"median_log_or"`
	LowerLogOR  float64   `json:"lower_log_or"`
	UpperLogOR  float64   `json:"upper_log_or"`
	DensityNorm []float64 `json:"density_norm"`
}

// BundleCounts aggregates dex/control counts over all bundle rows.
type BundleCounts struct {
	DexEvents     int `json:"dex_events"`
	DexTotal      int `json:"dex_total"`
	ControlEvents int `json:"control_events"`
	ControlTotal  int `json:"control_total"`
}

// BundleCoverage reports how many comparisons carry model statistics.
type BundleCoverage struct {
	NArmRows                  int      `json:"n_arm_rows"`
	NUniqueTrials             int      `json:"n_unique_trials"`
	NRowsWithModel            int      `json:"n_rows_with_model"`
	NRowsMissingModel         int      `json:"n_rows_missing_model"`
	MissingModelComparisonIDs []string `json:"missing_model_comparison_ids"`
}

// Bundle is the complete precomputed payload consumed by the viewer.
type Bundle struct {
	SchemaVersion int             `json:"schema_version"`
	CreatedAtUTC  string          `json:"created_at_utc"`
	XLimitsOR     []float64       `json:"x_limits_or"`
	XTicksOR      []float64       `json:"x_ticks_or"`
	GridOR        []float64       `json:"grid_or"`
	Overall       OverallEstimate `json:"overall"`
	AllCounts     BundleCounts    `json:"all_counts"`
	Coverage      BundleCoverage  `json:"coverage"`
	Rows          []BundleRow     `json:"rows"`
}
