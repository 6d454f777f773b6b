package model

import "strconv"

// LinkStatus is the per-trial outcome of record linkage. Exactly one status
// is recorded for every curated trial.
type LinkStatus string

const (
	LinkExtracted           LinkStatus = "extracted"
	LinkMissingInCSV        LinkStatus = "missing_in_csv"
	LinkControlMismatch     LinkStatus = "control_mismatch"
	LinkAmbiguousUnresolved LinkStatus = "ambiguous_unresolved"
	LinkInconsistentCSVRows LinkStatus = "inconsistent_csv_rows"
	LinkManuallyExcluded    LinkStatus = "manually_excluded"
	LinkNoDexArm            LinkStatus = "no_dex_arm"
)

// MappingMethod records how a trial was matched to its event-count source row.
type MappingMethod string

const (
	MapExactKey       MappingMethod = "exact_key"
	MapAliasKey       MappingMethod = "alias_key"
	MapAmbiguityRule  MappingMethod = "ambiguity_rule"
	MapManualOverride MappingMethod = "manual_override"
)

// EventRow is one row of the event-count source with cells kept as raw text.
// Count cells may hold "NA" for absent arms, so numeric coercion is deferred
// to the linker, which knows which arms it needs.
type EventRow struct {
	StudyID       string
	Interventions [3]string
	Cases         [3]string
	Totals        [3]string
	Control       string
	ControlCases  string
	ControlTotal  string
	Complication  string
}

// Intervention returns the arm label for a 1-based intervention slot.
func (r EventRow) Intervention(idx int) string {
	return r.Interventions[idx-1]
}

// ArmCases returns the raw event-count cell for a 1-based intervention slot.
func (r EventRow) ArmCases(idx int) string {
	return r.Cases[idx-1]
}

// ArmTotal returns the raw total cell for a 1-based intervention slot.
func (r EventRow) ArmTotal(idx int) string {
	return r.Totals[idx-1]
}

// CountTuple returns the event-count fields that must agree across repeated
// complication rows of one study id.
func (r EventRow) CountTuple() [8]string {
	return [8]string{
		r.Cases[0], r.Totals[0],
		r.ControlCases, r.ControlTotal,
		r.Cases[1], r.Totals[1],
		r.Cases[2], r.Totals[2],
	}
}

// ArmCountRow is one retained (trial, dex-arm) comparison with its dex and
// control counts. No two rows share the same ComparisonKey.
type ArmCountRow struct {
	TrialID       string        `json:"trial_id"`
	StudyLabel    string        `json:"study_label"`
	StudyKey      string        `json:"study_key"`
	SourceStudyID string        `json:"studyID_csv"`
	DexArmIndex   int           `json:"dex_arm_index"`
	DexArmLabel   string        `json:"dex_arm_label"`
	DexEvents     int           `json:"dex_events"`
	DexTotal      int           `json:"dex_total"`
	ControlLabel  string        `json:"control_label"`
	ControlEvents int           `json:"control_events"`
	ControlTotal  int           `json:"control_total"`
	MappingMethod MappingMethod `json:"mapping_method"`
	QCFlags       []string      `json:"qc_flags"`
}

// ArmLevelColumns is the published column order of the arm-level count table.
var ArmLevelColumns = []string{
	"trial_id",
	"study_label",
	"study_key",
	"studyID_csv",
	"dex_arm_index",
	"dex_arm_label",
	"dex_events",
	"dex_total",
	"control_label",
	"control_events",
	"control_total",
	"mapping_method",
	"qc_flags",
}

// Key returns the row's comparison key.
func (r ArmCountRow) Key() ComparisonKey {
	return ComparisonKey{TrialID: r.TrialID, DexArmIndex: r.DexArmIndex}
}

// Record renders the row as one CSV record in ArmLevelColumns order.
func (r ArmCountRow) Record() []string {
	return []string{
		r.TrialID,
		r.StudyLabel,
		r.StudyKey,
		r.SourceStudyID,
		strconv.Itoa(r.DexArmIndex),
		r.DexArmLabel,
		strconv.Itoa(r.DexEvents),
		strconv.Itoa(r.DexTotal),
		r.ControlLabel,
		strconv.Itoa(r.ControlEvents),
		strconv.Itoa(r.ControlTotal),
		string(r.MappingMethod),
		JoinFlags(r.QCFlags),
	}
}

// LinkageAuditColumns is the column order of the per-trial linkage audit table.
var LinkageAuditColumns = []string{"trial_id", "study_label", "status", "candidate_studyIDs", "notes"}

// LinkageRecord is the per-trial linkage outcome with the candidate source
// ids that were considered, for audit.
type LinkageRecord struct {
	TrialID      string     `json:"trial_id"`
	StudyLabel   string     `json:"study_label"`
	Status       LinkStatus `json:"status"`
	CandidateIDs []string   `json:"candidate_studyIDs"`
	Notes        string     `json:"notes"`
}

// Record renders the record as one CSV record in LinkageAuditColumns order.
func (r LinkageRecord) Record() []string {
	return []string{r.TrialID, r.StudyLabel, string(r.Status), JoinFlags(r.CandidateIDs), r.Notes}
}

// LinkageCoverage summarizes linkage outcomes for one run.
type LinkageCoverage struct {
	NTrialsCurated       int `json:"n_trials_curated"`
	NExtractedTrials     int `json:"n_extracted_trials"`
	NExtractedRows       int `json:"n_extracted_rows"`
	NMissingInCSV        int `json:"n_missing_in_csv"`
	NControlMismatch     int `json:"n_control_mismatch"`
	NAmbiguousUnresolved int `json:"n_ambiguous_unresolved"`
	NInconsistentCSVRows int `json:"n_inconsistent_csv_rows"`
	NManuallyExcluded    int `json:"n_manually_excluded"`
	NMultiDexTrials      int `json:"n_multi_dex_trials"`
}
