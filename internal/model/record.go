package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ControlClass is the four-way comparator classification for a control arm.
type ControlClass string

const (
	ControlPlaceboOrSaline ControlClass = "placebo_or_saline"
	ControlActive          ControlClass = "active_control"
	ControlMixed           ControlClass = "mixed_control"
	ControlUnclear         ControlClass = "unclear"
)

// TimingPhase is the canonical administration-timing bucket for a dex arm.
type TimingPhase string

const (
	TimingPreOp     TimingPhase = "pre_op"
	TimingIntraOp   TimingPhase = "intra_op"
	TimingPostOp    TimingPhase = "post_op"
	TimingPeriMulti TimingPhase = "peri_multi"
	TimingUnknown   TimingPhase = "unknown"
)

// ParseTimingPhase converts adjudication-file text into a TimingPhase.
func ParseTimingPhase(s string) (TimingPhase, error) {
	switch TimingPhase(s) {
	case TimingPreOp, TimingIntraOp, TimingPostOp, TimingPeriMulti, TimingUnknown:
		return TimingPhase(s), nil
	default:
		return "", eris.Errorf("unknown timing phase: %q (valid: pre_op, intra_op, post_op, peri_multi, unknown)", s)
	}
}

// RoBCategory is a risk-of-bias overall judgement.
type RoBCategory string

const (
	RoBLow          RoBCategory = "Low risk"
	RoBSomeConcerns RoBCategory = "Some concerns"
	RoBHigh         RoBCategory = "High risk"
)

// Valid reports whether the category is one of the three recognized judgements.
func (c RoBCategory) Valid() bool {
	return c == RoBLow || c == RoBSomeConcerns || c == RoBHigh
}

// ComparisonKey uniquely identifies one treatment-arm comparison across all
// sources. It is the join key between arm-level counts and model outputs.
type ComparisonKey struct {
	TrialID     string
	DexArmIndex int
}

// ComparisonID renders the key in its published string form.
func (k ComparisonKey) ComparisonID() string {
	return fmt.Sprintf("%s__arm%d", k.TrialID, k.DexArmIndex)
}

// ParsedDose holds normalized dose fields extracted from one intervention
// text. Values are in micrograms after unit harmonization; the raw unit
// tokens are retained so the plausibility corrector can audit its decisions.
type ParsedDose struct {
	BolusValue               *float64 `json:"bolus_value"`
	BolusUnit                string   `json:"bolus_unit,omitempty"`
	BolusUnitRaw             string   `json:"bolus_unit_raw,omitempty"`
	InfusionLow              *float64 `json:"infusion_low"`
	InfusionHigh             *float64 `json:"infusion_high"`
	InfusionUnit             string   `json:"infusion_unit,omitempty"`
	InfusionUnitRaw          string   `json:"infusion_unit_raw,omitempty"`
	InfusionWeightNormalized bool     `json:"infusion_weight_normalized"`
}

// Validate checks the post-correction range invariant.
func (d ParsedDose) Validate() error {
	if d.InfusionLow != nil && d.InfusionHigh == nil {
		return eris.New("parsed dose: infusion_low set without infusion_high")
	}
	if d.InfusionLow != nil && d.InfusionHigh != nil && *d.InfusionHigh < *d.InfusionLow {
		return eris.Errorf("parsed dose: infusion_high %v below infusion_low %v", *d.InfusionHigh, *d.InfusionLow)
	}
	return nil
}

// TrialArmRecord is one canonical trial/arm row produced by the extraction
// stage. Validation updates the flag fields; linkage reads but never mutates
// the record.
type TrialArmRecord struct {
	TrialID                  string       `json:"trial_id"`
	StudyLabel               string       `json:"study_label"`
	Year                     *int         `json:"year"`
	Country                  string       `json:"country"`
	NTotal                   *int         `json:"n_total"`
	DexArmTextRaw            string       `json:"dex_arm_text_raw"`
	ControlArmTextRaw        string       `json:"control_arm_text_raw"`
	ControlClass             ControlClass `json:"control_class"`
	BolusValue               *float64     `json:"bolus_value"`
	BolusUnit                string       `json:"bolus_unit,omitempty"`
	InfusionLow              *float64     `json:"infusion_low"`
	InfusionHigh             *float64     `json:"infusion_high"`
	InfusionUnit             string       `json:"infusion_unit,omitempty"`
	InfusionWeightNormalized bool         `json:"infusion_weight_normalized"`
	TimingRaw                string       `json:"timing_raw"`
	TimingPhase              TimingPhase  `json:"timing_phase"`
	RouteRaw                 string       `json:"route_raw"`
	RouteStd                 string       `json:"route_std"`
	RoBOverallRaw            string       `json:"rob_overall_raw"`
	RoBOverallStd            RoBCategory  `json:"rob_overall_std"`
	ExtractionConfidence     float64      `json:"extraction_confidence"`
	ValidationFlags          []string     `json:"validation_flags"`
	CriticalFlags            []string     `json:"critical_flags"`
	NeedsAdjudication        bool         `json:"needs_adjudication"`
	HasCriticalIssues        bool         `json:"has_critical_issues"`
	SourcePage               int          `json:"source_page"`
	SourceFile               string       `json:"source_file"`
	InterventionEvents       string       `json:"intervention_events"`
	ControlEvents            string       `json:"control_events"`
	AssessmentTool           string       `json:"assessment_tool"`
	PostopICUCare            string       `json:"postop_icu_care"`
	ReferenceNumber          *int         `json:"reference_number,omitempty"`
	ReferenceURL             string       `json:"reference_url,omitempty"`
}

// Validate rejects records that would break downstream join contracts.
func (r *TrialArmRecord) Validate() error {
	if r.TrialID == "" {
		return eris.New("trial record: missing trial_id")
	}
	if r.StudyLabel == "" {
		return eris.Errorf("trial record %s: missing study_label", r.TrialID)
	}
	dose := ParsedDose{
		BolusValue:               r.BolusValue,
		InfusionLow:              r.InfusionLow,
		InfusionHigh:             r.InfusionHigh,
		InfusionWeightNormalized: r.InfusionWeightNormalized,
	}
	if err := dose.Validate(); err != nil {
		return eris.Wrapf(err, "trial record %s", r.TrialID)
	}
	return nil
}
