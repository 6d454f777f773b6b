// Package validate applies the deterministic rule catalog to curated trial
// records and builds the adjudication review queue. Rules only accumulate
// flags; they never modify extracted values.
package validate

import (
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sedationlab/dexatlas/internal/model"
)

// Validation flags raised by the rule catalog.
const (
	FlagComparatorNotPlacebo = "comparator_not_placebo"
	FlagBolusOutOfRange      = "bolus_out_of_range"
	FlagInfusionRangeInvalid = "infusion_range_invalid"
	FlagInfusionOutOfRange   = "infusion_out_of_range"
	FlagMissingStudyOrYear   = "missing_study_or_year"
	FlagMissingNTotal        = "missing_n_total"
	FlagTimingUnclear        = "timing_unclear"
	FlagRouteUnclear         = "route_unclear"
)

// Plausible clinical dosing bounds, in mcg/kg and mcg/kg/h.
const (
	bolusMin    = 0.01
	bolusMax    = 10.0
	infusionMin = 0.01
	infusionMax = 5.0
)

// Rule is one independently evaluable validation check.
type Rule struct {
	Flag     string
	Critical bool
	Check    func(*model.TrialArmRecord) bool
}

// Rules returns the ordered rule catalog applied to every curated record.
func Rules() []Rule {
	return []Rule{
		{FlagComparatorNotPlacebo, true, func(r *model.TrialArmRecord) bool {
			return r.ControlClass != model.ControlPlaceboOrSaline
		}},
		{FlagBolusOutOfRange, true, func(r *model.TrialArmRecord) bool {
			return r.BolusValue != nil && (*r.BolusValue < bolusMin || *r.BolusValue > bolusMax)
		}},
		{FlagInfusionRangeInvalid, true, func(r *model.TrialArmRecord) bool {
			return r.InfusionLow != nil && r.InfusionHigh != nil && *r.InfusionLow > *r.InfusionHigh
		}},
		{FlagInfusionOutOfRange, true, func(r *model.TrialArmRecord) bool {
			if r.InfusionLow == nil || !r.InfusionWeightNormalized || r.InfusionUnit != "mcg/kg/h" {
				return false
			}
			mid := *r.InfusionLow
			if r.InfusionHigh != nil {
				mid = (*r.InfusionLow + *r.InfusionHigh) / 2
			}
			return mid < infusionMin || mid > infusionMax
		}},
		{FlagMissingStudyOrYear, true, func(r *model.TrialArmRecord) bool {
			return r.StudyLabel == "" || r.Year == nil
		}},
		{FlagMissingNTotal, true, func(r *model.TrialArmRecord) bool {
			return r.NTotal == nil || *r.NTotal <= 0
		}},
		{FlagTimingUnclear, false, func(r *model.TrialArmRecord) bool {
			return r.TimingPhase == model.TimingUnknown
		}},
		{FlagRouteUnclear, false, func(r *model.TrialArmRecord) bool {
			return r.RouteStd == "Unknown"
		}},
	}
}

// CriticalFlagCatalog lists every critical rule flag, sorted, for the
// validation report.
func CriticalFlagCatalog() []string {
	var out []string
	for _, rule := range Rules() {
		if rule.Critical {
			out = append(out, rule.Flag)
		}
	}
	sort.Strings(out)
	return out
}

// Apply evaluates the rule catalog against one record, unions the raised
// flags into the record's flag set, and refreshes the adjudication markers.
// The returned slices hold only the flags raised by this pass.
func Apply(record *model.TrialArmRecord) (raised, critical []string) {
	for _, rule := range Rules() {
		if !rule.Check(record) {
			continue
		}
		raised = append(raised, rule.Flag)
		if rule.Critical {
			critical = append(critical, rule.Flag)
		}
	}
	record.ValidationFlags = model.AddFlags(record.ValidationFlags, raised...)
	record.CriticalFlags = model.AddFlags(nil, critical...)
	record.NeedsAdjudication = len(record.ValidationFlags) > 0
	record.HasCriticalIssues = len(record.CriticalFlags) > 0
	return raised, critical
}

// ReviewRow is one adjudication queue entry for a flagged record.
type ReviewRow struct {
	TrialID         string `json:"trial_id"`
	StudyLabel      string `json:"study_label"`
	RoBOverallStd   string `json:"rob_overall_std"`
	ValidationFlags string `json:"validation_flags"`
	CriticalFlags   string `json:"critical_flags"`
	SourcePage      int    `json:"source_page"`
	SourceFile      string `json:"source_file"`
}

// ReviewQueueColumns is the fixed column order of the review queue CSV.
var ReviewQueueColumns = []string{
	"trial_id",
	"study_label",
	"rob_overall_std",
	"validation_flags",
	"critical_flags",
	"source_page",
	"source_file",
}

// Record renders the row in ReviewQueueColumns order.
func (r ReviewRow) Record() []string {
	return []string{
		r.TrialID,
		r.StudyLabel,
		r.RoBOverallStd,
		r.ValidationFlags,
		r.CriticalFlags,
		strconv.Itoa(r.SourcePage),
		r.SourceFile,
	}
}

// Report summarizes one validation pass.
type Report struct {
	NTrialsCurated      int      `json:"n_trials_curated"`
	NReviewQueue        int      `json:"n_review_queue"`
	NUnresolvedCritical int      `json:"n_unresolved_critical"`
	CriticalFlags       []string `json:"critical_flags"`
	AllowUnresolved     bool     `json:"allow_unresolved"`
}

// Gate returns the policy error for unresolved critical rows. Callers that
// run with an explicit allow-unresolved override get a nil error and must
// surface the count out-of-band.
func (r Report) Gate() error {
	if r.NUnresolvedCritical > 0 && !r.AllowUnresolved {
		return eris.Errorf("validate: %d rows with unresolved critical flags", r.NUnresolvedCritical)
	}
	return nil
}

// Result carries the curated records plus the review artifacts of one
// validation pass.
type Result struct {
	Curated []model.TrialArmRecord
	Review  []ReviewRow
	Report  Report
}

// Run validates every record and assembles the review queue. The input
// slice is not modified; curated records are updated copies. Any flagged
// record enters the review queue, not just critical ones, so advisory flags
// stay visible to adjudicators.
func Run(records []model.TrialArmRecord, allowUnresolved bool) Result {
	curated := make([]model.TrialArmRecord, len(records))
	copy(curated, records)

	var review []ReviewRow
	unresolved := 0
	for i := range curated {
		_, critical := Apply(&curated[i])
		if len(curated[i].ValidationFlags) > 0 {
			review = append(review, ReviewRow{
				TrialID:         curated[i].TrialID,
				StudyLabel:      curated[i].StudyLabel,
				RoBOverallStd:   string(curated[i].RoBOverallStd),
				ValidationFlags: model.JoinFlags(curated[i].ValidationFlags),
				CriticalFlags:   model.JoinFlags(curated[i].CriticalFlags),
				SourcePage:      curated[i].SourcePage,
				SourceFile:      curated[i].SourceFile,
			})
		}
		if len(critical) > 0 {
			unresolved++
		}
	}

	report := Report{
		NTrialsCurated:      len(curated),
		NReviewQueue:        len(review),
		NUnresolvedCritical: unresolved,
		CriticalFlags:       CriticalFlagCatalog(),
		AllowUnresolved:     allowUnresolved,
	}

	zap.L().Info("validation complete",
		zap.Int("trials_curated", report.NTrialsCurated),
		zap.Int("review_queue", report.NReviewQueue),
		zap.Int("unresolved_critical", report.NUnresolvedCritical),
	)
	return Result{Curated: curated, Review: review, Report: report}
}
