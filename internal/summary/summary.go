// Package summary computes descriptive statistics over curated trial records:
// participant-weighted dose, timing, and route distributions, the spread of
// weight-normalized infusion midpoints, and per-field missingness, overall
// and stratified by risk of bias.
package summary

import (
	"math"
	"sort"
	"time"

	"github.com/sedationlab/dexatlas/internal/model"
)

// Dose band labels. Numeric bands refer to the infusion midpoint in mcg/kg/h.
const (
	BandNotReported         = "not_reported"
	BandNotWeightNormalized = "not_weight_normalized"
	BandLow                 = "0-0.2"
	BandModerate            = "0.2-0.5"
	BandHigh                = "0.5-0.8"
	BandVeryHigh            = ">0.8"
)

// CategoryShare is one participant-weighted category of a distribution.
type CategoryShare struct {
	Category     string  `json:"category"`
	WeightedN    float64 `json:"weighted_n"`
	WeightedProp float64 `json:"weighted_prop"`
}

// MidpointDistribution is the median/IQR spread of weight-normalized infusion
// midpoints. Quantiles are null when no record qualifies.
type MidpointDistribution struct {
	Median  *float64 `json:"median"`
	Q1      *float64 `json:"q1"`
	Q3      *float64 `json:"q3"`
	NTrials int      `json:"n_trials"`
}

// Missingness counts records lacking each core dose, timing, or route field.
type Missingness struct {
	BolusMissing    int `json:"bolus_missing"`
	InfusionMissing int `json:"infusion_missing"`
	TimingMissing   int `json:"timing_missing"`
	RouteMissing    int `json:"route_missing"`
}

// Subset is the descriptive block computed for one record set.
type Subset struct {
	NTrials                      int                  `json:"n_trials"`
	NParticipants                int                  `json:"n_participants"`
	Missingness                  Missingness          `json:"missingness"`
	DoseBandsWeighted            []CategoryShare      `json:"dose_bands_weighted"`
	TimingPhaseWeighted          []CategoryShare      `json:"timing_phase_weighted"`
	RouteWeighted                []CategoryShare      `json:"route_weighted"`
	InfusionMidpointDistribution MidpointDistribution `json:"infusion_midpoint_distribution"`
}

// Overall is the whole-corpus block with its generation timestamp.
type Overall struct {
	Subset
	GeneratedAtUTC string `json:"generated_at_utc"`
}

// ByRoB holds one descriptive block per overall risk-of-bias judgement.
type ByRoB struct {
	GeneratedAtUTC string `json:"generated_at_utc"`
	LowRisk        Subset `json:"low_risk"`
	SomeConcerns   Subset `json:"some_concerns"`
	HighRisk       Subset `json:"high_risk"`
}

// DoseBand assigns a record's infusion midpoint to a reporting band. Records
// without a complete weight-normalized mcg/kg/h infusion fall into the two
// non-numeric bands so every record lands somewhere.
func DoseBand(r model.TrialArmRecord) string {
	if r.InfusionLow == nil || r.InfusionHigh == nil {
		return BandNotReported
	}
	if !r.InfusionWeightNormalized || r.InfusionUnit != "mcg/kg/h" {
		return BandNotWeightNormalized
	}
	mid := (*r.InfusionLow + *r.InfusionHigh) / 2
	switch {
	case mid <= 0.2:
		return BandLow
	case mid <= 0.5:
		return BandModerate
	case mid <= 0.8:
		return BandHigh
	default:
		return BandVeryHigh
	}
}

// WeightedDistribution aggregates participant counts by category and returns
// the shares sorted by weight descending, ties broken by category name.
// Records without a participant count contribute zero weight.
func WeightedDistribution(records []model.TrialArmRecord, category func(model.TrialArmRecord) string) []CategoryShare {
	totals := make(map[string]float64)
	denom := 0.0
	for _, r := range records {
		key := category(r)
		if key == "" {
			key = "missing"
		}
		n := float64(participants(r))
		totals[key] += n
		denom += n
	}

	keys := make([]string, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]CategoryShare, 0, len(keys))
	for _, key := range keys {
		share := CategoryShare{Category: key, WeightedN: round6(totals[key])}
		if denom > 0 {
			share.WeightedProp = round6(totals[key] / denom)
		}
		out = append(out, share)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].WeightedN > out[j].WeightedN })
	return out
}

// MedianIQR summarizes the infusion midpoints of records carrying a complete
// weight-normalized mcg/kg/h infusion range.
func MedianIQR(records []model.TrialArmRecord) MidpointDistribution {
	midpoints := make([]float64, 0, len(records))
	for _, r := range records {
		if !r.InfusionWeightNormalized || r.InfusionUnit != "mcg/kg/h" {
			continue
		}
		if r.InfusionLow == nil || r.InfusionHigh == nil {
			continue
		}
		midpoints = append(midpoints, (*r.InfusionLow+*r.InfusionHigh)/2)
	}
	if len(midpoints) == 0 {
		return MidpointDistribution{}
	}
	sort.Float64s(midpoints)
	return MidpointDistribution{
		Median:  round6Ptr(quantile(midpoints, 0.5)),
		Q1:      round6Ptr(quantile(midpoints, 0.25)),
		Q3:      round6Ptr(quantile(midpoints, 0.75)),
		NTrials: len(midpoints),
	}
}

// quantile interpolates linearly between order statistics (type 7).
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

// CountMissing tallies records lacking each core field.
func CountMissing(records []model.TrialArmRecord) Missingness {
	var m Missingness
	for _, r := range records {
		if r.BolusValue == nil {
			m.BolusMissing++
		}
		if r.InfusionLow == nil {
			m.InfusionMissing++
		}
		if r.TimingPhase == model.TimingUnknown {
			m.TimingMissing++
		}
		if r.RouteStd == "Unknown" {
			m.RouteMissing++
		}
	}
	return m
}

// Summarize computes the descriptive block for one record set. An empty set
// yields zero counts with empty (not null) distributions.
func Summarize(records []model.TrialArmRecord) Subset {
	subset := Subset{
		DoseBandsWeighted:   []CategoryShare{},
		TimingPhaseWeighted: []CategoryShare{},
		RouteWeighted:       []CategoryShare{},
	}
	if len(records) == 0 {
		return subset
	}

	total := 0
	for _, r := range records {
		total += participants(r)
	}
	subset.NTrials = len(records)
	subset.NParticipants = total
	subset.Missingness = CountMissing(records)
	subset.DoseBandsWeighted = WeightedDistribution(records, DoseBand)
	subset.TimingPhaseWeighted = WeightedDistribution(records, func(r model.TrialArmRecord) string { return string(r.TimingPhase) })
	subset.RouteWeighted = WeightedDistribution(records, func(r model.TrialArmRecord) string { return r.RouteStd })
	subset.InfusionMidpointDistribution = MedianIQR(records)
	return subset
}

// BuildOverall summarizes every curated record.
func BuildOverall(records []model.TrialArmRecord) Overall {
	return Overall{Subset: Summarize(records), GeneratedAtUTC: nowUTC()}
}

// BuildByRoB summarizes the corpus stratified by overall risk-of-bias
// judgement. Each stratum matches the standardized label exactly.
func BuildByRoB(records []model.TrialArmRecord) ByRoB {
	return ByRoB{
		GeneratedAtUTC: nowUTC(),
		LowRisk:        Summarize(filterRoB(records, model.RoBLow)),
		SomeConcerns:   Summarize(filterRoB(records, model.RoBSomeConcerns)),
		HighRisk:       Summarize(filterRoB(records, model.RoBHigh)),
	}
}

func filterRoB(records []model.TrialArmRecord, category model.RoBCategory) []model.TrialArmRecord {
	out := make([]model.TrialArmRecord, 0, len(records))
	for _, r := range records {
		if r.RoBOverallStd == category {
			out = append(out, r)
		}
	}
	return out
}

func participants(r model.TrialArmRecord) int {
	if r.NTotal == nil {
		return 0
	}
	return *r.NTotal
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func round6Ptr(v float64) *float64 {
	r := round6(v)
	return &r
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
