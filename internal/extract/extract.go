// Package extract shapes tabulated source rows into canonical trial-arm
// records: dex-arm isolation, dose parsing, comparator scope filtering,
// timing/route classification, enrichment, and risk-of-bias joining.
package extract

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sedationlab/dexatlas/internal/classify"
	"github.com/sedationlab/dexatlas/internal/dose"
	"github.com/sedationlab/dexatlas/internal/ingest"
	"github.com/sedationlab/dexatlas/internal/model"
	"github.com/sedationlab/dexatlas/internal/normalize"
	"github.com/sedationlab/dexatlas/internal/validate"
)

// Flags raised during extraction.
const (
	FlagDoseFromFulltext     = "dose_from_fulltext"
	FlagInfusionFromFulltext = "infusion_from_fulltext"
	FlagManualAdjudication   = "manual_adjudication_applied"
	FlagRoBUnmatched         = "rob_unmatched_defaulted"
	FlagBolusMissing         = "bolus_missing"
	FlagInfusionMissing      = "infusion_missing"
)

var (
	dexArmRe    = regexp.MustCompile(`(?i)dexmedetomidine|\bdex\b`)
	armMarkerRe = regexp.MustCompile(`(?i)arm\s*\d+\s*:`)
	firstIntRe  = regexp.MustCompile(`\d+`)
	yearRe      = regexp.MustCompile(`\d{4}`)
)

// Inputs collects every source consumed by one extraction pass. Enrichment,
// adjudications, and references are optional and may be empty.
type Inputs struct {
	Articles      []ingest.ArticleRow
	RoB           []ingest.RoBRow
	Rules         classify.Rules
	Enrichment    map[string]ingest.FulltextDose
	Adjudications map[string]ingest.Adjudication
	References    map[int]string
}

// Result is the canonical output of one extraction pass. UnmatchedRoBKeys
// lists risk-of-bias study keys that matched no extracted trial, for audit.
type Result struct {
	Records          []model.TrialArmRecord
	UnmatchedRoBKeys []string
	NArticleRows     int
}

// Run shapes every dexmedetomidine article row into a canonical trial-arm
// record. Rows whose comparator is not strictly placebo or saline are out of
// scope and dropped here rather than flagged.
func Run(in Inputs) Result {
	robLookup := ingest.RoBLookup(in.RoB)
	matched := make(map[string]struct{})

	var records []model.TrialArmRecord
	for _, article := range in.Articles {
		if !dexArmRe.MatchString(article.InterventionArm) {
			continue
		}
		record, ok := buildRecord(article, in, robLookup, matched)
		if !ok {
			continue
		}
		records = append(records, record)
	}

	unmatched := make([]string, 0, len(robLookup))
	for key := range robLookup {
		if _, ok := matched[key]; !ok {
			unmatched = append(unmatched, key)
		}
	}
	sort.Strings(unmatched)

	zap.L().Info("extraction complete",
		zap.Int("article_rows", len(in.Articles)),
		zap.Int("canonical_rows", len(records)),
		zap.Int("unmatched_rob_keys", len(unmatched)),
	)
	return Result{Records: records, UnmatchedRoBKeys: unmatched, NArticleRows: len(in.Articles)}
}

func buildRecord(
	article ingest.ArticleRow,
	in Inputs,
	robLookup map[string]ingest.RoBRow,
	matched map[string]struct{},
) (model.TrialArmRecord, bool) {
	studyLabel := normalize.CleanStudyLabel(article.Study)
	studyKey := normalize.StudyKey(studyLabel)

	dexText := DexArmText(article.InterventionArm)
	controlText := normalize.Clean(article.ControlArm)
	controlClass := classify.Comparator(controlText, in.Rules)
	if controlClass != model.ControlPlaceboOrSaline {
		return model.TrialArmRecord{}, false
	}

	parsed := dose.Parse(dexText)
	parsed, flags := dose.CorrectImplausibleUnits(parsed)
	sourceFile := article.SourceFile

	if fulltext, ok := in.Enrichment[studyKey]; ok {
		if fulltext.BolusValue != nil {
			parsed.BolusValue = fulltext.BolusValue
			parsed.BolusUnit = fulltext.BolusUnit
			flags = append(flags, FlagDoseFromFulltext)
		}
		if fulltext.InfusionLow != nil {
			parsed.InfusionLow = fulltext.InfusionLow
			parsed.InfusionHigh = fulltext.InfusionHigh
			parsed.InfusionUnit = fulltext.InfusionUnit
			parsed.InfusionWeightNormalized = fulltext.InfusionWeightNormalized
			flags = append(flags, FlagInfusionFromFulltext)
		}
		if fulltext.SourceFile != "" {
			sourceFile = sourceFile + ";" + fulltext.SourceFile
		}
	}

	timingRaw := article.Timing
	routeRaw := article.Mode
	timingPhase := classify.TimingPhase(timingRaw, dexText)
	routeStd := classify.Route(routeRaw, dexText)

	if adj, ok := in.Adjudications[studyKey]; ok {
		if adj.BolusValue != nil {
			parsed.BolusValue = adj.BolusValue
			if adj.BolusUnit != nil {
				parsed.BolusUnit = *adj.BolusUnit
			}
		}
		if adj.InfusionLow != nil {
			parsed.InfusionLow = adj.InfusionLow
			// A single adjudicated rate is a degenerate range.
			parsed.InfusionHigh = adj.InfusionLow
			if adj.InfusionHigh != nil {
				parsed.InfusionHigh = adj.InfusionHigh
			}
			if adj.InfusionUnit != nil {
				parsed.InfusionUnit = *adj.InfusionUnit
			}
			if adj.InfusionWeightNormalized != nil {
				parsed.InfusionWeightNormalized = *adj.InfusionWeightNormalized
			}
		}
		if adj.TimingPhase != nil {
			timingPhase = *adj.TimingPhase
		}
		flags = append(flags, FlagManualAdjudication)
	}

	robStd := model.RoBSomeConcerns
	robRaw := ""
	if info, ok := robLookup[studyKey]; ok {
		matched[studyKey] = struct{}{}
		if info.OverallStd != "" {
			robStd = info.OverallStd
		}
		robRaw = info.OverallRaw
		flags = append(flags, info.Flags...)
	} else {
		flags = append(flags, FlagRoBUnmatched)
	}

	confidence := Confidence(parsed, timingPhase, routeStd)

	if parsed.BolusValue == nil {
		flags = append(flags, FlagBolusMissing)
	}
	if parsed.InfusionLow == nil {
		flags = append(flags, FlagInfusionMissing)
	}
	if timingPhase == model.TimingUnknown {
		flags = append(flags, validate.FlagTimingUnclear)
	}
	if routeStd == "Unknown" {
		flags = append(flags, validate.FlagRouteUnclear)
	}

	var year *int
	if m := yearRe.FindString(studyLabel); m != "" {
		y, err := strconv.Atoi(m)
		if err == nil {
			year = &y
		}
	}

	var refNumber *int
	refURL := ""
	if n, ok := normalize.ReferenceNumber(article.Study); ok {
		refNumber = &n
		if entry, ok := in.References[n]; ok {
			refURL = normalize.ReferenceURL(entry)
		}
	}

	return model.TrialArmRecord{
		TrialID:                  normalize.TrialID(studyKey, article.SourcePage),
		StudyLabel:               studyLabel,
		Year:                     year,
		Country:                  article.Country,
		NTotal:                   ParseNTotal(article.SampleSize),
		DexArmTextRaw:            dexText,
		ControlArmTextRaw:        controlText,
		ControlClass:             controlClass,
		BolusValue:               parsed.BolusValue,
		BolusUnit:                parsed.BolusUnit,
		InfusionLow:              parsed.InfusionLow,
		InfusionHigh:             parsed.InfusionHigh,
		InfusionUnit:             parsed.InfusionUnit,
		InfusionWeightNormalized: parsed.InfusionWeightNormalized,
		TimingRaw:                timingRaw,
		TimingPhase:              timingPhase,
		RouteRaw:                 routeRaw,
		RouteStd:                 routeStd,
		RoBOverallRaw:            robRaw,
		RoBOverallStd:            robStd,
		ExtractionConfidence:     confidence,
		ValidationFlags:          model.AddFlags(nil, flags...),
		CriticalFlags:            []string{},
		SourcePage:               article.SourcePage,
		SourceFile:               sourceFile,
		InterventionEvents:       article.InterventionEvents,
		ControlEvents:            article.ControlEvents,
		AssessmentTool:           article.AssessmentTool,
		PostopICUCare:            article.PostopICUCare,
		ReferenceNumber:          refNumber,
		ReferenceURL:             refURL,
	}, true
}

// DexArmText isolates the dexmedetomidine arm text from a multi-arm
// intervention description. Descriptions listing "Arm N:" segments keep only
// the dex segments, joined with " | "; anything else passes through cleaned.
func DexArmText(interventionText string) string {
	text := normalize.Clean(interventionText)
	if text == "" {
		return text
	}

	parts := splitArms(text)
	armMentioned := false
	for _, part := range parts {
		if strings.Contains(strings.ToLower(part), "arm") {
			armMentioned = true
			break
		}
	}
	if len(parts) == 0 || !armMentioned {
		return text
	}

	var dexParts []string
	for _, part := range parts {
		if dexArmRe.MatchString(part) {
			dexParts = append(dexParts, part)
		}
	}
	if len(dexParts) == 0 {
		return text
	}
	return strings.Join(dexParts, " | ")
}

// splitArms splits text at each "Arm N:" marker, keeping the marker with its
// segment. Separator runs are trimmed and empty segments dropped.
func splitArms(text string) []string {
	bounds := []int{0}
	for _, loc := range armMarkerRe.FindAllStringIndex(text, -1) {
		if loc[0] != 0 {
			bounds = append(bounds, loc[0])
		}
	}
	bounds = append(bounds, len(text))

	var parts []string
	for i := 0; i+1 < len(bounds); i++ {
		part := strings.Trim(text[bounds[i]:bounds[i+1]], " ,;")
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// ParseNTotal pulls the first integer out of a sample-size cell.
func ParseNTotal(raw string) *int {
	text := normalize.Clean(raw)
	if text == "" {
		return nil
	}
	m := firstIntRe.FindString(text)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

// Confidence scores extraction completeness from the final dose, timing,
// and route values. Deductions: missing bolus 0.15, missing infusion 0.25,
// unknown timing 0.2, unknown route 0.2; floored at 0.05.
func Confidence(parsed model.ParsedDose, timing model.TimingPhase, route string) float64 {
	score := 1.0
	if parsed.BolusValue == nil {
		score -= 0.15
	}
	if parsed.InfusionLow == nil {
		score -= 0.25
	}
	if timing == model.TimingUnknown {
		score -= 0.2
	}
	if route == "Unknown" {
		score -= 0.2
	}
	return math.Max(0.05, math.Round(score*1000)/1000)
}
