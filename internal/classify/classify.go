// Package classify maps free-text trial descriptions onto the canonical
// comparator, timing, route, and risk-of-bias categories.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sedationlab/dexatlas/internal/model"
	"github.com/sedationlab/dexatlas/internal/normalize"
)

// Flags emitted by the risk-of-bias precedence rule. The column references
// name the workbook layout the judgements were transcribed from.
const (
	FlagRoBFromFallback     = "rob_from_fallback_col13"
	FlagRoBMissingDefaulted = "rob_missing_defaulted"
)

// Comparator classifies a control-arm description against the term lists.
// Empty text is unclear; an include hit without an exclude hit is a clean
// placebo/saline control; both together mean the arm mixes a placebo mention
// with an active drug and needs adjudication.
func Comparator(controlText string, rules Rules) model.ControlClass {
	lowered := strings.ToLower(normalize.Clean(controlText))
	if lowered == "" {
		return model.ControlUnclear
	}

	hasInclude := containsAny(lowered, rules.IncludeTerms)
	hasExclude := containsAny(lowered, rules.ExcludeTerms)

	switch {
	case hasInclude && hasExclude:
		return model.ControlMixed
	case hasInclude:
		return model.ControlPlaceboOrSaline
	case hasExclude:
		return model.ControlActive
	default:
		return model.ControlUnclear
	}
}

var (
	preTokens   = []string{"prior", "before", "pre", "induction"}
	intraTokens = []string{"during", "intra", "surgery"}
	postTokens  = []string{"after", "post", "recovery", "icu", "pca"}

	// "after surgery" reads as post-op, not as an intra-op mention of
	// surgery; same for the pre-op anchors.
	anchoredSurgeryRe = regexp.MustCompile(`\b(after|before|post|prior\s+to)[\s-]+surgery\b`)
)

// TimingPhase resolves the administration timing. The structured timing
// column is classified first; the intervention free text is consulted only
// when the column alone is inconclusive, so a precise timing entry is not
// polluted by incidental mentions elsewhere in the description.
func TimingPhase(timingRaw, interventionText string) model.TimingPhase {
	if phase := timingFromText(timingRaw); phase != model.TimingUnknown {
		return phase
	}
	return timingFromText(interventionText)
}

func timingFromText(text string) model.TimingPhase {
	t := strings.ToLower(normalize.Clean(text))
	t = anchoredSurgeryRe.ReplaceAllString(t, "${1}")
	hasPre := containsAny(t, preTokens)
	hasIntra := containsAny(t, intraTokens)
	hasPost := containsAny(t, postTokens)

	hits := 0
	for _, h := range []bool{hasPre, hasIntra, hasPost} {
		if h {
			hits++
		}
	}
	switch {
	case hits > 1:
		return model.TimingPeriMulti
	case hasPre:
		return model.TimingPreOp
	case hasIntra:
		return model.TimingIntraOp
	case hasPost:
		return model.TimingPostOp
	default:
		return model.TimingUnknown
	}
}

// routeChecks pairs each canonical route code with the raw-text tokens that
// imply it. Padding spaces keep short codes from firing inside words.
var routeChecks = []struct {
	code   string
	tokens []string
}{
	{"IV", []string{"intravenous", " iv", "iv "}},
	{"IN", []string{"intranasal", " nasal", " in "}},
	{"INH", []string{"inh", "inhal", "volatile"}},
	{"PO", []string{" oral", " po", "tablet"}},
	{"IM", []string{"intramuscular", " im"}},
}

// Route maps route text onto a sorted "+"-joined set of route codes, or
// "Unknown" when nothing matches.
func Route(routeRaw, interventionText string) string {
	text := strings.ToLower(normalize.Clean(routeRaw) + " " + normalize.Clean(interventionText))

	var codes []string
	for _, check := range routeChecks {
		if containsAny(text, check.tokens) {
			codes = append(codes, check.code)
		}
	}
	if len(codes) == 0 {
		return "Unknown"
	}
	sort.Strings(codes)
	return strings.Join(codes, "+")
}

// RoBWithPrecedence resolves a risk-of-bias judgement: the overall column
// wins when it holds a recognized category, the fallback column is used
// second, and anything else defaults to "Some concerns". The raw return
// value preserves whatever text was seen for audit.
func RoBWithPrecedence(overall, fallback string) (model.RoBCategory, string, []string) {
	var flags []string
	col10 := normalize.Clean(overall)
	col13 := normalize.Clean(fallback)

	if cat := model.RoBCategory(col10); cat.Valid() {
		return cat, col10, flags
	}
	if cat := model.RoBCategory(col13); cat.Valid() {
		flags = append(flags, FlagRoBFromFallback)
		return cat, col13, flags
	}

	flags = append(flags, FlagRoBMissingDefaulted)
	raw := col10
	if raw == "" {
		raw = col13
	}
	return model.RoBSomeConcerns, raw, flags
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
