// Package normalize provides deterministic text cleanup and study-key
// derivation shared by every pipeline stage. The study key is the primary
// cross-source join key, so changes here ripple through linkage.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	multiSpaceRe    = regexp.MustCompile(`\s+`)
	footnoteYearRe  = regexp.MustCompile(`\b(\d{4})\d{1,3}\b`)
	refNumberRe     = regexp.MustCompile(`\b\d{4}(\d{1,3})\b`)
	authorYearRe    = regexp.MustCompile(`(.+?)\s*(\d{4})`)
	nonAlnumRe      = regexp.MustCompile(`[^A-Za-z0-9]+`)
	nonAlphaRe      = regexp.MustCompile(`[^A-Za-z]+`)
	multiUnderRe    = regexp.MustCompile(`_+`)
	sourceIDYearRe  = regexp.MustCompile(`(?i)(?:19|20)\d{2}[a-z]?$`)
	pageSuffixRe    = regexp.MustCompile(`_p\d+$`)
	urlRe           = regexp.MustCompile(`https?://\S+`)
	plainDOIRe      = regexp.MustCompile(`(?i)\bdoi:\s*(10\.\S+)`)
)

// asciiFold decomposes to NFKD and drops every non-ASCII rune, matching the
// accent-stripping used when study keys were first assigned.
var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
	return r > unicode.MaxASCII
})))

// Clean collapses a free-text cell to canonical form: NFKC-composed unicode,
// line breaks turned into spaces, runs of whitespace collapsed, trimmed.
func Clean(value string) string {
	text := norm.NFKC.String(value)
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	text = multiSpaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// CleanStudyLabel removes footnote digits glued onto a four-digit year
// ("Momeni 2021100" -> "Momeni 2021") and normalizes spacing.
func CleanStudyLabel(value string) string {
	text := Clean(value)
	text = footnoteYearRe.ReplaceAllString(text, "${1}")
	return Clean(text)
}

// ReferenceNumber extracts the footnote reference number glued onto a study
// label's year, when present.
func ReferenceNumber(label string) (int, bool) {
	m := refNumberRe.FindStringSubmatch(Clean(label))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// StudyKey builds the stable surname_year key used to match records across
// sources. Accents are folded to ASCII, the author segment keeps only
// letters, and a label without a year falls back to an alphanumeric slug.
func StudyKey(value string) string {
	text := CleanStudyLabel(value)
	folded, _, err := transform.String(asciiFold, text)
	if err != nil {
		folded = text
	}

	m := authorYearRe.FindStringSubmatch(folded)
	if m == nil {
		slug := strings.Trim(nonAlnumRe.ReplaceAllString(folded, "_"), "_")
		return strings.ToLower(slug)
	}

	author := strings.Trim(nonAlphaRe.ReplaceAllString(m[1], "_"), "_")
	author = multiUnderRe.ReplaceAllString(author, "_")
	return strings.ToLower(author + "_" + m[2])
}

// KeyFromSourceID maps an event-source study id such as
// "Surname_drug_2023" or "Surname_drug_2016a" into the study-key namespace:
// the leftmost underscore token is taken as the author and the trailing
// four-digit year (letter suffixes dropped) as the year.
func KeyFromSourceID(id string) string {
	text := Clean(id)
	loc := sourceIDYearRe.FindStringIndex(text)
	if loc == nil {
		return StudyKey(text)
	}
	year := text[loc[0] : loc[0]+4]
	left := strings.TrimSpace(strings.TrimRight(text[:loc[0]], "_ "))
	if left == "" {
		return StudyKey(text)
	}
	author := strings.TrimSpace(strings.SplitN(left, "_", 2)[0])
	if author == "" {
		return StudyKey(text)
	}
	return StudyKey(author + " " + year)
}

// TrialID builds a page-qualified trial identifier for one extracted row.
func TrialID(studyKey string, sourcePage int) string {
	return fmt.Sprintf("%s_p%d", studyKey, sourcePage)
}

// TrimPageSuffix drops the trailing _p<digits> page marker so trial ids can
// be compared across stages that publish unpaged ids.
func TrimPageSuffix(trialID string) string {
	return pageSuffixRe.ReplaceAllString(Clean(trialID), "")
}

// ReferenceURL extracts a citation link from a free-text reference entry.
// An explicit http(s) URL wins; otherwise a plain "doi: 10.x" token is
// resolved against doi.org. Returns "" when neither is present.
func ReferenceURL(entry string) string {
	text := Clean(entry)
	if m := urlRe.FindString(text); m != "" {
		return strings.TrimRight(m, ".,;)")
	}
	if m := plainDOIRe.FindStringSubmatch(text); m != nil {
		return "https://doi.org/" + strings.TrimRight(m[1], ".,;)")
	}
	return ""
}
