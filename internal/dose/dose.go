// Package dose parses dexmedetomidine dosing phrases out of free-text
// intervention descriptions and applies unit-plausibility corrections.
package dose

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sedationlab/dexatlas/internal/model"
	"github.com/sedationlab/dexatlas/internal/normalize"
)

// FlagBolusUnitCorrected and FlagInfusionUnitCorrected mark values rescaled
// by the plausibility corrector.
const (
	FlagBolusUnitCorrected    = "dose_unit_mg_interpreted_as_mcg"
	FlagInfusionUnitCorrected = "infusion_unit_mg_interpreted_as_mcg"
)

// bolusPattern is one entry of the ordered bolus cascade. rateGuard names a
// capture group that must be absent: it holds a trailing per-hour suffix,
// which would make the quantity an infusion rate, not a bolus.
type bolusPattern struct {
	re        *regexp.Regexp
	value     int
	unit      int
	rateGuard int
}

// Keyword-before-value, then value-before-keyword. First match wins.
var bolusPatterns = []bolusPattern{
	{
		re:        regexp.MustCompile(`(?i)(?:loading\s*dose|loading|bolus)[^\d]{0,20}(\d+(?:\.\d+)?)\s*(mg|mcg|ug)\s*/\s*kg(\s*/\s*(?:h|hr|hour))?`),
		value:     1,
		unit:      2,
		rateGuard: 3,
	},
	{
		re:        regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mg|mcg|ug)\s*/\s*kg(\s*/\s*(?:h|hr|hour))?[^.;,]{0,25}(?:loading|bolus)`),
		value:     1,
		unit:      2,
		rateGuard: 3,
	},
}

// infusionPattern is one entry of the ordered weight-normalized infusion
// cascade: an explicit low-to-high range, then a single rate.
type infusionPattern struct {
	re      *regexp.Regexp
	isRange bool
}

var infusionPatterns = []infusionPattern{
	{
		re:      regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:-|to)\s*(\d+(?:\.\d+)?)\s*(mg|mcg|ug)\s*/\s*kg\s*/\s*(?:h|hr|hour)`),
		isRange: true,
	},
	{
		re: regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mg|mcg|ug)\s*/\s*kg\s*/\s*(?:h|hr|hour)`),
	},
}

// fixedRateRe catches absolute (non-weight-normalized) infusion rates, tried
// only when no per-kilogram rate matched.
var fixedRateRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mg|mcg|ug)\s*/\s*(?:h|hr|hour)`)

// Parse extracts bolus and infusion doses from an intervention text. Units
// are harmonized to micrograms; text without any recognizable dose yields a
// zero-valued ParsedDose.
func Parse(text string) model.ParsedDose {
	t := strings.ToLower(normalize.Clean(text))
	t = strings.NewReplacer("µg", "mcg", "μg", "mcg").Replace(t)

	var d model.ParsedDose

	for _, p := range bolusPatterns {
		m := searchGuarded(p.re, t, p.rateGuard)
		if m == nil {
			continue
		}
		if raw, err := strconv.ParseFloat(m[p.value], 64); err == nil {
			d.BolusUnitRaw = strings.ToLower(m[p.unit])
			v := round6(toMcg(raw, d.BolusUnitRaw))
			d.BolusValue = &v
			d.BolusUnit = "mcg/kg"
		}
		break
	}

	for _, p := range infusionPatterns {
		m := p.re.FindStringSubmatch(t)
		if m == nil {
			continue
		}
		if p.isRange {
			lowRaw, errLow := strconv.ParseFloat(m[1], 64)
			highRaw, errHigh := strconv.ParseFloat(m[2], 64)
			if errLow != nil || errHigh != nil {
				continue
			}
			unit := strings.ToLower(m[3])
			low := round6(toMcg(lowRaw, unit))
			high := round6(toMcg(highRaw, unit))
			d.InfusionLow = &low
			d.InfusionHigh = &high
			d.InfusionUnitRaw = unit
		} else {
			lowRaw, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			unit := strings.ToLower(m[2])
			low := round6(toMcg(lowRaw, unit))
			high := low
			d.InfusionLow = &low
			d.InfusionHigh = &high
			d.InfusionUnitRaw = unit
		}
		d.InfusionUnit = "mcg/kg/h"
		d.InfusionWeightNormalized = true
		break
	}

	if d.InfusionUnit == "" {
		if m := fixedRateRe.FindStringSubmatch(t); m != nil {
			if raw, err := strconv.ParseFloat(m[1], 64); err == nil {
				unit := strings.ToLower(m[2])
				low := round6(toMcg(raw, unit))
				high := low
				d.InfusionLow = &low
				d.InfusionHigh = &high
				d.InfusionUnit = "mcg/h"
				d.InfusionUnitRaw = unit
				d.InfusionWeightNormalized = false
			}
		}
	}

	return d
}

// CorrectImplausibleUnits rescales values whose raw unit was read as mg but
// whose magnitude only makes sense in mcg. A dex bolus above 10 mcg/kg or a
// weight-normalized infusion above 5 mcg/kg/h is outside anything these
// trials administer, so the mg reading is treated as a unit-detection error.
func CorrectImplausibleUnits(d model.ParsedDose) (model.ParsedDose, []string) {
	var flags []string

	if d.BolusUnitRaw == "mg" && d.BolusValue != nil && *d.BolusValue > 10.0 {
		v := round6(*d.BolusValue / 1000.0)
		d.BolusValue = &v
		d.BolusUnit = "mcg/kg"
		flags = append(flags, FlagBolusUnitCorrected)
	}

	if d.InfusionUnitRaw == "mg" && d.InfusionLow != nil && *d.InfusionLow > 5.0 {
		low := round6(*d.InfusionLow / 1000.0)
		high := low
		if d.InfusionHigh != nil {
			high = round6(*d.InfusionHigh / 1000.0)
		}
		d.InfusionLow = &low
		d.InfusionHigh = &high
		if d.InfusionWeightNormalized {
			d.InfusionUnit = "mcg/kg/h"
		} else {
			d.InfusionUnit = "mcg/h"
		}
		flags = append(flags, FlagInfusionUnitCorrected)
	}

	return d, flags
}

// searchGuarded returns the leftmost match of re whose guard group did not
// participate. A match whose guard fired is skipped by advancing one byte
// past its start, mirroring how a negative lookahead would keep scanning.
func searchGuarded(re *regexp.Regexp, text string, guard int) []string {
	offset := 0
	for offset <= len(text) {
		loc := re.FindStringSubmatchIndex(text[offset:])
		if loc == nil {
			return nil
		}
		if loc[2*guard] == -1 {
			groups := make([]string, re.NumSubexp()+1)
			for i := 0; i <= re.NumSubexp(); i++ {
				if loc[2*i] >= 0 {
					groups[i] = text[offset+loc[2*i] : offset+loc[2*i+1]]
				}
			}
			return groups
		}
		offset += loc[0] + 1
	}
	return nil
}

func toMcg(value float64, unit string) float64 {
	if unit == "mg" {
		return value * 1000.0
	}
	return value
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
