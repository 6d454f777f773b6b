package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sedationlab/dexatlas/internal/classify"
	"github.com/sedationlab/dexatlas/internal/dose"
	"github.com/sedationlab/dexatlas/internal/ingest"
	"github.com/sedationlab/dexatlas/internal/model"
)

func fptr(v float64) *float64 { return &v }

func articleRow() ingest.ArticleRow {
	return ingest.ArticleRow{
		Study:              "Smith 202045",
		SampleSize:         "60 patients",
		Country:            "China",
		InterventionArm:    "Dexmedetomidine 0.5 mcg/kg loading, infusion 0.2-0.7 mcg/kg/h",
		InterventionEvents: "3/30",
		ControlArm:         "Placebo (normal saline)",
		ControlEvents:      "5/30",
		Timing:             "During surgery",
		Mode:               "Intravenous",
		AssessmentTool:     "CAM-ICU",
		PostopICUCare:      "Yes",
		SourcePage:         3,
		SourceFile:         "articles_tabulated.csv",
	}
}

func baseInputs(articles ...ingest.ArticleRow) Inputs {
	return Inputs{
		Articles:      articles,
		Rules:         classify.DefaultRules(),
		Enrichment:    map[string]ingest.FulltextDose{},
		Adjudications: map[string]ingest.Adjudication{},
		References:    map[int]string{},
	}
}

func TestRun_BuildsCanonicalRecord(t *testing.T) {
	in := baseInputs(articleRow())
	in.RoB = []ingest.RoBRow{{
		StudyID:    "Smith_dexmedetomidine_2020",
		StudyKey:   "smith_2020",
		OverallStd: model.RoBLow,
		OverallRaw: "Low risk",
	}}
	in.References = map[int]string{
		45: "Smith J, et al. Br J Anaesth 2020. doi: 10.1016/j.bja.2020.01.001",
	}

	result := Run(in)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.NArticleRows)
	assert.Empty(t, result.UnmatchedRoBKeys)

	rec := result.Records[0]
	assert.Equal(t, "smith_2020_p3", rec.TrialID)
	assert.Equal(t, "Smith 2020", rec.StudyLabel)
	require.NotNil(t, rec.Year)
	assert.Equal(t, 2020, *rec.Year)
	assert.Equal(t, "China", rec.Country)
	require.NotNil(t, rec.NTotal)
	assert.Equal(t, 60, *rec.NTotal)
	assert.Equal(t, model.ControlPlaceboOrSaline, rec.ControlClass)

	require.NotNil(t, rec.BolusValue)
	assert.InDelta(t, 0.5, *rec.BolusValue, 1e-9)
	assert.Equal(t, "mcg/kg", rec.BolusUnit)
	require.NotNil(t, rec.InfusionLow)
	assert.InDelta(t, 0.2, *rec.InfusionLow, 1e-9)
	require.NotNil(t, rec.InfusionHigh)
	assert.InDelta(t, 0.7, *rec.InfusionHigh, 1e-9)
	assert.True(t, rec.InfusionWeightNormalized)

	assert.Equal(t, model.TimingIntraOp, rec.TimingPhase)
	assert.Equal(t, "During surgery", rec.TimingRaw)
	assert.Equal(t, "IV", rec.RouteStd)
	assert.Equal(t, model.RoBLow, rec.RoBOverallStd)
	assert.Equal(t, "Low risk", rec.RoBOverallRaw)
	assert.InDelta(t, 1.0, rec.ExtractionConfidence, 1e-9)
	assert.Empty(t, rec.ValidationFlags)
	assert.Equal(t, 3, rec.SourcePage)
	assert.Equal(t, "articles_tabulated.csv", rec.SourceFile)
	assert.Equal(t, "3/30", rec.InterventionEvents)
	assert.Equal(t, "CAM-ICU", rec.AssessmentTool)

	require.NotNil(t, rec.ReferenceNumber)
	assert.Equal(t, 45, *rec.ReferenceNumber)
	assert.Equal(t, "https://doi.org/10.1016/j.bja.2020.01.001", rec.ReferenceURL)
}

func TestRun_FiltersNonDexRows(t *testing.T) {
	row := articleRow()
	row.InterventionArm = "Ketamine 1 mg/kg"

	result := Run(baseInputs(row))
	assert.Empty(t, result.Records)
	assert.Equal(t, 1, result.NArticleRows)
}

func TestRun_FiltersNonPlaceboComparators(t *testing.T) {
	row := articleRow()
	row.ControlArm = "Propofol infusion"

	result := Run(baseInputs(row))
	assert.Empty(t, result.Records)
}

func TestRun_MissingEverythingFlagsAndConfidence(t *testing.T) {
	row := articleRow()
	row.InterventionArm = "Dexmedetomidine administered per local protocol"
	row.Timing = ""
	row.Mode = ""

	result := Run(baseInputs(row))
	require.Len(t, result.Records, 1)
	rec := result.Records[0]

	assert.Nil(t, rec.BolusValue)
	assert.Nil(t, rec.InfusionLow)
	assert.Equal(t, model.TimingUnknown, rec.TimingPhase)
	assert.Equal(t, "Unknown", rec.RouteStd)
	assert.InDelta(t, 0.2, rec.ExtractionConfidence, 1e-9)
	assert.Equal(t, []string{
		"bolus_missing",
		"infusion_missing",
		"rob_unmatched_defaulted",
		"route_unclear",
		"timing_unclear",
	}, rec.ValidationFlags)
}

func TestRun_FulltextEnrichmentOverridesDose(t *testing.T) {
	row := articleRow()
	row.InterventionArm = "Dexmedetomidine administered per local protocol"

	in := baseInputs(row)
	in.Enrichment = map[string]ingest.FulltextDose{
		"smith_2020": {
			BolusValue:               fptr(0.5),
			BolusUnit:                "mcg/kg",
			InfusionLow:              fptr(0.4),
			InfusionHigh:             fptr(0.4),
			InfusionUnit:             "mcg/kg/h",
			InfusionWeightNormalized: true,
			SourceFile:               "trial_pdfs/smith_2020.pdf",
		},
	}

	result := Run(in)
	require.Len(t, result.Records, 1)
	rec := result.Records[0]

	require.NotNil(t, rec.BolusValue)
	assert.InDelta(t, 0.5, *rec.BolusValue, 1e-9)
	require.NotNil(t, rec.InfusionLow)
	assert.InDelta(t, 0.4, *rec.InfusionLow, 1e-9)
	assert.True(t, rec.InfusionWeightNormalized)
	assert.Contains(t, rec.ValidationFlags, FlagDoseFromFulltext)
	assert.Contains(t, rec.ValidationFlags, FlagInfusionFromFulltext)
	assert.NotContains(t, rec.ValidationFlags, FlagBolusMissing)
	assert.Equal(t, "articles_tabulated.csv;trial_pdfs/smith_2020.pdf", rec.SourceFile)
	assert.InDelta(t, 1.0, rec.ExtractionConfidence, 1e-9)
}

func TestRun_AdjudicationWinsOverParsedValues(t *testing.T) {
	unit := "mcg/kg"
	timing := model.TimingPostOp

	in := baseInputs(articleRow())
	in.Adjudications = map[string]ingest.Adjudication{
		"smith_2020": {
			BolusValue:  fptr(1.0),
			BolusUnit:   &unit,
			InfusionLow: fptr(0.3),
			TimingPhase: &timing,
		},
	}

	result := Run(in)
	require.Len(t, result.Records, 1)
	rec := result.Records[0]

	require.NotNil(t, rec.BolusValue)
	assert.InDelta(t, 1.0, *rec.BolusValue, 1e-9)
	require.NotNil(t, rec.InfusionLow)
	assert.InDelta(t, 0.3, *rec.InfusionLow, 1e-9)
	// A lone adjudicated rate collapses the range.
	require.NotNil(t, rec.InfusionHigh)
	assert.InDelta(t, 0.3, *rec.InfusionHigh, 1e-9)
	assert.Equal(t, model.TimingPostOp, rec.TimingPhase)
	assert.Contains(t, rec.ValidationFlags, FlagManualAdjudication)
}

func TestRun_RoBDefaultsWhenUnmatched(t *testing.T) {
	in := baseInputs(articleRow())
	in.RoB = []ingest.RoBRow{{
		StudyID:    "Other_dexmedetomidine_2019",
		StudyKey:   "other_2019",
		OverallStd: model.RoBHigh,
		OverallRaw: "High risk",
	}}

	result := Run(in)
	require.Len(t, result.Records, 1)
	rec := result.Records[0]

	assert.Equal(t, model.RoBSomeConcerns, rec.RoBOverallStd)
	assert.Empty(t, rec.RoBOverallRaw)
	assert.Contains(t, rec.ValidationFlags, FlagRoBUnmatched)
	assert.Equal(t, []string{"other_2019"}, result.UnmatchedRoBKeys)
}

func TestRun_RoBFlagsPropagate(t *testing.T) {
	in := baseInputs(articleRow())
	in.RoB = []ingest.RoBRow{{
		StudyID:    "Smith_dexmedetomidine_2020",
		StudyKey:   "smith_2020",
		OverallStd: model.RoBSomeConcerns,
		OverallRaw: "Some concerns",
		Flags:      []string{classify.FlagRoBFromFallback},
	}}

	result := Run(in)
	require.Len(t, result.Records, 1)
	assert.Contains(t, result.Records[0].ValidationFlags, classify.FlagRoBFromFallback)
}

func TestRun_UnitCorrectionFlagsCarryThrough(t *testing.T) {
	row := articleRow()
	row.InterventionArm = "Dexmedetomidine bolus 12 mg/kg before induction"

	result := Run(baseInputs(row))
	require.Len(t, result.Records, 1)
	rec := result.Records[0]

	require.NotNil(t, rec.BolusValue)
	assert.InDelta(t, 12.0, *rec.BolusValue, 1e-9)
	assert.Contains(t, rec.ValidationFlags, dose.FlagBolusUnitCorrected)
}

func TestRun_ReferenceWithoutEntryKeepsNumber(t *testing.T) {
	result := Run(baseInputs(articleRow()))
	require.Len(t, result.Records, 1)
	rec := result.Records[0]

	require.NotNil(t, rec.ReferenceNumber)
	assert.Equal(t, 45, *rec.ReferenceNumber)
	assert.Empty(t, rec.ReferenceURL)
}

func TestRun_NoFootnoteMeansNoReference(t *testing.T) {
	row := articleRow()
	row.Study = "Li 2023"

	result := Run(baseInputs(row))
	require.Len(t, result.Records, 1)
	assert.Nil(t, result.Records[0].ReferenceNumber)
	assert.Empty(t, result.Records[0].ReferenceURL)
}

func TestDexArmText_SelectsDexSegments(t *testing.T) {
	text := "Arm 1: Dexmedetomidine 0.5 mcg/kg; Arm 2: Midazolam 0.05 mg/kg"
	assert.Equal(t, "Arm 1: Dexmedetomidine 0.5 mcg/kg", DexArmText(text))
}

func TestDexArmText_JoinsMultipleDexSegments(t *testing.T) {
	text := "Arm 1: Dex low dose; Arm 2: Dex high dose; Arm 3: saline"
	assert.Equal(t, "Arm 1: Dex low dose | Arm 2: Dex high dose", DexArmText(text))
}

func TestDexArmText_PassthroughWithoutMarkers(t *testing.T) {
	assert.Equal(t, "Dexmedetomidine 0.5 mcg/kg", DexArmText("Dexmedetomidine  0.5 mcg/kg"))
	assert.Equal(t, "", DexArmText("   "))
}

func TestDexArmText_PassthroughWhenNoDexSegment(t *testing.T) {
	text := "Arm 1: Ketamine; Arm 2: Saline"
	assert.Equal(t, text, DexArmText(text))
}

func TestParseNTotal(t *testing.T) {
	n := ParseNTotal("60 patients")
	require.NotNil(t, n)
	assert.Equal(t, 60, *n)

	n = ParseNTotal("n=45")
	require.NotNil(t, n)
	assert.Equal(t, 45, *n)

	assert.Nil(t, ParseNTotal(""))
	assert.Nil(t, ParseNTotal("not reported"))
}

func TestConfidence(t *testing.T) {
	full := model.ParsedDose{BolusValue: fptr(0.5), InfusionLow: fptr(0.4)}
	assert.InDelta(t, 1.0, Confidence(full, model.TimingIntraOp, "IV"), 1e-9)

	noBolus := model.ParsedDose{InfusionLow: fptr(0.4)}
	assert.InDelta(t, 0.85, Confidence(noBolus, model.TimingIntraOp, "IV"), 1e-9)

	noInfusion := model.ParsedDose{BolusValue: fptr(0.5)}
	assert.InDelta(t, 0.75, Confidence(noInfusion, model.TimingIntraOp, "IV"), 1e-9)

	nothing := model.ParsedDose{}
	assert.InDelta(t, 0.2, Confidence(nothing, model.TimingUnknown, "Unknown"), 1e-9)
}
