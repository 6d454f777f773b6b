package dose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_BolusAndSingleInfusion(t *testing.T) {
	d := Parse("Dexmedetomidine 1 mcg/kg loading, infusion 0.2 mcg/kg/h")

	require.NotNil(t, d.BolusValue)
	assert.InDelta(t, 1.0, *d.BolusValue, 1e-9)
	assert.Equal(t, "mcg/kg", d.BolusUnit)

	require.NotNil(t, d.InfusionLow)
	require.NotNil(t, d.InfusionHigh)
	assert.InDelta(t, 0.2, *d.InfusionLow, 1e-9)
	assert.InDelta(t, 0.2, *d.InfusionHigh, 1e-9)
	assert.Equal(t, "mcg/kg/h", d.InfusionUnit)
	assert.True(t, d.InfusionWeightNormalized)
}

func TestParse_InfusionRange(t *testing.T) {
	d := Parse("Dexmedetomidine infusion 0.2-0.7 mcg/kg/h")

	assert.Nil(t, d.BolusValue)
	require.NotNil(t, d.InfusionLow)
	require.NotNil(t, d.InfusionHigh)
	assert.InDelta(t, 0.2, *d.InfusionLow, 1e-9)
	assert.InDelta(t, 0.7, *d.InfusionHigh, 1e-9)
	assert.True(t, d.InfusionWeightNormalized)
}

func TestParse_InfusionRangeWithToSeparator(t *testing.T) {
	d := Parse("infusion 0.2 to 0.7 mcg/kg/h until extubation")

	require.NotNil(t, d.InfusionLow)
	require.NotNil(t, d.InfusionHigh)
	assert.InDelta(t, 0.2, *d.InfusionLow, 1e-9)
	assert.InDelta(t, 0.7, *d.InfusionHigh, 1e-9)
}

func TestParse_FixedRateNotWeightNormalized(t *testing.T) {
	d := Parse("Dexmedetomidine background infusion 1.25 mcg/h")

	require.NotNil(t, d.InfusionLow)
	assert.InDelta(t, 1.25, *d.InfusionLow, 1e-9)
	assert.Equal(t, "mcg/h", d.InfusionUnit)
	assert.False(t, d.InfusionWeightNormalized)
}

func TestParse_KeywordBeforeValueBolus(t *testing.T) {
	d := Parse("loading dose of 0.5 mcg/kg over 10 min")

	require.NotNil(t, d.BolusValue)
	assert.InDelta(t, 0.5, *d.BolusValue, 1e-9)
}

func TestParse_RateSuffixDoesNotBecomeBolus(t *testing.T) {
	// The per-kg quantity with an hour suffix is an infusion; the bolus
	// matcher must skip past it to the true bolus later in the text.
	d := Parse("0.5 mcg/kg/h infusion with 1 mcg/kg bolus")

	require.NotNil(t, d.BolusValue)
	assert.InDelta(t, 1.0, *d.BolusValue, 1e-9)
	require.NotNil(t, d.InfusionLow)
	assert.InDelta(t, 0.5, *d.InfusionLow, 1e-9)
}

func TestParse_InfusionOnlyRateNeverBolus(t *testing.T) {
	d := Parse("Dexmedetomidine 0.4 mcg/kg/h throughout surgery")

	assert.Nil(t, d.BolusValue)
	require.NotNil(t, d.InfusionLow)
	assert.InDelta(t, 0.4, *d.InfusionLow, 1e-9)
}

func TestParse_MicroSignVariants(t *testing.T) {
	d := Parse("bolus 0.5 µg/kg then 0.3 μg/kg/h")

	require.NotNil(t, d.BolusValue)
	assert.InDelta(t, 0.5, *d.BolusValue, 1e-9)
	require.NotNil(t, d.InfusionLow)
	assert.InDelta(t, 0.3, *d.InfusionLow, 1e-9)
}

func TestParse_MilligramsConvertedToMicrograms(t *testing.T) {
	d := Parse("bolus 0.001 mg/kg")

	require.NotNil(t, d.BolusValue)
	assert.InDelta(t, 1.0, *d.BolusValue, 1e-9)
	assert.Equal(t, "mg", d.BolusUnitRaw)
	assert.Equal(t, "mcg/kg", d.BolusUnit)
}

func TestParse_NoDoseInformation(t *testing.T) {
	d := Parse("Dexmedetomidine administered per local protocol")

	assert.Nil(t, d.BolusValue)
	assert.Nil(t, d.InfusionLow)
	assert.Nil(t, d.InfusionHigh)
	assert.Equal(t, "", d.InfusionUnit)
	assert.False(t, d.InfusionWeightNormalized)
}

func TestCorrectImplausibleUnits_Bolus(t *testing.T) {
	// 12 mg/kg converts to 12000 mcg/kg, far beyond any dex bolus; the mg
	// reading is rescaled back down and flagged.
	d := Parse("Dexmedetomidine 12 mg/kg bolus")
	require.NotNil(t, d.BolusValue)
	assert.InDelta(t, 12000.0, *d.BolusValue, 1e-9)

	corrected, flags := CorrectImplausibleUnits(d)
	require.NotNil(t, corrected.BolusValue)
	assert.InDelta(t, 12.0, *corrected.BolusValue, 1e-9)
	assert.Contains(t, flags, FlagBolusUnitCorrected)
}

func TestCorrectImplausibleUnits_InfusionRange(t *testing.T) {
	d := Parse("infusion 6-8 mg/kg/h")
	require.NotNil(t, d.InfusionLow)
	assert.InDelta(t, 6000.0, *d.InfusionLow, 1e-9)

	corrected, flags := CorrectImplausibleUnits(d)
	require.NotNil(t, corrected.InfusionLow)
	require.NotNil(t, corrected.InfusionHigh)
	assert.InDelta(t, 6.0, *corrected.InfusionLow, 1e-9)
	assert.InDelta(t, 8.0, *corrected.InfusionHigh, 1e-9)
	assert.Equal(t, "mcg/kg/h", corrected.InfusionUnit)
	assert.Contains(t, flags, FlagInfusionUnitCorrected)
	assert.NoError(t, corrected.Validate())
}

func TestCorrectImplausibleUnits_PlausibleMgLeftAlone(t *testing.T) {
	d := Parse("bolus 0.001 mg/kg")
	corrected, flags := CorrectImplausibleUnits(d)

	require.NotNil(t, corrected.BolusValue)
	assert.InDelta(t, 1.0, *corrected.BolusValue, 1e-9)
	assert.Empty(t, flags)
}

func TestCorrectImplausibleUnits_McgNeverRescaled(t *testing.T) {
	// Out-of-range mcg values are a validation concern, not a unit artifact.
	d := Parse("bolus 15 mcg/kg")
	corrected, flags := CorrectImplausibleUnits(d)

	require.NotNil(t, corrected.BolusValue)
	assert.InDelta(t, 15.0, *corrected.BolusValue, 1e-9)
	assert.Empty(t, flags)
}
