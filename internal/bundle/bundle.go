// Package bundle joins arm-level counts with externally fitted model
// summaries into the single precomputed JSON payload the viewer consumes.
//
// Density curves are evaluated here, at build time, so the viewer never has
// to do statistics: each comparison ships a normal density on a shared
// log-odds-ratio grid, peak-normalized to [0, 1]. Comparisons without model
// output are retained with null estimates so the viewer can still show their
// raw counts.
package bundle

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sedationlab/dexatlas/internal/model"
	"github.com/sedationlab/dexatlas/internal/normalize"
)

// z975 is the 97.5% standard normal quantile used to back-solve a normal
// standard deviation from a central 95% interval.
const z975 = 1.959963984540054

// sigmaFloor keeps near-zero-width intervals from rendering as delta spikes.
const sigmaFloor = 1e-4

// floatPrecision bounds every float in the payload to ten decimal places for
// compact, diff-stable JSON.
const floatPrecision = 1e10

// SchemaVersion identifies the payload layout consumed by the viewer.
const SchemaVersion = 1

// XTicksOR are the fixed odds-ratio axis ticks the viewer renders.
var XTicksOR = []float64{0.1, 0.3, 1.0, 3.0}

// GridSpec defines the shared odds-ratio axis the density curves are
// evaluated on.
type GridSpec struct {
	XMinOR float64
	XMaxOR float64
	Points int
}

// DefaultGrid returns the published axis: 181 points from OR 0.1 to 3.5.
func DefaultGrid() GridSpec {
	return GridSpec{XMinOR: 0.1, XMaxOR: 3.5, Points: 181}
}

// Validate enforces the axis invariants.
func (g GridSpec) Validate() error {
	if g.XMinOR <= 0 || g.XMaxOR <= 0 || g.XMaxOR <= g.XMinOR {
		return eris.New("bundle: x-axis limits must satisfy 0 < x_min_or < x_max_or")
	}
	if g.Points < 31 {
		return eris.Errorf("bundle: grid needs at least 31 points, got %d", g.Points)
	}
	return nil
}

// LogORGrid returns Points evenly spaced values from ln(XMinOR) to ln(XMaxOR)
// inclusive.
func (g GridSpec) LogORGrid() []float64 {
	lower := math.Log(g.XMinOR)
	upper := math.Log(g.XMaxOR)
	step := (upper - lower) / float64(g.Points-1)
	grid := make([]float64, g.Points)
	for i := range grid {
		grid[i] = lower + float64(i)*step
	}
	return grid
}

func normalPDF(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5*z*z) / (sigma * math.Sqrt(2*math.Pi))
}

// sigmaFromInterval back-solves a normal standard deviation from a central
// 95% interval, floored at sigmaFloor.
func sigmaFromInterval(lower, upper float64) float64 {
	sigma := (upper - lower) / (2 * z975)
	if sigma < sigmaFloor {
		return sigmaFloor
	}
	return sigma
}

// DensityNorm evaluates a normal density over the grid and scales it so its
// peak is exactly 1. A non-positive peak yields an all-zero curve.
func DensityNorm(grid []float64, mu, sigma float64) []float64 {
	out := make([]float64, len(grid))
	peak := 0.0
	for i, x := range grid {
		out[i] = normalPDF(x, mu, sigma)
		if out[i] > peak {
			peak = out[i]
		}
	}
	if peak <= 0 {
		for i := range out {
			out[i] = 0
		}
		return out
	}
	for i := range out {
		out[i] /= peak
	}
	return out
}

func roundFloat(v float64) float64 {
	return math.Round(v*floatPrecision) / floatPrecision
}

func roundPtr(v float64) *float64 {
	r := roundFloat(v)
	return &r
}

func roundSlice(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = roundFloat(v)
	}
	return out
}

// Assemble joins arm-level counts with the model summaries and builds the
// complete payload. Duplicate comparison keys in any input are fatal, counts
// are re-validated because this is the last gate before publication, and
// comparisons lacking either model table are retained with null statistics.
func Assemble(armRows []model.ArmCountRow, shrinkage []model.ShrinkageRow, crude []model.CrudeRow, overall model.OverallSummary, grid GridSpec) (*model.Bundle, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	logGrid := grid.LogORGrid()

	shrinkageByKey := make(map[model.ComparisonKey]model.ShrinkageRow, len(shrinkage))
	for _, row := range shrinkage {
		key := model.ComparisonKey{TrialID: normalize.TrimPageSuffix(row.TrialID), DexArmIndex: row.DexArmIndex}
		if _, dup := shrinkageByKey[key]; dup {
			return nil, eris.Errorf("bundle: duplicate shrinkage row for %s", key.ComparisonID())
		}
		shrinkageByKey[key] = row
	}

	crudeByKey := make(map[model.ComparisonKey]model.CrudeRow, len(crude))
	for _, row := range crude {
		key := model.ComparisonKey{TrialID: normalize.TrimPageSuffix(row.TrialID), DexArmIndex: row.DexArmIndex}
		if _, dup := crudeByKey[key]; dup {
			return nil, eris.Errorf("bundle: duplicate crude row for %s", key.ComparisonID())
		}
		crudeByKey[key] = row
	}

	rows := make([]model.BundleRow, 0, len(armRows))
	missing := []string{}
	seen := make(map[model.ComparisonKey]struct{}, len(armRows))
	trials := make(map[string]struct{})
	var counts model.BundleCounts

	for _, arm := range armRows {
		key := model.ComparisonKey{TrialID: normalize.TrimPageSuffix(arm.TrialID), DexArmIndex: arm.DexArmIndex}
		if _, dup := seen[key]; dup {
			return nil, eris.Errorf("bundle: duplicate arm row for %s", key.ComparisonID())
		}
		seen[key] = struct{}{}

		if arm.DexEvents < 0 || arm.DexEvents > arm.DexTotal {
			return nil, eris.Errorf("bundle: dex counts invalid for %s: %d/%d", key.ComparisonID(), arm.DexEvents, arm.DexTotal)
		}
		if arm.ControlEvents < 0 || arm.ControlEvents > arm.ControlTotal {
			return nil, eris.Errorf("bundle: control counts invalid for %s: %d/%d", key.ComparisonID(), arm.ControlEvents, arm.ControlTotal)
		}

		label := strings.TrimSpace(arm.StudyLabel)
		if label == "" {
			label = strings.ReplaceAll(key.TrialID, "_", " ")
		}

		row := model.BundleRow{
			ComparisonID:     key.ComparisonID(),
			TrialID:          key.TrialID,
			TrialIDCanonical: key.TrialID,
			StudyLabel:       label,
			DexArmIndex:      key.DexArmIndex,
			DexArmLabel:      strings.TrimSpace(arm.DexArmLabel),
			DexEvents:        arm.DexEvents,
			DexTotal:         arm.DexTotal,
			ControlEvents:    arm.ControlEvents,
			ControlTotal:     arm.ControlTotal,
			DensityNorm:      []float64{},
		}

		s, hasShrinkage := shrinkageByKey[key]
		c, hasCrude := crudeByKey[key]
		if hasShrinkage && hasCrude {
			row.HasModel = true
			sigma := sigmaFromInterval(s.LowerLogOR, s.UpperLogOR)
			row.ShrinkageLogOR = roundPtr(s.MedianLogOR)
			row.ShrinkageLogORLow = roundPtr(s.LowerLogOR)
			row.ShrinkageLogORHigh = roundPtr(s.UpperLogOR)
			row.ShrinkageOR = roundPtr(math.Exp(s.MedianLogOR))
			row.ShrinkageORLow = roundPtr(math.Exp(s.LowerLogOR))
			row.ShrinkageORHigh = roundPtr(math.Exp(s.UpperLogOR))
			row.CrudeOR = roundPtr(c.CrudeOR)
			row.CrudeORLow = roundPtr(c.CrudeORLow)
			row.CrudeORHigh = roundPtr(c.CrudeORHigh)
			row.DensityNorm = roundSlice(DensityNorm(logGrid, s.MedianLogOR, sigma))
		} else {
			missing = append(missing, row.ComparisonID)
		}

		counts.DexEvents += arm.DexEvents
		counts.DexTotal += arm.DexTotal
		counts.ControlEvents += arm.ControlEvents
		counts.ControlTotal += arm.ControlTotal
		trials[key.TrialID] = struct{}{}
		rows = append(rows, row)
	}

	overallEstimate, err := buildOverall(overall, logGrid)
	if err != nil {
		return nil, err
	}

	// Deterministic ordering improves diffs and cache behavior downstream.
	sort.SliceStable(rows, func(i, j int) bool {
		li, lj := strings.ToLower(rows[i].StudyLabel), strings.ToLower(rows[j].StudyLabel)
		if li != lj {
			return li < lj
		}
		return rows[i].DexArmIndex < rows[j].DexArmIndex
	})

	gridOR := make([]float64, len(logGrid))
	for i, x := range logGrid {
		gridOR[i] = roundFloat(math.Exp(x))
	}

	bundle := &model.Bundle{
		SchemaVersion: SchemaVersion,
		CreatedAtUTC:  time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		XLimitsOR:     []float64{roundFloat(grid.XMinOR), roundFloat(grid.XMaxOR)},
		XTicksOR:      append([]float64(nil), XTicksOR...),
		GridOR:        gridOR,
		Overall:       overallEstimate,
		AllCounts:     counts,
		Coverage: model.BundleCoverage{
			NArmRows:                  len(rows),
			NUniqueTrials:             len(trials),
			NRowsWithModel:            len(rows) - len(missing),
			NRowsMissingModel:         len(missing),
			MissingModelComparisonIDs: missing,
		},
		Rows: rows,
	}

	zap.L().Info("bundle assembled",
		zap.Int("rows", len(rows)),
		zap.Int("unique_trials", len(trials)),
		zap.Int("missing_model", len(missing)))
	if len(missing) > 0 {
		zap.L().Warn("arm rows without model summaries", zap.Strings("comparison_ids", missing))
	}
	return bundle, nil
}

func buildOverall(overall model.OverallSummary, logGrid []float64) (model.OverallEstimate, error) {
	if overall.MedianOR <= 0 || overall.LowerOR <= 0 || overall.UpperOR <= 0 {
		return model.OverallEstimate{}, eris.New("bundle: overall odds-ratio summary contains non-positive values")
	}
	medianLog := math.Log(overall.MedianOR)
	lowerLog := math.Log(overall.LowerOR)
	upperLog := math.Log(overall.UpperOR)
	sigma := sigmaFromInterval(lowerLog, upperLog)
	return model.OverallEstimate{
		MedianOR:    roundFloat(overall.MedianOR),
		LowerOR:     roundFloat(overall.LowerOR),
		UpperOR:     roundFloat(overall.UpperOR),
		MedianLogOR: roundFloat(medianLog),
		LowerLogOR:  roundFloat(lowerLog),
		UpperLogOR:  roundFloat(upperLog),
		DensityNorm: roundSlice(DensityNorm(logGrid, medianLog, sigma)),
	}, nil
}
