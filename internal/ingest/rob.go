package ingest

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sedationlab/dexatlas/internal/classify"
	"github.com/sedationlab/dexatlas/internal/model"
	"github.com/sedationlab/dexatlas/internal/normalize"
)

// Risk-of-bias workbook layout: study id in the first column, the overall
// judgement in column 10, and a free-text fallback in column 13.
const (
	robStudyColumn    = 0
	robOverallColumn  = 9
	robFallbackColumn = 12
)

// RoBRow is one study's risk-of-bias assessment from the review workbook.
type RoBRow struct {
	StudyID    string
	StudyKey   string
	OverallStd model.RoBCategory
	OverallRaw string
	Flags      []string
}

// ReadRoBWorkbook reads the first sheet of the risk-of-bias workbook. The
// header row is skipped and rows with an empty study id are ignored. The
// second return value maps raw study ids to their normalized keys for audit
// output.
func ReadRoBWorkbook(path string) ([]RoBRow, map[string]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "ingest: open rob workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.Errorf("ingest: %s: workbook has no sheets", path)
	}

	var rows []RoBRow
	keys := make(map[string]string)
	for i, row := range f.Sheets[0].Rows {
		if i == 0 {
			continue
		}
		cells := rowToStrings(row)
		studyID := normalize.Clean(cellAt(cells, robStudyColumn))
		if studyID == "" {
			continue
		}

		std, raw, flags := classify.RoBWithPrecedence(
			cellAt(cells, robOverallColumn),
			cellAt(cells, robFallbackColumn),
		)
		key := normalize.StudyKey(studyID)
		keys[studyID] = key
		rows = append(rows, RoBRow{
			StudyID:    studyID,
			StudyKey:   key,
			OverallStd: std,
			OverallRaw: raw,
			Flags:      flags,
		})
	}
	return rows, keys, nil
}

// RoBLookup indexes assessments by study key; the first occurrence wins.
func RoBLookup(rows []RoBRow) map[string]RoBRow {
	lookup := make(map[string]RoBRow, len(rows))
	for _, row := range rows {
		if _, ok := lookup[row.StudyKey]; !ok {
			lookup[row.StudyKey] = row
		}
	}
	return lookup
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func cellAt(cells []string, i int) string {
	if i >= 0 && i < len(cells) {
		return cells[i]
	}
	return ""
}
