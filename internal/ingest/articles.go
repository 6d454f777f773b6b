package ingest

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sedationlab/dexatlas/internal/normalize"
)

// articleColumnCount is the fixed width of the supplementary trial table.
const articleColumnCount = 11

// requiredArticleColumns is the layout of a tabulated article-table export:
// the page the row was lifted from plus the eleven table cells.
var requiredArticleColumns = []string{
	"page",
	"study",
	"sample_size",
	"country",
	"intervention_arm",
	"intervention_events",
	"control_arm",
	"control_events",
	"timing",
	"mode",
	"assessment_tool",
	"postop_icu_care",
}

// TableRow pairs raw table cells with the page they were tabulated from.
type TableRow struct {
	Page  int
	Cells []string
}

// ArticleRow is one shaped row of the supplementary trial characteristics table.
type ArticleRow struct {
	Study              string `json:"study"`
	SampleSize         string `json:"sample_size"`
	Country            string `json:"country"`
	InterventionArm    string `json:"intervention_arm"`
	InterventionEvents string `json:"intervention_events"`
	ControlArm         string `json:"control_arm"`
	ControlEvents      string `json:"control_events"`
	Timing             string `json:"timing"`
	Mode               string `json:"mode"`
	AssessmentTool     string `json:"assessment_tool"`
	PostopICUCare      string `json:"postop_icu_care"`
	SourcePage         int    `json:"source_page"`
	SourceFile         string `json:"source_file"`
}

var yearDigitsRe = regexp.MustCompile(`\d{4}`)

// ShapeArticleRows turns raw table rows into article rows. Repeated header
// rows are dropped, short and long rows are padded or truncated to the fixed
// column count, continuation rows (empty study cell, text elsewhere) are
// merged into the preceding record, and rows without a four-digit year in
// the study cell are discarded as table noise.
func ShapeArticleRows(raw []TableRow, sourceFile string) []ArticleRow {
	var shaped []ArticleRow

	for _, tr := range raw {
		cells := normalizeRowWidth(tr.Cells)
		if isArticleHeader(cells) {
			continue
		}
		if isContinuation(cells) {
			if len(shaped) == 0 {
				continue
			}
			mergeContinuation(&shaped[len(shaped)-1], cells)
			continue
		}
		if !yearDigitsRe.MatchString(cells[0]) {
			continue
		}
		shaped = append(shaped, ArticleRow{
			Study:              cells[0],
			SampleSize:         cells[1],
			Country:            cells[2],
			InterventionArm:    cells[3],
			InterventionEvents: cells[4],
			ControlArm:         cells[5],
			ControlEvents:      cells[6],
			Timing:             cells[7],
			Mode:               cells[8],
			AssessmentTool:     cells[9],
			PostopICUCare:      cells[10],
			SourcePage:         tr.Page,
			SourceFile:         sourceFile,
		})
	}
	return shaped
}

// ReadArticleTable reads a tabulated export of the supplementary trial table
// and shapes it, one table row per CSV row.
func ReadArticleTable(path string) ([]ArticleRow, error) {
	table, err := ReadCSVTable(path, requiredArticleColumns)
	if err != nil {
		return nil, err
	}

	raw := make([]TableRow, 0, len(table.Rows))
	for i, record := range table.Rows {
		pageText := normalize.Clean(table.Cell(record, "page"))
		page, err := strconv.Atoi(pageText)
		if err != nil {
			return nil, eris.Errorf("ingest: %s row %d: invalid page %q", path, i+1, pageText)
		}
		cells := make([]string, 0, articleColumnCount)
		for _, col := range requiredArticleColumns[1:] {
			cells = append(cells, table.Cell(record, col))
		}
		raw = append(raw, TableRow{Page: page, Cells: cells})
	}
	return ShapeArticleRows(raw, path), nil
}

func normalizeRowWidth(cells []string) []string {
	out := make([]string, articleColumnCount)
	for i := 0; i < articleColumnCount && i < len(cells); i++ {
		out[i] = normalize.Clean(cells[i])
	}
	return out
}

func isArticleHeader(cells []string) bool {
	first := strings.ToLower(cells[0])
	second := strings.ToLower(cells[1])
	return strings.Contains(first, "study") && strings.Contains(second, "sample")
}

// isContinuation reports whether the row carries overflow text for the
// previous record: an empty study cell with content anywhere else.
func isContinuation(cells []string) bool {
	if cells[0] != "" {
		return false
	}
	for _, c := range cells[1:] {
		if c != "" {
			return true
		}
	}
	return false
}

func mergeContinuation(last *ArticleRow, cells []string) {
	for i, field := range last.fields() {
		if cells[i] == "" {
			continue
		}
		if *field == "" {
			*field = cells[i]
			continue
		}
		*field = normalize.Clean(*field + " " + cells[i])
	}
}

// fields returns the table cells of r in column order for continuation merging.
func (r *ArticleRow) fields() []*string {
	return []*string{
		&r.Study, &r.SampleSize, &r.Country,
		&r.InterventionArm, &r.InterventionEvents,
		&r.ControlArm, &r.ControlEvents,
		&r.Timing, &r.Mode, &r.AssessmentTool, &r.PostopICUCare,
	}
}
