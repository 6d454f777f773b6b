package ingest

import (
	"bytes"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sedationlab/dexatlas/internal/model"
)

// ReadTrialRecords reads curated trial-arm records produced by the extract
// and validate stages. Every row must carry a trial id and a study label.
func ReadTrialRecords(path string) ([]model.TrialArmRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read trial records")
	}
	var records []model.TrialArmRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, eris.Wrapf(err, "ingest: %s: decode trial records", path)
	}
	for i, rec := range records {
		if strings.TrimSpace(rec.TrialID) == "" || strings.TrimSpace(rec.StudyLabel) == "" {
			return nil, eris.Errorf("ingest: %s: trial row %d missing trial_id or study_label", path, i)
		}
	}
	return records, nil
}

// Adjudication is a manual trial-level correction applied after dose parsing.
// Absent fields leave the parsed value untouched.
type Adjudication struct {
	BolusValue               *float64           `json:"bolus_value"`
	BolusUnit                *string            `json:"bolus_unit"`
	InfusionLow              *float64           `json:"infusion_low"`
	InfusionHigh             *float64           `json:"infusion_high"`
	InfusionUnit             *string            `json:"infusion_unit"`
	InfusionWeightNormalized *bool              `json:"infusion_weight_normalized"`
	TimingPhase              *model.TimingPhase `json:"timing_phase"`
}

// ReadAdjudications loads manual adjudications keyed by lowercased study key.
// A missing file is not an error; entries that are not objects are skipped.
func ReadAdjudications(path string) (map[string]Adjudication, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]Adjudication{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read adjudications")
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, eris.Wrapf(err, "ingest: adjudications in %s must be an object", path)
	}

	adjudications := make(map[string]Adjudication, len(payload))
	for key, raw := range payload {
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			continue
		}
		var adj Adjudication
		if err := json.Unmarshal(raw, &adj); err != nil {
			return nil, eris.Wrapf(err, "ingest: decode adjudication %q", key)
		}
		adjudications[strings.ToLower(key)] = adj
	}
	return adjudications, nil
}

// ReadReferences loads the numbered citation list used to attach reference
// links to records, keyed by footnote number. A missing file yields an
// empty map.
func ReadReferences(path string) (map[int]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[int]string{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read references")
	}
	var payload map[string]string
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, eris.Wrapf(err, "ingest: %s: decode references", path)
	}
	references := make(map[int]string, len(payload))
	for key, entry := range payload {
		number, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, eris.Errorf("ingest: %s: reference key %q is not a number", path, key)
		}
		references[number] = entry
	}
	return references, nil
}

// FulltextDose is per-study dose evidence recovered from full-text sources,
// keyed by study key. Present values replace table-parsed doses.
type FulltextDose struct {
	BolusValue               *float64 `json:"fulltext_bolus_value"`
	BolusUnit                string   `json:"fulltext_bolus_unit"`
	InfusionLow              *float64 `json:"fulltext_infusion_low"`
	InfusionHigh             *float64 `json:"fulltext_infusion_high"`
	InfusionUnit             string   `json:"fulltext_infusion_unit"`
	InfusionWeightNormalized bool     `json:"fulltext_infusion_weight_normalized"`
	SourceFile               string   `json:"fulltext_source_file"`
}

// ReadEnrichment loads optional full-text dose enrichment. A missing file
// yields an empty map.
func ReadEnrichment(path string) (map[string]FulltextDose, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]FulltextDose{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read fulltext enrichment")
	}
	var enrichment map[string]FulltextDose
	if err := json.Unmarshal(data, &enrichment); err != nil {
		return nil, eris.Wrapf(err, "ingest: %s: decode fulltext enrichment", path)
	}
	if enrichment == nil {
		enrichment = map[string]FulltextDose{}
	}
	return enrichment, nil
}
