package linkage

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ArmOverride carries manually audited counts for one dex arm of a trial.
type ArmOverride struct {
	Label  string `yaml:"label"`
	Events int    `yaml:"events"`
	Total  int    `yaml:"total"`
}

// CountOverride replaces the event-source counts for one trial outright,
// e.g. when strata had to be pooled by hand during audit.
type CountOverride struct {
	SourceStudyID string              `yaml:"source_study_id"`
	ControlLabel  string              `yaml:"control_label"`
	ControlEvents int                 `yaml:"control_events"`
	ControlTotal  int                 `yaml:"control_total"`
	Arms          map[int]ArmOverride `yaml:"arms"`
}

// Tables is the static curation configuration injected into the linker. It
// is read once at construction and never mutated, so a substituted table set
// exercises the same code paths as the shipped defaults.
type Tables struct {
	// Aliases maps a derived study key to the key actually present in the
	// event source, for known orthographic mismatches.
	Aliases map[string]string `yaml:"study_key_aliases"`
	// ExcludedTrials lists canonical trial ids dropped by manual audit.
	ExcludedTrials []string `yaml:"excluded_trials"`
	// ArmKeep restricts which dex arm indices are retained per trial.
	ArmKeep map[string][]int `yaml:"trial_dex_arm_keep"`
	// ArmLabelOverrides renames (trial, arm) labels for publication
	// consistency, keyed "<trial_id>:<arm_index>".
	ArmLabelOverrides map[string]string `yaml:"arm_label_overrides"`
	// CountOverrides supplies manual counts per trial, bypassing lookup.
	CountOverrides map[string]CountOverride `yaml:"count_overrides"`
	// ControlAllowed is the strict control-label scope, lower-cased.
	ControlAllowed []string `yaml:"control_allowed"`
}

// ArmLabelKey builds the lookup key used by Tables.ArmLabelOverrides.
func ArmLabelKey(trialID string, armIndex int) string {
	return fmt.Sprintf("%s:%d", trialID, armIndex)
}

// DefaultTables returns the audited curation tables for the published
// corpus. The values were confirmed trial by trial during the linkage audit;
// substitute a YAML file via LoadTables to run against a different corpus.
func DefaultTables() Tables {
	return Tables{
		Aliases: map[string]string{
			"choovongkom_ol_2024": "choovongkomol_2024",
		},
		ExcludedTrials: []string{
			"momeni_2021",
			"zhao_2020",
		},
		ArmKeep: map[string][]int{
			// hu_2022 randomized only its first dex arm.
			"hu_2022": {1},
		},
		ArmLabelOverrides: map[string]string{
			// Tang et al. 2022 reports Dex1 = 0.3 and Dex2 = 0.6 mcg/kg/h.
			"tang_2022:1": "Dexmedetomidine (Dex1, 0.3 mcg/kg/h)",
			"tang_2022:2": "Dexmedetomidine (Dex2, 0.6 mcg/kg/h)",
			"lee_2018:1":  "Dexmedetomidine (bolus)",
			"lee_2018:2":  "Dexmedetomidine (bolus + infusion)",
		},
		CountOverrides: map[string]CountOverride{
			"ghazaly_2023": {
				SourceStudyID: "manual_ghazaly_2023",
				ControlLabel:  "Placebo",
				ControlEvents: 15,
				ControlTotal:  20,
				Arms: map[int]ArmOverride{
					1: {Label: "Dexmedetomidine (bolus)", Events: 1, Total: 20},
				},
			},
			"lee_2018": {
				SourceStudyID: "manual_lee_2018",
				ControlLabel:  "Saline",
				ControlEvents: 27,
				ControlTotal:  109,
				Arms: map[int]ArmOverride{
					1: {Label: "Dexmedetomidine (bolus)", Events: 21, Total: 114},
					2: {Label: "Dexmedetomidine (bolus + infusion)", Events: 9, Total: 95},
				},
			},
			// Liu 2016: pooled across MCI and non-MCI strata.
			"liu_2016": {
				ControlLabel:  "Placebo (NS) [manual pooled]",
				ControlEvents: 43,
				ControlTotal:  98,
				Arms: map[int]ArmOverride{
					1: {Label: "Dexmedetomidine [manual pooled]", Events: 15, Total: 99},
				},
			},
			"ma_2013": {
				SourceStudyID: "manual_ma_2013",
				ControlLabel:  "Saline",
				ControlEvents: 3,
				ControlTotal:  30,
				Arms: map[int]ArmOverride{
					1: {Label: "Dexmedetomidine (bolus + infusion)", Events: 2, Total: 30},
				},
			},
			"massoumi_2019": {
				SourceStudyID: "manual_massoumi_2019",
				ControlLabel:  "Saline",
				ControlEvents: 9,
				ControlTotal:  44,
				Arms: map[int]ArmOverride{
					1: {Label: "Dexmedetomidine (bolus + infusion)", Events: 4, Total: 44},
				},
			},
		},
		ControlAllowed: []string{"placebo", "saline", "equivolume saline"},
	}
}

// LoadTables reads a full replacement table set from a YAML file. The file
// substitutes DefaultTables entirely; there is no merging, so an audit can
// see every active override in one place.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, eris.Wrapf(err, "linkage: read tables %s", path)
	}
	var tables Tables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return Tables{}, eris.Wrapf(err, "linkage: parse tables %s", path)
	}
	if len(tables.ControlAllowed) == 0 {
		return Tables{}, eris.Errorf("linkage: tables file %s has no control_allowed list", path)
	}
	return tables, nil
}
