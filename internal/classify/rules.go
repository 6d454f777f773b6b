package classify

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules holds the comparator term lists. Include terms mark placebo-like
// controls, exclude terms mark active drugs; classification needs both to
// tell a clean placebo arm from a mixed or active one.
type Rules struct {
	IncludeTerms []string `yaml:"include_terms"`
	ExcludeTerms []string `yaml:"exclude_terms"`
}

// DefaultRules returns the audited term lists used for the published corpus.
func DefaultRules() Rules {
	return Rules{
		IncludeTerms: []string{"saline", "placebo", "equivolume saline", "usual care", "sham"},
		ExcludeTerms: []string{"propofol", "midazolam", "remifentanil"},
	}
}

// LoadRules reads comparator term lists from a YAML file.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "classify: read rules %s", path)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, eris.Wrapf(err, "classify: parse rules %s", path)
	}
	if len(rules.IncludeTerms) == 0 {
		return Rules{}, eris.Errorf("classify: rules file %s has no include_terms", path)
	}
	return rules, nil
}
