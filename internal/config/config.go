// Package config loads application configuration from config.yaml and
// DEXATLAS_-prefixed environment variables, and owns the global logger setup.
package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Paths   PathsConfig   `yaml:"paths" mapstructure:"paths"`
	Linkage LinkageConfig `yaml:"linkage" mapstructure:"linkage"`
	Rules   RulesConfig   `yaml:"rules" mapstructure:"rules"`
	Bundle  BundleConfig  `yaml:"bundle" mapstructure:"bundle"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates the pipeline's input files and artifact directories.
// Artifact file names are fixed; only the directories and input files move.
type PathsConfig struct {
	RawDir       string `yaml:"raw_dir" mapstructure:"raw_dir"`
	InterimDir   string `yaml:"interim_dir" mapstructure:"interim_dir"`
	ProcessedDir string `yaml:"processed_dir" mapstructure:"processed_dir"`
	ModelDir     string `yaml:"model_dir" mapstructure:"model_dir"`
	DocsDataDir  string `yaml:"docs_data_dir" mapstructure:"docs_data_dir"`

	ArticlesFile      string `yaml:"articles_file" mapstructure:"articles_file"`
	RoBFile           string `yaml:"rob_file" mapstructure:"rob_file"`
	EventDataFile     string `yaml:"event_data_file" mapstructure:"event_data_file"`
	AdjudicationsFile string `yaml:"adjudications_file" mapstructure:"adjudications_file"`
	EnrichmentFile    string `yaml:"enrichment_file" mapstructure:"enrichment_file"`
	ReferencesFile    string `yaml:"references_file" mapstructure:"references_file"`
}

// Interim artifacts.

// InterimRaw is the shaped article rows artifact.
func (p PathsConfig) InterimRaw() string {
	return filepath.Join(p.InterimDir, "interim_trials_raw.json")
}

// InterimParsed is the canonical record artifact consumed by validation.
func (p PathsConfig) InterimParsed() string {
	return filepath.Join(p.InterimDir, "interim_trials_parsed.json")
}

// UnmatchedRoBKeys lists risk-of-bias study keys that matched no article.
func (p PathsConfig) UnmatchedRoBKeys() string {
	return filepath.Join(p.InterimDir, "unmatched_rob_keys.json")
}

// Processed artifacts.

// TrialsCurated is the validated record set.
func (p PathsConfig) TrialsCurated() string {
	return filepath.Join(p.ProcessedDir, "trials_curated.json")
}

// ReviewQueue is the flagged-row CSV for human adjudication.
func (p PathsConfig) ReviewQueue() string {
	return filepath.Join(p.ProcessedDir, "review_queue.csv")
}

// ValidationReport is the per-run validation summary.
func (p PathsConfig) ValidationReport() string {
	return filepath.Join(p.ProcessedDir, "validation_report.json")
}

// ArmLevel is the arm-level count table produced by linkage.
func (p PathsConfig) ArmLevel() string {
	return filepath.Join(p.ProcessedDir, "delirium_prevalence_arm_level.csv")
}

// LinkageReport is the per-trial linkage audit table.
func (p PathsConfig) LinkageReport() string {
	return filepath.Join(p.ProcessedDir, "delirium_prevalence_linkage_report.csv")
}

// CoverageSummary is the linkage coverage JSON.
func (p PathsConfig) CoverageSummary() string {
	return filepath.Join(p.ProcessedDir, "delirium_prevalence_coverage_summary.json")
}

// BundleOut is the precomputed viewer payload.
func (p PathsConfig) BundleOut() string {
	return filepath.Join(p.ProcessedDir, "meta_analysis_bundle.json")
}

// SummaryOverall is the whole-corpus descriptive summary.
func (p PathsConfig) SummaryOverall() string {
	return filepath.Join(p.ProcessedDir, "summary_overall.json")
}

// SummaryByRoB is the risk-of-bias-stratified descriptive summary.
func (p PathsConfig) SummaryByRoB() string {
	return filepath.Join(p.ProcessedDir, "summary_by_rob.json")
}

// ChecksumsOut is the published artifact digest file.
func (p PathsConfig) ChecksumsOut() string {
	return filepath.Join(p.ProcessedDir, "checksums.json")
}

// Externally fitted model outputs.

// ShrinkageCSV is the study-specific posterior summary table.
func (p PathsConfig) ShrinkageCSV() string {
	return filepath.Join(p.ModelDir, "model4_study_specific_logor_shrinkage_hdi.csv")
}

// CrudeCSV is the unadjusted odds-ratio table.
func (p PathsConfig) CrudeCSV() string {
	return filepath.Join(p.ModelDir, "model4_study_specific_or_crude_escalc.csv")
}

// OverallCSV is the single-row pooled estimate.
func (p PathsConfig) OverallCSV() string {
	return filepath.Join(p.ModelDir, "model4_overall_or_summary.csv")
}

// LinkageConfig points at the linker's audited override tables. An empty
// TablesFile selects the built-in tables.
type LinkageConfig struct {
	TablesFile string `yaml:"tables_file" mapstructure:"tables_file"`
}

// RulesConfig points at the comparator term lists. An empty ComparatorRules
// selects the built-in lists.
type RulesConfig struct {
	ComparatorRules string `yaml:"comparator_rules" mapstructure:"comparator_rules"`
}

// BundleConfig sets the shared odds-ratio axis for density curves.
type BundleConfig struct {
	XMinOR     float64 `yaml:"x_min_or" mapstructure:"x_min_or"`
	XMaxOR     float64 `yaml:"x_max_or" mapstructure:"x_max_or"`
	GridPoints int     `yaml:"grid_points" mapstructure:"grid_points"`
}

// StoreConfig configures the run-ledger database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the artifact preview server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkPipeline := func() {
		if c.Paths.RawDir == "" {
			problems = append(problems, "paths.raw_dir is required")
		}
		if c.Paths.InterimDir == "" {
			problems = append(problems, "paths.interim_dir is required")
		}
		if c.Paths.ProcessedDir == "" {
			problems = append(problems, "paths.processed_dir is required")
		}
		switch c.Store.Driver {
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		default:
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
	}

	switch mode {
	case "pipeline":
		checkPipeline()
	case "bundle":
		checkPipeline()
		if c.Bundle.XMinOR <= 0 || c.Bundle.XMaxOR <= c.Bundle.XMinOR {
			problems = append(problems, "bundle axis must satisfy 0 < x_min_or < x_max_or")
		}
		if c.Bundle.GridPoints < 31 {
			problems = append(problems, "bundle.grid_points must be at least 31")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Paths.ProcessedDir == "" {
			problems = append(problems, "paths.processed_dir is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEXATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("paths.raw_dir", "data/raw")
	v.SetDefault("paths.interim_dir", "data/interim")
	v.SetDefault("paths.processed_dir", "data/processed")
	v.SetDefault("paths.model_dir", "data/processed/model4_brms")
	v.SetDefault("paths.docs_data_dir", "docs/data")
	v.SetDefault("paths.articles_file", "data/raw/articles_tabulated.csv")
	v.SetDefault("paths.rob_file", "data/raw/delirium_rob.xlsx")
	v.SetDefault("paths.event_data_file", "data/raw/event_data.csv")
	v.SetDefault("paths.adjudications_file", "data/raw/manual_adjudications.json")
	v.SetDefault("paths.enrichment_file", "data/raw/fulltext_doses.json")
	v.SetDefault("paths.references_file", "data/raw/reference_urls.json")
	v.SetDefault("linkage.tables_file", "")
	v.SetDefault("rules.comparator_rules", "")
	v.SetDefault("bundle.x_min_or", 0.1)
	v.SetDefault("bundle.x_max_or", 3.5)
	v.SetDefault("bundle.grid_points", 181)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/dexatlas.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
