// Package config provides the entity resolution engine's typed, validated
// configuration surface (spec §6, §9). Every pipeline-tunable knob is a
// concrete Go field instead of an untyped map, so illegal configuration —
// an out-of-range probability, an unknown similarity function, a threshold
// above 1.0 — is rejected by Validate() at startup rather than surfacing on
// the first offending candidate pair.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/erlink/erlink/internal/erkit"
)

// identifierPattern is the fixed grammar collection, view, and field names
// must match before they are interpolated into a backend query (spec §9
// "Identifier injection into queries").
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// StrategyType enumerates the blocking strategy variants (spec §4B, §9).
type StrategyType string

const (
	StrategyExact          StrategyType = "exact"
	StrategyComposite      StrategyType = "composite"
	StrategyNgram          StrategyType = "ngram"
	StrategyPhonetic       StrategyType = "phonetic"
	StrategyGeographic     StrategyType = "geographic"
	StrategyHybrid         StrategyType = "hybrid"
	StrategyGraphTraversal StrategyType = "graph_traversal"
)

// SimilarityFn enumerates the built-in per-field similarity functions
// (spec §4C). A field may instead name a function registered at runtime
// in the similarity.Registry passed to scoring.NewScorer.
type SimilarityFn string

const (
	SimNgram       SimilarityFn = "ngram"
	SimLevenshtein SimilarityFn = "levenshtein"
	SimJaroWinkler SimilarityFn = "jaro_winkler"
	SimExact       SimilarityFn = "exact"
	SimPhonetic    SimilarityFn = "phonetic"
)

// EdgeUpdateRule selects how re-scoring an existing edge merges weights
// (spec §9 Open Questions: the running-mean update is order-dependent;
// keep_max is the documented default for reproducibility).
type EdgeUpdateRule string

const (
	EdgeUpdateRunningMean EdgeUpdateRule = "running_mean"
	EdgeUpdateKeepMax     EdgeUpdateRule = "keep_max"
)

// BulkMethod selects the edge writer's bulk-load backend (spec §4D, §6).
type BulkMethod string

const (
	BulkMethodAPI BulkMethod = "api"
	BulkMethodCSV BulkMethod = "csv"
)

// FieldFilter is a per-field record-level policy applied by exact and
// composite blocking before a record is admitted to a block (spec §4B.2).
type FieldFilter struct {
	NotNull   bool     `mapstructure:"not_null"`
	MinLength int      `mapstructure:"min_length"`
	NotIn     []string `mapstructure:"not_in"`
}

// ComputedField derives a blocking key from another field, e.g. a 5-char
// zip prefix, without hard-coding the derivation (spec §4B.2, §4B.5, §9).
type ComputedField struct {
	Name        string `mapstructure:"name" validate:"required"`
	SourceField string `mapstructure:"source_field" validate:"required"`
	PrefixLen   int    `mapstructure:"prefix_len"`
}

// GeoFallbackRule derives a location field from another field under a
// condition, replacing any hard-coded "null state -> SD if zip in 570..577"
// workaround with declarative configuration (spec §4B.5, §9 Open Questions).
type GeoFallbackRule struct {
	SourceField string `mapstructure:"source_field" validate:"required"`
	// Condition is one of "prefix_in_range" (zip-prefix style) or "equals".
	Condition    string `mapstructure:"condition" validate:"required,oneof=prefix_in_range equals"`
	RangeLow     string `mapstructure:"range_low"`
	RangeHigh    string `mapstructure:"range_high"`
	Equals       string `mapstructure:"equals"`
	DerivedValue string `mapstructure:"derived_value" validate:"required"`
}

// StrategyConfig is a tagged-union description of one blocking strategy.
// Only the fields relevant to Type are consulted; Validate enforces that
// the required subset for each Type is present.
type StrategyConfig struct {
	Type StrategyType `mapstructure:"type" validate:"required,oneof=exact composite ngram phonetic geographic hybrid graph_traversal"`

	Fields         []string               `mapstructure:"fields"`
	ComputedFields []ComputedField        `mapstructure:"computed_fields"`
	Filters        map[string]FieldFilter `mapstructure:"filters"`

	MaxBlockSize   int `mapstructure:"max_block_size"`
	MinBlockSize   int `mapstructure:"min_block_size"`
	LimitPerEntity int `mapstructure:"limit_per_entity"`
	Limit          int `mapstructure:"limit"`

	Analyzer        string  `mapstructure:"analyzer"`
	BM25Threshold   float64 `mapstructure:"bm25_threshold"`
	ConstraintField string  `mapstructure:"constraint_field"`

	LocationField string            `mapstructure:"location_field"`
	FallbackRules []GeoFallbackRule `mapstructure:"fallback_rules"`

	BM25Weight        float64 `mapstructure:"bm25_weight"`
	LevenshteinWeight float64 `mapstructure:"levenshtein_weight"`
	CombinedThreshold float64 `mapstructure:"combined_threshold"`

	MaxHops int `mapstructure:"max_hops"`
}

// BlockingConfig is the ordered list of strategies the engine runs (§4B).
type BlockingConfig struct {
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Limit      int              `mapstructure:"limit"`
}

// FieldWeight is the Fellegi-Sunter configuration for one scored field
// (spec §3, §4C).
type FieldWeight struct {
	MProb             float64      `mapstructure:"m_prob" validate:"gt=0,lt=1"`
	UProb             float64      `mapstructure:"u_prob" validate:"gt=0,lt=1"`
	Threshold         float64      `mapstructure:"threshold" validate:"gte=0,lte=1"`
	SimilarityFn      SimilarityFn `mapstructure:"similarity_fn"`
	Normalize         *bool        `mapstructure:"normalize"`
	RemovePunctuation bool         `mapstructure:"remove_punctuation"`
	NgramN            int          `mapstructure:"ngram_n"`
}

// GlobalScoring holds the log-odds decision thresholds (spec §3).
type GlobalScoring struct {
	UpperThreshold   float64 `mapstructure:"upper_threshold"`
	LowerThreshold   float64 `mapstructure:"lower_threshold"`
	DefaultAlgorithm string  `mapstructure:"default_algorithm"`
}

// ScoringConfig is the similarity-scorer configuration (spec §4C, §6).
type ScoringConfig struct {
	FieldWeights map[string]FieldWeight `mapstructure:"field_weights"`
	Global       GlobalScoring          `mapstructure:"global"`
	BatchSize    int                    `mapstructure:"batch_size"`
}

// EdgesConfig is the edge writer configuration (spec §4D, §6).
type EdgesConfig struct {
	Collection      string         `mapstructure:"collection"`
	WeightThreshold float64        `mapstructure:"weight_threshold"`
	BatchSize       int            `mapstructure:"batch_size"`
	BulkMethod      BulkMethod     `mapstructure:"bulk_method" validate:"omitempty,oneof=api csv"`
	UpdateRule      EdgeUpdateRule `mapstructure:"update_rule" validate:"omitempty,oneof=running_mean keep_max"`
}

// ClusteringConfig is the weakly-connected-components configuration
// (spec §4E, §6).
type ClusteringConfig struct {
	MinClusterSize   int     `mapstructure:"min_cluster_size"`
	MaxClusterSize   int     `mapstructure:"max_cluster_size"`
	MinSimilarity    float64 `mapstructure:"min_similarity" validate:"gte=0,lte=1"`
	MaxHops          int     `mapstructure:"max_hops"`
	StoreResults     bool    `mapstructure:"store_results"`
	TruncateExisting *bool   `mapstructure:"truncate_existing"`
}

// QualityConfig holds the cluster quality validator's thresholds (spec §4F).
type QualityConfig struct {
	MinClusterSize   int     `mapstructure:"min_cluster_size"`
	MaxClusterSize   int     `mapstructure:"max_cluster_size"`
	MinAvgSimilarity float64 `mapstructure:"min_avg_similarity" validate:"gte=0,lte=1"`
	MinDensity       float64 `mapstructure:"min_density" validate:"gte=0,lte=1"`
	MaxScoreRange    float64 `mapstructure:"max_score_range" validate:"gte=0,lte=1"`
	MinQualityScore  float64 `mapstructure:"min_quality_score" validate:"gte=0,lte=1"`
}

// GoldenConfig is the golden-record synthesizer configuration (spec §4G).
// Per-field resolution itself is not configurable: consensus when every
// member agrees, conflict_resolution (weighted by source_preference and
// record_quality) when they don't, single_source when only one member has
// the field. SourcePreference is the only knob that formula takes.
type GoldenConfig struct {
	SourcePreference map[string]float64 `mapstructure:"source_preference"`
	// ExcludeFields names fields never copied into a golden record, in
	// addition to any field whose name starts with "_" (spec §4G
	// "internal/system fields are never synthesized").
	ExcludeFields []string `mapstructure:"exclude_fields"`
}

// RunConfig controls re-run behavior (spec §3 Lifecycle, §6).
type RunConfig struct {
	CleanBefore      bool `mapstructure:"clean_before"`
	ForceUpdateEdges bool `mapstructure:"force_update_edges"`
}

// NgramAnalyzerConfig configures the ngram text analyzer (spec §4A).
type NgramAnalyzerConfig struct {
	N                int  `mapstructure:"n" validate:"gte=1"`
	Lowercase        bool `mapstructure:"lowercase"`
	StripAccents     bool `mapstructure:"strip_accents"`
	PreserveOriginal bool `mapstructure:"preserve_original"`
}

// PhoneticAnalyzerConfig configures the phonetic text analyzer (spec §4A).
type PhoneticAnalyzerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Algorithm    string `mapstructure:"algorithm" validate:"omitempty,oneof=soundex metaphone"`
	Lowercase    bool   `mapstructure:"lowercase"`
	StripAccents bool   `mapstructure:"strip_accents"`
}

// ExactAnalyzerConfig configures the exact text analyzer (spec §4A).
type ExactAnalyzerConfig struct {
	Lowercase bool `mapstructure:"lowercase"`
}

// AnalyzersConfig groups the three analyzer kinds the text index setup
// component builds (spec §4A).
type AnalyzersConfig struct {
	Ngram    NgramAnalyzerConfig    `mapstructure:"ngram"`
	Phonetic PhoneticAnalyzerConfig `mapstructure:"phonetic"`
	Exact    ExactAnalyzerConfig    `mapstructure:"exact"`

	AutoDiscoverFields bool `mapstructure:"auto_discover_fields"`
}

// DatabaseConfig holds the record/edge/cluster store location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// LoggingConfig mirrors logging.Config so it can be parsed from the same file.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=console json"`
	Output string `mapstructure:"output"`
}

// Config is the complete, validated engine configuration (spec §6).
type Config struct {
	Collections []string `mapstructure:"collections" validate:"required,min=1,dive,required"`

	Database   DatabaseConfig   `mapstructure:"database"`
	Blocking   BlockingConfig   `mapstructure:"blocking"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Edges      EdgesConfig      `mapstructure:"edges"`
	Clustering ClusteringConfig `mapstructure:"clustering"`
	Quality    QualityConfig    `mapstructure:"quality"`
	Golden     GoldenConfig     `mapstructure:"golden"`
	Run        RunConfig        `mapstructure:"run"`
	Analyzers  AnalyzersConfig  `mapstructure:"analyzers"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DefaultConfig returns a Config populated with the spec's documented
// defaults (spec §3, §4A-§4G).
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".erlink")

	return &Config{
		Collections: []string{"records"},
		Database: DatabaseConfig{
			Path: filepath.Join(configDir, "erlink.db"),
		},
		Blocking: BlockingConfig{Limit: 100},
		Scoring: ScoringConfig{
			FieldWeights: map[string]FieldWeight{},
			Global: GlobalScoring{
				UpperThreshold:   2.0,
				LowerThreshold:   -1.0,
				DefaultAlgorithm: string(SimJaroWinkler),
			},
			BatchSize: 5000,
		},
		Edges: EdgesConfig{
			Collection:      "edges",
			WeightThreshold: 0.8,
			BatchSize:       1000,
			BulkMethod:      BulkMethodAPI,
			UpdateRule:      EdgeUpdateKeepMax,
		},
		Clustering: ClusteringConfig{
			MinClusterSize: 2,
			MaxClusterSize: 100,
			MinSimilarity:  0.8,
			MaxHops:        10000,
			StoreResults:   true,
		},
		Quality: QualityConfig{
			MinClusterSize:   2,
			MaxClusterSize:   50,
			MinAvgSimilarity: 0.7,
			MinDensity:       0.3,
			MaxScoreRange:    0.5,
			MinQualityScore:  0.6,
		},
		Golden: GoldenConfig{SourcePreference: map[string]float64{}},
		Run:    RunConfig{CleanBefore: true, ForceUpdateEdges: false},
		Analyzers: AnalyzersConfig{
			Ngram:    NgramAnalyzerConfig{N: 3, Lowercase: true, StripAccents: true},
			Phonetic: PhoneticAnalyzerConfig{Enabled: true, Algorithm: "soundex", Lowercase: true, StripAccents: true},
			Exact:    ExactAnalyzerConfig{Lowercase: true},
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load loads configuration from YAML with fallback to defaults, searching
// ./config.yaml, ~/.erlink/config.yaml, and /etc/erlink/config.yaml in
// that order (mirrors the teacher's pkg/config.Load search path).
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".erlink"))
		v.AddConfigPath("/etc/erlink")
	}

	def := DefaultConfig()
	applyDefaults(v, def)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, erkit.New(erkit.KindConfig, "config.Load", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, erkit.New(erkit.KindConfig, "config.Load", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, erkit.New(erkit.KindConfig, "config.Load", err)
	}
	return cfg, nil
}

func applyDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("collections", def.Collections)
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("blocking.limit", def.Blocking.Limit)
	v.SetDefault("scoring.global.upper_threshold", def.Scoring.Global.UpperThreshold)
	v.SetDefault("scoring.global.lower_threshold", def.Scoring.Global.LowerThreshold)
	v.SetDefault("scoring.global.default_algorithm", def.Scoring.Global.DefaultAlgorithm)
	v.SetDefault("scoring.batch_size", def.Scoring.BatchSize)
	v.SetDefault("edges.collection", def.Edges.Collection)
	v.SetDefault("edges.weight_threshold", def.Edges.WeightThreshold)
	v.SetDefault("edges.batch_size", def.Edges.BatchSize)
	v.SetDefault("edges.bulk_method", string(def.Edges.BulkMethod))
	v.SetDefault("edges.update_rule", string(def.Edges.UpdateRule))
	v.SetDefault("clustering.min_cluster_size", def.Clustering.MinClusterSize)
	v.SetDefault("clustering.max_cluster_size", def.Clustering.MaxClusterSize)
	v.SetDefault("clustering.min_similarity", def.Clustering.MinSimilarity)
	v.SetDefault("clustering.max_hops", def.Clustering.MaxHops)
	v.SetDefault("clustering.store_results", def.Clustering.StoreResults)
	v.SetDefault("quality.min_cluster_size", def.Quality.MinClusterSize)
	v.SetDefault("quality.max_cluster_size", def.Quality.MaxClusterSize)
	v.SetDefault("quality.min_avg_similarity", def.Quality.MinAvgSimilarity)
	v.SetDefault("quality.min_density", def.Quality.MinDensity)
	v.SetDefault("quality.max_score_range", def.Quality.MaxScoreRange)
	v.SetDefault("quality.min_quality_score", def.Quality.MinQualityScore)
	v.SetDefault("run.clean_before", def.Run.CleanBefore)
	v.SetDefault("run.force_update_edges", def.Run.ForceUpdateEdges)
	v.SetDefault("analyzers.ngram.n", def.Analyzers.Ngram.N)
	v.SetDefault("analyzers.ngram.lowercase", def.Analyzers.Ngram.Lowercase)
	v.SetDefault("analyzers.ngram.strip_accents", def.Analyzers.Ngram.StripAccents)
	v.SetDefault("analyzers.phonetic.enabled", def.Analyzers.Phonetic.Enabled)
	v.SetDefault("analyzers.phonetic.algorithm", def.Analyzers.Phonetic.Algorithm)
	v.SetDefault("analyzers.exact.lowercase", def.Analyzers.Exact.Lowercase)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
}

var validate = validator.New()

// Validate rejects configuration that cannot yield a finite, well-formed
// pipeline run (spec §7 ConfigError; §9's explicit-typed-config design note).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w", err)
	}

	for _, name := range c.Collections {
		if !identifierPattern.MatchString(name) {
			return fmt.Errorf("collections: %q is not a valid identifier", name)
		}
	}

	if c.Scoring.Global.UpperThreshold <= c.Scoring.Global.LowerThreshold {
		return fmt.Errorf("scoring.global.upper_threshold must be greater than lower_threshold")
	}

	for field, fw := range c.Scoring.FieldWeights {
		if !identifierPattern.MatchString(field) {
			return fmt.Errorf("scoring.field_weights: %q is not a valid identifier", field)
		}
		if fw.MProb <= 0 || fw.MProb >= 1 {
			return fmt.Errorf("scoring.field_weights[%s].m_prob must be in (0,1)", field)
		}
		if fw.UProb <= 0 || fw.UProb >= 1 {
			return fmt.Errorf("scoring.field_weights[%s].u_prob must be in (0,1)", field)
		}
		if fw.Threshold < 0 || fw.Threshold > 1 {
			return fmt.Errorf("scoring.field_weights[%s].threshold must be in [0,1]", field)
		}
		if fw.SimilarityFn == "" {
			return fmt.Errorf("scoring.field_weights[%s].similarity_fn is required", field)
		}
	}

	for i, sc := range c.Blocking.Strategies {
		if err := validateStrategy(i, sc); err != nil {
			return err
		}
	}

	if c.Edges.Collection != "" && !identifierPattern.MatchString(c.Edges.Collection) {
		return fmt.Errorf("edges.collection: %q is not a valid identifier", c.Edges.Collection)
	}
	if c.Clustering.MinClusterSize < 1 {
		return fmt.Errorf("clustering.min_cluster_size must be >= 1")
	}
	if c.Clustering.MaxClusterSize < c.Clustering.MinClusterSize {
		return fmt.Errorf("clustering.max_cluster_size must be >= min_cluster_size")
	}

	return nil
}

// IsKnownSimilarityFn reports whether fn names one of the built-in
// similarity functions internal/similarity ships. Names outside this set
// are only valid if registered as a custom function at scoring-setup time;
// Validate cannot see that registry, so it accepts any non-empty name and
// leaves the final check to the scoring package.
func IsKnownSimilarityFn(fn SimilarityFn) bool {
	switch fn {
	case SimNgram, SimLevenshtein, SimJaroWinkler, SimExact, SimPhonetic:
		return true
	default:
		return false
	}
}

func validateStrategy(i int, sc StrategyConfig) error {
	prefix := fmt.Sprintf("blocking.strategies[%d]", i)
	for _, f := range sc.Fields {
		if !identifierPattern.MatchString(f) {
			return fmt.Errorf("%s.fields: %q is not a valid identifier", prefix, f)
		}
	}
	switch sc.Type {
	case StrategyExact, StrategyComposite:
		if len(sc.Fields) == 0 {
			return fmt.Errorf("%s: %s blocking requires at least one field", prefix, sc.Type)
		}
	case StrategyNgram, StrategyPhonetic:
		if len(sc.Fields) == 0 {
			return fmt.Errorf("%s: %s blocking requires at least one field to search", prefix, sc.Type)
		}
	case StrategyGeographic:
		if sc.LocationField == "" {
			return fmt.Errorf("%s: geographic blocking requires location_field", prefix)
		}
	case StrategyHybrid:
		sum := sc.BM25Weight + sc.LevenshteinWeight
		if sum != 0 && (sum < 0.999 || sum > 1.001) {
			return fmt.Errorf("%s: bm25_weight + levenshtein_weight must sum to 1.0, got %f", prefix, sum)
		}
	case StrategyGraphTraversal:
		if sc.MaxHops <= 0 {
			return fmt.Errorf("%s: graph_traversal blocking requires max_hops > 0", prefix)
		}
	}
	return nil
}

// ValidIdentifier reports whether s matches the fixed identifier grammar
// (alphanumeric plus underscore, leading letter) used for every collection,
// view, and field name interpolated into a backend query.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// ConfigPath returns the default configuration directory.
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".erlink")
}

// NormalizeProfile trims and lowercases a profile-like free-form string.
func NormalizeProfile(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
