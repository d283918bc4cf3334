package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.Collections) == 0 {
		t.Error("expected at least one default collection")
	}
	if cfg.Database.Path == "" {
		t.Error("expected a non-empty default database path")
	}
	if cfg.Edges.UpdateRule != EdgeUpdateKeepMax {
		t.Errorf("Edges.UpdateRule = %v, want keep_max", cfg.Edges.UpdateRule)
	}
	if cfg.Edges.WeightThreshold != 0.8 {
		t.Errorf("Edges.WeightThreshold = %v, want 0.8", cfg.Edges.WeightThreshold)
	}
	if cfg.Clustering.MinClusterSize != 2 {
		t.Errorf("Clustering.MinClusterSize = %d, want 2", cfg.Clustering.MinClusterSize)
	}
	if cfg.Analyzers.Ngram.N != 3 {
		t.Errorf("Analyzers.Ngram.N = %d, want 3", cfg.Analyzers.Ngram.N)
	}
	if !cfg.Analyzers.Phonetic.Enabled {
		t.Error("expected phonetic analyzer enabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() should validate cleanly, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{name: "valid config", modify: func(c *Config) {}, expectErr: false},
		{
			name:      "no collections",
			modify:    func(c *Config) { c.Collections = nil },
			expectErr: true,
		},
		{
			name:      "invalid collection identifier",
			modify:    func(c *Config) { c.Collections = []string{"9bad"} },
			expectErr: true,
		},
		{
			name: "upper threshold not greater than lower",
			modify: func(c *Config) {
				c.Scoring.Global.UpperThreshold = -1
				c.Scoring.Global.LowerThreshold = -1
			},
			expectErr: true,
		},
		{
			name: "field weight m_prob out of range",
			modify: func(c *Config) {
				c.Scoring.FieldWeights = map[string]FieldWeight{
					"name": {MProb: 1.0, UProb: 0.1, SimilarityFn: SimJaroWinkler},
				}
			},
			expectErr: true,
		},
		{
			name: "field weight missing similarity function",
			modify: func(c *Config) {
				c.Scoring.FieldWeights = map[string]FieldWeight{
					"name": {MProb: 0.9, UProb: 0.1},
				}
			},
			expectErr: true,
		},
		{
			name: "exact blocking strategy with no fields",
			modify: func(c *Config) {
				c.Blocking.Strategies = []StrategyConfig{{Type: StrategyExact}}
			},
			expectErr: true,
		},
		{
			name: "geographic blocking strategy missing location_field",
			modify: func(c *Config) {
				c.Blocking.Strategies = []StrategyConfig{{Type: StrategyGeographic}}
			},
			expectErr: true,
		},
		{
			name: "hybrid blocking strategy weights not summing to 1",
			modify: func(c *Config) {
				c.Blocking.Strategies = []StrategyConfig{
					{Type: StrategyHybrid, Fields: []string{"name"}, BM25Weight: 0.9, LevenshteinWeight: 0.9},
				}
			},
			expectErr: true,
		},
		{
			name: "graph_traversal blocking strategy missing max_hops",
			modify: func(c *Config) {
				c.Blocking.Strategies = []StrategyConfig{{Type: StrategyGraphTraversal}}
			},
			expectErr: true,
		},
		{
			name: "invalid edges collection identifier",
			modify: func(c *Config) {
				c.Edges.Collection = "bad-name"
			},
			expectErr: true,
		},
		{
			name: "max cluster size below min",
			modify: func(c *Config) {
				c.Clustering.MinClusterSize = 10
				c.Clustering.MaxClusterSize = 2
			},
			expectErr: true,
		},
		{
			name: "invalid logging level",
			modify: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestLoadNoFile(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd) //nolint:errcheck
	_ = os.Chdir(tmpDir)

	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error with missing config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected a default config, got nil")
	}
	if cfg.Edges.WeightThreshold != 0.8 {
		t.Errorf("expected default edges.weight_threshold=0.8, got %v", cfg.Edges.WeightThreshold)
	}
}

func TestLoadWithFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
collections:
  - people
database:
  path: /tmp/erlink-test.db
edges:
  weight_threshold: 0.9
  update_rule: running_mean
clustering:
  min_cluster_size: 3
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "/tmp/erlink-test.db" {
		t.Errorf("database.path = %s, want /tmp/erlink-test.db", cfg.Database.Path)
	}
	if cfg.Edges.WeightThreshold != 0.9 {
		t.Errorf("edges.weight_threshold = %v, want 0.9", cfg.Edges.WeightThreshold)
	}
	if cfg.Edges.UpdateRule != EdgeUpdateRunningMean {
		t.Errorf("edges.update_rule = %v, want running_mean", cfg.Edges.UpdateRule)
	}
	if cfg.Clustering.MinClusterSize != 3 {
		t.Errorf("clustering.min_cluster_size = %d, want 3", cfg.Clustering.MinClusterSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %s, want debug", cfg.Logging.Level)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if path == "" {
		t.Error("ConfigPath returned empty string")
	}
	homeDir, _ := os.UserHomeDir()
	expected := filepath.Join(homeDir, ".erlink")
	if path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}
}

func TestValidIdentifier(t *testing.T) {
	cases := map[string]bool{
		"people":    true,
		"people_2":  true,
		"2people":   false,
		"bad-name":  false,
		"":          false,
		"Company1":  true,
	}
	for in, want := range cases {
		if got := ValidIdentifier(in); got != want {
			t.Errorf("ValidIdentifier(%q) = %v, want %v", in, got, want)
		}
	}
}
