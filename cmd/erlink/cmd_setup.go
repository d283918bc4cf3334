package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/pkg/config"
)

var (
	setupCollections []string
	setupForce       bool
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Build the text indexes blocking strategies depend on",
	Long: `Creates one backing index per (collection, field, analyzer) tuple
named by the configured blocking strategies, then reindexes any phonetic
codes for records already present. Re-running setup is a no-op unless
--force is given, which drops and recreates every named artifact.

Examples:
  erlink setup
  erlink setup --collections people,organizations
  erlink setup --force`,
	Run: func(cmd *cobra.Command, args []string) {
		runSetup()
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().StringSliceVar(&setupCollections, "collections", nil, "collections to index (default: all configured collections)")
	setupCmd.Flags().BoolVar(&setupForce, "force", false, "recreate existing analyzers and indexes instead of leaving them in place")
}

func runSetup() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(exitCodeFor(err))
	}

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
	defer s.Close()

	if err := s.InitSchema(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(exitCodeFor(err))
	}

	collections := setupCollections
	if len(collections) == 0 {
		collections = cfg.Collections
	}

	for _, collection := range collections {
		tuples := analyzerTuplesFor(cfg)
		for _, t := range tuples {
			if err := s.CreateAnalyzer(collection, t.field, t.analyzer, setupForce); err != nil {
				fmt.Fprintf(os.Stderr, "Error creating analyzer %s/%s/%s: %v\n", collection, t.field, t.analyzer, err)
				os.Exit(exitCodeFor(err))
			}
			if t.analyzer == string(config.SimPhonetic) {
				if err := s.ReindexPhonetic(collection, t.field); err != nil {
					fmt.Fprintf(os.Stderr, "Error reindexing phonetic codes %s/%s: %v\n", collection, t.field, err)
					os.Exit(exitCodeFor(err))
				}
			}
		}

		status, err := s.SetupStatus(collection)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading setup status: %v\n", err)
			os.Exit(exitCodeFor(err))
		}
		fmt.Printf("%s: %s\n", collection, strings.Join(status, ", "))
	}
}

type analyzerTuple struct {
	field    string
	analyzer string
}

// analyzerTuplesFor derives the (field, analyzer) pairs every configured
// blocking strategy needs an index for (spec §4A "index/view creation
// serves the blocking strategies").
func analyzerTuplesFor(cfg *config.Config) []analyzerTuple {
	seen := make(map[analyzerTuple]bool)
	var out []analyzerTuple
	add := func(field, analyzer string) {
		t := analyzerTuple{field, analyzer}
		if field == "" || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}

	for _, sc := range cfg.Blocking.Strategies {
		switch sc.Type {
		case config.StrategyExact, config.StrategyComposite:
			for _, f := range sc.Fields {
				add(f, string(config.SimExact))
			}
		case config.StrategyNgram:
			for _, f := range sc.Fields {
				add(f, string(config.SimNgram))
			}
		case config.StrategyPhonetic:
			for _, f := range sc.Fields {
				add(f, string(config.SimPhonetic))
			}
		case config.StrategyHybrid:
			for _, f := range sc.Fields {
				add(f, string(config.SimNgram))
			}
		}
	}
	return out
}
