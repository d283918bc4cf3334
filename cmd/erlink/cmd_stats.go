package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erlink/erlink/internal/store"
)

var statsCollection string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print record, edge, cluster, and golden-record counts",
	Long: `Prints aggregate counts across the store: records, edges, clusters,
golden records, schema version, and database file size.

Examples:
  erlink stats
  erlink stats --collection people`,
	Run: func(cmd *cobra.Command, args []string) {
		runStats()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsCollection, "collection", "", "restrict setup-status reporting to this collection")
}

func runStats() {
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

	stats, err := s.GetStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading stats: %v\n", err)
		os.Exit(exitCodeFor(err))
	}

	fmt.Printf("database:       %s\n", stats.Path)
	fmt.Printf("schema version: %d\n", stats.SchemaVersion)
	fmt.Printf("records:        %d\n", stats.RecordCount)
	fmt.Printf("edges:          %d\n", stats.EdgeCount)
	fmt.Printf("clusters:       %d\n", stats.ClusterCount)
	fmt.Printf("golden records: %d\n", stats.GoldenCount)
	fmt.Printf("file size:      %d bytes\n", stats.FileSizeBytes)

	collection := statsCollection
	if collection == "" && len(cfg.Collections) > 0 {
		collection = cfg.Collections[0]
	}
	if collection != "" {
		indexed, err := s.SetupStatus(collection)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading setup status for %s: %v\n", collection, err)
			os.Exit(exitCodeFor(err))
		}
		fmt.Printf("%s indexes: %v\n", collection, indexed)
	}
}
