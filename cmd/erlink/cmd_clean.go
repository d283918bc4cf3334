package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erlink/erlink/internal/edges"
	"github.com/erlink/erlink/internal/store"
)

var cleanCollections []string

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Drop edges, clusters, and golden records produced by the engine",
	Long: `Truncates the whole configured edge collection, then the clusters
and golden-records tables for the given collections (default: every
configured collection), leaving source records untouched.

Examples:
  erlink clean
  erlink clean --collections people`,
	Run: func(cmd *cobra.Command, args []string) {
		runClean()
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().StringSliceVar(&cleanCollections, "collections", nil, "collections to clean (default: all configured collections)")
}

func runClean() {
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

	collections := cleanCollections
	if len(collections) == 0 {
		collections = cfg.Collections
	}

	writer := edges.NewWriter(s, cfg.Edges)
	if err := writer.Truncate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error truncating edges: %v\n", err)
		os.Exit(exitCodeFor(err))
	}

	for _, collection := range collections {
		if err := s.TruncateClusters(collection); err != nil {
			fmt.Fprintf(os.Stderr, "Error truncating clusters for %s: %v\n", collection, err)
			os.Exit(exitCodeFor(err))
		}
		if err := s.TruncateGoldenRecords(collection); err != nil {
			fmt.Fprintf(os.Stderr, "Error truncating golden records for %s: %v\n", collection, err)
			os.Exit(exitCodeFor(err))
		}
		fmt.Printf("%s: cleaned\n", collection)
	}
}
