package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/erlink/erlink/internal/coordinator"
	"github.com/erlink/erlink/internal/store"
)

var runWorkers int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline: block, score, write edges, cluster, validate, synthesize",
	Long: `Executes blocking, Fellegi-Sunter scoring, edge writing, weakly-connected-
components clustering, cluster quality validation, and golden-record
synthesis for every configured collection, in order.

Examples:
  erlink run --config config.yaml
  erlink run --config config.yaml --workers 8`,
	Run: func(cmd *cobra.Command, args []string) {
		runPipeline()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runWorkers, "workers", 4, "scoring worker pool size")
}

func runPipeline() {
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	co := coordinator.New(s, cfg).WithWorkers(runWorkers)
	stats, err := co.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Pipeline run failed: %v\n", err)
		os.Exit(exitCodeFor(err))
	}

	for _, cs := range stats.Collections {
		fmt.Printf("%s: %d candidate pairs, %d edges written (%d dropped), %d clusters, %d golden records\n",
			cs.Collection, cs.Blocking.CandidateCount, cs.EdgesWritten, cs.EdgesDropped,
			cs.Clustering.ClusterCount, cs.Golden.GoldenRecordCount)
	}
	fmt.Printf("done in %s\n", stats.TotalTime)
}
