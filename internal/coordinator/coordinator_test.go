package coordinator

import (
	"context"
	"testing"

	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/internal/testutil"
	"github.com/erlink/erlink/pkg/config"
)

func testConfig(dbPath string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Path = dbPath
	cfg.Collections = []string{"people"}
	cfg.Run.CleanBefore = false
	cfg.Blocking = config.BlockingConfig{
		Strategies: []config.StrategyConfig{
			{Type: config.StrategyExact, Fields: []string{"zip"}},
		},
	}
	cfg.Scoring = config.ScoringConfig{
		FieldWeights: map[string]config.FieldWeight{
			"name": {MProb: 0.9, UProb: 0.1, Threshold: 0.7, SimilarityFn: config.SimJaroWinkler},
		},
		Global:    config.GlobalScoring{UpperThreshold: 1.0, LowerThreshold: -1.0},
		BatchSize: 10,
	}
	cfg.Edges.WeightThreshold = 0.1
	cfg.Clustering = config.ClusteringConfig{MinClusterSize: 2, MaxClusterSize: 100, MinSimilarity: 0.1, MaxHops: 10, StoreResults: true}
	cfg.Quality = config.QualityConfig{MinClusterSize: 2, MaxClusterSize: 100, MinAvgSimilarity: 0, MinDensity: 0, MaxScoreRange: 1, MinQualityScore: 0}
	cfg.Golden = config.GoldenConfig{SourcePreference: map[string]float64{}}
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedRecord(t, s, "people", "p1", map[string]any{"name": "Jonathan Smith", "zip": "57001"})
	testutil.SeedRecord(t, s, "people", "p2", map[string]any{"name": "Jon Smith", "zip": "57001"})
	testutil.SeedRecord(t, s, "people", "p3", map[string]any{"name": "Maria Garcia", "zip": "90210"})

	cfg := testConfig(":memory:")
	co := New(s, cfg).WithWorkers(2)

	stats, err := co.Run(context.Background())
	testutil.AssertNoError(t, err)

	if len(stats.Collections) != 1 {
		t.Fatalf("Collections = %+v, want exactly one entry", stats.Collections)
	}
	cs := stats.Collections[0]
	if cs.Collection != "people" {
		t.Errorf("Collection = %s, want people", cs.Collection)
	}
	if cs.EdgesWritten == 0 {
		t.Error("expected at least one edge written for the p1/p2 near-duplicate pair")
	}
	if cs.Clustering.ClusterCount == 0 {
		t.Error("expected at least one cluster from the p1/p2 pair")
	}
	if cs.Golden.GoldenRecordCount == 0 {
		t.Error("expected at least one golden record synthesized")
	}

	clusters, errc := s.ScanClusters("people")
	found := false
	for c := range clusters {
		if len(c.Members) == 2 {
			found = true
		}
	}
	testutil.AssertNoError(t, <-errc)
	if !found {
		t.Error("expected a two-member cluster containing p1 and p2")
	}
}

func TestRunCleanBeforeTruncatesPriorResults(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedRecord(t, s, "people", "p1", map[string]any{"name": "Jonathan Smith", "zip": "57001"})
	testutil.SeedRecord(t, s, "people", "p2", map[string]any{"name": "Jon Smith", "zip": "57001"})

	testutil.AssertNoError(t, s.UpsertEdge(&store.Edge{
		Collection: "edges", FromID: "stale-a", ToID: "stale-b", Weight: 0.99, Decision: "match",
	}, config.EdgeUpdateKeepMax, false))

	cfg := testConfig(":memory:")
	cfg.Run.CleanBefore = true
	co := New(s, cfg)

	_, err := co.Run(context.Background())
	testutil.AssertNoError(t, err)

	weight, ok, err := s.EdgeWeight("edges", "stale-a", "stale-b")
	testutil.AssertNoError(t, err)
	if ok {
		t.Errorf("stale edge should have been truncated before the run, got weight %v", weight)
	}
}

func TestRunRespectsCancelledContext(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedRecord(t, s, "people", "p1", map[string]any{"name": "Jonathan Smith", "zip": "57001"})

	cfg := testConfig(":memory:")
	co := New(s, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := co.Run(ctx)
	testutil.AssertError(t, err)
}
