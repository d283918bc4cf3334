package cluster

import (
	"testing"

	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/internal/testutil"
	"github.com/erlink/erlink/pkg/config"
)

func seedEdge(t *testing.T, s *store.Store, a, b string, weight float64) {
	t.Helper()
	testutil.AssertNoError(t, s.UpsertEdge(&store.Edge{
		Collection: "edges", FromID: a, ToID: b, Weight: weight, Decision: "match",
	}, config.EdgeUpdateKeepMax, false))
}

func TestWCCGroupsConnectedRecords(t *testing.T) {
	s := testutil.NewTestStore(t)
	seedEdge(t, s, "a", "b", 0.9)
	seedEdge(t, s, "b", "c", 0.85)
	seedEdge(t, s, "x", "y", 0.1) // below min_similarity, should not connect

	cfg := config.ClusteringConfig{MinClusterSize: 2, MaxClusterSize: 100, MinSimilarity: 0.5, MaxHops: 10, StoreResults: true}
	clusters, stats, err := WCC(s, "people", "edges", cfg)
	testutil.AssertNoError(t, err)

	if len(clusters) != 1 {
		t.Fatalf("clusters = %+v, want exactly one component {a,b,c}", clusters)
	}
	if len(clusters[0].Members) != 3 {
		t.Errorf("cluster members = %v, want 3", clusters[0].Members)
	}
	if stats.ClusterCount != 1 {
		t.Errorf("stats.ClusterCount = %d, want 1", stats.ClusterCount)
	}
	if stats.SingletonsDropped != 0 {
		t.Errorf("stats.SingletonsDropped = %d, want 0 (x-y edge is below min_similarity and never enters the graph)", stats.SingletonsDropped)
	}

	got, err := s.FindClusterByMember("people", "b")
	testutil.AssertNoError(t, err)
	if got.ID != clusters[0].ID {
		t.Errorf("stored cluster id = %s, want %s", got.ID, clusters[0].ID)
	}
}

func TestWCCDropsOversizeClusters(t *testing.T) {
	s := testutil.NewTestStore(t)
	seedEdge(t, s, "a", "b", 0.9)
	seedEdge(t, s, "b", "c", 0.9)

	cfg := config.ClusteringConfig{MinClusterSize: 1, MaxClusterSize: 2, MinSimilarity: 0.5, MaxHops: 10}
	clusters, stats, err := WCC(s, "people", "edges", cfg)
	testutil.AssertNoError(t, err)
	if len(clusters) != 0 {
		t.Errorf("clusters = %+v, want none (3-member component exceeds max_cluster_size 2)", clusters)
	}
	if stats.OversizeDropped != 1 {
		t.Errorf("stats.OversizeDropped = %d, want 1", stats.OversizeDropped)
	}
}

func TestValidateFlagsLowDensityCluster(t *testing.T) {
	s := testutil.NewTestStore(t)
	// a-b-c-d chain: only 3 of the 6 possible pairs carry an edge, density 0.5.
	seedEdge(t, s, "a", "b", 0.9)
	seedEdge(t, s, "b", "c", 0.9)
	seedEdge(t, s, "c", "d", 0.9)

	clusterCfg := config.ClusteringConfig{MinClusterSize: 2, MaxClusterSize: 100, MinSimilarity: 0.5, MaxHops: 10, StoreResults: true}
	_, _, err := WCC(s, "people", "edges", clusterCfg)
	testutil.AssertNoError(t, err)

	qualityCfg := config.QualityConfig{
		MinClusterSize: 2, MaxClusterSize: 100,
		MinAvgSimilarity: 0.5, MinDensity: 0.9, MaxScoreRange: 1.0, MinQualityScore: 0.0,
	}
	results, stats, err := Validate(s, "people", "edges", qualityCfg)
	testutil.AssertNoError(t, err)
	if len(results) != 1 {
		t.Fatalf("results = %+v, want one cluster", results)
	}
	if results[0].Valid {
		t.Errorf("cluster should fail density_adequate at density %.2f < 0.9", results[0].Density)
	}
	found := false
	for _, check := range results[0].FailedChecks {
		if check == "density_adequate" {
			found = true
		}
	}
	if !found {
		t.Errorf("FailedChecks = %v, want density_adequate", results[0].FailedChecks)
	}
	if stats.InvalidCount != 1 {
		t.Errorf("stats.InvalidCount = %d, want 1", stats.InvalidCount)
	}
}
