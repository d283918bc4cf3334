package golden

import (
	"testing"
	"time"

	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/internal/testutil"
	"github.com/erlink/erlink/pkg/config"
)

func TestSynthesizeConsensusWins(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedRecord(t, s, "people", "p1", map[string]any{"name": "Jonathan Smith", "_internal_note": "skip me"})
	testutil.SeedRecord(t, s, "people", "p2", map[string]any{"name": "Jonathan Smith"})
	testutil.SeedRecord(t, s, "people", "p3", map[string]any{"name": "Jonathan Smith"})

	members := []string{"p1", "p2", "p3"}
	id := store.ClusterID(members)
	testutil.AssertNoError(t, s.BulkInsertClusters("people", []*store.Cluster{{ID: id, Members: members}}))

	sy := NewSynthesizer(s, config.GoldenConfig{})
	stats, err := sy.Synthesize("people")
	testutil.AssertNoError(t, err)
	if stats.GoldenRecordCount != 1 {
		t.Fatalf("GoldenRecordCount = %d, want 1", stats.GoldenRecordCount)
	}

	gr, err := s.GetGoldenRecord("people", id)
	testutil.AssertNoError(t, err)
	if gr.Fields["name"] != "Jonathan Smith" {
		t.Errorf("golden name = %v, want the agreed value", gr.Fields["name"])
	}
	if _, present := gr.Fields["_internal_note"]; present {
		t.Error("internal-prefixed field should be excluded from the golden record")
	}
	if gr.Provenance["name"].Strategy != strategyConsensus {
		t.Errorf("name strategy = %v, want consensus", gr.Provenance["name"].Strategy)
	}
	wantIDs := map[string]bool{"p1": true, "p2": true, "p3": true}
	if len(gr.SourceRecordIDs) != 3 {
		t.Fatalf("source_record_ids = %v, want 3 entries", gr.SourceRecordIDs)
	}
	for _, id := range gr.SourceRecordIDs {
		if !wantIDs[id] {
			t.Errorf("source_record_ids contains %q, not a cluster member", id)
		}
	}
}

func TestSynthesizeSingleSourceField(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedRecord(t, s, "people", "p1", map[string]any{"name": "Jonathan Smith", "email": "jon@example.com"})
	testutil.SeedRecord(t, s, "people", "p2", map[string]any{"name": "Jonathan Smith"})

	members := []string{"p1", "p2"}
	id := store.ClusterID(members)
	testutil.AssertNoError(t, s.BulkInsertClusters("people", []*store.Cluster{{ID: id, Members: members}}))

	sy := NewSynthesizer(s, config.GoldenConfig{})
	_, err := sy.Synthesize("people")
	testutil.AssertNoError(t, err)

	gr, err := s.GetGoldenRecord("people", id)
	testutil.AssertNoError(t, err)
	if gr.Fields["email"] != "jon@example.com" {
		t.Errorf("golden email = %v, want the only candidate value", gr.Fields["email"])
	}
	if gr.Provenance["email"].Strategy != strategySingleSource {
		t.Errorf("email strategy = %v, want single_source", gr.Provenance["email"].Strategy)
	}
}

// TestSynthesizeConflictResolutionWorkedExample mirrors the spec's worked
// example: cluster {r1,r2} with address "123 Main St" (source A, preference
// 0.9) vs "123 Main Street" (source B, preference 0.4) resolves to "123
// Main St" via conflict_resolution, with "123 Main Street" as the
// alternative.
func TestSynthesizeConflictResolutionWorkedExample(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.AssertNoError(t, s.UpsertRecord(&store.Record{Collection: "people", ID: "r1", Source: "A", Fields: map[string]any{"address": "123 Main St"}}))
	testutil.AssertNoError(t, s.UpsertRecord(&store.Record{Collection: "people", ID: "r2", Source: "B", Fields: map[string]any{"address": "123 Main Street"}}))

	members := []string{"r1", "r2"}
	id := store.ClusterID(members)
	testutil.AssertNoError(t, s.BulkInsertClusters("people", []*store.Cluster{{ID: id, Members: members}}))

	sy := NewSynthesizer(s, config.GoldenConfig{
		SourcePreference: map[string]float64{"A": 0.9, "B": 0.4},
	})
	_, err := sy.Synthesize("people")
	testutil.AssertNoError(t, err)

	gr, err := s.GetGoldenRecord("people", id)
	testutil.AssertNoError(t, err)
	if gr.Fields["address"] != "123 Main St" {
		t.Errorf("golden address = %v, want %q (higher source_preference)", gr.Fields["address"], "123 Main St")
	}
	prov := gr.Provenance["address"]
	if prov.Strategy != strategyConflictResolution {
		t.Errorf("address strategy = %v, want conflict_resolution", prov.Strategy)
	}
	if prov.Source != "A" {
		t.Errorf("address source = %v, want A", prov.Source)
	}
	if len(prov.Alternatives) != 1 || prov.Alternatives[0] != "123 Main Street" {
		t.Errorf("address alternatives = %v, want [\"123 Main Street\"]", prov.Alternatives)
	}
}

func TestRecordQualityMonotonicInCompletenessAndRecency(t *testing.T) {
	now := time.Now()

	sparse := &store.Record{Fields: map[string]any{"name": "A", "email": ""}, UpdatedAt: now}
	complete := &store.Record{Fields: map[string]any{"name": "A", "email": "a@example.com"}, UpdatedAt: now}
	if recordQuality(complete) <= recordQuality(sparse) {
		t.Errorf("recordQuality(complete)=%v should exceed recordQuality(sparse)=%v", recordQuality(complete), recordQuality(sparse))
	}

	stale := &store.Record{Fields: map[string]any{"name": "A"}, UpdatedAt: now.AddDate(0, 0, -30)}
	fresh := &store.Record{Fields: map[string]any{"name": "A"}, UpdatedAt: now}
	if recordQuality(fresh) <= recordQuality(stale) {
		t.Errorf("recordQuality(fresh)=%v should exceed recordQuality(stale)=%v", recordQuality(fresh), recordQuality(stale))
	}
}
