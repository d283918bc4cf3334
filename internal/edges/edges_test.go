package edges

import (
	"strings"
	"testing"

	"github.com/erlink/erlink/internal/scoring"
	"github.com/erlink/erlink/internal/testutil"
	"github.com/erlink/erlink/pkg/config"
)

func TestWriteFiltersByWeightThreshold(t *testing.T) {
	s := testutil.NewTestStore(t)
	w := NewWriter(s, config.EdgesConfig{WeightThreshold: 0.8})

	scored := []scoring.ScoredPair{
		{IDA: "a", IDB: "b", TotalScore: 5.0, Decision: scoring.DecisionMatch},     // weight 5.0, clears 0.8
		{IDA: "c", IDB: "d", TotalScore: -5.0, Decision: scoring.DecisionNonMatch}, // weight -5.0, below 0.8
	}

	result, err := w.Write(scored, false)
	testutil.AssertNoError(t, err)
	if result.Written != 1 {
		t.Errorf("Written = %d, want 1", result.Written)
	}
	if result.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", result.Dropped)
	}
}

func TestWriteStoresLiteralTotalScoreAsWeight(t *testing.T) {
	s := testutil.NewTestStore(t)
	w := NewWriter(s, config.EdgesConfig{WeightThreshold: -10})

	scored := []scoring.ScoredPair{{IDA: "a", IDB: "b", TotalScore: 3.41, Decision: scoring.DecisionMatch}}
	_, err := w.Write(scored, false)
	testutil.AssertNoError(t, err)

	edges, errc := s.ScanEdges("edges")
	var weight float64
	for e := range edges {
		weight = e.Weight
	}
	testutil.AssertNoError(t, <-errc)
	if weight != 3.41 {
		t.Errorf("stored weight = %v, want the unsquashed total_score 3.41", weight)
	}
}

func TestWriteCSVPathRoundTrips(t *testing.T) {
	s := testutil.NewTestStore(t)
	w := NewWriter(s, config.EdgesConfig{WeightThreshold: 0.0, BulkMethod: config.BulkMethodCSV})

	scored := []scoring.ScoredPair{
		{IDA: "a", IDB: "b", TotalScore: 3.0, Decision: scoring.DecisionMatch, FieldScores: map[string]float64{"name": 1.0}},
	}
	result, err := w.Write(scored, false)
	testutil.AssertNoError(t, err)
	if result.Written != 1 {
		t.Fatalf("Written = %d, want 1", result.Written)
	}

	edges, errc := s.ScanEdges("edges")
	count := 0
	for range edges {
		count++
	}
	testutil.AssertNoError(t, <-errc)
	if count != 1 {
		t.Errorf("stored edges = %d, want 1", count)
	}
}

func TestClearAndTruncate(t *testing.T) {
	s := testutil.NewTestStore(t)
	w := NewWriter(s, config.EdgesConfig{WeightThreshold: 0.0})

	scored := []scoring.ScoredPair{{IDA: "a", IDB: "b", TotalScore: 3.0, Decision: scoring.DecisionMatch}}
	_, err := w.Write(scored, false)
	testutil.AssertNoError(t, err)

	n, err := w.Clear("", nil)
	testutil.AssertNoError(t, err)
	if n != 1 {
		t.Errorf("Clear removed %d, want 1", n)
	}

	_, err = w.Write(scored, false)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, w.Truncate())

	edges, errc := s.ScanEdges("edges")
	count := 0
	for range edges {
		count++
	}
	testutil.AssertNoError(t, <-errc)
	if count != 0 {
		t.Errorf("edges after Truncate = %d, want 0", count)
	}
}

func TestRedactStripsSecrets(t *testing.T) {
	in := "connection failed: token=abc123 password=hunter2"
	got := redact(in)
	if got == in {
		t.Error("redact did not change input containing secrets")
	}
	if strings.Contains(got, "abc123") || strings.Contains(got, "hunter2") {
		t.Errorf("redact(%q) = %q, still contains a raw secret", in, got)
	}
}
