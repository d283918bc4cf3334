package scoring

import (
	"math"
	"testing"

	"github.com/erlink/erlink/internal/blocking"
	"github.com/erlink/erlink/internal/testutil"
	"github.com/erlink/erlink/pkg/config"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		FieldWeights: map[string]config.FieldWeight{
			"name": {MProb: 0.9, UProb: 0.1, Threshold: 0.7, SimilarityFn: config.SimJaroWinkler},
			"zip":  {MProb: 0.85, UProb: 0.05, Threshold: 0.99, SimilarityFn: config.SimExact},
		},
		Global: config.GlobalScoring{UpperThreshold: 2.0, LowerThreshold: -1.0},
	}
}

func TestScorePairsClassifiesMatch(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedRecord(t, s, "people", "p1", map[string]any{"name": "Jonathan Smith", "zip": "57701"})
	testutil.SeedRecord(t, s, "people", "p2", map[string]any{"name": "Jonathan Smith", "zip": "57701"})

	scorer, err := NewScorer(s, testScoringConfig(), nil)
	testutil.AssertNoError(t, err)

	scored, err := scorer.ScorePairs("people", "people", []blocking.CandidatePair{{IDA: "p1", IDB: "p2"}})
	testutil.AssertNoError(t, err)
	if len(scored) != 1 {
		t.Fatalf("scored = %+v, want one result", scored)
	}
	if scored[0].Decision != DecisionMatch {
		t.Errorf("decision = %v, want match (identical fields)", scored[0].Decision)
	}
	if scored[0].FieldScores["zip"] != 1.0 {
		t.Errorf("FieldScores[zip] = %v, want 1.0", scored[0].FieldScores["zip"])
	}
}

func TestScorePairsClassifiesNonMatch(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedRecord(t, s, "people", "p1", map[string]any{"name": "Jonathan Smith", "zip": "57701"})
	testutil.SeedRecord(t, s, "people", "p2", map[string]any{"name": "Completely Different", "zip": "10001"})

	scorer, err := NewScorer(s, testScoringConfig(), nil)
	testutil.AssertNoError(t, err)

	scored, err := scorer.ScorePairs("people", "people", []blocking.CandidatePair{{IDA: "p1", IDB: "p2"}})
	testutil.AssertNoError(t, err)
	if scored[0].Decision != DecisionNonMatch {
		t.Errorf("decision = %v, want non_match", scored[0].Decision)
	}
}

func TestScorePairsSkipsVanishedRecord(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedRecord(t, s, "people", "p1", map[string]any{"name": "Jonathan Smith", "zip": "57701"})

	scorer, err := NewScorer(s, testScoringConfig(), nil)
	testutil.AssertNoError(t, err)

	scored, err := scorer.ScorePairs("people", "people", []blocking.CandidatePair{{IDA: "p1", IDB: "missing"}})
	testutil.AssertNoError(t, err)
	if len(scored) != 0 {
		t.Errorf("scored = %+v, want none (missing record dropped)", scored)
	}
}

func TestScorePairsUsesFlatLogOddsWeightNotScaledBySimilarity(t *testing.T) {
	s := testutil.NewTestStore(t)
	// "Jon Smith" vs "Jonathan Smith": jaro_winkler similarity is well
	// below 1.0 but above the 0.7 threshold, so this exercises the
	// agreement branch at a non-extreme similarity value.
	testutil.SeedRecord(t, s, "people", "p1", map[string]any{"name": "Jon Smith"})
	testutil.SeedRecord(t, s, "people", "p2", map[string]any{"name": "Jonathan Smith"})

	cfg := config.ScoringConfig{
		FieldWeights: map[string]config.FieldWeight{
			"name": {MProb: 0.9, UProb: 0.1, Threshold: 0.7, SimilarityFn: config.SimJaroWinkler},
		},
		Global: config.GlobalScoring{UpperThreshold: 2.0, LowerThreshold: -1.0},
	}
	scorer, err := NewScorer(s, cfg, nil)
	testutil.AssertNoError(t, err)

	scored, err := scorer.ScorePairs("people", "people", []blocking.CandidatePair{{IDA: "p1", IDB: "p2"}})
	testutil.AssertNoError(t, err)

	sim := scored[0].FieldScores["name"]
	if sim <= 0 || sim >= 1 {
		t.Fatalf("expected a non-extreme similarity for this fixture, got %v", sim)
	}

	wantWeight := math.Log(0.9 / 0.1) // flat agreement weight, not scaled by sim
	if math.Abs(scored[0].TotalScore-wantWeight) > 1e-9 {
		t.Errorf("TotalScore = %v, want the flat agreement weight %v (unscaled by similarity %v)", scored[0].TotalScore, wantWeight, sim)
	}
}

func TestScorePairsComputesClippedConfidence(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedRecord(t, s, "people", "p1", map[string]any{"name": "Jonathan Smith", "zip": "57701"})
	testutil.SeedRecord(t, s, "people", "p2", map[string]any{"name": "Jonathan Smith", "zip": "57701"})

	scorer, err := NewScorer(s, testScoringConfig(), nil)
	testutil.AssertNoError(t, err)

	scored, err := scorer.ScorePairs("people", "people", []blocking.CandidatePair{{IDA: "p1", IDB: "p2"}})
	testutil.AssertNoError(t, err)

	wantConfidence := confidence(scored[0].TotalScore, -1.0, 2.0)
	if scored[0].Confidence != wantConfidence {
		t.Errorf("Confidence = %v, want %v", scored[0].Confidence, wantConfidence)
	}
	if scored[0].Confidence < 0 || scored[0].Confidence > 1 {
		t.Errorf("Confidence = %v, want a value clipped to [0,1]", scored[0].Confidence)
	}
}

func TestNewScorerRejectsUnknownSimilarityFn(t *testing.T) {
	s := testutil.NewTestStore(t)
	cfg := config.ScoringConfig{
		FieldWeights: map[string]config.FieldWeight{
			"name": {MProb: 0.9, UProb: 0.1, SimilarityFn: "not_a_real_fn"},
		},
	}
	_, err := NewScorer(s, cfg, nil)
	testutil.AssertError(t, err)
}
