// Package scoring implements the Fellegi-Sunter similarity scorer of
// spec §4C: it turns a stream of candidate pairs into scored pairs by
// comparing each configured field with its similarity function, weighting
// agreement/disagreement by m/u-probability log-odds, and summing to a
// total score checked against the upper/lower thresholds.
//
// Grounded on the teacher's internal/relationships scoring loop (a single
// pass over field-by-field comparisons accumulating into one summary
// value) and internal/database's batched record fetch with a scorer-local
// cache (spec §9 "scorer-scoped cache as the only global state").
package scoring

import (
	"math"
	"sync"

	"github.com/erlink/erlink/internal/blocking"
	"github.com/erlink/erlink/internal/erkit"
	"github.com/erlink/erlink/internal/logging"
	"github.com/erlink/erlink/internal/similarity"
	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/pkg/config"
)

var log = logging.GetLogger("scoring")

// Decision is the scorer's three-way classification of a scored pair
// (spec §4C "match / possible_match / non_match").
type Decision string

const (
	DecisionMatch         Decision = "match"
	DecisionPossibleMatch Decision = "possible_match"
	DecisionNonMatch      Decision = "non_match"
)

// ScoredPair is a candidate pair after Fellegi-Sunter scoring (spec §3
// "Scored pair").
type ScoredPair struct {
	IDA         string
	IDB         string
	TotalScore  float64
	FieldScores map[string]float64
	Decision    Decision
	Confidence  float64
}

// fieldWeight pairs a field's configuration with its resolved similarity
// function and precomputed log-odds weights, so every comparison avoids
// recomputing math.Log per pair.
type fieldWeight struct {
	name            string
	cfg             config.FieldWeight
	fn              similarity.Func
	agreeWeight     float64
	disagreeWeight  float64
}

// Scorer compares candidate pairs field by field and classifies them.
type Scorer struct {
	store   *store.Store
	cfg     config.ScoringConfig
	fields  []fieldWeight
	cache   sync.Map // id -> *store.Record, the scorer's one piece of global state
}

// NewScorer builds a Scorer from configuration, resolving every field's
// similarity function against registry (custom functions take precedence
// over built-ins; pass nil to use only the five built-ins).
func NewScorer(s *store.Store, cfg config.ScoringConfig, registry *similarity.Registry) (*Scorer, error) {
	sc := &Scorer{store: s, cfg: cfg}
	for name, fw := range cfg.FieldWeights {
		if !config.IsKnownSimilarityFn(fw.SimilarityFn) && registry == nil {
			return nil, erkit.Newf(erkit.KindConfig, "scoring.NewScorer", "field %q: unknown similarity function %q and no custom registry supplied", name, fw.SimilarityFn)
		}
		ngramN := fw.NgramN
		if ngramN <= 0 {
			ngramN = 3
		}
		fn, err := registry.Resolve(string(fw.SimilarityFn), ngramN)
		if err != nil {
			return nil, erkit.New(erkit.KindConfig, "scoring.NewScorer", err).WithContext("field", name)
		}

		agree := math.Log(fw.MProb / fw.UProb)
		disagree := math.Log((1 - fw.MProb) / (1 - fw.UProb))
		sc.fields = append(sc.fields, fieldWeight{
			name: name, cfg: fw, fn: fn,
			agreeWeight: agree, disagreeWeight: disagree,
		})
	}
	return sc, nil
}

// ScorePairs scores a batch of candidate pairs, fetching records in bulk
// per side via store.GetMany and caching them in the scorer's cache, which
// is kept across calls for the Scorer's lifetime (spec §9 scorer-scoped
// cache; §5 "batch fetch with caching").
func (sc *Scorer) ScorePairs(collectionA, collectionB string, pairs []blocking.CandidatePair) ([]ScoredPair, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	idSet := make(map[string]struct{}, len(pairs)*2)
	for _, p := range pairs {
		idSet[p.IDA] = struct{}{}
		idSet[p.IDB] = struct{}{}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	if err := sc.warmCache(collectionA, ids); err != nil {
		return nil, err
	}
	if collectionB != collectionA {
		if err := sc.warmCache(collectionB, ids); err != nil {
			return nil, err
		}
	}

	out := make([]ScoredPair, 0, len(pairs))
	for _, p := range pairs {
		ra, ok := sc.lookup(collectionA, p.IDA)
		if !ok {
			ra, ok = sc.lookup(collectionB, p.IDA)
		}
		rb, okB := sc.lookup(collectionB, p.IDB)
		if !okB {
			rb, okB = sc.lookup(collectionA, p.IDB)
		}
		if !ok || !okB {
			continue // a record vanished between blocking and scoring; skip rather than fail the batch
		}
		out = append(out, sc.scorePair(ra, rb))
	}

	log.Stage("scoring", 0, len(out))
	return out, nil
}

func (sc *Scorer) warmCache(collection string, ids []string) error {
	const batchSize = 500
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		records, err := sc.store.GetMany(collection, ids[start:end])
		if err != nil {
			return erkit.New(erkit.KindBackend, "scoring.warmCache", err).WithContext("collection", collection)
		}
		for _, r := range records {
			sc.cache.Store(collection+"\x00"+r.ID, r)
		}
	}
	return nil
}

func (sc *Scorer) lookup(collection, id string) (*store.Record, bool) {
	v, ok := sc.cache.Load(collection + "\x00" + id)
	if !ok {
		return nil, false
	}
	return v.(*store.Record), true
}

// scorePair computes the Fellegi-Sunter log-odds total and per-field
// agreement scores for one pair (spec §4C core algorithm).
func (sc *Scorer) scorePair(a, b *store.Record) ScoredPair {
	fieldScores := make(map[string]float64, len(sc.fields))
	total := 0.0

	for _, fw := range sc.fields {
		va, vb := a.Field(fw.name), b.Field(fw.name)
		normalize := fw.cfg.Normalize == nil || *fw.cfg.Normalize
		if normalize {
			opts := similarity.NormalizeOptions{Lowercase: true, RemovePunctuation: fw.cfg.RemovePunctuation}
			va = similarity.Normalize(va, opts)
			vb = similarity.Normalize(vb, opts)
		}

		sim := fw.fn(va, vb)
		fieldScores[fw.name] = sim

		// Per spec §4C the per-field contribution is the flat m/u log-odds
		// weight for whichever side of the threshold the similarity falls
		// on — not the weight scaled by sim or (1-sim).
		if sim >= fw.cfg.Threshold {
			total += fw.agreeWeight
		} else {
			total += fw.disagreeWeight
		}
	}

	decision := DecisionNonMatch
	switch {
	case total >= sc.cfg.Global.UpperThreshold:
		decision = DecisionMatch
	case total >= sc.cfg.Global.LowerThreshold:
		decision = DecisionPossibleMatch
	}

	return ScoredPair{
		IDA: a.ID, IDB: b.ID,
		TotalScore:  total,
		FieldScores: fieldScores,
		Decision:    decision,
		Confidence:  confidence(total, sc.cfg.Global.LowerThreshold, sc.cfg.Global.UpperThreshold),
	}
}

// confidence maps a total score linearly onto [0,1] between the lower and
// upper decision thresholds (spec §4C "confidence = clip((total_score -
// lower_threshold) / (upper_threshold - lower_threshold), 0, 1)").
func confidence(totalScore, lowerThreshold, upperThreshold float64) float64 {
	span := upperThreshold - lowerThreshold
	if span <= 0 {
		return 0
	}
	c := (totalScore - lowerThreshold) / span
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
