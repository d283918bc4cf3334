// Package blocking implements the candidate-pair generation strategies of
// spec §4B: the set of ways the engine cuts the O(n^2) all-pairs comparison
// down to a tractable candidate set before scoring ever runs. Routing by
// StrategyType mirrors the teacher's internal/search.Engine.Search, which
// dispatches on a SearchType enum to one function per search mode
// (keywordSearch, semanticSearch, tagSearch, ...); here the dispatch is on
// config.StrategyType to one GenerateCandidates implementation per
// blocking strategy.
package blocking

import (
	"sort"
	"time"

	"github.com/erlink/erlink/internal/erkit"
	"github.com/erlink/erlink/internal/logging"
	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/pkg/config"
)

var log = logging.GetLogger("blocking")

// Scope names the collection(s) a blocking pass runs over. CollectionB
// equals CollectionA for within-collection dedup; a distinct CollectionB
// makes the same strategies run a cross-collection match (spec §1
// "cross-collection matching is a configuration variant of the same core").
type Scope struct {
	CollectionA string
	CollectionB string
}

// SameCollection reports whether this scope compares a collection to
// itself, the common within-collection dedup case.
func (s Scope) SameCollection() bool { return s.CollectionA == s.CollectionB }

// CandidatePair is one pair of record ids worth scoring, with the set of
// strategies that nominated it and the best signal any of them produced
// (spec §4B "Candidate pair").
type CandidatePair struct {
	IDA        string
	IDB        string
	Strategies []string
	BestScore  float64
}

func pairKey(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Strategy generates candidate pairs for one blocking technique.
type Strategy interface {
	Name() string
	GenerateCandidates(s *store.Store, scope Scope) (<-chan CandidatePair, <-chan error)
}

// Stats summarizes one blocking pass (spec §4B statistics contract).
type Stats struct {
	CandidateCount    int
	TotalPossiblePairs int64
	ReductionRatio    float64
	PerStrategyCounts map[string]int
	// DroppedBlockCount counts candidate pairs the Engine refused because
	// Limit was already reached. Blocks larger than MaxBlockSize are
	// truncated by the strategies and are not counted here.
	DroppedBlockCount int
	ProcessingTime    time.Duration
}

// Engine runs a set of configured strategies and unions their output by
// (a,b) key, keeping the best score and the full list of strategies that
// nominated each pair (spec §4B "multi-strategy composition").
type Engine struct {
	strategies []Strategy
	limit      int
}

// NewEngine builds an Engine from blocking configuration, instantiating one
// Strategy per configured entry (spec §4B, §6 configuration surface).
func NewEngine(cfg config.BlockingConfig) (*Engine, error) {
	e := &Engine{limit: cfg.Limit}
	for _, sc := range cfg.Strategies {
		strat, err := newStrategy(sc)
		if err != nil {
			return nil, err
		}
		e.strategies = append(e.strategies, strat)
	}
	return e, nil
}

func newStrategy(sc config.StrategyConfig) (Strategy, error) {
	switch sc.Type {
	case config.StrategyExact:
		return &exactStrategy{cfg: sc}, nil
	case config.StrategyComposite:
		return &compositeStrategy{cfg: sc}, nil
	case config.StrategyNgram:
		return &ngramStrategy{cfg: sc}, nil
	case config.StrategyPhonetic:
		return &phoneticStrategy{cfg: sc}, nil
	case config.StrategyGeographic:
		return &geographicStrategy{cfg: sc}, nil
	case config.StrategyHybrid:
		return &hybridStrategy{cfg: sc}, nil
	case config.StrategyGraphTraversal:
		return &graphTraversalStrategy{cfg: sc}, nil
	default:
		return nil, erkit.Newf(erkit.KindConfig, "blocking.newStrategy", "unknown strategy type %q", sc.Type)
	}
}

// GenerateCandidates runs every configured strategy over scope and unions
// their results. Errors from any single strategy abort the whole pass —
// blocking feeds scoring directly, so a partial candidate set would
// silently under-cover the collection (spec §7 BackendError).
func (e *Engine) GenerateCandidates(s *store.Store, scope Scope) ([]CandidatePair, *Stats, error) {
	start := time.Now()
	merged := make(map[string]*CandidatePair)
	perStrategy := make(map[string]int)
	dropped := 0

	for _, strat := range e.strategies {
		pairs, errc := strat.GenerateCandidates(s, scope)
		count := 0
		seenThis := make(map[string]bool)
		for p := range pairs {
			a, b := pairKey(p.IDA, p.IDB)
			if a == b {
				continue
			}
			key := a + "\x00" + b
			if seenThis[key] {
				continue
			}
			seenThis[key] = true
			if existing, ok := merged[key]; ok {
				existing.Strategies = append(existing.Strategies, strat.Name())
				if p.BestScore > existing.BestScore {
					existing.BestScore = p.BestScore
				}
			} else {
				if e.limit > 0 && len(merged) >= e.limit {
					dropped++
					continue
				}
				merged[key] = &CandidatePair{
					IDA: a, IDB: b,
					Strategies: []string{strat.Name()},
					BestScore:  p.BestScore,
				}
			}
			count++
		}
		if err := <-errc; err != nil {
			return nil, nil, err
		}
		perStrategy[strat.Name()] = count
	}

	out := make([]CandidatePair, 0, len(merged))
	for _, p := range merged {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IDA != out[j].IDA {
			return out[i].IDA < out[j].IDA
		}
		return out[i].IDB < out[j].IDB
	})

	stats := &Stats{
		CandidateCount:    len(out),
		PerStrategyCounts: perStrategy,
		DroppedBlockCount: dropped,
		ProcessingTime:    time.Since(start),
	}

	if scope.SameCollection() {
		if ids, err := s.CollectionIDs(scope.CollectionA); err == nil {
			n := int64(len(ids))
			stats.TotalPossiblePairs = n * (n - 1) / 2
			if stats.TotalPossiblePairs > 0 {
				stats.ReductionRatio = 1 - float64(stats.CandidateCount)/float64(stats.TotalPossiblePairs)
			}
		}
	}

	log.Stage("blocking", stats.ProcessingTime.Milliseconds(), stats.CandidateCount,
		"reduction_ratio", stats.ReductionRatio, "dropped_blocks", stats.DroppedBlockCount)

	return out, stats, nil
}
