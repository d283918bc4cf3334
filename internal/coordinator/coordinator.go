// Package coordinator sequences the pipeline's stages — blocking, scoring,
// edge writing, clustering, quality validation, golden-record synthesis —
// for every configured collection (spec §2, §5).
//
// The scoring stage uses sourcegraph/conc's context-aware worker pool in
// place of ad hoc goroutine/WaitGroup bookkeeping. The stages are not
// connected by channels and apply no backpressure: blocking returns its
// full candidate set, the pool scores every batch and all results are
// collected, and only then does the edge writer run, on the calling
// goroutine.
package coordinator

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/erlink/erlink/internal/blocking"
	"github.com/erlink/erlink/internal/cluster"
	"github.com/erlink/erlink/internal/edges"
	"github.com/erlink/erlink/internal/erkit"
	"github.com/erlink/erlink/internal/golden"
	"github.com/erlink/erlink/internal/logging"
	"github.com/erlink/erlink/internal/scoring"
	"github.com/erlink/erlink/internal/similarity"
	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/pkg/config"
)

var log = logging.GetLogger("coordinator")

// defaultWorkers bounds the scoring pool's concurrency when the caller
// does not override it (spec §5 "Suspension points" — CPU-bound work is
// the only stage that benefits from parallelism here).
const defaultWorkers = 4

// CollectionStats captures every stage's result for one collection.
type CollectionStats struct {
	Collection string
	Blocking   *blocking.Stats
	EdgesWritten int
	EdgesDropped int
	Clustering *cluster.Stats
	Quality    *cluster.QualityStats
	Golden     *golden.Stats
}

// RunStats aggregates a full pipeline run across every configured collection.
type RunStats struct {
	Collections []CollectionStats
	TotalTime   time.Duration
}

// Coordinator sequences A→B→C→D→E→F→G for the collections named in its
// configuration (spec §2 component table).
type Coordinator struct {
	store   *store.Store
	cfg     *config.Config
	workers int
}

// New builds a Coordinator bound to store and cfg.
func New(s *store.Store, cfg *config.Config) *Coordinator {
	return &Coordinator{store: s, cfg: cfg, workers: defaultWorkers}
}

// WithWorkers overrides the scoring pool's concurrency.
func (c *Coordinator) WithWorkers(n int) *Coordinator {
	if n > 0 {
		c.workers = n
	}
	return c
}

// Run executes the full pipeline once, honoring run.clean_before (spec §3
// Lifecycle). ctx is checked before each collection and at the start of
// each scoring batch.
func (c *Coordinator) Run(ctx context.Context) (*RunStats, error) {
	start := time.Now()

	if c.cfg.Run.CleanBefore {
		if err := c.clean(); err != nil {
			return nil, err
		}
	}

	engine, err := blocking.NewEngine(c.cfg.Blocking)
	if err != nil {
		return nil, err
	}
	scorer, err := scoring.NewScorer(c.store, c.cfg.Scoring, similarity.NewRegistry())
	if err != nil {
		return nil, err
	}
	writer := edges.NewWriter(c.store, c.cfg.Edges)
	synth := golden.NewSynthesizer(c.store, c.cfg.Golden)

	var result RunStats
	for _, collection := range c.cfg.Collections {
		if err := ctx.Err(); err != nil {
			return &result, erkit.New(erkit.KindCancelled, "coordinator.Run", err)
		}

		stats, err := c.runCollection(ctx, collection, engine, scorer, writer, synth)
		if err != nil {
			return &result, err
		}
		result.Collections = append(result.Collections, *stats)
	}

	result.TotalTime = time.Since(start)
	log.Stage("pipeline", result.TotalTime.Milliseconds(), len(result.Collections))
	return &result, nil
}

func (c *Coordinator) runCollection(ctx context.Context, collection string, engine *blocking.Engine, scorer *scoring.Scorer, writer *edges.Writer, synth *golden.Synthesizer) (*CollectionStats, error) {
	stats := &CollectionStats{Collection: collection}
	scope := blocking.Scope{CollectionA: collection, CollectionB: collection}

	pairs, blockStats, err := engine.GenerateCandidates(c.store, scope)
	if err != nil {
		return nil, err
	}
	stats.Blocking = blockStats

	scored, err := c.scoreConcurrently(ctx, collection, scorer, pairs)
	if err != nil {
		return nil, err
	}

	writeResult, err := writer.Write(scored, c.cfg.Run.ForceUpdateEdges)
	if err != nil {
		return nil, err
	}
	stats.EdgesWritten = writeResult.Written
	stats.EdgesDropped = writeResult.Dropped

	clusters, clusterStats, err := cluster.WCC(c.store, collection, c.cfg.Edges.Collection, c.cfg.Clustering)
	if err != nil {
		return nil, err
	}
	stats.Clustering = clusterStats
	_ = clusters

	quality, qualityStats, err := cluster.Validate(c.store, collection, c.cfg.Edges.Collection, c.cfg.Quality)
	if err != nil {
		return nil, err
	}
	stats.Quality = qualityStats
	_ = quality

	goldenStats, err := synth.Synthesize(collection)
	if err != nil {
		return nil, err
	}
	stats.Golden = goldenStats

	return stats, nil
}

// scoreConcurrently batches candidate pairs and scores each batch on a
// bounded worker pool, collecting every batch's results before returning
// (spec §5 pipelined-stage model: scoring is the one CPU-bound stage
// worth parallelizing; the edge writer downstream stays single-consumer).
func (c *Coordinator) scoreConcurrently(ctx context.Context, collection string, scorer *scoring.Scorer, pairs []blocking.CandidatePair) ([]scoring.ScoredPair, error) {
	batchSize := c.cfg.Scoring.BatchSize
	if batchSize <= 0 {
		batchSize = 5000
	}

	var batches [][]blocking.CandidatePair
	for start := 0; start < len(pairs); start += batchSize {
		end := start + batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batches = append(batches, pairs[start:end])
	}

	p := pool.NewWithResults[[]scoring.ScoredPair]().WithContext(ctx).WithMaxGoroutines(c.workers).WithCancelOnError()
	for _, batch := range batches {
		batch := batch
		p.Go(func(ctx context.Context) ([]scoring.ScoredPair, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return scorer.ScorePairs(collection, collection, batch)
		})
	}

	results, err := p.Wait()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, erkit.New(erkit.KindCancelled, "coordinator.scoreConcurrently", ctxErr)
		}
		return nil, erkit.New(erkit.KindBackend, "coordinator.scoreConcurrently", err)
	}

	var scored []scoring.ScoredPair
	for _, batch := range results {
		scored = append(scored, batch...)
	}
	return scored, nil
}

// clean truncates edges, clusters, and golden records for every configured
// collection before a fresh run (spec §3 Lifecycle "clean_before").
func (c *Coordinator) clean() error {
	if err := c.store.TruncateEdges(c.cfg.Edges.Collection); err != nil {
		return err
	}
	for _, collection := range c.cfg.Collections {
		if err := c.store.TruncateClusters(collection); err != nil {
			return err
		}
		if err := c.store.TruncateGoldenRecords(collection); err != nil {
			return err
		}
	}
	return nil
}
