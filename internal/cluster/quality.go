package cluster

import (
	"time"

	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/pkg/config"
)

// Quality is the cluster quality validator's verdict for one cluster
// (spec §4F): four independent checks rolled into one quality_score and a
// pass/fail valid flag.
type Quality struct {
	ClusterID      string
	Size           int
	AvgSimilarity  float64
	Density        float64
	ScoreRange     float64
	QualityScore   float64
	Valid          bool
	FailedChecks   []string
}

// QualityStats aggregates the validator's pass over every cluster in a
// collection (spec §4F statistics contract).
type QualityStats struct {
	ClusterCount   int
	ValidCount     int
	InvalidCount   int
	AvgQualityScore float64
	ProcessingTime time.Duration
}

// Validate scores every cluster in recordCollection against cfg's
// thresholds, using edgeCollection's edge weights for similarity/density
// (spec §4F "size_appropriate, similarity_coherent, density_adequate,
// score_range_reasonable").
func Validate(s *store.Store, recordCollection, edgeCollection string, cfg config.QualityConfig) ([]Quality, *QualityStats, error) {
	start := time.Now()

	clusters, errc := s.ScanClusters(recordCollection)
	var results []Quality
	totalScore := 0.0

	for c := range clusters {
		q, err := validateOne(s, edgeCollection, c, cfg)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, q)
		totalScore += q.QualityScore
	}
	if err := <-errc; err != nil {
		return nil, nil, err
	}

	stats := &QualityStats{ClusterCount: len(results), ProcessingTime: time.Since(start)}
	for _, q := range results {
		if q.Valid {
			stats.ValidCount++
		} else {
			stats.InvalidCount++
		}
	}
	if len(results) > 0 {
		stats.AvgQualityScore = totalScore / float64(len(results))
	}
	return results, stats, nil
}

func validateOne(s *store.Store, edgeCollection string, c *store.Cluster, cfg config.QualityConfig) (Quality, error) {
	q := Quality{ClusterID: c.ID, Size: len(c.Members)}

	sizeOK := true
	if cfg.MinClusterSize > 0 && q.Size < cfg.MinClusterSize {
		sizeOK = false
	}
	if cfg.MaxClusterSize > 0 && q.Size > cfg.MaxClusterSize {
		sizeOK = false
	}
	if !sizeOK {
		q.FailedChecks = append(q.FailedChecks, "size_appropriate")
	}

	weights, err := pairwiseWeights(s, edgeCollection, c.Members)
	if err != nil {
		return q, err
	}

	possiblePairs := q.Size * (q.Size - 1) / 2
	if possiblePairs > 0 {
		q.Density = float64(len(weights)) / float64(possiblePairs)
	}
	if len(weights) > 0 {
		sum, min, max := 0.0, weights[0], weights[0]
		for _, w := range weights {
			sum += w
			if w < min {
				min = w
			}
			if w > max {
				max = w
			}
		}
		q.AvgSimilarity = sum / float64(len(weights))
		q.ScoreRange = max - min
	}

	if q.AvgSimilarity < cfg.MinAvgSimilarity {
		q.FailedChecks = append(q.FailedChecks, "similarity_coherent")
	}
	if q.Density < cfg.MinDensity {
		q.FailedChecks = append(q.FailedChecks, "density_adequate")
	}
	if cfg.MaxScoreRange > 0 && q.ScoreRange > cfg.MaxScoreRange {
		q.FailedChecks = append(q.FailedChecks, "score_range_reasonable")
	}

	q.QualityScore = scoreFromChecks(q.FailedChecks)
	q.Valid = len(q.FailedChecks) == 0 && q.QualityScore >= cfg.MinQualityScore
	return q, nil
}

// scoreFromChecks is the fraction of the four checks (size_appropriate,
// similarity_coherent, density_adequate, score_range_reasonable) that
// passed, not a blend of the underlying continuous metrics (spec §4F
// "quality_score is the fraction of checks passed").
func scoreFromChecks(failedChecks []string) float64 {
	return float64(4-len(failedChecks)) / 4
}

func pairwiseWeights(s *store.Store, edgeCollection string, members []string) ([]float64, error) {
	var weights []float64
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			w, ok, err := s.EdgeWeight(edgeCollection, members[i], members[j])
			if err != nil {
				return nil, err
			}
			if ok {
				weights = append(weights, w)
			}
		}
	}
	return weights, nil
}
