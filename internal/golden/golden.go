// Package golden implements the golden-record synthesizer of spec §4G: for
// every stored cluster it consolidates one value per field across the
// member records — consensus when every member agrees, a source_preference/
// record_quality-weighted conflict resolution when they don't, single_source
// when only one member carries the field — and writes the result, with
// per-field provenance, as that cluster's golden record.
//
// Grounded on the teacher's field-merge helpers in internal/relationships
// (picking a single surviving value across duplicate inputs), generalized
// from a fixed merge rule to the weighted formula of §4G.
package golden

import (
	"sort"
	"strings"
	"time"

	"github.com/erlink/erlink/internal/logging"
	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/pkg/config"
)

var log = logging.GetLogger("golden")

const (
	strategyConsensus         = "consensus"
	strategyConflictResolution = "conflict_resolution"
	strategySingleSource      = "single_source"
)

// sourcePreferenceWeight and recordQualityWeight are the coefficients of
// the conflict-resolution score (spec §4G "maximizes 0.7 *
// source_preference[source] + 0.3 * record_quality").
const (
	sourcePreferenceWeight = 0.7
	recordQualityWeight    = 0.3
)

// Stats summarizes one synthesis pass (spec §4G statistics contract).
type Stats struct {
	GoldenRecordCount int
	ProcessingTime    time.Duration
}

// Synthesizer builds golden records from clusters.
type Synthesizer struct {
	store *store.Store
	cfg   config.GoldenConfig
}

// NewSynthesizer builds a Synthesizer from configuration.
func NewSynthesizer(s *store.Store, cfg config.GoldenConfig) *Synthesizer {
	return &Synthesizer{store: s, cfg: cfg}
}

// Synthesize walks every cluster in recordCollection and writes a golden
// record synthesized from its members' fields to the golden_records table
// under recordCollection (spec §4G).
func (sy *Synthesizer) Synthesize(recordCollection string) (*Stats, error) {
	start := time.Now()
	clusters, errc := sy.store.ScanClusters(recordCollection)

	count := 0
	for c := range clusters {
		members, err := sy.store.GetMany(recordCollection, c.Members)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			continue
		}
		fields, provenance := sy.mergeFields(members)
		sourceIDs := make([]string, len(members))
		for i, m := range members {
			sourceIDs[i] = m.ID
		}
		gr := &store.GoldenRecord{
			Collection:      recordCollection,
			ClusterID:       c.ID,
			Fields:          fields,
			Provenance:      provenance,
			SourceRecordIDs: sourceIDs,
			QualityScore:    avgRecordQuality(members),
			MemberCount:     len(members),
		}
		if err := sy.store.UpsertGoldenRecord(gr); err != nil {
			return nil, err
		}
		count++
	}
	if err := <-errc; err != nil {
		return nil, err
	}

	stats := &Stats{GoldenRecordCount: count, ProcessingTime: time.Since(start)}
	log.Stage("golden_record_synthesis", stats.ProcessingTime.Milliseconds(), count)
	return stats, nil
}

// fieldValue is one member's contribution to a field: the value annotated
// with its source, record_quality, and timestamp (spec §4G "collect the
// non-null values across members with their (source, quality, timestamp)
// annotations").
type fieldValue struct {
	value     string
	source    string
	quality   float64
	updatedAt time.Time
}

// mergeFields resolves one value per field name across members, skipping
// internal/system fields (spec §4G "internal/system fields are not
// propagated" — any field starting with "_", plus any named in
// ExcludeFields), and records how each field was resolved.
func (sy *Synthesizer) mergeFields(members []*store.Record) (map[string]any, map[string]store.FieldProvenance) {
	values := make(map[string][]fieldValue)
	for _, m := range members {
		q := recordQuality(m)
		for name, v := range m.Fields {
			if sy.excluded(name) {
				continue
			}
			s, ok := v.(string)
			if !ok || s == "" {
				continue
			}
			values[name] = append(values[name], fieldValue{value: s, source: m.Source, quality: q, updatedAt: m.UpdatedAt})
		}
	}

	fields := make(map[string]any, len(values))
	provenance := make(map[string]store.FieldProvenance, len(values))
	for name, candidates := range values {
		value, prov := resolve(candidates, sy.cfg.SourcePreference)
		fields[name] = value
		provenance[name] = prov
	}
	return fields, provenance
}

func (sy *Synthesizer) excluded(name string) bool {
	if strings.HasPrefix(name, "_") {
		return true
	}
	for _, f := range sy.cfg.ExcludeFields {
		if f == name {
			return true
		}
	}
	return false
}

// resolve applies the §4G per-field rule: single_source when only one
// candidate exists, consensus when every candidate agrees (attributed to
// the highest source_preference among them), conflict_resolution otherwise
// (the value whose best-scoring candidate maximizes sourcePreference*0.7 +
// record_quality*0.3, with the losing distinct values recorded as
// alternatives).
func resolve(candidates []fieldValue, sourcePreference map[string]float64) (string, store.FieldProvenance) {
	if len(candidates) == 1 {
		return candidates[0].value, store.FieldProvenance{Source: candidates[0].source, Strategy: strategySingleSource}
	}

	distinct := distinctValues(candidates)
	if len(distinct) == 1 {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if sourcePreference[c.source] > sourcePreference[best.source] {
				best = c
			}
		}
		return best.value, store.FieldProvenance{Source: best.source, Strategy: strategyConsensus}
	}

	var winner fieldValue
	bestScore := -1.0
	for _, c := range candidates {
		score := sourcePreferenceWeight*sourcePreference[c.source] + recordQualityWeight*c.quality
		if score > bestScore {
			winner, bestScore = c, score
		}
	}

	alternatives := make([]string, 0, len(distinct)-1)
	for _, v := range distinct {
		if v != winner.value {
			alternatives = append(alternatives, v)
		}
	}
	sort.Strings(alternatives)

	return winner.value, store.FieldProvenance{Source: winner.source, Strategy: strategyConflictResolution, Alternatives: alternatives}
}

func distinctValues(candidates []fieldValue) []string {
	seen := make(map[string]bool, len(candidates))
	var out []string
	for _, c := range candidates {
		if !seen[c.value] {
			seen[c.value] = true
			out = append(out, c.value)
		}
	}
	return out
}

// recordQuality is a cheap function of field completeness and timestamp
// recency, monotonically increasing in both (spec §4G "record_quality ...
// implementation-defined but monotonically increasing in both").
func recordQuality(r *store.Record) float64 {
	total, nonEmpty := 0, 0
	for name, v := range r.Fields {
		if strings.HasPrefix(name, "_") {
			continue
		}
		total++
		if s, ok := v.(string); ok && s != "" {
			nonEmpty++
		} else if !ok && v != nil {
			nonEmpty++
		}
	}
	completeness := 1.0
	if total > 0 {
		completeness = float64(nonEmpty) / float64(total)
	}

	recency := 1.0
	if !r.UpdatedAt.IsZero() {
		ageDays := time.Since(r.UpdatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recency = 1 / (1 + ageDays)
	}

	return 0.5*completeness + 0.5*recency
}

func avgRecordQuality(members []*store.Record) float64 {
	if len(members) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range members {
		sum += recordQuality(m)
	}
	return sum / float64(len(members))
}
