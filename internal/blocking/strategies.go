package blocking

import (
	"strings"

	"github.com/erlink/erlink/internal/erkit"
	"github.com/erlink/erlink/internal/similarity"
	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/pkg/config"
)

func sendErr(errc chan<- error, err error) {
	errc <- err
}

// blockByFields groups record ids sharing identical field values and
// returns the blocks by key. Both exact and composite blocking use it.
func blockByFields(s *store.Store, collection string, fields []string, filters map[string]config.FieldFilter, computed []config.ComputedField, maxBlockSize, minBlockSize int) (map[string][]string, error) {
	records, errc := s.Scan(collection, 1000)
	blocks := make(map[string][]string)

	for r := range records {
		if !passesFilters(r, filters) {
			continue
		}
		key := buildKey(r, fields, computed)
		if key == "" {
			continue
		}
		blocks[key] = append(blocks[key], r.ID)
	}
	if err := <-errc; err != nil {
		return nil, err
	}

	for key, ids := range blocks {
		if minBlockSize > 0 && len(ids) < minBlockSize {
			delete(blocks, key)
			continue
		}
		if maxBlockSize > 0 && len(ids) > maxBlockSize {
			blocks[key] = ids[:maxBlockSize]
		}
	}
	return blocks, nil
}

func passesFilters(r *store.Record, filters map[string]config.FieldFilter) bool {
	for field, f := range filters {
		v := r.Field(field)
		if f.NotNull && v == "" {
			return false
		}
		if f.MinLength > 0 && len(v) < f.MinLength {
			return false
		}
		for _, excluded := range f.NotIn {
			if v == excluded {
				return false
			}
		}
	}
	return true
}

func buildKey(r *store.Record, fields []string, computed []config.ComputedField) string {
	var parts []string
	for _, f := range fields {
		v := r.Field(f)
		if v == "" {
			return ""
		}
		parts = append(parts, strings.ToLower(strings.TrimSpace(v)))
	}
	for _, c := range computed {
		v := r.Field(c.SourceField)
		if v == "" {
			return ""
		}
		if c.PrefixLen > 0 && len(v) > c.PrefixLen {
			v = v[:c.PrefixLen]
		}
		parts = append(parts, strings.ToLower(v))
	}
	return strings.Join(parts, "\x1f")
}

func pairsFromBlock(ids []string) [][2]string {
	var pairs [][2]string
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			pairs = append(pairs, [2]string{ids[i], ids[j]})
		}
	}
	return pairs
}

// exactStrategy blocks records with identical values (after lowercasing
// and trimming) for all configured fields (spec §4B.1).
type exactStrategy struct{ cfg config.StrategyConfig }

func (e *exactStrategy) Name() string { return "exact" }

func (e *exactStrategy) GenerateCandidates(s *store.Store, scope Scope) (<-chan CandidatePair, <-chan error) {
	out := make(chan CandidatePair)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		blocks, err := blockByFields(s, scope.CollectionA, e.cfg.Fields, e.cfg.Filters, nil, e.cfg.MaxBlockSize, e.cfg.MinBlockSize)
		if err != nil {
			sendErr(errc, err)
			return
		}
		for _, ids := range blocks {
			for _, pair := range pairsFromBlock(ids) {
				out <- CandidatePair{IDA: pair[0], IDB: pair[1], BestScore: 1.0}
			}
		}
	}()
	return out, errc
}

// compositeStrategy blocks on a combination of direct fields, computed
// fields (e.g. a zip-code prefix), and per-field admission filters
// (spec §4B.2).
type compositeStrategy struct{ cfg config.StrategyConfig }

func (c *compositeStrategy) Name() string { return "composite" }

func (c *compositeStrategy) GenerateCandidates(s *store.Store, scope Scope) (<-chan CandidatePair, <-chan error) {
	out := make(chan CandidatePair)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		blocks, err := blockByFields(s, scope.CollectionA, c.cfg.Fields, c.cfg.Filters, c.cfg.ComputedFields, c.cfg.MaxBlockSize, c.cfg.MinBlockSize)
		if err != nil {
			sendErr(errc, err)
			return
		}
		for _, ids := range blocks {
			for _, pair := range pairsFromBlock(ids) {
				out <- CandidatePair{IDA: pair[0], IDB: pair[1], BestScore: 1.0}
			}
		}
	}()
	return out, errc
}

// ngramStrategy blocks via BM25 full-text search over the ngram analyzer's
// FTS5 index, the blocking analogue of the teacher's keyword search
// (spec §4B.3). That index is tokenized into words, not character n-grams.
type ngramStrategy struct{ cfg config.StrategyConfig }

func (n *ngramStrategy) Name() string { return "ngram" }

func (n *ngramStrategy) GenerateCandidates(s *store.Store, scope Scope) (<-chan CandidatePair, <-chan error) {
	out := make(chan CandidatePair)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)

		field := firstField(n.cfg.Fields)
		if field == "" {
			sendErr(errc, erkit.Newf(erkit.KindConfig, "ngramStrategy", "strategy requires at least one field"))
			return
		}

		records, errs := s.Scan(scope.CollectionA, 1000)
		for r := range records {
			text := r.Field(field)
			if text == "" {
				continue
			}
			limit := n.cfg.LimitPerEntity
			if limit <= 0 {
				limit = 20
			}
			hits, err := s.TextSearch(scope.CollectionB, field, string(config.SimNgram), text, limit)
			if err != nil {
				continue // analyzer not configured for this field; skip silently
			}
			for _, h := range hits {
				if h.ID == r.ID {
					continue
				}
				threshold := n.cfg.BM25Threshold
				// bm25() returns lower-is-better (negative) scores; a
				// configured threshold of 0 accepts every hit.
				if threshold != 0 && h.Score > -threshold {
					continue
				}
				out <- CandidatePair{IDA: r.ID, IDB: h.ID, BestScore: -h.Score}
			}
		}
		if err := <-errs; err != nil {
			sendErr(errc, err)
		}
	}()
	return out, errc
}

// phoneticStrategy blocks records whose configured field shares a Soundex
// code (spec §4B.4).
type phoneticStrategy struct{ cfg config.StrategyConfig }

func (p *phoneticStrategy) Name() string { return "phonetic" }

func (p *phoneticStrategy) GenerateCandidates(s *store.Store, scope Scope) (<-chan CandidatePair, <-chan error) {
	out := make(chan CandidatePair)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)

		field := firstField(p.cfg.Fields)
		if field == "" {
			sendErr(errc, erkit.Newf(erkit.KindConfig, "phoneticStrategy", "strategy requires at least one field"))
			return
		}

		records, errs := s.Scan(scope.CollectionA, 1000)
		for r := range records {
			v := r.Field(field)
			if v == "" {
				continue
			}
			hits, err := s.TextSearch(scope.CollectionB, field, string(config.SimPhonetic), v, 0)
			if err != nil {
				continue
			}
			for _, h := range hits {
				if h.ID == r.ID {
					continue
				}
				out <- CandidatePair{IDA: r.ID, IDB: h.ID, BestScore: 1.0}
			}
		}
		if err := <-errs; err != nil {
			sendErr(errc, err)
		}
	}()
	return out, errc
}

// geographicStrategy blocks on a location field, resolved either directly
// or through a declarative fallback rule when the direct field is absent
// (spec §4B.5, §9 Open Questions — no hard-coded regional special-casing).
type geographicStrategy struct{ cfg config.StrategyConfig }

func (g *geographicStrategy) Name() string { return "geographic" }

func (g *geographicStrategy) GenerateCandidates(s *store.Store, scope Scope) (<-chan CandidatePair, <-chan error) {
	out := make(chan CandidatePair)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)

		records, errs := s.Scan(scope.CollectionA, 1000)
		blocks := make(map[string][]string)
		for r := range records {
			loc := resolveLocation(r, g.cfg)
			if loc == "" {
				continue
			}
			blocks[loc] = append(blocks[loc], r.ID)
		}
		if err := <-errs; err != nil {
			sendErr(errc, err)
			return
		}

		for _, ids := range blocks {
			if g.cfg.MinBlockSize > 0 && len(ids) < g.cfg.MinBlockSize {
				continue
			}
			if g.cfg.MaxBlockSize > 0 && len(ids) > g.cfg.MaxBlockSize {
				ids = ids[:g.cfg.MaxBlockSize]
			}
			for _, pair := range pairsFromBlock(ids) {
				out <- CandidatePair{IDA: pair[0], IDB: pair[1], BestScore: 1.0}
			}
		}
	}()
	return out, errc
}

func resolveLocation(r *store.Record, cfg config.StrategyConfig) string {
	if v := r.Field(cfg.LocationField); v != "" {
		return strings.ToLower(v)
	}
	for _, rule := range cfg.FallbackRules {
		src := r.Field(rule.SourceField)
		if src == "" {
			continue
		}
		switch rule.Condition {
		case "equals":
			if src == rule.Equals {
				return strings.ToLower(rule.DerivedValue)
			}
		case "prefix_in_range":
			if src >= rule.RangeLow && src <= rule.RangeHigh {
				return strings.ToLower(rule.DerivedValue)
			}
		}
	}
	return ""
}

// hybridStrategy shortlists via BM25 then gates the shortlist with a
// weighted BM25/Levenshtein combined score (spec §4B.6).
type hybridStrategy struct{ cfg config.StrategyConfig }

func (h *hybridStrategy) Name() string { return "hybrid" }

func (h *hybridStrategy) GenerateCandidates(s *store.Store, scope Scope) (<-chan CandidatePair, <-chan error) {
	out := make(chan CandidatePair)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)

		field := firstField(h.cfg.Fields)
		if field == "" {
			sendErr(errc, erkit.Newf(erkit.KindConfig, "hybridStrategy", "strategy requires at least one field"))
			return
		}
		bm25Weight, levWeight := h.cfg.BM25Weight, h.cfg.LevenshteinWeight
		if bm25Weight == 0 && levWeight == 0 {
			bm25Weight, levWeight = 0.5, 0.5
		}
		threshold := h.cfg.CombinedThreshold
		if threshold == 0 {
			threshold = 0.7
		}
		limit := h.cfg.LimitPerEntity
		if limit <= 0 {
			limit = 20
		}

		records, errs := s.Scan(scope.CollectionA, 1000)
		for r := range records {
			text := r.Field(field)
			if text == "" {
				continue
			}
			hits, err := s.TextSearch(scope.CollectionB, field, string(config.SimNgram), text, limit)
			if err != nil {
				continue
			}
			maxBM25 := 1.0
			for _, hit := range hits {
				if -hit.Score > maxBM25 {
					maxBM25 = -hit.Score
				}
			}
			for _, hit := range hits {
				if hit.ID == r.ID {
					continue
				}
				other, err := s.GetRecord(scope.CollectionB, hit.ID)
				if err != nil {
					continue
				}
				bm25Norm := -hit.Score / maxBM25
				lev := similarity.LevenshteinSimilarity(text, other.Field(field))
				combined := bm25Norm*bm25Weight + lev*levWeight
				if combined < threshold {
					continue
				}
				out <- CandidatePair{IDA: r.ID, IDB: hit.ID, BestScore: combined}
			}
		}
		if err := <-errs; err != nil {
			sendErr(errc, err)
		}
	}()
	return out, errc
}

// graphTraversalStrategy expands N hops over the existing edge set from
// every record id of the A-side collection, for incremental re-runs that revisit a
// previously matched entity's neighborhood (spec §4B.7).
type graphTraversalStrategy struct{ cfg config.StrategyConfig }

func (g *graphTraversalStrategy) Name() string { return "graph_traversal" }

func (g *graphTraversalStrategy) GenerateCandidates(s *store.Store, scope Scope) (<-chan CandidatePair, <-chan error) {
	out := make(chan CandidatePair)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)

		maxHops := g.cfg.MaxHops
		if maxHops <= 0 {
			maxHops = 2
		}
		edgeCollection := g.cfg.ConstraintField
		if edgeCollection == "" {
			edgeCollection = "edges"
		}

		seeds, err := s.CollectionIDs(scope.CollectionA)
		if err != nil {
			sendErr(errc, err)
			return
		}

		seen := make(map[string]bool)
		for _, seed := range seeds {
			visited := map[string]int{seed: 0}
			queue := []string{seed}
			for len(queue) > 0 {
				current := queue[0]
				queue = queue[1:]
				if visited[current] >= maxHops {
					continue
				}
				neighbors, err := s.Neighbors(edgeCollection, current)
				if err != nil {
					continue
				}
				for _, n := range neighbors {
					a, b := pairKey(seed, n)
					key := a + "\x00" + b
					if a != b && !seen[key] {
						seen[key] = true
						out <- CandidatePair{IDA: a, IDB: b, BestScore: 1.0 / float64(visited[current]+1)}
					}
					if _, ok := visited[n]; !ok {
						visited[n] = visited[current] + 1
						queue = append(queue, n)
					}
				}
			}
		}
	}()
	return out, errc
}

func firstField(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
