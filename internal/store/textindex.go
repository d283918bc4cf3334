package store

import (
	"fmt"
	"strings"

	"github.com/erlink/erlink/internal/erkit"
	"github.com/erlink/erlink/internal/similarity"
	"github.com/erlink/erlink/pkg/config"
)

// analyzerKindFTS builds a BM25-searchable FTS5 virtual table over the raw
// field text, tokenized into words by FTS5's default tokenizer rather than
// into character n-grams — used by n-gram blocking (spec §4A, §4B).
// analyzerKindExact and analyzerKindPhonetic build plain lookup tables
// keyed by the normalized value or its Soundex code respectively.
type analyzerKind string

const (
	analyzerKindFTS      analyzerKind = "fts"
	analyzerKindExact    analyzerKind = "exact"
	analyzerKindPhonetic analyzerKind = "phonetic"
)

type analyzerKey struct {
	collection string
	field      string
	analyzer   string
}

type analyzerEntry struct {
	kind      analyzerKind
	indexName string
}

func indexName(collection, field, analyzer string) string {
	return fmt.Sprintf("idx_%s_%s_%s", collection, field, analyzer)
}

// CreateAnalyzer builds the backing index for one (collection, field,
// analyzer) tuple and records it in the text_analyzers registry table and
// the in-memory registry, mirroring how the teacher's schema pre-declares
// memories_fts and its sync triggers (internal/database/schema.go
// FTS5Schema), generalized to a named per-(collection,field) virtual table
// instead of one fixed table (spec §4A.1). force=true drops and recreates
// any existing artifacts instead of leaving them in place (spec §4A
// "on force=true it recreates existing artifacts").
func (s *Store) CreateAnalyzer(collection, field, analyzer string, force bool) error {
	if !config.ValidIdentifier(collection) || !config.ValidIdentifier(field) {
		return erkit.Newf(erkit.KindConfig, "store.CreateAnalyzer", "invalid collection/field identifier: %s/%s", collection, field)
	}

	idx := indexName(collection, field, analyzer)
	if force {
		if err := s.dropAnalyzerArtifacts(idx); err != nil {
			return err
		}
	}
	var kind analyzerKind

	switch config.SimilarityFn(analyzer) {
	case config.SimNgram:
		kind = analyzerKindFTS
		if err := s.createFTSAnalyzer(idx, collection, field); err != nil {
			return err
		}
	case config.SimPhonetic:
		kind = analyzerKindPhonetic
		if err := s.createLookupAnalyzer(idx, collection, field, kind); err != nil {
			return err
		}
	case config.SimExact:
		kind = analyzerKindExact
		if err := s.createLookupAnalyzer(idx, collection, field, kind); err != nil {
			return err
		}
	default:
		return erkit.Newf(erkit.KindConfig, "store.CreateAnalyzer", "unsupported analyzer %q for text index", analyzer)
	}

	if _, err := s.exec(`
		INSERT OR REPLACE INTO text_analyzers (collection, field, analyzer, index_name)
		VALUES (?, ?, ?, ?)
	`, collection, field, analyzer, idx); err != nil {
		return erkit.New(erkit.KindSetup, "store.CreateAnalyzer", err)
	}

	s.analyzersMu.Lock()
	s.analyzers[analyzerKey{collection, field, analyzer}] = analyzerEntry{kind: kind, indexName: idx}
	s.analyzersMu.Unlock()
	return nil
}

// dropAnalyzerArtifacts removes a previously created index's triggers and
// backing table/virtual table, so CreateAnalyzer(force=true) can rebuild it
// from scratch.
func (s *Store) dropAnalyzerArtifacts(idx string) error {
	stmts := []string{
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_ins;`, idx),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_upd;`, idx),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_del;`, idx),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, idx),
	}
	for _, stmt := range stmts {
		if _, err := s.exec(stmt); err != nil {
			return erkit.New(erkit.KindSetup, "store.dropAnalyzerArtifacts", err).WithContext("index", idx)
		}
	}
	return nil
}

func (s *Store) createFTSAnalyzer(idx, collection, field string) error {
	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(id UNINDEXED, value);`, idx)
	if _, err := s.exec(ddl); err != nil {
		return erkit.New(erkit.KindSetup, "store.createFTSAnalyzer", err).WithContext("index", idx)
	}
	return s.installRecordTriggers(idx, collection, field, fmt.Sprintf("json_extract(NEW.fields_json, '$.%s')", field))
}

func (s *Store) createLookupAnalyzer(idx, collection, field string, kind analyzerKind) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, value TEXT);`, idx)
	if _, err := s.exec(ddl); err != nil {
		return erkit.New(erkit.KindSetup, "store.createLookupAnalyzer", err).WithContext("index", idx)
	}
	if _, err := s.exec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_value ON %s(value);`, idx, idx)); err != nil {
		return erkit.New(erkit.KindSetup, "store.createLookupAnalyzer", err).WithContext("index", idx)
	}

	raw := fmt.Sprintf("json_extract(NEW.fields_json, '$.%s')", field)
	expr := raw
	if kind == analyzerKindPhonetic {
		// SQLite has no built-in Soundex-over-NULL-safe expression hook for
		// a Go function without a custom driver registration, so the
		// phonetic code is (re)computed and written by ReindexPhonetic
		// after each bulk load rather than by a trigger.
		expr = raw
	}
	return s.installRecordTriggers(idx, collection, field, expr)
}

// installRecordTriggers wires AFTER INSERT/UPDATE/DELETE triggers on the
// shared records table, scoped to one collection with a WHEN clause, the
// same three-trigger sync shape as the teacher's memories_fts_insert /
// _update / _delete triggers.
func (s *Store) installRecordTriggers(idx, collection, field, valueExpr string) error {
	insertTrigger := fmt.Sprintf(`
		CREATE TRIGGER IF NOT EXISTS %[1]s_ins AFTER INSERT ON records
		WHEN NEW.collection = '%[2]s' BEGIN
			INSERT INTO %[1]s (id, value) VALUES (NEW.id, %[3]s);
		END;`, idx, collection, valueExpr)

	deleteTrigger := fmt.Sprintf(`
		CREATE TRIGGER IF NOT EXISTS %[1]s_del AFTER DELETE ON records
		WHEN OLD.collection = '%[2]s' BEGIN
			DELETE FROM %[1]s WHERE id = OLD.id;
		END;`, idx, collection)

	updateTrigger := fmt.Sprintf(`
		CREATE TRIGGER IF NOT EXISTS %[1]s_upd AFTER UPDATE ON records
		WHEN NEW.collection = '%[2]s' BEGIN
			DELETE FROM %[1]s WHERE id = OLD.id;
			INSERT INTO %[1]s (id, value) VALUES (NEW.id, %[3]s);
		END;`, idx, collection, valueExpr)

	for _, stmt := range []string{insertTrigger, deleteTrigger, updateTrigger} {
		if _, err := s.exec(stmt); err != nil {
			return erkit.New(erkit.KindSetup, "store.installRecordTriggers", err).WithContext("index", idx)
		}
	}
	return nil
}

// ReindexPhonetic recomputes the Soundex code for every existing record of
// a collection into its phonetic index — needed once after CreateAnalyzer
// for any records already present, since phonetic codes are computed in
// Go rather than SQL.
func (s *Store) ReindexPhonetic(collection, field string) error {
	entry, ok := s.resolveEntry(collection, field, string(config.SimPhonetic))
	if !ok {
		return erkit.Newf(erkit.KindSetup, "store.ReindexPhonetic", "no phonetic analyzer for %s.%s", collection, field)
	}

	records, errc := s.Scan(collection, 1000)
	for r := range records {
		code := similarity.Soundex(r.Field(field))
		if _, err := s.exec(fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, value) VALUES (?, ?)`, entry.indexName), r.ID, code); err != nil {
			return erkit.New(erkit.KindSetup, "store.ReindexPhonetic", err)
		}
	}
	if err := <-errc; err != nil {
		return err
	}
	return nil
}

// resolveEntry returns the analyzer entry for a tuple, loading the registry
// from the database if it was not populated by this process (e.g. a
// `run` invoked after a separate `setup` process created the analyzers).
func (s *Store) resolveEntry(collection, field, analyzer string) (analyzerEntry, bool) {
	s.analyzersMu.RLock()
	entry, ok := s.analyzers[analyzerKey{collection, field, analyzer}]
	s.analyzersMu.RUnlock()
	if ok {
		return entry, true
	}

	var idx string
	err := s.queryRow(`SELECT index_name FROM text_analyzers WHERE collection=? AND field=? AND analyzer=?`, collection, field, analyzer).Scan(&idx)
	if err != nil {
		return analyzerEntry{}, false
	}
	var kind analyzerKind
	switch config.SimilarityFn(analyzer) {
	case config.SimNgram:
		kind = analyzerKindFTS
	case config.SimPhonetic:
		kind = analyzerKindPhonetic
	default:
		kind = analyzerKindExact
	}
	entry = analyzerEntry{kind: kind, indexName: idx}
	s.analyzersMu.Lock()
	s.analyzers[analyzerKey{collection, field, analyzer}] = entry
	s.analyzersMu.Unlock()
	return entry, true
}

// ResolveAnalyzer resolves a bare index name to its storage-qualified name,
// tolerating a storage layer that prefixes names (e.g. "db::name") (spec
// §4A "resolve_analyzer(bare_name)"). Returns false if no analyzer's index
// matches, in memory or in the text_analyzers registry table.
func (s *Store) ResolveAnalyzer(bareName string) (string, bool) {
	trimmed := bareName
	if i := strings.LastIndex(bareName, "::"); i >= 0 {
		trimmed = bareName[i+2:]
	}

	s.analyzersMu.RLock()
	for _, entry := range s.analyzers {
		if entry.indexName == bareName || entry.indexName == trimmed || strings.HasSuffix(entry.indexName, "::"+trimmed) {
			s.analyzersMu.RUnlock()
			return entry.indexName, true
		}
	}
	s.analyzersMu.RUnlock()

	var idx string
	err := s.queryRow(`SELECT index_name FROM text_analyzers WHERE index_name = ? OR index_name LIKE ? LIMIT 1`, trimmed, "%::"+trimmed).Scan(&idx)
	if err != nil {
		return "", false
	}
	return idx, true
}

func (s *Store) loadAnalyzerRegistryLocked() error {
	rows, err := s.db.Query(`SELECT collection, field, analyzer, index_name FROM text_analyzers`)
	if err != nil {
		// text_analyzers may not exist yet on a pre-upgrade database.
		return nil
	}
	defer rows.Close()
	for rows.Next() {
		var collection, field, analyzer, idx string
		if err := rows.Scan(&collection, &field, &analyzer, &idx); err != nil {
			continue
		}
		var kind analyzerKind
		switch config.SimilarityFn(analyzer) {
		case config.SimNgram:
			kind = analyzerKindFTS
		case config.SimPhonetic:
			kind = analyzerKindPhonetic
		default:
			kind = analyzerKindExact
		}
		s.analyzers[analyzerKey{collection, field, analyzer}] = analyzerEntry{kind: kind, indexName: idx}
	}
	return nil
}

// SetupStatus reports which (collection, field, analyzer) tuples already
// have a backing index, for the CLI's `setup` idempotency check.
func (s *Store) SetupStatus(collection string) ([]string, error) {
	rows, err := s.query(`SELECT field, analyzer FROM text_analyzers WHERE collection = ? ORDER BY field, analyzer`, collection)
	if err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.SetupStatus", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var field, analyzer string
		if err := rows.Scan(&field, &analyzer); err != nil {
			return nil, erkit.New(erkit.KindBackend, "store.SetupStatus", err)
		}
		out = append(out, field+"/"+analyzer)
	}
	return out, rows.Err()
}

// SearchHit is one result of a text-index search.
type SearchHit struct {
	ID    string
	Score float64 // bm25 for ngram; 1.0 for exact/phonetic lookup hits
}

// TextSearch runs the query against the named analyzer's index: BM25
// MATCH for ngram analyzers (spec §4B "n-gram lexical blocking"), an exact
// value lookup for the exact analyzer, and a Soundex-code lookup for the
// phonetic analyzer.
func (s *Store) TextSearch(collection, field, analyzer, queryText string, limit int) ([]SearchHit, error) {
	entry, ok := s.resolveEntry(collection, field, analyzer)
	if !ok {
		return nil, erkit.Newf(erkit.KindNotFound, "store.TextSearch", "no analyzer %s for %s.%s", analyzer, collection, field)
	}
	if limit <= 0 {
		limit = 50
	}

	switch entry.kind {
	case analyzerKindFTS:
		return s.ftsSearch(entry.indexName, queryText, limit)
	case analyzerKindPhonetic:
		code := similarity.Soundex(queryText)
		return s.lookupSearch(entry.indexName, code, limit)
	default:
		return s.lookupSearch(entry.indexName, queryText, limit)
	}
}

func (s *Store) ftsSearch(idx, queryText string, limit int) ([]SearchHit, error) {
	matchQuery := escapeFTS5Query(queryText)
	sqlQuery := fmt.Sprintf(`SELECT id, bm25(%s) AS relevance FROM %s WHERE %s MATCH ? ORDER BY relevance LIMIT ?`, idx, idx, idx)
	rows, err := s.query(sqlQuery, matchQuery, limit)
	if err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.ftsSearch", err).WithContext("index", idx)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, erkit.New(erkit.KindBackend, "store.ftsSearch", err)
		}
		hits = append(hits, SearchHit{ID: id, Score: score})
	}
	return hits, rows.Err()
}

func (s *Store) lookupSearch(idx, value string, limit int) ([]SearchHit, error) {
	sqlQuery := fmt.Sprintf(`SELECT id FROM %s WHERE value = ? LIMIT ?`, idx)
	rows, err := s.query(sqlQuery, value, limit)
	if err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.lookupSearch", err).WithContext("index", idx)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, erkit.New(erkit.KindBackend, "store.lookupSearch", err)
		}
		hits = append(hits, SearchHit{ID: id, Score: 1.0})
	}
	return hits, rows.Err()
}

// escapeFTS5Query turns free text into an FTS5 match expression that
// matches any of its words: each whitespace-separated word is quoted (with
// embedded double quotes doubled) and the words are joined with OR.
func escapeFTS5Query(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " OR ")
}
