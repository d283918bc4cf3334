// Package edges implements the edge writer of spec §4D: it takes scored
// pairs, keeps the ones clearing the configured weight threshold, and
// persists them as similarity edges in batches, via either a direct
// upsert path or a CSV bulk-load path with a bounded retry.
//
// Grounded on the teacher's batched-write helpers (internal/database's
// transactional batch inserts) for the "api" path, and on
// steveyegge-beads' internal/storage/dolt retry wrapper
// (backoff.Retry + backoff.Permanent to distinguish transient from fatal
// failure) for the "csv" bulk path's single retry.
package edges

import (
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/erlink/erlink/internal/erkit"
	"github.com/erlink/erlink/internal/logging"
	"github.com/erlink/erlink/internal/scoring"
	"github.com/erlink/erlink/internal/store"
	"github.com/erlink/erlink/pkg/config"
)

var log = logging.GetLogger("edges")

// Writer persists scored pairs as similarity edges (spec §4D).
type Writer struct {
	store *store.Store
	cfg   config.EdgesConfig
}

// NewWriter builds a Writer from configuration, applying the documented
// defaults (collection "edges", batch size 1000, keep_max update rule)
// when the corresponding fields are left zero-valued.
func NewWriter(s *store.Store, cfg config.EdgesConfig) *Writer {
	if cfg.Collection == "" {
		cfg.Collection = "edges"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.UpdateRule == "" {
		cfg.UpdateRule = config.EdgeUpdateKeepMax
	}
	if cfg.BulkMethod == "" {
		cfg.BulkMethod = config.BulkMethodAPI
	}
	return &Writer{store: s, cfg: cfg}
}

// Result summarizes one Write call.
type Result struct {
	Written int
	Dropped int // below weight_threshold
}

// Write filters scored pairs by weight_threshold and persists the rest in
// batches, using the configured bulk method. forceUpdate bypasses the
// update_rule merge and always overwrites an existing edge (spec §9 "a
// force-update path to explicitly overwrite regardless of rule").
func (w *Writer) Write(scored []scoring.ScoredPair, forceUpdate bool) (*Result, error) {
	start := time.Now()
	result := &Result{}

	batch := make([]*store.Edge, 0, w.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var err error
		switch w.cfg.BulkMethod {
		case config.BulkMethodCSV:
			err = w.writeCSVBatch(batch, forceUpdate)
		default:
			_, err = w.store.BulkUpsert(batch, w.cfg.UpdateRule, forceUpdate)
		}
		if err != nil {
			return err
		}
		result.Written += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, sp := range scored {
		weight := sp.TotalScore
		if weight < w.cfg.WeightThreshold {
			result.Dropped++
			continue
		}
		batch = append(batch, &store.Edge{
			Collection:  w.cfg.Collection,
			FromID:      sp.IDA,
			ToID:        sp.IDB,
			Weight:      weight,
			Decision:    string(sp.Decision),
			Method:      "fellegi_sunter",
			FieldScores: sp.FieldScores,
		})
		if len(batch) >= w.cfg.BatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	log.Stage("edge_write", time.Since(start).Milliseconds(), result.Written, "dropped", result.Dropped)
	return result, nil
}

// writeCSVBatch serializes a batch to CSV and loads it back through the
// same store path, retried once on a transient failure and surfaced with
// secrets redacted on permanent failure (spec §7 "credential handling
// stays out of error text").
func (w *Writer) writeCSVBatch(batch []*store.Edge, forceUpdate bool) error {
	csvText, err := encodeCSV(batch)
	if err != nil {
		return erkit.New(erkit.KindBackend, "edges.writeCSVBatch", err)
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 1)
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		decoded, decodeErr := decodeCSV(csvText)
		if decodeErr != nil {
			return backoff.Permanent(decodeErr)
		}
		_, bulkErr := w.store.BulkUpsert(decoded, w.cfg.UpdateRule, forceUpdate)
		if bulkErr != nil {
			if attempt >= 2 {
				return backoff.Permanent(bulkErr)
			}
			return bulkErr
		}
		return nil
	}, bo)

	if err != nil {
		return erkit.New(erkit.KindBackend, "edges.writeCSVBatch", fmt.Errorf("%s", redact(err.Error())))
	}
	return nil
}

func encodeCSV(batch []*store.Edge) (string, error) {
	var b strings.Builder
	wr := csv.NewWriter(&b)
	for _, e := range batch {
		if err := wr.Write([]string{e.Collection, e.FromID, e.ToID, strconv.FormatFloat(e.Weight, 'f', -1, 64), e.Decision, e.Method}); err != nil {
			return "", err
		}
	}
	wr.Flush()
	if err := wr.Error(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func decodeCSV(text string) ([]*store.Edge, error) {
	r := csv.NewReader(strings.NewReader(text))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]*store.Edge, 0, len(rows))
	for _, row := range rows {
		if len(row) != 6 {
			return nil, fmt.Errorf("edges csv: malformed row %v", row)
		}
		weight, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, err
		}
		out = append(out, &store.Edge{
			Collection: row[0], FromID: row[1], ToID: row[2],
			Weight: weight, Decision: row[4], Method: row[5],
		})
	}
	return out, nil
}

// redactPattern matches key=value-shaped secrets so a bulk-load error
// (which may echo a connection string or token from the backend driver)
// never reaches stderr verbatim.
var redactPattern = regexp.MustCompile(`(?i)(token|secret|password|api[_-]?key)=[^&\s]+`)

func redact(s string) string {
	return redactPattern.ReplaceAllString(s, "$1=[REDACTED]")
}

// Clear removes edges from the configured collection, optionally scoped
// to a producing method and/or age cutoff (spec §4D `clear(method?,
// older_than?)`).
func (w *Writer) Clear(method string, olderThan *time.Time) (int, error) {
	return w.store.ClearEdges(w.cfg.Collection, method, olderThan)
}

// Truncate removes every edge from the configured collection, used by the
// `clean` command (spec §3 Lifecycle).
func (w *Writer) Truncate() error {
	return w.store.TruncateEdges(w.cfg.Collection)
}
