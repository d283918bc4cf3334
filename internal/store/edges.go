package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/erlink/erlink/internal/erkit"
	"github.com/erlink/erlink/pkg/config"
)

// Edge is one similarity link between two records in a (possibly the same)
// collection (spec §3 "Similarity edge").
type Edge struct {
	Collection  string
	FromID      string
	ToID        string
	Weight      float64
	Decision    string
	Method      string
	FieldScores map[string]float64
	UpdateCount int
}

// UpsertEdge inserts a new edge, or merges with an existing one per rule:
// keep_max replaces the stored weight only if the new one is larger,
// running_mean averages old and new. forceUpdate bypasses both and always
// overwrites (spec §4D, §9 Open Questions — default is keep_max).
func (s *Store) UpsertEdge(e *Edge, rule config.EdgeUpdateRule, forceUpdate bool) error {
	scoresJSON, err := json.Marshal(e.FieldScores)
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.UpsertEdge", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existingWeight float64
	var existingCount int
	err = s.db.QueryRow(`SELECT weight, update_count FROM edges WHERE collection=? AND from_id=? AND to_id=?`, e.Collection, e.FromID, e.ToID).Scan(&existingWeight, &existingCount)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(`
			INSERT INTO edges (collection, from_id, to_id, weight, decision, method, field_scores_json, update_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
		`, e.Collection, e.FromID, e.ToID, e.Weight, e.Decision, e.Method, string(scoresJSON))
		if err != nil {
			return erkit.New(erkit.KindBackend, "store.UpsertEdge", err)
		}
		return nil
	case err != nil:
		return erkit.New(erkit.KindBackend, "store.UpsertEdge", err)
	}

	newWeight := e.Weight
	if !forceUpdate {
		switch rule {
		case config.EdgeUpdateRunningMean:
			newWeight = (existingWeight + e.Weight) / 2
		default: // keep_max
			if existingWeight > e.Weight {
				newWeight = existingWeight
			}
		}
	}

	_, err = s.db.Exec(`
		UPDATE edges SET weight=?, decision=?, method=?, field_scores_json=?, update_count=?, updated_at=CURRENT_TIMESTAMP
		WHERE collection=? AND from_id=? AND to_id=?
	`, newWeight, e.Decision, e.Method, string(scoresJSON), existingCount+1, e.Collection, e.FromID, e.ToID)
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.UpsertEdge", err)
	}
	return nil
}

// BulkUpsert applies UpsertEdge to each edge of a batch in turn, the edge
// writer's default batching unit (spec §4D, default batch size 1000). There
// is no enclosing transaction: on a failure, the edges before the failing
// one stay written and their count is returned.
func (s *Store) BulkUpsert(edges []*Edge, rule config.EdgeUpdateRule, forceUpdate bool) (int, error) {
	written := 0
	for _, e := range edges {
		if err := s.UpsertEdge(e, rule, forceUpdate); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// ScanEdges streams every edge of a collection, for the clusterer's WCC
// pass (spec §4E), never holding the full edge set in memory.
func (s *Store) ScanEdges(collection string) (<-chan *Edge, <-chan error) {
	out := make(chan *Edge)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		rows, err := s.query(`
			SELECT from_id, to_id, weight, decision, method, field_scores_json, update_count
			FROM edges WHERE collection = ?
		`, collection)
		if err != nil {
			errc <- erkit.New(erkit.KindBackend, "store.ScanEdges", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var fromID, toID, decision, method, scoresJSON string
			var weight float64
			var updateCount int
			if err := rows.Scan(&fromID, &toID, &weight, &decision, &method, &scoresJSON, &updateCount); err != nil {
				errc <- erkit.New(erkit.KindBackend, "store.ScanEdges", err)
				return
			}
			var scores map[string]float64
			_ = json.Unmarshal([]byte(scoresJSON), &scores)
			out <- &Edge{
				Collection: collection, FromID: fromID, ToID: toID,
				Weight: weight, Decision: decision, Method: method, FieldScores: scores,
				UpdateCount: updateCount,
			}
		}
		if err := rows.Err(); err != nil {
			errc <- erkit.New(erkit.KindBackend, "store.ScanEdges", err)
		}
	}()

	return out, errc
}

// Neighbors returns the ids directly connected to id within a collection's
// edge set, in either direction; used by the graph_traversal blocking
// strategy.
func (s *Store) Neighbors(collection, id string) ([]string, error) {
	rows, err := s.query(`
		SELECT from_id, to_id FROM edges
		WHERE collection = ? AND (from_id = ? OR to_id = ?)
	`, collection, id, id)
	if err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.Neighbors", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fromID, toID string
		if err := rows.Scan(&fromID, &toID); err != nil {
			return nil, erkit.New(erkit.KindBackend, "store.Neighbors", err)
		}
		if fromID == id {
			out = append(out, toID)
		} else {
			out = append(out, fromID)
		}
	}
	return out, rows.Err()
}

// EdgeWeight returns the weight of the edge between a and b, if present in
// either direction, for the quality validator's cluster-density and
// average-similarity checks (spec §4F).
func (s *Store) EdgeWeight(collection, a, b string) (float64, bool, error) {
	var weight float64
	err := s.queryRow(`
		SELECT weight FROM edges
		WHERE collection = ? AND ((from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?))
		LIMIT 1
	`, collection, a, b, b, a).Scan(&weight)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, erkit.New(erkit.KindBackend, "store.EdgeWeight", err)
	}
	return weight, true, nil
}

// ClearEdges deletes edges from a collection, optionally scoped to a
// producing method and/or an age cutoff (spec §4D `clear(method?, older_than?)`).
func (s *Store) ClearEdges(collection, method string, olderThan *time.Time) (int, error) {
	query := `DELETE FROM edges WHERE collection = ?`
	args := []any{collection}
	if method != "" {
		query += ` AND method = ?`
		args = append(args, method)
	}
	if olderThan != nil {
		query += ` AND updated_at < ?`
		args = append(args, olderThan.UTC().Format(time.RFC3339))
	}
	res, err := s.exec(query, args...)
	if err != nil {
		return 0, erkit.New(erkit.KindBackend, "store.ClearEdges", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// TruncateEdges removes every edge in a collection.
func (s *Store) TruncateEdges(collection string) error {
	_, err := s.exec(`DELETE FROM edges WHERE collection = ?`, collection)
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.TruncateEdges", err)
	}
	return nil
}
