package store

import (
	"encoding/json"
	"time"

	"github.com/erlink/erlink/internal/erkit"
)

// Record is one document in a collection (spec §3 "Record").
type Record struct {
	Collection string
	ID         string
	Source     string
	Fields     map[string]any
	UpdatedAt  time.Time
}

// Field returns the string value of a field, or "" if absent/not a string.
func (r *Record) Field(name string) string {
	v, ok := r.Fields[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// UpsertRecord inserts or replaces a record. Used by setup/seeding paths;
// the pipeline itself only ever reads records.
func (s *Store) UpsertRecord(r *Record) error {
	data, err := json.Marshal(r.Fields)
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.UpsertRecord", err)
	}
	_, err = s.exec(`
		INSERT INTO records (collection, id, source, fields_json, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(collection, id) DO UPDATE SET
			source = excluded.source,
			fields_json = excluded.fields_json,
			updated_at = CURRENT_TIMESTAMP
	`, r.Collection, r.ID, r.Source, string(data))
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.UpsertRecord", err).WithContext("collection", r.Collection, "id", r.ID)
	}
	return nil
}

// GetRecord fetches one record by collection and id.
func (s *Store) GetRecord(collection, id string) (*Record, error) {
	var source string
	var fieldsJSON string
	var updatedAt time.Time
	err := s.queryRow(`SELECT source, fields_json, updated_at FROM records WHERE collection = ? AND id = ?`, collection, id).
		Scan(&source, &fieldsJSON, &updatedAt)
	if err != nil {
		return nil, erkit.New(erkit.KindNotFound, "store.GetRecord", err).WithContext("collection", collection, "id", id)
	}
	fields, err := unmarshalFields(fieldsJSON)
	if err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.GetRecord", err)
	}
	return &Record{Collection: collection, ID: id, Source: source, Fields: fields, UpdatedAt: updatedAt}, nil
}

// GetMany fetches several records by id in one round trip, preserving no
// particular order; missing ids are simply absent from the result.
func (s *Store) GetMany(collection string, ids []string) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	query := `SELECT id, source, fields_json, updated_at FROM records WHERE collection = ? AND id IN (` + string(placeholders) + `)`
	rows, err := s.query(query, args...)
	if err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.GetMany", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var id, source, fieldsJSON string
		var updatedAt time.Time
		if err := rows.Scan(&id, &source, &fieldsJSON, &updatedAt); err != nil {
			return nil, erkit.New(erkit.KindBackend, "store.GetMany", err)
		}
		fields, err := unmarshalFields(fieldsJSON)
		if err != nil {
			return nil, erkit.New(erkit.KindBackend, "store.GetMany", err)
		}
		out = append(out, &Record{Collection: collection, ID: id, Source: source, Fields: fields, UpdatedAt: updatedAt})
	}
	return out, rows.Err()
}

// Scan streams every record of a collection in page-sized batches, never
// holding the full collection in memory (spec §5 "lazy/bounded streaming").
// The record channel is closed when the scan completes or fails; a failure
// is also sent on errc. Each page is read and its rows released before its
// records are sent, so a consumer may query the store while scanning.
func (s *Store) Scan(collection string, batchSize int) (<-chan *Record, <-chan error) {
	out := make(chan *Record)
	errc := make(chan error, 1)
	if batchSize <= 0 {
		batchSize = 1000
	}

	go func() {
		defer close(out)
		defer close(errc)

		lastID := ""
		for {
			rows, err := s.query(`
				SELECT id, source, fields_json, updated_at FROM records
				WHERE collection = ? AND id > ?
				ORDER BY id
				LIMIT ?
			`, collection, lastID, batchSize)
			if err != nil {
				errc <- erkit.New(erkit.KindBackend, "store.Scan", err)
				return
			}

			var page []*Record
			for rows.Next() {
				var id, source, fieldsJSON string
				var updatedAt time.Time
				if err := rows.Scan(&id, &source, &fieldsJSON, &updatedAt); err != nil {
					rows.Close()
					errc <- erkit.New(erkit.KindBackend, "store.Scan", err)
					return
				}
				fields, err := unmarshalFields(fieldsJSON)
				if err != nil {
					rows.Close()
					errc <- erkit.New(erkit.KindBackend, "store.Scan", err)
					return
				}
				page = append(page, &Record{Collection: collection, ID: id, Source: source, Fields: fields, UpdatedAt: updatedAt})
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				errc <- erkit.New(erkit.KindBackend, "store.Scan", err)
				return
			}
			for _, r := range page {
				out <- r
			}
			if len(page) < batchSize {
				return
			}
			lastID = page[len(page)-1].ID
		}
	}()

	return out, errc
}

// CollectionIDs returns every record id in a collection, sorted. Used by
// the graph_traversal strategy for its seeds and by the blocking Engine's
// total-pairs statistics.
func (s *Store) CollectionIDs(collection string) ([]string, error) {
	rows, err := s.query(`SELECT id FROM records WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.CollectionIDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, erkit.New(erkit.KindBackend, "store.CollectionIDs", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func unmarshalFields(fieldsJSON string) (map[string]any, error) {
	fields := make(map[string]any)
	if fieldsJSON == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
