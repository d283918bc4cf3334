package store

import (
	"encoding/json"
	"time"

	"github.com/erlink/erlink/internal/erkit"
)

// FieldProvenance records how one golden-record field was resolved (spec
// §3 "Golden record" provenance map: {source, strategy, alternatives?}).
type FieldProvenance struct {
	Source       string   `json:"source"`
	Strategy     string   `json:"strategy"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// GoldenRecord is the synthesized, conflict-resolved representation of one
// cluster (spec §3 "Golden record", §4G).
type GoldenRecord struct {
	Collection      string
	ClusterID       string
	Fields          map[string]any
	Provenance      map[string]FieldProvenance
	SourceRecordIDs []string
	QualityScore    float64
	MemberCount     int
	CreatedAt       time.Time
}

// UpsertGoldenRecord writes (or replaces) a cluster's synthesized record.
func (s *Store) UpsertGoldenRecord(gr *GoldenRecord) error {
	fieldsData, err := json.Marshal(gr.Fields)
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.UpsertGoldenRecord", err)
	}
	provenanceData, err := json.Marshal(gr.Provenance)
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.UpsertGoldenRecord", err)
	}
	idsData, err := json.Marshal(gr.SourceRecordIDs)
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.UpsertGoldenRecord", err)
	}

	_, err = s.exec(`
		INSERT INTO golden_records (collection, cluster_id, fields_json, provenance_json, source_record_ids_json, quality_score, member_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(collection, cluster_id) DO UPDATE SET
			fields_json = excluded.fields_json,
			provenance_json = excluded.provenance_json,
			source_record_ids_json = excluded.source_record_ids_json,
			quality_score = excluded.quality_score,
			member_count = excluded.member_count,
			updated_at = CURRENT_TIMESTAMP
	`, gr.Collection, gr.ClusterID, string(fieldsData), string(provenanceData), string(idsData), gr.QualityScore, gr.MemberCount)
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.UpsertGoldenRecord", err).WithContext("cluster_id", gr.ClusterID)
	}
	return nil
}

// GetGoldenRecord fetches the synthesized record for a cluster.
func (s *Store) GetGoldenRecord(collection, clusterID string) (*GoldenRecord, error) {
	var fieldsJSON, provenanceJSON, idsJSON string
	var qualityScore float64
	var memberCount int
	var createdAt time.Time
	err := s.queryRow(`
		SELECT fields_json, provenance_json, source_record_ids_json, quality_score, member_count, created_at
		FROM golden_records WHERE collection = ? AND cluster_id = ?
	`, collection, clusterID).
		Scan(&fieldsJSON, &provenanceJSON, &idsJSON, &qualityScore, &memberCount, &createdAt)
	if err != nil {
		return nil, erkit.New(erkit.KindNotFound, "store.GetGoldenRecord", err).WithContext("cluster_id", clusterID)
	}
	fields, err := unmarshalFields(fieldsJSON)
	if err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.GetGoldenRecord", err)
	}
	var provenance map[string]FieldProvenance
	if err := json.Unmarshal([]byte(provenanceJSON), &provenance); err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.GetGoldenRecord", err)
	}
	var sourceIDs []string
	if err := json.Unmarshal([]byte(idsJSON), &sourceIDs); err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.GetGoldenRecord", err)
	}
	return &GoldenRecord{
		Collection: collection, ClusterID: clusterID,
		Fields: fields, Provenance: provenance, SourceRecordIDs: sourceIDs,
		QualityScore: qualityScore, MemberCount: memberCount, CreatedAt: createdAt,
	}, nil
}

// TruncateGoldenRecords removes every golden record in a collection.
func (s *Store) TruncateGoldenRecords(collection string) error {
	_, err := s.exec(`DELETE FROM golden_records WHERE collection = ?`, collection)
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.TruncateGoldenRecords", err)
	}
	return nil
}
