package store

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/erlink/erlink/internal/erkit"
)

// Cluster is a weakly-connected component of records judged to refer to
// the same real-world entity (spec §3 "Cluster").
type Cluster struct {
	Collection string
	ID         string
	Members    []string // sorted
}

// ClusterID derives a deterministic id from a cluster's sorted member list,
// so re-running the pipeline over unchanged data reproduces identical
// cluster ids (spec §4E, §9 "id-based cluster/golden-record relations").
func ClusterID(members []string) string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, m := range sorted {
		h.Write([]byte(m))
		h.Write([]byte{0})
	}
	return "cl_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// TruncateClusters removes every cluster row in a collection, the default
// behavior before a fresh clustering pass (spec §4E "store_results").
func (s *Store) TruncateClusters(collection string) error {
	_, err := s.exec(`DELETE FROM clusters WHERE collection = ?`, collection)
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.TruncateClusters", err)
	}
	return nil
}

// BulkInsertClusters writes a batch of clusters inside one transaction.
func (s *Store) BulkInsertClusters(collection string, clusters []*Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.BulkInsertClusters", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO clusters (collection, id, member_id, size) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.BulkInsertClusters", err)
	}
	defer stmt.Close()

	for _, c := range clusters {
		size := len(c.Members)
		for _, member := range c.Members {
			if _, err := stmt.Exec(collection, c.ID, member, size); err != nil {
				return erkit.New(erkit.KindBackend, "store.BulkInsertClusters", err).WithContext("cluster_id", c.ID)
			}
		}
	}
	return tx.Commit()
}

// FindClusterByMember returns the cluster a record belongs to, if any.
func (s *Store) FindClusterByMember(collection, recordID string) (*Cluster, error) {
	var clusterID string
	err := s.queryRow(`SELECT id FROM clusters WHERE collection = ? AND member_id = ? LIMIT 1`, collection, recordID).Scan(&clusterID)
	if err != nil {
		return nil, erkit.New(erkit.KindNotFound, "store.FindClusterByMember", err).WithContext("record_id", recordID)
	}
	return s.getCluster(collection, clusterID)
}

func (s *Store) getCluster(collection, clusterID string) (*Cluster, error) {
	rows, err := s.query(`SELECT member_id FROM clusters WHERE collection = ? AND id = ? ORDER BY member_id`, collection, clusterID)
	if err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.getCluster", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, erkit.New(erkit.KindBackend, "store.getCluster", err)
		}
		members = append(members, m)
	}
	return &Cluster{Collection: collection, ID: clusterID, Members: members}, rows.Err()
}

// ScanClusters streams every distinct cluster in a collection, used by the
// quality validator and golden-record synthesizer.
func (s *Store) ScanClusters(collection string) (<-chan *Cluster, <-chan error) {
	out := make(chan *Cluster)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		ids, err := s.clusterIDs(collection)
		if err != nil {
			errc <- err
			return
		}
		for _, id := range ids {
			c, err := s.getCluster(collection, id)
			if err != nil {
				errc <- err
				return
			}
			out <- c
		}
	}()

	return out, errc
}

func (s *Store) clusterIDs(collection string) ([]string, error) {
	rows, err := s.query(`SELECT DISTINCT id FROM clusters WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.clusterIDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, erkit.New(erkit.KindBackend, "store.clusterIDs", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
