// Package store implements the record/edge/cluster/golden-record
// abstractions of spec §6 over a single SQLite database, the one concrete
// backend the spec itself allows behind its "abstract key/document/edge
// interface". Grounded on the teacher's internal/database package: the
// same connection-pool configuration, transactional InitSchema, and
// mutex-guarded Exec/Query wrapping, generalized from one fixed
// "memories" table to a generic (collection, id) keyspace.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/erlink/erlink/internal/erkit"
	"github.com/erlink/erlink/internal/logging"
	_ "github.com/mattn/go-sqlite3"
)

var log = logging.GetLogger("store")

// Store is a connection to the engine's SQLite-backed record/edge/cluster
// store, plus the in-memory text-analyzer registry, loaded from the
// text_analyzers table by InitSchema and extended by CreateAnalyzer.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex

	analyzersMu sync.RWMutex
	analyzers   map[analyzerKey]analyzerEntry
}

// Open opens (creating if necessary) the SQLite database at path.
func Open(path string) (*Store, error) {
	log.Info("opening store", "path", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.Open", err).WithContext("dir", dir)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, erkit.New(erkit.KindBackend, "store.Open", err)
	}

	// SQLite only supports one writer; a single pooled connection avoids
	// SQLITE_BUSY under the coordinator's concurrent stages.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, erkit.New(erkit.KindBackend, "store.Open", err)
	}

	s := &Store{
		db:        db,
		path:      path,
		analyzers: make(map[analyzerKey]analyzerEntry),
	}
	log.Info("store connection established", "path", path)
	return s, nil
}

// InitSchema creates the core tables if they don't already exist.
func (s *Store) InitSchema() error {
	log.Info("initializing store schema", "version", SchemaVersion)

	s.mu.Lock()
	defer s.mu.Unlock()

	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='records' LIMIT 1`).Scan(&name)
	if err == nil && name != "" {
		log.Info("schema already initialized")
		return s.loadAnalyzerRegistryLocked()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return erkit.New(erkit.KindBackend, "store.InitSchema", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(CoreSchema); err != nil {
		return erkit.New(erkit.KindSetup, "store.InitSchema", err)
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, SchemaVersion); err != nil {
		return erkit.New(erkit.KindBackend, "store.InitSchema", err)
	}

	if err := tx.Commit(); err != nil {
		return erkit.New(erkit.KindBackend, "store.InitSchema", err)
	}

	log.Info("store schema initialized", "version", SchemaVersion)
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced/ad-hoc use.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) exec(query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Exec(query, args...)
}

func (s *Store) query(query string, args ...any) (*sql.Rows, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Query(query, args...)
}

func (s *Store) queryRow(query string, args ...any) *sql.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.QueryRow(query, args...)
}

// GetSchemaVersion returns the currently applied schema version.
func (s *Store) GetSchemaVersion() (int, error) {
	var version int
	err := s.queryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, erkit.New(erkit.KindBackend, "store.GetSchemaVersion", err)
	}
	return version, nil
}

// TableExists reports whether a table with the given name exists.
func (s *Store) TableExists(name string) (bool, error) {
	var count int
	err := s.queryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountRows returns the row count for a named table. name must already be
// validated as a safe identifier by the caller (config.ValidIdentifier) —
// SQLite cannot parameterize a table name.
func (s *Store) CountRows(table string) (int, error) {
	var count int
	if err := s.queryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return 0, erkit.New(erkit.KindBackend, "store.CountRows", err).WithContext("table", table)
	}
	return count, nil
}

// Vacuum runs VACUUM to reclaim space after a clean-before-rerun.
func (s *Store) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("VACUUM")
	return err
}

// Checkpoint forces a WAL checkpoint.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Stats summarizes store contents for the CLI's `stats` subcommand (spec §6).
type Stats struct {
	Path          string
	SchemaVersion int
	RecordCount   int
	EdgeCount     int
	ClusterCount  int
	GoldenCount   int
	FileSizeBytes int64
}

// GetStats returns aggregate counts across all collections.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{Path: s.path}

	var version int
	if err := s.queryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err == nil {
		stats.SchemaVersion = version
	}

	s.queryRow(`SELECT COUNT(*) FROM records`).Scan(&stats.RecordCount)
	s.queryRow(`SELECT COUNT(*) FROM edges`).Scan(&stats.EdgeCount)
	s.queryRow(`SELECT COUNT(DISTINCT collection || '/' || id) FROM clusters`).Scan(&stats.ClusterCount)
	s.queryRow(`SELECT COUNT(*) FROM golden_records`).Scan(&stats.GoldenCount)

	if info, err := os.Stat(s.path); err == nil {
		stats.FileSizeBytes = info.Size()
	}
	return stats, nil
}
