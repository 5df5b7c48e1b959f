// Copyright 2026 Formal Kernel Authors
//
// SQLite-backed persistence for Sentinel metric records. Grounded on
// accumulate-lite-client-2/liteclient/storage/sqlite/store.go: the same
// Config{Path,MaxConnections,BusyTimeout,JournalMode,...} shape, the same
// pragma-application-then-schema-init sequence, and the same pure-Go
// driver choice the teacher's own comment favors for portability.
package sentinel

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// StoreConfig configures the metrics database.
type StoreConfig struct {
	Path            string
	MaxConnections  int
	BusyTimeout     time.Duration
	JournalMode     string // WAL, DELETE, TRUNCATE
	SynchronousMode string // FULL, NORMAL, OFF
}

// DefaultStoreConfig returns a production-ready configuration.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:            path,
		MaxConnections:  4,
		BusyTimeout:     5 * time.Second,
		JournalMode:     "WAL",
		SynchronousMode: "NORMAL",
	}
}

// Store is the single-writer SQLite sink for TransactionRecord rows
// (spec §4.8 "writes are batched and must never block the verification
// thread" — enforced by Monitor's writer goroutine, not by Store itself).
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if absent) the metrics database and applies
// schema migrations.
func OpenStore(cfg StoreConfig) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sentinel: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	if err := configurePragmas(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("sentinel: configure pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sentinel: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func configurePragmas(db *sql.DB, cfg StoreConfig) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(cfg.BusyTimeout.Milliseconds())),
		fmt.Sprintf("PRAGMA journal_mode = %s", cfg.JournalMode),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.SynchronousMode),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS transaction_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_id TEXT NOT NULL,
	started_at TEXT NOT NULL,
	wall_duration_ns INTEGER NOT NULL,
	memory_delta_bytes INTEGER NOT NULL,
	cpu_delta_ns INTEGER NOT NULL,
	anomaly_score REAL NOT NULL,
	cpu_violation INTEGER NOT NULL,
	verdict TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transaction_metrics_tx_id ON transaction_metrics(tx_id);
CREATE INDEX IF NOT EXISTS idx_transaction_metrics_started_at ON transaction_metrics(started_at);

CREATE TABLE IF NOT EXISTS mode_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_mode TEXT NOT NULL,
	to_mode TEXT NOT NULL,
	at TEXT NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// InsertBatch writes a batch of records in a single transaction. Called
// only from the Monitor's dedicated writer goroutine (spec §4.8 "drained
// by a single dedicated writer... writes are batched").
func (s *Store) InsertBatch(records []TransactionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sentinel: begin batch: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO transaction_metrics
			(tx_id, started_at, wall_duration_ns, memory_delta_bytes, cpu_delta_ns, anomaly_score, cpu_violation, verdict)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sentinel: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		violation := 0
		if r.CPUViolation {
			violation = 1
		}
		if _, err := stmt.Exec(r.TxID, r.StartedAt.UTC().Format(time.RFC3339Nano),
			r.WallDuration.Nanoseconds(), r.MemoryDelta, r.CPUDelta.Nanoseconds(),
			r.AnomalyScore, violation, r.Verdict); err != nil {
			tx.Rollback()
			return fmt.Errorf("sentinel: insert record: %w", err)
		}
	}
	return tx.Commit()
}

// RecordTransition persists one Adaptive Rigor mode transition.
func (s *Store) RecordTransition(from, to string, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO mode_transitions (from_mode, to_mode, at) VALUES (?, ?, ?)`,
		from, to, at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
