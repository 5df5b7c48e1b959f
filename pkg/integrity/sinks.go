// Copyright 2026 Formal Kernel Authors

package integrity

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/lib/pq" // postgres driver, side-effect import
)

// AuditSink records a Panic somewhere durable before the process aborts.
type AuditSink interface {
	Record(p *Panic) error
}

// LocalAuditLog appends JSON-encoded panics to state/recovery_audit.log
// (spec §6.3), one per line. Always configured; it is the audit trail of
// last resort when no database mirror is reachable.
type LocalAuditLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenLocalAuditLog opens (creating if necessary) the audit log at path.
func OpenLocalAuditLog(path string) (*LocalAuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("integrity: create audit log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("integrity: open audit log: %w", err)
	}
	return &LocalAuditLog{file: f}, nil
}

// Record implements AuditSink.
func (l *LocalAuditLog) Record(p *Panic) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("integrity: marshal panic record: %w", err)
	}
	b = append(b, '\n')
	if _, err := l.file.Write(b); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close closes the underlying file handle.
func (l *LocalAuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresAuditSink mirrors integrity panics into a Postgres
// `integrity_panics` table, indexed by timestamp, violation_type, and
// exception class, per spec §7. Optional: only constructed when
// KERNEL_INTEGRITY_AUDIT_DATABASE_URL is configured (pkg/config).
type PostgresAuditSink struct {
	db *sql.DB
}

// NewPostgresAuditSink opens databaseURL, runs embedded migrations, and
// returns a ready sink.
func NewPostgresAuditSink(databaseURL string) (*PostgresAuditSink, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("integrity: empty database url")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("integrity: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("integrity: ping postgres: %w", err)
	}

	sink := &PostgresAuditSink{db: db}
	if err := sink.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *PostgresAuditSink) migrate(ctx context.Context) error {
	var paths []string
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("integrity: walk migrations: %w", err)
	}
	sort.Strings(paths)

	for _, p := range paths {
		content, err := migrationsFS.ReadFile(p)
		if err != nil {
			return fmt.Errorf("integrity: read migration %s: %w", p, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("integrity: apply migration %s: %w", p, err)
		}
	}
	return nil
}

// Record implements AuditSink.
func (s *PostgresAuditSink) Record(p *Panic) error {
	details, err := json.Marshal(p.Details)
	if err != nil {
		return fmt.Errorf("integrity: marshal details: %w", err)
	}
	forensic, err := json.Marshal(p.Forensic)
	if err != nil {
		return fmt.Errorf("integrity: marshal forensic metadata: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrity_panics
			(violation_type, details, recovery_hint, timestamp, forensic_metadata, exception_class)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(p.ViolationType), details, p.RecoveryHint, p.Timestamp, forensic, exceptionClass(p.ViolationType))
	return err
}

// exceptionClass buckets violation types for the audit table's
// exception_class index, matching spec §7's three error classes.
func exceptionClass(vt ViolationType) string {
	switch vt {
	case StateFileMissing, StateFileCorrupted, StatePartialCorruption, MerkleRootMismatch, WALCorruption:
		return "state_integrity"
	case InvalidSignature, NodeIdentityMismatch:
		return "authentication"
	default:
		return "unknown"
	}
}

// Close closes the underlying database connection.
func (s *PostgresAuditSink) Close() error {
	return s.db.Close()
}
