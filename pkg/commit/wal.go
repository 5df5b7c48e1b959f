// Copyright 2026 Formal Kernel Authors
//
// Write-ahead log for the atomic commit protocol. wal/wal.log is an
// append-only file of newline-delimited JSON records. Recovery (pkg/recovery)
// must understand two wire shapes on the same file: the legacy form, a
// single record per transaction carrying a "committed" flag that flips from
// false to true in place by a later append of the same tx_id; and the
// op-tagged PREPARE/COMMIT pair form this package writes.

package commit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// OpPrepare marks a transaction's pre-commit intent durable.
	OpPrepare = "PREPARE"
	// OpCommit marks a transaction as fully applied to canonical state.
	OpCommit = "COMMIT"
)

// Record is one WAL line. Changes/PreState are JSON-marshaled as base64
// strings by encoding/json's native []byte handling.
type Record struct {
	Op        string            `json:"op,omitempty"`
	TxID      string            `json:"tx_id"`
	Timestamp time.Time         `json:"timestamp"`
	Changes   map[string][]byte `json:"changes,omitempty"`
	PreState  map[string][]byte `json:"pre_state,omitempty"`
	NewKeys   []string          `json:"new_keys,omitempty"`

	// Committed is only ever set by the legacy wire form; this package
	// never writes it, it only needs to round-trip through ReadAll
	// for recovery scans of logs written before the op-tag form existed.
	Committed *bool `json:"committed,omitempty"`
}

// IsLegacy reports whether r uses the pre-op-tag wire form.
func (r Record) IsLegacy() bool { return r.Op == "" }

// WAL is the single-writer append-only log backing the commit protocol.
// CONCURRENCY: like LedgerStore, WAL assumes a single writer (the commit
// layer's own mutex serializes callers before they ever reach the WAL);
// its own mutex exists to make concurrent misuse safe rather than fast.
type WAL struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenWAL opens (creating if necessary) the append-only log at path.
func OpenWAL(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("commit: create wal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("commit: open wal: %w", err)
	}
	return &WAL{path: path, file: f}, nil
}

// Close closes the underlying file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Path returns the WAL's file path.
func (w *WAL) Path() string { return w.path }

func (w *WAL) append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("commit: marshal wal record: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.file.Write(b); err != nil {
		return err
	}
	return w.file.Sync()
}

// AppendPrepare durably records a transaction's intent before any state
// file is touched (commit protocol step 1, spec §4.9). preState captures
// the pre-existing value of every key the transaction overwrites (nil for
// keys the transaction creates, which are also listed in newKeys) so that
// rollback can restore the exact prior snapshot.
func (w *WAL) AppendPrepare(txID string, changes, preState map[string][]byte, newKeys []string) error {
	return w.append(Record{
		Op:        OpPrepare,
		TxID:      txID,
		Timestamp: time.Now().UTC(),
		Changes:   changes,
		PreState:  preState,
		NewKeys:   newKeys,
	})
}

// AppendCommit durably records that a transaction's state mutation has
// landed on canonical state (commit protocol step 6, spec §4.9).
func (w *WAL) AppendCommit(txID string) error {
	return w.append(Record{
		Op:        OpCommit,
		TxID:      txID,
		Timestamp: time.Now().UTC(),
	})
}

// ReadAll scans the WAL front-to-back, decoding every line (legacy and
// op-tagged forms alike) in file order. Used by recovery and compaction.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("commit: open wal for scan: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("commit: corrupt wal record: %w", err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("commit: scan wal: %w", err)
	}
	return out, nil
}

// UncommittedPrepares replays records in file order and returns the
// PREPARE (or legacy, committed=false) records whose transaction never
// reached a matching COMMIT (or committed=true).
func UncommittedPrepares(records []Record) []Record {
	prepares := map[string]Record{}
	order := []string{}
	for _, rec := range records {
		switch {
		case rec.IsLegacy():
			if rec.Committed != nil && *rec.Committed {
				delete(prepares, rec.TxID)
				continue
			}
			if _, ok := prepares[rec.TxID]; !ok {
				order = append(order, rec.TxID)
			}
			prepares[rec.TxID] = rec
		case rec.Op == OpPrepare:
			if _, ok := prepares[rec.TxID]; !ok {
				order = append(order, rec.TxID)
			}
			prepares[rec.TxID] = rec
		case rec.Op == OpCommit:
			delete(prepares, rec.TxID)
		}
	}

	out := make([]Record, 0, len(prepares))
	for _, txID := range order {
		if rec, ok := prepares[txID]; ok {
			out = append(out, rec)
		}
	}
	return out
}
