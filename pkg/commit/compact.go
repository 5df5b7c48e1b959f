// Copyright 2026 Formal Kernel Authors
//
// WAL compaction is a maintenance operation, off the commit critical path
// (spec §4.9): it rewrites the log, consolidating PREPARE+COMMIT pairs down
// to a single record each pair, in O(n) over the current log. The normal
// commit path (WAL.AppendPrepare/AppendCommit) stays O(1) per transaction
// regardless of how large the log has grown.

package commit

import (
	"fmt"
	"os"
	"path/filepath"
)

// Compact rewrites the WAL at path, keeping one consolidated record per
// completed (PREPARE+COMMIT) transaction and every PREPARE that has no
// matching COMMIT yet (compaction must never erase evidence recovery
// needs to roll back an in-flight transaction). The rewrite is itself
// durable via write-to-temp-then-rename, mirroring the state file's own
// atomicity so a crash mid-compaction never leaves a half-written log.
func Compact(path string) error {
	records, err := ReadAll(path)
	if err != nil {
		return fmt.Errorf("commit: read wal for compaction: %w", err)
	}

	uncommitted := map[string]bool{}
	for _, rec := range UncommittedPrepares(records) {
		uncommitted[rec.TxID] = true
	}

	kept := make([]Record, 0, len(records))
	seenPrepare := map[string]bool{}
	for _, rec := range records {
		txID := rec.TxID
		switch {
		case rec.IsLegacy():
			if uncommitted[txID] {
				kept = append(kept, rec)
			} else if !seenPrepare[txID] {
				// Collapse legacy pre-state/committed-flag updates for a
				// completed transaction into a single committed record.
				done := true
				rec.Committed = &done
				kept = append(kept, rec)
			}
			seenPrepare[txID] = true
		case rec.Op == OpPrepare:
			if uncommitted[txID] {
				kept = append(kept, rec)
			}
			seenPrepare[txID] = true
		case rec.Op == OpCommit:
			if !uncommitted[txID] {
				kept = append(kept, rec)
			}
		}
	}

	return rewriteWAL(path, kept)
}

func rewriteWAL(path string, records []Record) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "wal-compact-*.tmp")
	if err != nil {
		return fmt.Errorf("commit: create compaction temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := &WAL{path: tmpPath, file: tmp}
	for _, rec := range records {
		if err := w.append(rec); err != nil {
			tmp.Close()
			return fmt.Errorf("commit: write compacted record: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("commit: close compaction temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("commit: rename compacted wal: %w", err)
	}
	return nil
}
