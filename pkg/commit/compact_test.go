// Copyright 2026 Formal Kernel Authors

package commit

import (
	"path/filepath"
	"testing"
)

func TestCompact_ConsolidatesCompletedPairsAndKeepsUncommitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	wal, err := OpenWAL(path)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}

	if err := wal.AppendPrepare("tx1", map[string][]byte{"k": []byte("v")}, nil, []string{"k"}); err != nil {
		t.Fatalf("AppendPrepare tx1: %v", err)
	}
	if err := wal.AppendCommit("tx1"); err != nil {
		t.Fatalf("AppendCommit tx1: %v", err)
	}
	if err := wal.AppendPrepare("tx2", map[string][]byte{"k2": []byte("v2")}, nil, []string{"k2"}); err != nil {
		t.Fatalf("AppendPrepare tx2: %v", err)
	}
	// tx2 never commits: simulates a crash between PREPARE and COMMIT.
	if err := wal.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	before, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll before compact: %v", err)
	}
	if len(before) != 3 {
		t.Fatalf("got %d records before compaction, want 3", len(before))
	}

	if err := Compact(path); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	after, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll after compact: %v", err)
	}

	uncommitted := UncommittedPrepares(after)
	if len(uncommitted) != 1 || uncommitted[0].TxID != "tx2" {
		t.Fatalf("got uncommitted=%+v, want exactly tx2", uncommitted)
	}

	for _, rec := range after {
		if rec.TxID == "tx1" && rec.Op == OpPrepare {
			t.Fatal("expected tx1's completed PREPARE to be consolidated away by compaction")
		}
	}
}
