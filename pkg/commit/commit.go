// Copyright 2026 Formal Kernel Authors
//
// Atomic commit layer: begin_transaction -> stage changes -> commit_transaction
// with full-durability, seven-step commit protocol (spec §4.9). Grounded on
// the LedgerStore read-modify-write-marshal-Set cycle, generalized from a
// KV-only store to a WAL-guarded canonical file with a KV as an optional
// fast-path index.

package commit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/formalkernel/kernel/pkg/merkle"
)

// BatchResult is the outcome of a Commit call (spec §6.2).
type BatchResult struct {
	Success         bool          `json:"success"`
	ErrorType       string        `json:"error_type,omitempty"`
	ExecutionTime   time.Duration `json:"execution_time"`
	MerkleRootAfter []byte        `json:"merkle_root_after,omitempty"`
}

// Error type tags surfaced on BatchResult.ErrorType.
const (
	ErrorTypeIO             = "io_error"
	ErrorTypeDiskFull       = "disk_full"
	ErrorTypeMerkleMismatch = "merkle_root_mismatch"
	ErrorTypeMarshal        = "marshal_error"
)

// Layer is the atomic commit layer. One Layer serializes every commit
// against a single canonical state file and a single WAL, matching
// LedgerStore's single-writer assumption: callers must not share a Layer
// across concurrent commit threads without external ordering, though the
// mutex below makes concurrent calls safe (just not concurrent).
type Layer struct {
	mu        sync.Mutex
	stateDir  string
	statePath string
	wal       *WAL
	kv        KV // optional fast-path index, spec_full §10; nil is valid
}

// NewLayer constructs a commit layer rooted at stateDir, durably logging
// to wal and optionally mirroring committed changes into kv.
func NewLayer(stateDir string, wal *WAL, kv KV) *Layer {
	return &Layer{
		stateDir:  stateDir,
		statePath: CanonicalStatePath(stateDir),
		wal:       wal,
		kv:        kv,
	}
}

func classifyIOError(err error) string {
	if errors.Is(err, syscall.ENOSPC) {
		return ErrorTypeDiskFull
	}
	return ErrorTypeIO
}

// Commit runs the seven-step atomic commit protocol for one transaction
// (spec §4.9). changes is the staged K->V override set. merkleRootBefore
// and merkleRootAfter are optional caller-supplied expectations (typically
// computed by the conservation layer from old_/new_ balance bindings); if
// either is non-empty it is checked before any durable write happens, so a
// mismatch aborts fail-closed without ever touching the WAL or disk.
func (l *Layer) Commit(ctx context.Context, txID string, changes, merkleRootBefore, merkleRootAfter map[string][]byte) (*BatchResult, error) {
	return l.commit(ctx, txID, changes, flatten(merkleRootBefore), flatten(merkleRootAfter))
}

// CommitRoots is the byte-slice-keyed convenience form of Commit for
// callers that already have digests on hand rather than state maps.
func (l *Layer) CommitRoots(ctx context.Context, txID string, changes map[string][]byte, merkleRootBefore, merkleRootAfter []byte) (*BatchResult, error) {
	return l.commit(ctx, txID, changes, merkleRootBefore, merkleRootAfter)
}

func flatten(state map[string][]byte) []byte {
	if len(state) == 0 {
		return nil
	}
	root, err := merkle.DigestState(state)
	if err != nil {
		return nil
	}
	return root
}

func (l *Layer) commit(ctx context.Context, txID string, changes map[string][]byte, merkleRootBefore, merkleRootAfter []byte) (*BatchResult, error) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	fail := func(errType string, err error) (*BatchResult, error) {
		return &BatchResult{Success: false, ErrorType: errType, ExecutionTime: time.Since(start)}, err
	}

	if err := ctx.Err(); err != nil {
		return fail(ErrorTypeIO, err)
	}

	// Step 2 (loaded eagerly so steps 1 and 3 both have what they need):
	// load current state, or empty if this is the first commit ever.
	current, _, err := LoadStateFile(l.statePath)
	if err != nil {
		return fail(classifyIOError(err), fmt.Errorf("commit: load canonical state: %w", err))
	}

	if err := l.checkRoot(current, merkleRootBefore, "merkle_root_before"); err != nil {
		return fail(ErrorTypeMerkleMismatch, err)
	}

	preState := map[string][]byte{}
	var newKeys []string
	for k := range changes {
		if v, ok := current[k]; ok {
			preState[k] = v
		} else {
			newKeys = append(newKeys, k)
		}
	}

	// Step 3: apply staged overrides in memory.
	next := make(map[string][]byte, len(current)+len(changes))
	for k, v := range current {
		next[k] = v
	}
	for k, v := range changes {
		next[k] = v
	}

	if err := l.checkRoot(next, merkleRootAfter, "merkle_root_after"); err != nil {
		return fail(ErrorTypeMerkleMismatch, err)
	}

	// Step 1: append PREPARE to WAL; fsync. Any failure from here on
	// aborts the protocol per spec §4.9: remove the temp file if one was
	// created, leave the WAL exactly as it stands (a PREPARE with no
	// matching COMMIT, or nothing at all), and return failure.
	if err := l.wal.AppendPrepare(txID, changes, preState, newKeys); err != nil {
		return fail(classifyIOError(err), fmt.Errorf("commit: append prepare: %w", err))
	}

	// Steps 4-5: write to state.<tx_id>.tmp, fsync, atomic rename onto
	// state.json.
	tmpPath, err := WriteStateFileAtomic(l.stateDir, l.statePath, txID, next)
	if err != nil {
		_ = os.Remove(tmpPath)
		return fail(classifyIOError(err), fmt.Errorf("commit: write/rename state: %w", err))
	}

	// Step 6: append COMMIT to WAL; fsync.
	if err := l.wal.AppendCommit(txID); err != nil {
		// The rename already landed; there is no temp file left to
		// remove. The WAL is left holding an unmatched PREPARE, which
		// recovery will treat as uncommitted and roll back on next boot
		// -- restoring preState even though it was, in fact, applied.
		// This is the one case where recovery's rollback undoes a write
		// that actually reached disk; it is the price of "uncommitted in
		// the WAL" being the sole source of truth for what counts as
		// committed.
		return fail(classifyIOError(err), fmt.Errorf("commit: append commit record: %w", err))
	}

	// Step 7: mark committed, return success. Mirror into the optional
	// fast-path KV index; a mirror failure doesn't fail the commit, since
	// state.json is the source of truth and the index can be rebuilt.
	if l.kv != nil {
		for k, v := range changes {
			_ = l.kv.Set([]byte(k), v)
		}
	}

	afterDigest, _ := l.digestOf(next)
	return &BatchResult{
		Success:         true,
		ExecutionTime:   time.Since(start),
		MerkleRootAfter: afterDigest,
	}, nil
}

func (l *Layer) checkRoot(state map[string][]byte, expected []byte, label string) error {
	if len(expected) == 0 {
		return nil
	}
	actual, err := l.digestOf(state)
	if err != nil {
		return fmt.Errorf("commit: digest state for %s check: %w", label, err)
	}
	if !bytesEqual(actual, expected) {
		return fmt.Errorf("commit: %s mismatch: expected %x, computed %x", label, expected, actual)
	}
	return nil
}

func (l *Layer) digestOf(state map[string][]byte) ([]byte, error) {
	if len(state) == 0 {
		return nil, nil
	}
	return merkle.DigestState(state)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Rollback restores canonical state to reverse the effect of an
// uncommitted PREPARE record (spec §4.9): keys the transaction overwrote
// are restored to their PreState snapshot, keys it created are deleted,
// and any temp file matching the tx_id is removed.
func Rollback(stateDir string, rec Record) error {
	statePath := CanonicalStatePath(stateDir)
	state, _, err := LoadStateFile(statePath)
	if err != nil {
		return fmt.Errorf("commit: load state for rollback: %w", err)
	}

	for k, v := range rec.PreState {
		state[k] = v
	}
	for _, k := range rec.NewKeys {
		delete(state, k)
	}

	tmpPath, err := WriteStateFileAtomic(stateDir, statePath, rec.TxID+".rollback", state)
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit: write rolled-back state: %w", err)
	}

	if err := os.Remove(TempStatePath(stateDir, rec.TxID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("commit: remove temp file for %s: %w", rec.TxID, err)
	}
	return nil
}
