// Copyright 2026 Formal Kernel Authors
//
// Integrity panics are the kernel's fatal error class (spec §7): situations
// where the system cannot prove a safety property it was asked to prove, and
// the only sound response is to abort the process rather than continue on
// unverified state. Every panic is typed, carries forensic metadata, and is
// recorded to every configured audit sink before the process unwinds.

package integrity

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"
)

// ViolationType enumerates the kernel's fatal integrity violations.
type ViolationType string

const (
	StateFileMissing       ViolationType = "STATE_FILE_MISSING"
	StateFileCorrupted     ViolationType = "STATE_FILE_CORRUPTED"
	StatePartialCorruption ViolationType = "STATE_PARTIAL_CORRUPTION"
	MerkleRootMismatch     ViolationType = "MERKLE_ROOT_MISMATCH"
	WALCorruption          ViolationType = "WAL_CORRUPTION"
	InvalidSignature       ViolationType = "INVALID_SIGNATURE"
	NodeIdentityMismatch   ViolationType = "NODE_IDENTITY_MISMATCH"
)

// ForensicMetadata captures the process context around a panic, so an
// operator reading the audit trail doesn't have to reconstruct it from
// separate log sources.
type ForensicMetadata struct {
	System      string            `json:"system"`
	Process     string            `json:"process"`
	StackTrace  string            `json:"stack_trace"`
	Environment map[string]string `json:"environment"`
}

// Panic is the single typed integrity-violation carrier (spec.md §9): one
// struct with a ViolationType enum field rather than a type per violation.
type Panic struct {
	ViolationType ViolationType          `json:"violation_type"`
	Details       map[string]interface{} `json:"details"`
	RecoveryHint  string                 `json:"recovery_hint"`
	Timestamp     time.Time              `json:"timestamp"`
	Forensic      ForensicMetadata       `json:"forensic_metadata"`
}

// Error implements the error interface so a recovered Panic can be
// inspected with errors.As by callers that catch it (e.g. a CLI main
// mapping it to exit code 3, spec §6.5).
func (p *Panic) Error() string {
	return fmt.Sprintf("integrity panic [%s]: %s", p.ViolationType, p.RecoveryHint)
}

func captureForensics() ForensicMetadata {
	host, _ := os.Hostname()
	return ForensicMetadata{
		System:     runtime.GOOS + "/" + runtime.GOARCH,
		Process:    fmt.Sprintf("pid=%d", os.Getpid()),
		StackTrace: string(debug.Stack()),
		Environment: map[string]string{
			"hostname":  host,
			"go_version": runtime.Version(),
		},
	}
}

func newPanic(vt ViolationType, details map[string]interface{}, hint string) *Panic {
	return &Panic{
		ViolationType: vt,
		Details:       details,
		RecoveryHint:  hint,
		Timestamp:     time.Now().UTC(),
		Forensic:      captureForensics(),
	}
}

// NewStateCorruptionPanic builds a StateCorruptionPanic for one of its
// three sub-kinds (STATE_FILE_MISSING, STATE_FILE_CORRUPTED,
// STATE_PARTIAL_CORRUPTION), per spec §7.
func NewStateCorruptionPanic(kind ViolationType, details map[string]interface{}, hint string) *Panic {
	return newPanic(kind, details, hint)
}

// NewMerkleRootMismatchPanic builds the panic raised when recovery's
// recomputed state digest disagrees with the stored root (spec §4.10 step 5).
func NewMerkleRootMismatchPanic(computedRoot, storedRoot []byte, hint string) *Panic {
	return newPanic(MerkleRootMismatch, map[string]interface{}{
		"computed_root": fmt.Sprintf("%x", computedRoot),
		"stored_root":   fmt.Sprintf("%x", storedRoot),
	}, hint)
}

// NewWALCorruptionPanic builds the panic raised when a WAL record cannot
// be parsed during a scan that the kernel cannot safely skip past.
func NewWALCorruptionPanic(details map[string]interface{}, hint string) *Panic {
	return newPanic(WALCorruption, details, hint)
}

// NewInvalidSignaturePanic builds the panic raised when an authenticated
// external message (pkg/receive) fails Ed25519 verification.
func NewInvalidSignaturePanic(details map[string]interface{}, hint string) *Panic {
	return newPanic(InvalidSignature, details, hint)
}

// NewNodeIdentityMismatchPanic builds the panic raised when a message
// claims an identity that does not match its verified signer.
func NewNodeIdentityMismatchPanic(details map[string]interface{}, hint string) *Panic {
	return newPanic(NodeIdentityMismatch, details, hint)
}
