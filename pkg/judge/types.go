// Copyright 2026 Formal Kernel Authors
//
// Package judge implements L3 of the defense pipeline: the SMT-contract
// proof engine. No SMT solver binding exists anywhere in the retrieved
// example corpus, so the solve step is a hand-rolled decision procedure for
// quantifier-free linear integer arithmetic (QF-LIA): linearize, eliminate
// via Fourier-Motzkin, then branch-and-bound to an integer witness. The
// lowering step that feeds it is gated by the same whitelisted,
// node-by-node pattern the teacher uses to build a ZK circuit's constraint
// system (pkg/crypto/bls_zkp/circuit.go's Define(api)), generalized from a
// fixed circuit to an open (but still whitelisted) expression grammar.
package judge

import "math/big"

// Verdict is the pipeline-visible outcome of a Judge call (spec §4.6).
type Verdict string

const (
	VerdictProved   Verdict = "PROVED"
	VerdictFailed   Verdict = "FAILED"
	VerdictRejected Verdict = "REJECTED"
	VerdictTimeout  Verdict = "TIMEOUT"
)

// RejectReason names why a REJECTED verdict was produced.
type RejectReason string

const (
	ReasonUnsupportedConstraint RejectReason = "UNSUPPORTED_CONSTRAINT"
	ReasonFailClosed            RejectReason = "FAIL_CLOSED"
	ReasonTooManyVariables      RejectReason = "TOO_MANY_VARIABLES"
	ReasonTooManyConstraints    RejectReason = "TOO_MANY_CONSTRAINTS"
)

// Result is the Judge's full verdict, carrying whichever of its optional
// fields the verdict implies.
type Result struct {
	Verdict Verdict

	// Populated on VerdictProved.
	Model             map[string]*big.Int
	WitnessCommitment *big.Int

	// Populated on VerdictFailed, when producible.
	Counterexample map[string]*big.Int

	// Populated on VerdictRejected.
	RejectReason  RejectReason
	OffendingNode string
	RecoveryHint  map[string][]string // category -> operator symbols
}
