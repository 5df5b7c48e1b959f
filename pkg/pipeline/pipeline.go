// Copyright 2026 Formal Kernel Authors
//
// Package pipeline orchestrates the defense pipeline's ordered gauntlet:
// L-1 semantic analysis, L0 sanitization, L1 conservation, L2 overflow,
// L3 SMT proof. Grounded on the data-flow description of the gauntlet and
// on pkg/verification/unified_verifier.go's staged-verification shape
// (VerifyFullProofCycle accumulating a per-level Result and returning on
// the first hard failure), generalized here to short-circuit on the
// first REJECT/FAIL/TIMEOUT rather than accumulating every level's
// verdict, since a rejected transaction never reaches a later layer.
package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/formalkernel/kernel/pkg/conservation"
	"github.com/formalkernel/kernel/pkg/judge"
	"github.com/formalkernel/kernel/pkg/overflow"
	"github.com/formalkernel/kernel/pkg/parser"
	"github.com/formalkernel/kernel/pkg/rigor"
	"github.com/formalkernel/kernel/pkg/sanitizer"
	"github.com/formalkernel/kernel/pkg/semantic"
	"github.com/formalkernel/kernel/pkg/sentinel"
)

// Status is the final outcome of one verify_logic call (spec §6.2).
type Status string

const (
	StatusProved   Status = "PROVED"
	StatusRejected Status = "REJECTED"
	StatusFailed   Status = "FAILED"
	StatusTimeout  Status = "TIMEOUT"
)

// Category names which layer produced a REJECTED status (spec §7.1).
type Category string

const (
	CategorySanitizer             Category = "SANITIZER"
	CategorySemantic              Category = "SEMANTIC"
	CategoryConservation          Category = "CONSERVATION"
	CategoryOverflow              Category = "OVERFLOW"
	CategoryUnsupportedConstraint Category = "UNSUPPORTED_CONSTRAINT"
	CategoryFailClosed            Category = "FAIL_CLOSED"
)

// Result is verify_logic's return value (spec §6.2:
// "{status, message, model?, telemetry, constraint_violation?}").
type Result struct {
	Status   Status
	Message  string
	Category Category

	// Populated on StatusProved.
	Model             map[string]*big.Int
	WitnessCommitment *big.Int

	// Populated on StatusFailed, when producible.
	Counterexample map[string]*big.Int

	// Populated on a REJECTED outcome from conservation, overflow or the
	// Judge, naming the offending node/variable.
	ConstraintViolation string
	RecoveryHint        map[string][]string

	Telemetry sentinel.TransactionRecord
}

// Pipeline wires every verification layer behind a single VerifyLogic
// entrypoint. All collaborators are constructed elsewhere and passed in;
// Pipeline holds no mutable state of its own beyond its fields (spec_full
// §9: "explicit collaborators passed into each subsystem's constructor").
type Pipeline struct {
	sanitizer   *sanitizer.Sanitizer
	semantic    *semantic.Analyzer
	conserv     *conservation.Checker
	overflow    *overflow.Checker
	judgeLimits judge.Limits
	rigor       *rigor.Controller
	monitor     *sentinel.Monitor
}

// New constructs a Pipeline. monitor may be nil, in which case telemetry
// is not sent to Sentinel; VerifyLogic then fills Result.Telemetry with
// the tx ID, start time, wall duration and verdict only.
func New(san *sanitizer.Sanitizer, sem *semantic.Analyzer, cons *conservation.Checker, ovf *overflow.Checker, judgeLimits judge.Limits, rc *rigor.Controller, monitor *sentinel.Monitor) *Pipeline {
	return &Pipeline{
		sanitizer:   san,
		semantic:    sem,
		conserv:     cons,
		overflow:    ovf,
		judgeLimits: judgeLimits,
		rigor:       rc,
		monitor:     monitor,
	}
}

func reject(category Category, message string) Result {
	return Result{Status: StatusRejected, Category: category, Message: message}
}

// VerifyLogic runs the full gauntlet over one named intent parsed out of
// src. txID identifies this call's Sentinel telemetry and WAL record.
//
// Layer order follows the gauntlet's explicit ordering: L-1 semantic
// before L0 sanitizer's AST-shape checks, because the sanitizer's pure
// source/token checks (CheckSource) must still run before the parser
// ever builds an AST for a hostile input to walk.
func (p *Pipeline) VerifyLogic(ctx context.Context, txID, src, intentName string) Result {
	start := time.Now()
	if p.monitor != nil {
		p.monitor.StartTransaction(txID)
	}

	result := p.verify(ctx, src, intentName)

	if p.monitor != nil {
		record := p.monitor.EndTransaction(txID, string(result.Status))
		result.Telemetry = record
	} else {
		result.Telemetry = sentinel.TransactionRecord{
			TxID:         txID,
			StartedAt:    start,
			WallDuration: time.Since(start),
			Verdict:      string(result.Status),
		}
	}
	return result
}

func (p *Pipeline) verify(ctx context.Context, src, intentName string) Result {
	sourceCheck := p.sanitizer.CheckSource(src)
	if !sourceCheck.IsSafe {
		return reject(CategorySanitizer, summarizeSanitizer(sourceCheck))
	}

	intents, err := parser.ParseIntents(src)
	if err != nil {
		return reject(CategorySanitizer, fmt.Sprintf("parse error: %v", err))
	}
	in, ok := intents[intentName]
	if !ok {
		return reject(CategorySanitizer, fmt.Sprintf("unknown intent %q", intentName))
	}

	semResult := p.semantic.Analyze(ctx, in)
	if !semResult.IsSafe {
		return reject(CategorySemantic, summarizeSemantic(semResult))
	}

	intentCheck := p.sanitizer.CheckIntent(in)
	if !intentCheck.IsSafe {
		return reject(CategorySanitizer, summarizeSanitizer(intentCheck))
	}

	consResult := p.conserv.Check(ctx, in)
	if consResult.Status == conservation.StatusViolation {
		r := reject(CategoryConservation, consResult.Reason)
		r.ConstraintViolation = consResult.OracleVar
		return r
	}

	ovfResult := p.overflow.Check(in)
	if !ovfResult.Safe {
		r := reject(CategoryOverflow, "arithmetic bound violation")
		r.ConstraintViolation = ovfResult.Violations[0].Expression
		return r
	}

	z3Ctx, cancel := p.withZ3Timeout(ctx)
	defer cancel()

	j := judge.New(p.judgeLimits)
	jr := j.Verify(z3Ctx, in)
	return fromJudgeResult(jr)
}

// withZ3Timeout bounds ctx by the live Adaptive Rigor z3_timeout (spec
// §4.6 step 1), or returns ctx unmodified when no rigor.Controller was
// wired in (e.g. standalone tests of this package).
func (p *Pipeline) withZ3Timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.rigor == nil {
		return context.WithCancel(ctx)
	}
	cfg := p.rigor.Snapshot()
	return context.WithTimeout(ctx, cfg.Z3Timeout)
}

func fromJudgeResult(jr judge.Result) Result {
	switch jr.Verdict {
	case judge.VerdictProved:
		return Result{Status: StatusProved, Message: "proved", Model: jr.Model, WitnessCommitment: jr.WitnessCommitment}
	case judge.VerdictFailed:
		return Result{Status: StatusFailed, Message: "unsatisfiable", Counterexample: jr.Counterexample}
	case judge.VerdictTimeout:
		return Result{Status: StatusTimeout, Message: "solver exhausted its bounded time"}
	default: // judge.VerdictRejected
		category := CategoryFailClosed
		if jr.RejectReason == judge.ReasonUnsupportedConstraint {
			category = CategoryUnsupportedConstraint
		}
		r := reject(category, string(jr.RejectReason))
		r.ConstraintViolation = jr.OffendingNode
		r.RecoveryHint = jr.RecoveryHint
		return r
	}
}

func summarizeSemantic(r semantic.Result) string {
	if len(r.DetectedPatterns) == 0 {
		return fmt.Sprintf("entropy score %.2f exceeds flag threshold", r.EntropyScore)
	}
	return fmt.Sprintf("matched pattern %q: %s", r.DetectedPatterns[0].Name, r.DetectedPatterns[0].Detail)
}

func summarizeSanitizer(r sanitizer.Result) string {
	if len(r.Violations) == 0 {
		return "sanitizer rejected the intent"
	}
	return fmt.Sprintf("%s: %s", r.Violations[0].Name, r.Violations[0].Detail)
}
