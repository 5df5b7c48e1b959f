// Copyright 2026 Formal Kernel Authors

package judge

import (
	"context"

	"github.com/formalkernel/kernel/pkg/ir"
	"github.com/formalkernel/kernel/pkg/overflow"
)

// Limits bounds how large an intent the Judge will attempt to solve before
// it rejects outright (spec §4.6 "additional guards").
type Limits struct {
	MaxVariables   int
	MaxConstraints int
}

// DefaultLimits mirrors the sanitizer's L0 ceiling, since a Judge that
// accepted more than L0 already permits would never be reached.
func DefaultLimits() Limits {
	return Limits{MaxVariables: 100, MaxConstraints: 500}
}

// nodeBudget bounds the integer search's total branch count, independent of
// the wall-clock timeout a caller's context may also carry.
const nodeBudget = 200_000

// Judge decides satisfiability of an intent's constraint-and-post-condition
// system. It is single-use per verification by construction: Verify takes
// no mutable state between calls, so no fresh-context bookkeeping is
// needed to guarantee no state leaks between transactions (spec §4.6).
type Judge struct {
	limits Limits
}

// New constructs a Judge with the given limits.
func New(limits Limits) *Judge {
	return &Judge{limits: limits}
}

// Verify runs the full lowering-and-solve protocol for one intent. ctx
// should carry the Adaptive Rigor mode's z3_timeout as its deadline; a
// deadline exceeded while solving maps to VerdictTimeout, never a guess.
func (j *Judge) Verify(ctx context.Context, in *ir.Intent) Result {
	distinct := map[string]struct{}{}
	for _, p := range in.Params {
		distinct[p.Name] = struct{}{}
	}
	total := 0
	allExprs := make([]ir.Expr, 0, len(in.Constraints)+len(in.PostConditions))
	allExprs = append(allExprs, in.Constraints...)
	allExprs = append(allExprs, in.PostConditions...)
	for i := range allExprs {
		total++
		ir.Identifiers(&allExprs[i], distinct)
	}
	if len(distinct) > j.limits.MaxVariables {
		return Result{Verdict: VerdictRejected, RejectReason: ReasonTooManyVariables}
	}
	if total > j.limits.MaxConstraints {
		return Result{Verdict: VerdictRejected, RejectReason: ReasonTooManyConstraints}
	}

	constraints := make([]*Constraint, 0, total)
	for i := range allExprs {
		e := &allExprs[i]
		if ok, offending := ir.IsWhitelisted(e); !ok {
			return Result{
				Verdict:       VerdictRejected,
				RejectReason:  ReasonUnsupportedConstraint,
				OffendingNode: offending,
				RecoveryHint:  renderRecoveryHint(),
			}
		}
		c, err := buildConstraint(e)
		if err != nil {
			// A whitelisted node that still can't be linearized (a
			// non-constant product/quotient, or modulo) is fail-closed,
			// not a silent drop.
			return Result{Verdict: VerdictRejected, RejectReason: ReasonFailClosed}
		}
		constraints = append(constraints, c)
	}

	domains := domainsFromParams(in.Params)

	outcome, model, err := solveQFLIA(ctx, constraints, domains, nodeBudget)
	if ctx.Err() != nil {
		return Result{Verdict: VerdictTimeout}
	}
	switch outcome {
	case outcomeSAT:
		commitment := computeWitnessCommitment(model)
		return Result{Verdict: VerdictProved, Model: model, WitnessCommitment: commitment}
	case outcomeUNSAT:
		return Result{Verdict: VerdictFailed}
	default: // outcomeUnknown, including a disjunctive != relation
		_ = err
		return Result{Verdict: VerdictRejected, RejectReason: ReasonFailClosed}
	}
}

func domainsFromParams(params []ir.Param) map[string]overflow.Bounds {
	out := map[string]overflow.Bounds{}
	for _, p := range params {
		b, err := overflow.BoundsForType(p.Type)
		if err != nil {
			continue
		}
		out[p.Name] = b
		out["old_"+p.Name] = b
	}
	return out
}

func renderRecoveryHint() map[string][]string {
	out := map[string][]string{}
	for cat, ops := range ir.RecoveryHintWhitelist() {
		strs := make([]string, 0, len(ops))
		for _, op := range ops {
			strs = append(strs, string(op))
		}
		out[string(cat)] = strs
	}
	return out
}
