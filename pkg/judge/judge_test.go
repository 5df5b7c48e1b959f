// Copyright 2026 Formal Kernel Authors

package judge

import (
	"context"
	"testing"
	"time"

	"github.com/formalkernel/kernel/pkg/ir"
)

func ident(name string) *ir.Expr { return &ir.Expr{Kind: ir.NodeIdentifier, Name: name} }
func litInt(v int64) *ir.Expr    { return &ir.Expr{Kind: ir.NodeLiteralInt, IntValue: v} }

func bin(op ir.Op, l, r *ir.Expr) *ir.Expr {
	return &ir.Expr{Kind: ir.NodeBinary, Op: op, Left: l, Right: r}
}

func cmp(op ir.Op, l, r *ir.Expr) ir.Expr {
	return ir.Expr{Kind: ir.NodeComparison, Op: op, Left: l, Right: r}
}

func transferIntent() *ir.Intent {
	return &ir.Intent{
		Name: "transfer",
		Params: []ir.Param{
			{Name: "balance_sender", Type: ir.TypeUint},
			{Name: "balance_receiver", Type: ir.TypeUint},
			{Name: "amount", Type: ir.TypeUint},
		},
		Constraints: []ir.Expr{
			cmp(ir.OpLeq, ident("amount"), ident("balance_sender")),
			cmp(ir.OpGeq, ident("amount"), litInt(1)),
		},
		PostConditions: []ir.Expr{
			cmp(ir.OpEq, ident("balance_sender"), bin(ir.OpSub, ident("old_balance_sender"), ident("amount"))),
			cmp(ir.OpEq, ident("balance_receiver"), bin(ir.OpAdd, ident("old_balance_receiver"), ident("amount"))),
		},
	}
}

func TestVerify_SimpleTransferProved(t *testing.T) {
	j := New(DefaultLimits())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res := j.Verify(ctx, transferIntent())
	if res.Verdict != VerdictProved {
		t.Fatalf("expected PROVED, got %+v", res)
	}
	if res.WitnessCommitment == nil {
		t.Fatalf("expected a witness commitment on PROVED")
	}
	if res.Model["amount"] == nil {
		t.Fatalf("expected a model value for amount, got %+v", res.Model)
	}
}

func TestVerify_MoneyPrinterFailed(t *testing.T) {
	j := New(DefaultLimits())
	in := &ir.Intent{
		Name: "mint",
		Params: []ir.Param{
			{Name: "balance_receiver", Type: ir.TypeUint},
		},
		Constraints: []ir.Expr{
			cmp(ir.OpEq, ident("balance_receiver"), bin(ir.OpAdd, ident("old_balance_receiver"), litInt(1000))),
			cmp(ir.OpEq, ident("balance_receiver"), bin(ir.OpAdd, ident("old_balance_receiver"), litInt(1))),
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res := j.Verify(ctx, in)
	if res.Verdict != VerdictFailed {
		t.Fatalf("expected FAILED for a contradictory constraint set, got %+v", res)
	}
}

func TestVerify_BitwiseOperatorRejectedUnsupportedConstraint(t *testing.T) {
	j := New(DefaultLimits())
	in := &ir.Intent{
		Name: "masked",
		Params: []ir.Param{
			{Name: "balance_sender", Type: ir.TypeUint},
			{Name: "amount", Type: ir.TypeUint},
		},
		Constraints: []ir.Expr{
			cmp(ir.OpGeq, ident("balance_sender"), bin("|", ident("amount"), litInt(255))),
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res := j.Verify(ctx, in)
	if res.Verdict != VerdictRejected || res.RejectReason != ReasonUnsupportedConstraint {
		t.Fatalf("expected REJECTED/UNSUPPORTED_CONSTRAINT, got %+v", res)
	}
	if res.OffendingNode != "BitOr" {
		t.Fatalf("expected offending node BitOr, got %q", res.OffendingNode)
	}
	if len(res.RecoveryHint["arithmetic"]) == 0 {
		t.Fatalf("expected a non-empty arithmetic recovery hint, got %+v", res.RecoveryHint)
	}
}

func TestVerify_NonlinearProductRejectedFailClosed(t *testing.T) {
	j := New(DefaultLimits())
	in := &ir.Intent{
		Name: "quadratic",
		Params: []ir.Param{
			{Name: "x", Type: ir.TypeUint},
			{Name: "y", Type: ir.TypeUint},
		},
		Constraints: []ir.Expr{
			cmp(ir.OpEq, ident("x"), bin(ir.OpMul, ident("x"), ident("y"))),
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res := j.Verify(ctx, in)
	if res.Verdict != VerdictRejected || res.RejectReason != ReasonFailClosed {
		t.Fatalf("expected REJECTED/FAIL_CLOSED for a non-constant product, got %+v", res)
	}
}

func TestVerify_NotEqualRelationRejectedFailClosed(t *testing.T) {
	j := New(DefaultLimits())
	in := &ir.Intent{
		Name: "distinct",
		Params: []ir.Param{
			{Name: "x", Type: ir.TypeUint},
		},
		Constraints: []ir.Expr{
			cmp(ir.OpNeq, ident("x"), litInt(0)),
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res := j.Verify(ctx, in)
	if res.Verdict != VerdictRejected || res.RejectReason != ReasonFailClosed {
		t.Fatalf("expected REJECTED/FAIL_CLOSED for a disjunctive != relation, got %+v", res)
	}
}

func TestVerify_ParenthesizedConstraintProved(t *testing.T) {
	j := New(DefaultLimits())
	in := &ir.Intent{
		Name: "paren_guard",
		Params: []ir.Param{
			{Name: "balance_sender", Type: ir.TypeUint},
			{Name: "amount", Type: ir.TypeUint},
		},
		Constraints: []ir.Expr{
			{Kind: ir.NodeParen, Inner: &ir.Expr{Kind: ir.NodeComparison, Op: ir.OpGeq, Left: ident("balance_sender"), Right: ident("amount")}},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res := j.Verify(ctx, in)
	if res.Verdict != VerdictProved {
		t.Fatalf("expected PROVED for a parenthesized comparison constraint, got %+v", res)
	}
}

func TestVerify_ParenthesizedNonComparisonRejectedFailClosed(t *testing.T) {
	j := New(DefaultLimits())
	in := &ir.Intent{
		Name: "paren_bare_ident",
		Params: []ir.Param{
			{Name: "flag", Type: ir.TypeUint},
		},
		Constraints: []ir.Expr{
			{Kind: ir.NodeParen, Inner: ident("flag")},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res := j.Verify(ctx, in)
	if res.Verdict != VerdictRejected || res.RejectReason != ReasonFailClosed {
		t.Fatalf("expected REJECTED/FAIL_CLOSED for a parenthesized bare identifier constraint, got %+v", res)
	}
}

func TestVerify_TooManyVariablesRejected(t *testing.T) {
	limits := Limits{MaxVariables: 1, MaxConstraints: 500}
	j := New(limits)
	res := j.Verify(context.Background(), transferIntent())
	if res.Verdict != VerdictRejected || res.RejectReason != ReasonTooManyVariables {
		t.Fatalf("expected REJECTED/TOO_MANY_VARIABLES, got %+v", res)
	}
}

func TestVerify_AlreadyExpiredContextTimesOut(t *testing.T) {
	j := New(DefaultLimits())
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	time.Sleep(time.Millisecond)
	res := j.Verify(ctx, transferIntent())
	if res.Verdict != VerdictTimeout {
		t.Fatalf("expected TIMEOUT for an already-expired context, got %+v", res)
	}
}
