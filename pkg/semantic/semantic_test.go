// Copyright 2026 Formal Kernel Authors

package semantic

import (
	"context"
	"testing"

	"github.com/formalkernel/kernel/pkg/ir"
)

func TestAnalyze_CleanIntentIsSafe(t *testing.T) {
	a := New()
	in := &ir.Intent{
		Constraints: []ir.Expr{mustCmp(mustIdent("amount"), ir.OpGt, mustInt(0))},
		PostConditions: []ir.Expr{
			mustCmp(mustIdent("balance"), ir.OpEq, mustBinary(mustIdent("old_balance"), ir.OpAdd, mustIdent("amount"))),
		},
	}
	res := a.Analyze(context.Background(), in)
	if !res.IsSafe {
		t.Fatalf("expected safe result, got %+v", res)
	}
}

func TestAnalyze_NodeLimitExceeded(t *testing.T) {
	a := New()
	in := &ir.Intent{}
	expr := mustInt(1)
	for i := 0; i < NodeLimit+10; i++ {
		expr = mustBinary(expr, ir.OpAdd, mustInt(1))
	}
	in.Constraints = []ir.Expr{*expr}
	res := a.Analyze(context.Background(), in)
	if res.IsSafe {
		t.Fatalf("expected node-limit rejection")
	}
}

func TestAnalyze_SelfReferentialPostCondition(t *testing.T) {
	a := New()
	in := &ir.Intent{
		PostConditions: []ir.Expr{mustCmp(mustIdent("x"), ir.OpEq, mustIdent("x"))},
	}
	res := a.Analyze(context.Background(), in)
	if res.IsSafe {
		t.Fatalf("expected self-referential pattern to flag")
	}
}

func TestAnalyze_DynamicPatternInjection(t *testing.T) {
	a := New()
	in := &ir.Intent{
		PostConditions: []ir.Expr{mustCmp(mustIdent("balance"), ir.OpEq, mustIdent("old_balance"))},
	}
	if res := a.Analyze(context.Background(), in); !res.IsSafe {
		t.Fatalf("expected safe before injection, got %+v", res)
	}
	a.InjectDynamicPatterns([]Pattern{alwaysMatchPattern{}})
	if res := a.Analyze(context.Background(), in); res.IsSafe {
		t.Fatalf("expected unsafe after dynamic pattern injection")
	}
}

type alwaysMatchPattern struct{}

func (alwaysMatchPattern) Name() string             { return "always_match" }
func (alwaysMatchPattern) Severity() PatternSeverity { return SeverityHigh }
func (alwaysMatchPattern) Detect(*ir.Intent) (bool, string) { return true, "test pattern" }

func mustInt(v int64) *ir.Expr       { return &ir.Expr{Kind: ir.NodeLiteralInt, IntValue: v} }
func mustIdent(name string) *ir.Expr { return &ir.Expr{Kind: ir.NodeIdentifier, Name: name} }
func mustBinary(l *ir.Expr, op ir.Op, r *ir.Expr) *ir.Expr {
	return &ir.Expr{Kind: ir.NodeBinary, Op: op, Left: l, Right: r}
}
func mustCmp(l *ir.Expr, op ir.Op, r *ir.Expr) ir.Expr {
	return ir.Expr{Kind: ir.NodeComparison, Op: op, Left: l, Right: r}
}
