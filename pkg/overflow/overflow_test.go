// Copyright 2026 Formal Kernel Authors

package overflow

import (
	"testing"

	"github.com/formalkernel/kernel/pkg/ir"
)

func TestCheck_SimpleTransferIsSafe(t *testing.T) {
	c := New()
	in := &ir.Intent{
		Params: []ir.Param{
			{Name: "balance", Type: ir.TypeUint},
			{Name: "amount", Type: ir.TypeUint},
		},
		PostConditions: []ir.Expr{
			{Kind: ir.NodeComparison, Op: ir.OpEq,
				Left:  &ir.Expr{Kind: ir.NodeIdentifier, Name: "balance"},
				Right: &ir.Expr{Kind: ir.NodeBinary, Op: ir.OpAdd,
					Left:  &ir.Expr{Kind: ir.NodeIdentifier, Name: "old_balance"},
					Right: &ir.Expr{Kind: ir.NodeIdentifier, Name: "amount"}}},
		},
	}
	res := c.Check(in)
	if !res.Safe {
		t.Fatalf("expected safe result, got %+v", res.Violations)
	}
}

func TestCheck_MultiplicationOfTwoUint256sOverflows(t *testing.T) {
	c := New()
	in := &ir.Intent{
		Params: []ir.Param{
			{Name: "a", Type: ir.TypeUint},
			{Name: "b", Type: ir.TypeUint},
		},
		Constraints: []ir.Expr{
			{Kind: ir.NodeComparison, Op: ir.OpGeq,
				Left: &ir.Expr{Kind: ir.NodeBinary, Op: ir.OpMul,
					Left:  &ir.Expr{Kind: ir.NodeIdentifier, Name: "a"},
					Right: &ir.Expr{Kind: ir.NodeIdentifier, Name: "b"}},
				Right: &ir.Expr{Kind: ir.NodeLiteralInt, IntValue: 0}},
		},
	}
	res := c.Check(in)
	if res.Safe {
		t.Fatalf("expected overflow violation for unbounded uint256 multiplication")
	}
}

func TestValidateAddressLiteral(t *testing.T) {
	if !ValidateAddressLiteral("0x0000000000000000000000000000000000000001") {
		t.Fatalf("expected valid hex address to pass")
	}
	if ValidateAddressLiteral("not-an-address") {
		t.Fatalf("expected invalid address to fail")
	}
}
