// Copyright 2026 Formal Kernel Authors

package judge

import (
	"errors"
	"math/big"

	"github.com/formalkernel/kernel/pkg/ir"
)

// ErrCannotLinearize is returned when an expression, though whitelisted,
// cannot be reduced to linear form (a product or quotient of two
// non-constant terms, or a modulo). Per spec §4.6's fail-closed solve
// protocol this is treated the same as a solver-reported UNKNOWN: mapped
// to REJECTED/FAIL_CLOSED, never guessed.
var ErrCannotLinearize = errors.New("judge: expression is not linear")

// lowerLinear lowers a whitelisted expression into canonical linear form,
// node by node, mirroring the teacher's Define(api) gate
// (pkg/crypto/bls_zkp/circuit.go): a fixed type switch over node kinds with
// no default case that silently passes anything through.
func lowerLinear(e *ir.Expr) (*LinearExpr, error) {
	switch e.Kind {
	case ir.NodeLiteralInt:
		return constLinear(big.NewRat(e.IntValue, 1)), nil

	case ir.NodeLiteralDecimal:
		denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(e.Scale)), nil)
		return constLinear(new(big.Rat).SetFrac(big.NewInt(e.Mantissa), denom)), nil

	case ir.NodeIdentifier:
		return varLinear(e.Name), nil

	case ir.NodeParen:
		return lowerLinear(e.Inner)

	case ir.NodeUnary:
		operand, err := lowerLinear(e.Operand)
		if err != nil {
			return nil, err
		}
		if e.Op == ir.OpNegate {
			return operand.Scale(big.NewRat(-1, 1)), nil
		}
		return operand, nil

	case ir.NodeBinary:
		left, err := lowerLinear(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := lowerLinear(e.Right)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case ir.OpAdd:
			return left.Add(right), nil
		case ir.OpSub:
			return left.Sub(right), nil
		case ir.OpMul:
			switch {
			case left.IsConstant():
				return right.Scale(left.Const), nil
			case right.IsConstant():
				return left.Scale(right.Const), nil
			default:
				return nil, ErrCannotLinearize
			}
		case ir.OpDiv:
			if !right.IsConstant() || right.Const.Sign() == 0 {
				return nil, ErrCannotLinearize
			}
			return left.Scale(new(big.Rat).Inv(right.Const)), nil
		case ir.OpMod:
			return nil, ErrCannotLinearize
		default:
			return nil, ErrCannotLinearize
		}

	default:
		return nil, ErrCannotLinearize
	}
}

// buildConstraint lowers a whitelisted comparison node into a canonical
// `Expr REL 0` constraint. cmp may arrive wrapped in one or more NodeParen
// layers (a parenthesized guard/post-condition); anything that unwraps to
// something other than a comparison -- a bare identifier, literal, or unary
// expression used standalone as a constraint -- is fail-closed rather than
// dereferencing a nil Left/Right.
func buildConstraint(cmp *ir.Expr) (*Constraint, error) {
	cmp = ir.Unparen(cmp)
	if cmp == nil || cmp.Kind != ir.NodeComparison {
		return nil, ErrCannotLinearize
	}

	left, err := lowerLinear(cmp.Left)
	if err != nil {
		return nil, err
	}
	right, err := lowerLinear(cmp.Right)
	if err != nil {
		return nil, err
	}
	diff := left.Sub(right)
	source := cmp.String()

	switch cmp.Op {
	case ir.OpEq:
		return &Constraint{Expr: diff, Relation: RelEQ, Source: source}, nil
	case ir.OpNeq:
		return &Constraint{Expr: diff, Relation: RelNE, Source: source}, nil
	case ir.OpLt:
		return &Constraint{Expr: diff, Relation: RelLT, Source: source}, nil
	case ir.OpLeq:
		return &Constraint{Expr: diff, Relation: RelLE, Source: source}, nil
	case ir.OpGt:
		// a > b  <=>  b - a < 0
		return &Constraint{Expr: diff.Scale(big.NewRat(-1, 1)), Relation: RelLT, Source: source}, nil
	case ir.OpGeq:
		// a >= b  <=>  b - a <= 0
		return &Constraint{Expr: diff.Scale(big.NewRat(-1, 1)), Relation: RelLE, Source: source}, nil
	default:
		return nil, ErrCannotLinearize
	}
}
