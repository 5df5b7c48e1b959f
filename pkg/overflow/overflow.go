// Copyright 2026 Formal Kernel Authors
//
// Package overflow implements L2 of the defense pipeline: given the declared
// numeric types of intent parameters, reject any intent whose arithmetic
// admits an overflow or underflow under the stated bounds before it reaches
// the SMT judge.
package overflow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/formalkernel/kernel/pkg/ir"
)

// Bounds are the inclusive [Min, Max] range a declared numeric type admits.
type Bounds struct {
	Min *big.Int
	Max *big.Int
}

// BoundsForType returns the declared domain for a parameter's type tag.
// Exported so other layers (the Judge's integer search, in particular) can
// bound an otherwise-unconstrained variable by its declared type instead of
// treating it as unbounded.
func BoundsForType(tag ir.TypeTag) (Bounds, error) {
	return boundsFor(tag)
}

// boundsFor returns the declared domain for a parameter's type tag. Decimal
// values are represented as their integer mantissa at the declared scale, so
// the same bounds apply as for int/uint at that width.
func boundsFor(tag ir.TypeTag) (Bounds, error) {
	switch tag {
	case ir.TypeInt, ir.TypeDecimal:
		return Bounds{Min: new(big.Int).Neg(maxInt256), Max: maxInt256}, nil
	case ir.TypeUint:
		return Bounds{Min: big.NewInt(0), Max: maxUint256}, nil
	case ir.TypeBool:
		return Bounds{Min: big.NewInt(0), Max: big.NewInt(1)}, nil
	case ir.TypeAddress:
		return Bounds{Min: big.NewInt(0), Max: maxUint160}, nil
	default:
		return Bounds{}, fmt.Errorf("overflow: unknown type tag %q", tag)
	}
}

var (
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	maxInt256  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	maxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
)

// Violation describes one arithmetic step that can overflow or underflow.
type Violation struct {
	Expression string
	Reason     string
}

// Result is the overflow checker's verdict.
type Result struct {
	Safe       bool
	Violations []Violation
}

// Checker evaluates whitelisted arithmetic expressions for overflow/underflow
// given the declared domains of an intent's parameters, in the style of
// go-ethereum's checked big.Int arithmetic (SafeAdd/SafeSub/SafeMul) rather
// than machine-width wraparound semantics — every amount in this kernel is
// an arbitrary-precision big.Int, so "overflow" means exceeding the
// declared type's domain, not wrapping a fixed-width register.
type Checker struct{}

// New constructs a Checker.
func New() *Checker { return &Checker{} }

// Check validates every constraint and post-condition expression against the
// declared parameter bounds. An identifier not bound to a declared parameter
// (e.g. an `old_`-prefixed pre-state variable) inherits the bounds of its
// non-prefixed counterpart.
func (c *Checker) Check(in *ir.Intent) Result {
	domains := map[string]Bounds{}
	for _, p := range in.Params {
		b, err := boundsFor(p.Type)
		if err != nil {
			continue
		}
		domains[p.Name] = b
	}

	var violations []Violation
	check := func(e *ir.Expr) {
		if v := c.checkExpr(e, domains); v != nil {
			violations = append(violations, *v)
		}
	}
	for i := range in.Constraints {
		check(&in.Constraints[i])
	}
	for i := range in.PostConditions {
		check(&in.PostConditions[i])
	}

	return Result{Safe: len(violations) == 0, Violations: violations}
}

// checkExpr walks e looking for a binary arithmetic node whose result range,
// given its operands' declared domains, escapes the domain of the variable
// it is ultimately compared or assigned against. It returns the first
// violation found, or nil.
func (c *Checker) checkExpr(e *ir.Expr, domains map[string]Bounds) *Violation {
	var found *Violation
	ir.Visit(e, func(n *ir.Expr) {
		if found != nil || n.Kind != ir.NodeBinary {
			return
		}
		lo, hi, ok := rangeOf(n.Left, domains)
		if !ok {
			return
		}
		ro, rhi, ok := rangeOf(n.Right, domains)
		if !ok {
			return
		}
		resLo, resHi, err := applyOp(n.Op, lo, hi, ro, rhi)
		if err != nil {
			return
		}
		// A conservative bound check: if the computed range escapes the
		// declared domain of the left operand (or, when the left operand is
		// not a declared identifier, of the right one), flag it. This catches the
		// canonical overflow pattern (adding two uint256-bounded values
		// that together could exceed uint256) without needing a reference
		// value to compare against.
		widest := widestDomain(n.Left, n.Right, domains)
		if widest == (Bounds{}) {
			return
		}
		if resLo.Cmp(widest.Min) < 0 || resHi.Cmp(widest.Max) > 0 {
			found = &Violation{
				Expression: n.String(),
				Reason:     fmt.Sprintf("result range [%s, %s] escapes declared domain [%s, %s]", resLo, resHi, widest.Min, widest.Max),
			}
		}
	})
	return found
}

func widestDomain(left, right *ir.Expr, domains map[string]Bounds) Bounds {
	if b, ok := domainOf(left, domains); ok {
		return b
	}
	if b, ok := domainOf(right, domains); ok {
		return b
	}
	return Bounds{}
}

func domainOf(e *ir.Expr, domains map[string]Bounds) (Bounds, bool) {
	if e == nil || e.Kind != ir.NodeIdentifier {
		return Bounds{}, false
	}
	b, ok := domains[ir.BaseName(e.Name)]
	return b, ok
}

// rangeOf returns a conservative [lo, hi] range for e: exact for literals,
// the declared domain for identifiers, and the standard library's big.Int
// arithmetic recursively for nested binary expressions.
func rangeOf(e *ir.Expr, domains map[string]Bounds) (lo, hi *big.Int, ok bool) {
	if e == nil {
		return nil, nil, false
	}
	switch e.Kind {
	case ir.NodeLiteralInt:
		v := big.NewInt(e.IntValue)
		return v, v, true
	case ir.NodeLiteralDecimal:
		v := big.NewInt(e.Mantissa)
		return v, v, true
	case ir.NodeIdentifier:
		b, found := domains[ir.BaseName(e.Name)]
		if !found {
			return nil, nil, false
		}
		return b.Min, b.Max, true
	case ir.NodeParen:
		return rangeOf(e.Inner, domains)
	case ir.NodeUnary:
		lo, hi, ok := rangeOf(e.Operand, domains)
		if !ok {
			return nil, nil, false
		}
		if e.Op == ir.OpNegate {
			return new(big.Int).Neg(hi), new(big.Int).Neg(lo), true
		}
		return lo, hi, true
	case ir.NodeBinary:
		llo, lhi, ok1 := rangeOf(e.Left, domains)
		rlo, rhi, ok2 := rangeOf(e.Right, domains)
		if !ok1 || !ok2 {
			return nil, nil, false
		}
		return applyOp(e.Op, llo, lhi, rlo, rhi)
	default:
		return nil, nil, false
	}
}

// applyOp computes the conservative result range of op applied to operand
// ranges [llo, lhi] and [rlo, rhi], using go-ethereum-style checked big.Int
// arithmetic rather than hand-rolled overflow detection.
func applyOp(op ir.Op, llo, lhi, rlo, rhi *big.Int) (lo, hi *big.Int, err error) {
	switch op {
	case ir.OpAdd:
		return new(big.Int).Add(llo, rlo), new(big.Int).Add(lhi, rhi), nil
	case ir.OpSub:
		return new(big.Int).Sub(llo, rhi), new(big.Int).Sub(lhi, rlo), nil
	case ir.OpMul:
		candidates := []*big.Int{
			new(big.Int).Mul(llo, rlo),
			new(big.Int).Mul(llo, rhi),
			new(big.Int).Mul(lhi, rlo),
			new(big.Int).Mul(lhi, rhi),
		}
		return minMax(candidates)
	case ir.OpDiv, ir.OpMod:
		if rlo.Sign() == 0 && rhi.Sign() == 0 {
			return nil, nil, fmt.Errorf("overflow: division by a range containing only zero")
		}
		candidates := []*big.Int{}
		for _, r := range []*big.Int{rlo, rhi} {
			if r.Sign() == 0 {
				continue
			}
			candidates = append(candidates, new(big.Int).Quo(llo, r), new(big.Int).Quo(lhi, r))
		}
		if len(candidates) == 0 {
			return nil, nil, fmt.Errorf("overflow: no nonzero divisor in range")
		}
		return minMax(candidates)
	default:
		return nil, nil, fmt.Errorf("overflow: unsupported operator %q", op)
	}
}

func minMax(vals []*big.Int) (lo, hi *big.Int, err error) {
	if len(vals) == 0 {
		return nil, nil, fmt.Errorf("overflow: empty candidate set")
	}
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		if v.Cmp(lo) < 0 {
			lo = v
		}
		if v.Cmp(hi) > 0 {
			hi = v
		}
	}
	return lo, hi, nil
}

// ValidateAddressLiteral checks a hex address literal the way the teacher's
// chain strategy layer does (pkg/chain/strategy/evm_strategy.go), using
// go-ethereum's common.IsHexAddress rather than a hand-rolled regexp.
func ValidateAddressLiteral(s string) bool {
	return common.IsHexAddress(s)
}
