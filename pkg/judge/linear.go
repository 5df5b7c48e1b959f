// Copyright 2026 Formal Kernel Authors

package judge

import "math/big"

// LinearExpr is `sum(Coeffs[v] * v) + Const`, the canonical form every
// whitelisted arithmetic expression is lowered into.
type LinearExpr struct {
	Coeffs map[string]*big.Rat
	Const  *big.Rat
}

func newLinear() *LinearExpr {
	return &LinearExpr{Coeffs: map[string]*big.Rat{}, Const: new(big.Rat)}
}

func constLinear(v *big.Rat) *LinearExpr {
	l := newLinear()
	l.Const.Set(v)
	return l
}

func varLinear(name string) *LinearExpr {
	l := newLinear()
	l.Coeffs[name] = big.NewRat(1, 1)
	return l
}

// IsConstant reports whether the expression has no free variables.
func (l *LinearExpr) IsConstant() bool {
	for _, c := range l.Coeffs {
		if c.Sign() != 0 {
			return false
		}
	}
	return true
}

func (l *LinearExpr) clone() *LinearExpr {
	out := newLinear()
	for k, v := range l.Coeffs {
		out.Coeffs[k] = new(big.Rat).Set(v)
	}
	out.Const.Set(l.Const)
	return out
}

// Add returns l + other.
func (l *LinearExpr) Add(other *LinearExpr) *LinearExpr {
	out := l.clone()
	for k, v := range other.Coeffs {
		if existing, ok := out.Coeffs[k]; ok {
			existing.Add(existing, v)
		} else {
			out.Coeffs[k] = new(big.Rat).Set(v)
		}
	}
	out.Const.Add(out.Const, other.Const)
	return out
}

// Sub returns l - other.
func (l *LinearExpr) Sub(other *LinearExpr) *LinearExpr {
	return l.Add(other.Scale(big.NewRat(-1, 1)))
}

// Scale returns l * factor.
func (l *LinearExpr) Scale(factor *big.Rat) *LinearExpr {
	out := newLinear()
	for k, v := range l.Coeffs {
		out.Coeffs[k] = new(big.Rat).Mul(v, factor)
	}
	out.Const.Mul(l.Const, factor)
	return out
}

// EvalAt substitutes the given variable assignment and returns the
// resulting constant. Every variable referenced in l must be present in
// assignment.
func (l *LinearExpr) EvalAt(assignment map[string]*big.Rat) *big.Rat {
	out := new(big.Rat).Set(l.Const)
	for k, coeff := range l.Coeffs {
		v, ok := assignment[k]
		if !ok {
			continue
		}
		out.Add(out, new(big.Rat).Mul(coeff, v))
	}
	return out
}

// Relation is a normalized comparison operator.
type Relation string

const (
	RelLE Relation = "<="
	RelLT Relation = "<"
	RelEQ Relation = "=="
	RelNE Relation = "!="
)

// Constraint is `Expr REL 0` in canonical form.
type Constraint struct {
	Expr     *LinearExpr
	Relation Relation
	Source   string // rendered source expression, for diagnostics
}
