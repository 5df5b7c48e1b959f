// Copyright 2026 Formal Kernel Authors

package ir

// Visit calls fn for every node in the expression tree, including e itself,
// in pre-order. It is the single AST walk shared by entropy scoring,
// node-counting, and pattern matching so each analysis stays O(N).
func Visit(e *Expr, fn func(*Expr)) {
	if e == nil {
		return
	}
	fn(e)
	Visit(e.Operand, fn)
	Visit(e.Left, fn)
	Visit(e.Right, fn)
	Visit(e.Inner, fn)
}

// CountNodes returns the number of nodes in the expression tree.
func CountNodes(e *Expr) int {
	n := 0
	Visit(e, func(*Expr) { n++ })
	return n
}

// Unparen strips any number of NodeParen wrappers from e, returning the
// first non-paren node underneath (or e itself/nil if e is not a paren).
// Top-level parenthesization is legal syntax (the whitelist admits it at
// every depth) but callers that key behavior off a node's Kind need the
// unwrapped node to see the shape of what's actually inside.
func Unparen(e *Expr) *Expr {
	for e != nil && e.Kind == NodeParen {
		e = e.Inner
	}
	return e
}

// Identifiers collects the set of distinct identifier names referenced in e.
func Identifiers(e *Expr, out map[string]struct{}) {
	Visit(e, func(n *Expr) {
		if n.Kind == NodeIdentifier {
			out[n.Name] = struct{}{}
		}
	})
}

// String renders an expression back to source-like text, primarily for
// diagnostics (rejection messages, counterexamples).
func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case NodeLiteralInt:
		return itoa(e.IntValue)
	case NodeLiteralDecimal:
		return decimalString(e.Mantissa, e.Scale)
	case NodeIdentifier:
		return e.Name
	case NodeUnary:
		return string(e.Op) + e.Operand.String()
	case NodeBinary, NodeComparison:
		return e.Left.String() + " " + string(e.Op) + " " + e.Right.String()
	case NodeParen:
		return "(" + e.Inner.String() + ")"
	default:
		return "<unknown>"
	}
}

func itoa(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func decimalString(mantissa int64, scale int) string {
	s := itoa(mantissa)
	if scale <= 0 {
		return s
	}
	neg := mantissa < 0
	if neg {
		s = s[1:]
	}
	for len(s) <= scale {
		s = "0" + s
	}
	whole, frac := s[:len(s)-scale], s[len(s)-scale:]
	out := whole + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}
