// Copyright 2026 Formal Kernel Authors

package ir

// Category groups whitelisted operators for the recovery hint enumeration
// (spec §4.6: "a recovery hint enumerating the whitelist grouped by
// category"). This is the Go-IR analogue of the teacher's node-by-node
// `Define(api)` gate in pkg/crypto/bls_zkp/circuit.go, generalized from a
// fixed ZK circuit to an open whitelist of expression operators.
type Category string

const (
	CategoryArithmetic Category = "arithmetic"
	CategoryComparison Category = "comparison"
	CategoryUnary      Category = "unary"
	CategoryGrouping   Category = "grouping"
)

// SupportedNodes is the hard whitelist (spec §3.2, §4.6 SUPPORTED_NODES).
// Any expression node whose Kind is not represented here, or whose Op is an
// operator outside its category's list, is an UnsupportedConstraint.
var SupportedNodes = map[NodeKind][]Op{
	NodeLiteralInt:     nil,
	NodeLiteralDecimal: nil,
	NodeIdentifier:     nil,
	NodeParen:          nil,
	NodeUnary:          {OpNegate, OpPlus},
	NodeBinary:         {OpAdd, OpSub, OpMul, OpDiv, OpMod},
	NodeComparison:     {OpEq, OpNeq, OpLt, OpLeq, OpGt, OpGeq},
}

// CategoryOf maps an operator to its recovery-hint category.
func CategoryOf(op Op, kind NodeKind) Category {
	switch kind {
	case NodeUnary:
		return CategoryUnary
	case NodeComparison:
		return CategoryComparison
	case NodeParen:
		return CategoryGrouping
	default:
		return CategoryArithmetic
	}
}

// RecoveryHintWhitelist renders SupportedNodes grouped by category, for
// embedding in an UnsupportedConstraint rejection (spec §4.6, §8 seed
// scenario 3: "recovery_hint enumerates supported categories including
// Arithmetic {+,-,*,/,%} and Comparison {=,!=,<,<=,>,>=}").
func RecoveryHintWhitelist() map[Category][]Op {
	out := map[Category][]Op{
		CategoryArithmetic: {OpAdd, OpSub, OpMul, OpDiv, OpMod},
		CategoryComparison: {OpEq, OpNeq, OpLt, OpLeq, OpGt, OpGeq},
		CategoryUnary:      {OpNegate, OpPlus},
		CategoryGrouping:   {},
	}
	return out
}

// IsWhitelisted reports whether the given node is constructed from
// whitelisted kinds/operators throughout its entire subtree. It returns the
// offending node's kind name on failure ("" on success), matching the
// UnsupportedConstraint detail contract (spec §8: "exposes k's name").
func IsWhitelisted(e *Expr) (ok bool, offendingKind string) {
	ok = true
	Visit(e, func(n *Expr) {
		if !ok {
			return
		}
		switch n.Kind {
		case NodeLiteralInt, NodeLiteralDecimal, NodeIdentifier, NodeParen:
			return
		case NodeUnary:
			if !opIn(n.Op, SupportedNodes[NodeUnary]) {
				ok = false
				offendingKind = "Unary(" + string(n.Op) + ")"
			}
		case NodeBinary:
			if !opIn(n.Op, SupportedNodes[NodeBinary]) {
				ok = false
				offendingKind = unsupportedBinaryName(n.Op)
			}
		case NodeComparison:
			if !opIn(n.Op, SupportedNodes[NodeComparison]) {
				ok = false
				offendingKind = "Comparison(" + string(n.Op) + ")"
			}
		default:
			ok = false
			offendingKind = n.Kind.String()
		}
	})
	return ok, offendingKind
}

func opIn(op Op, allowed []Op) bool {
	for _, a := range allowed {
		if a == op {
			return true
		}
	}
	return false
}

// unsupportedBinaryName gives a human/machine name for operators that the
// parser itself never produces (since the parser grammar, spec §3.2, only
// emits whitelisted operators) but that a programmatically constructed IR
// (e.g. a test, or a future relaxed parser) might carry. Named to match the
// teacher's original Python AST node-type naming convention referenced by
// spec.md seed scenario 3 ("node_type = BitOr").
func unsupportedBinaryName(op Op) string {
	switch op {
	case "|":
		return "BitOr"
	case "&":
		return "BitAnd"
	case "^":
		return "BitXor"
	case "<<":
		return "LShift"
	case ">>":
		return "RShift"
	case "**":
		return "Pow"
	case "//":
		return "FloorDiv"
	default:
		return "Binary(" + string(op) + ")"
	}
}
