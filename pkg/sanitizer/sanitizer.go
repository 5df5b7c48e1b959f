// Copyright 2026 Formal Kernel Authors
//
// Package sanitizer implements L0 of the defense pipeline: static
// lexical/structural checks over intent source text, performed before any
// AST-level analysis. It never invokes the SMT solver.
package sanitizer

import (
	"strings"

	"github.com/formalkernel/kernel/pkg/ir"
)

// Risk is the severity of a detected violation. Every L0 violation kind is
// HIGH risk by construction: the layer exists to catch clearly hostile or
// clearly over-complex inputs, not to grade borderline cases.
type Risk string

const (
	RiskHigh Risk = "HIGH"
)

// ViolationKind names the specific rule a violation tripped.
type ViolationKind string

const (
	ViolationInstructionMarker ViolationKind = "instruction_marker"
	ViolationForbiddenIdent    ViolationKind = "forbidden_identifier"
	ViolationSourceTooLarge    ViolationKind = "source_too_large"
	ViolationTooManyVariables  ViolationKind = "too_many_variables"
	ViolationTooManyConstraints ViolationKind = "too_many_constraints"
)

// Violation is one tripped rule.
type Violation struct {
	Kind Risk
	Name ViolationKind
	Detail string
}

// Limits configures the sanitizer's thresholds (spec §4.2 defaults).
type Limits struct {
	MaxSourceBytes   int
	MaxVariables     int
	MaxConstraints   int
}

// DefaultLimits returns the spec's documented defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxSourceBytes: 64 * 1024,
		MaxVariables:   100,
		MaxConstraints: 500,
	}
}

// forbiddenIdentifiers resolve to host-shell primitives and must never
// appear as identifiers in intent source, regardless of context.
var forbiddenIdentifiers = map[string]bool{
	"eval":  true,
	"exec":  true,
	"shell": true,
	"system": true,
	"popen": true,
}

// instructionMarkers flag out-of-band instructions smuggled in comments,
// e.g. a prompt-injection style directive aimed at a downstream LLM or
// operator reading the source.
var instructionMarkers = []string{
	"ignore previous",
	"ignore all previous",
	"disregard the above",
	"system prompt",
	"you are now",
}

// Result is the sanitizer's verdict (spec §4.2: "is_safe: bool plus list of
// violations {kind, risk}").
type Result struct {
	IsSafe     bool
	Violations []Violation
}

// Sanitizer performs L0 checks. It is stateless except for its Limits, so a
// single instance may be shared across concurrent verifications.
type Sanitizer struct {
	limits Limits
}

// New constructs a Sanitizer with the given limits.
func New(limits Limits) *Sanitizer {
	return &Sanitizer{limits: limits}
}

// CheckSource runs the lexical/structural checks against raw intent source
// text, before parsing.
func (s *Sanitizer) CheckSource(src string) Result {
	var violations []Violation

	if len(src) > s.limits.MaxSourceBytes {
		violations = append(violations, Violation{
			Kind: RiskHigh,
			Name: ViolationSourceTooLarge,
			Detail: "source exceeds the configured size ceiling",
		})
	}

	lower := strings.ToLower(src)
	for _, marker := range instructionMarkers {
		if strings.Contains(lower, marker) {
			violations = append(violations, Violation{
				Kind: RiskHigh,
				Name: ViolationInstructionMarker,
				Detail: "out-of-band instruction marker detected: " + marker,
			})
		}
	}

	for _, ident := range tokenizeIdentifiers(src) {
		if forbiddenIdentifiers[strings.ToLower(ident)] {
			violations = append(violations, Violation{
				Kind: RiskHigh,
				Name: ViolationForbiddenIdent,
				Detail: "identifier resolves to a host-shell primitive: " + ident,
			})
		}
	}

	return Result{IsSafe: len(violations) == 0, Violations: violations}
}

// CheckIntent runs the structural-complexity checks against an already
// parsed intent (distinct-identifier and constraint-count ceilings), which
// require the IR rather than raw text.
func (s *Sanitizer) CheckIntent(in *ir.Intent) Result {
	var violations []Violation

	idents := map[string]struct{}{}
	for _, p := range in.Params {
		idents[p.Name] = struct{}{}
	}
	for i := range in.Constraints {
		ir.Identifiers(&in.Constraints[i], idents)
	}
	for i := range in.PostConditions {
		ir.Identifiers(&in.PostConditions[i], idents)
	}
	if len(idents) > s.limits.MaxVariables {
		violations = append(violations, Violation{
			Kind: RiskHigh,
			Name: ViolationTooManyVariables,
			Detail: "distinct identifier count exceeds MAX_VARIABLES",
		})
	}

	totalConstraints := len(in.Constraints) + len(in.PostConditions)
	if totalConstraints > s.limits.MaxConstraints {
		violations = append(violations, Violation{
			Kind: RiskHigh,
			Name: ViolationTooManyConstraints,
			Detail: "total condition count exceeds MAX_CONSTRAINTS",
		})
	}

	return Result{IsSafe: len(violations) == 0, Violations: violations}
}

// tokenizeIdentifiers extracts identifier-shaped runs of characters from
// raw source text, for the forbidden-identifier scan. This is intentionally
// cruder than the real lexer: L0 runs before parsing and must tolerate
// source that may not even be syntactically valid.
func tokenizeIdentifiers(src string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range src {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
