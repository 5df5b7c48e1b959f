// Copyright 2026 Formal Kernel Authors
//
// Package semantic implements L-1 of the defense pipeline: a structural
// analysis of the parsed intent AST, bounded by a hard wall-clock budget and
// an AST node ceiling, that flags entropy anomalies and known-bad shapes
// before the more expensive conservation/overflow/judge layers run.
package semantic

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/formalkernel/kernel/pkg/ir"
)

// NodeLimit is the default AST node ceiling (NODE_LIMIT). Exceeding it is an
// immediate rejection, independent of the wall-clock budget.
const NodeLimit = 1000

// WallBudget is the hard end-to-end time budget for one analysis.
const WallBudget = 100 * time.Millisecond

// EntropyFlagThreshold is the normalized Shannon-entropy score at or above
// which an intent is flagged.
const EntropyFlagThreshold = 0.8

// PatternSeverity grades a detected pattern.
type PatternSeverity string

const (
	SeverityHigh   PatternSeverity = "HIGH"
	SeverityMedium PatternSeverity = "MEDIUM"
)

// DetectedPattern names one matched static or dynamic rule.
type DetectedPattern struct {
	Name     string
	Severity PatternSeverity
	Detail   string
}

// Result is the semantic analyzer's verdict (spec §4.3:
// "SanitizationResult{is_safe, entropy_score, detected_patterns[]}").
type Result struct {
	IsSafe           bool
	EntropyScore     float64
	DetectedPatterns []DetectedPattern
	NodeCount        int
}

// Pattern is a single static or dynamic detection rule evaluated against a
// parsed intent. Patterns never mutate the intent.
type Pattern interface {
	Name() string
	Severity() PatternSeverity
	Detect(in *ir.Intent) (matched bool, detail string)
}

// Analyzer performs L-1 semantic analysis. Dynamic patterns (learned by the
// self-healing subsystem) are held behind a RWMutex-guarded pointer swap so
// an in-flight analysis always observes a single, untorn snapshot of the
// rule set — never a mix of pre- and post-injection rules.
type Analyzer struct {
	static  []Pattern
	mu      sync.RWMutex
	dynamic []Pattern
}

// New constructs an Analyzer with the built-in static pattern set.
func New() *Analyzer {
	return &Analyzer{
		static: []Pattern{
			deepNestingPattern{maxDepth: 32},
			selfReferentialPostConditionPattern{},
			unboundedGrowthPattern{maxMagnitude: 1 << 48},
		},
	}
}

// InjectDynamicPatterns atomically replaces the dynamic pattern table. The
// swap is a single pointer write under the write lock, so readers never
// observe a partially-updated slice.
func (a *Analyzer) InjectDynamicPatterns(patterns []Pattern) {
	a.mu.Lock()
	a.dynamic = patterns
	a.mu.Unlock()
}

func (a *Analyzer) snapshotDynamic() []Pattern {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dynamic
}

// Analyze walks the intent's constraints and post-conditions once (O(N)
// walk, spec §4.3) to count nodes and compute the node-kind entropy score,
// then runs every static and dynamic pattern, each of which walks the
// intent on its own. It enforces the wall-clock budget via
// ctx: if the budget elapses before analysis completes, the partial result
// is discarded and reported unsafe (fail-closed, matching the Judge's
// solve-protocol posture).
func (a *Analyzer) Analyze(ctx context.Context, in *ir.Intent) Result {
	ctx, cancel := context.WithTimeout(ctx, WallBudget)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		done <- a.analyze(in)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Result{IsSafe: false, DetectedPatterns: []DetectedPattern{{
			Name:     "wall_budget_exceeded",
			Severity: SeverityHigh,
			Detail:   "analysis did not complete within the 100ms wall budget",
		}}}
	}
}

func (a *Analyzer) analyze(in *ir.Intent) Result {
	counts := map[ir.NodeKind]int{}
	nodeCount := 0
	tally := func(e *ir.Expr) {
		ir.Visit(e, func(n *ir.Expr) {
			counts[n.Kind]++
			nodeCount++
		})
	}
	for i := range in.Constraints {
		tally(&in.Constraints[i])
	}
	for i := range in.PostConditions {
		tally(&in.PostConditions[i])
	}

	if nodeCount > NodeLimit {
		return Result{
			IsSafe:    false,
			NodeCount: nodeCount,
			DetectedPatterns: []DetectedPattern{{
				Name:     "node_limit_exceeded",
				Severity: SeverityHigh,
				Detail:   "parsed tree exceeds NODE_LIMIT",
			}},
		}
	}

	entropy := shannonEntropy(counts, nodeCount)

	var detected []DetectedPattern
	for _, p := range a.static {
		if matched, detail := p.Detect(in); matched {
			detected = append(detected, DetectedPattern{Name: p.Name(), Severity: p.Severity(), Detail: detail})
		}
	}
	for _, p := range a.snapshotDynamic() {
		if matched, detail := p.Detect(in); matched {
			detected = append(detected, DetectedPattern{Name: p.Name(), Severity: p.Severity(), Detail: detail})
		}
	}

	flaggedEntropy := entropy >= EntropyFlagThreshold
	isSafe := !flaggedEntropy && !anyHighSeverity(detected)

	return Result{
		IsSafe:           isSafe,
		EntropyScore:     entropy,
		DetectedPatterns: detected,
		NodeCount:        nodeCount,
	}
}

func anyHighSeverity(patterns []DetectedPattern) bool {
	for _, p := range patterns {
		if p.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// shannonEntropy computes the Shannon entropy of the node-kind distribution,
// normalized to [0,1] by dividing by log2 of the number of distinct kinds
// observed (the maximum entropy for that many categories).
func shannonEntropy(counts map[ir.NodeKind]int, total int) float64 {
	if total == 0 || len(counts) <= 1 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	maxH := math.Log2(float64(len(counts)))
	if maxH == 0 {
		return 0
	}
	return h / maxH
}

// deepNestingPattern is the structural analogue of the "resource exhaustion
// heuristic" (spec §4.3: nested loops with user-controlled, unbounded
// bounds). This IR has no loop construct, so the proxy signal is expression
// nesting depth: deeply nested parenthesized/arithmetic expressions are the
// closest this grammar gets to unbounded structural growth.
type deepNestingPattern struct {
	maxDepth int
}

func (deepNestingPattern) Name() string                { return "deep_nesting" }
func (deepNestingPattern) Severity() PatternSeverity    { return SeverityHigh }
func (p deepNestingPattern) Detect(in *ir.Intent) (bool, string) {
	deepest := 0
	var walkDepth func(e *ir.Expr, depth int)
	walkDepth = func(e *ir.Expr, depth int) {
		if e == nil {
			return
		}
		if depth > deepest {
			deepest = depth
		}
		walkDepth(e.Operand, depth+1)
		walkDepth(e.Left, depth+1)
		walkDepth(e.Right, depth+1)
		walkDepth(e.Inner, depth+1)
	}
	for i := range in.Constraints {
		walkDepth(&in.Constraints[i], 1)
	}
	for i := range in.PostConditions {
		walkDepth(&in.PostConditions[i], 1)
	}
	if deepest > p.maxDepth {
		return true, "expression nesting depth exceeds the configured ceiling"
	}
	return false, ""
}

// selfReferentialPostConditionPattern is the analogue of "unconditional
// recursion" (a function referencing itself on every path with no base
// case): a post-condition of the form `x == x` with no old_-prefixed
// variable anywhere on the right side has no base derived from prior state.
type selfReferentialPostConditionPattern struct{}

func (selfReferentialPostConditionPattern) Name() string             { return "self_referential_post_condition" }
func (selfReferentialPostConditionPattern) Severity() PatternSeverity { return SeverityHigh }
func (selfReferentialPostConditionPattern) Detect(in *ir.Intent) (bool, string) {
	for i := range in.PostConditions {
		pc := &in.PostConditions[i]
		if pc.Kind != ir.NodeComparison || pc.Op != ir.OpEq {
			continue
		}
		if pc.Left == nil || pc.Right == nil || pc.Left.Kind != ir.NodeIdentifier {
			continue
		}
		refsOld := false
		ir.Visit(pc.Right, func(n *ir.Expr) {
			if n.Kind == ir.NodeIdentifier && ir.IsOldPrefixed(n.Name) {
				refsOld = true
			}
		})
		if !refsOld {
			identsOnRight := map[string]struct{}{}
			ir.Identifiers(pc.Right, identsOnRight)
			if _, sameVar := identsOnRight[pc.Left.Name]; sameVar && len(identsOnRight) == 1 {
				return true, "post-condition for " + pc.Left.Name + " has no base derived from prior state"
			}
		}
	}
	return false, ""
}

// unboundedGrowthPattern flags literal magnitudes so large relative to the
// declared numeric domain that repeated multiplication against them would
// overflow essentially any realistic balance before the overflow checker
// (L2) even sees the expression — the IR analogue of "unbounded loop".
type unboundedGrowthPattern struct {
	maxMagnitude int64
}

func (unboundedGrowthPattern) Name() string             { return "unbounded_growth_literal" }
func (unboundedGrowthPattern) Severity() PatternSeverity { return SeverityMedium }
func (p unboundedGrowthPattern) Detect(in *ir.Intent) (bool, string) {
	found := false
	check := func(e *ir.Expr) {
		ir.Visit(e, func(n *ir.Expr) {
			if n.Kind == ir.NodeLiteralInt && (n.IntValue > p.maxMagnitude || n.IntValue < -p.maxMagnitude) {
				found = true
			}
		})
	}
	for i := range in.Constraints {
		check(&in.Constraints[i])
	}
	for i := range in.PostConditions {
		check(&in.PostConditions[i])
	}
	if found {
		return true, "literal magnitude exceeds the configured growth ceiling"
	}
	return false, ""
}
