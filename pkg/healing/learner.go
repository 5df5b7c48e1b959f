// Copyright 2026 Formal Kernel Authors

package healing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/formalkernel/kernel/pkg/ir"
	"github.com/formalkernel/kernel/pkg/semantic"
)

// Skeletonize reduces an intent to the minimal AST shape the spec calls
// for (§4.11 "minimal AST skeleton shared with the trace"): node kinds
// and operators only, in preorder, with every literal value and
// identifier name erased. Two intents with different variable names or
// constants but the same shape collapse to the same skeleton.
func Skeletonize(in *ir.Intent) string {
	var b strings.Builder
	var walk func(e *ir.Expr)
	walk = func(e *ir.Expr) {
		if e == nil {
			return
		}
		b.WriteString(e.Kind.String())
		if e.Op != "" {
			b.WriteString(":")
			b.WriteString(string(e.Op))
		}
		b.WriteByte('(')
		walk(e.Operand)
		walk(e.Left)
		walk(e.Right)
		walk(e.Inner)
		b.WriteByte(')')
	}
	for i := range in.Constraints {
		walk(&in.Constraints[i])
	}
	for i := range in.PostConditions {
		walk(&in.PostConditions[i])
	}
	return b.String()
}

// HashSkeleton hashes a skeleton string to a short fixed identifier
// suitable as a RuleStore key and a log field.
func HashSkeleton(skeleton string) string {
	sum := sha256.Sum256([]byte(skeleton))
	return hex.EncodeToString(sum[:])[:16]
}

// ExtractTrace builds an AttackTrace from a REJECTED intent whose
// blocking layer was L-1 (spec §4.11).
func ExtractTrace(in *ir.Intent, attackType string, now time.Time) AttackTrace {
	skeleton := Skeletonize(in)
	return AttackTrace{
		AttackType:     attackType,
		ASTPatternHash: HashSkeleton(skeleton),
		ASTSkeleton:    skeleton,
		Timestamp:      now,
	}
}

// skeletonPattern adapts a GeneratedHealingRule into semantic.Pattern: a
// transaction matches the rule when its own skeleton equals the rule's.
type skeletonPattern struct {
	rule *GeneratedHealingRule
}

func (p skeletonPattern) Name() string { return "healed:" + p.rule.PatternHash }

func (p skeletonPattern) Severity() semantic.PatternSeverity {
	return semantic.SeverityHigh
}

func (p skeletonPattern) Detect(in *ir.Intent) (bool, string) {
	if Skeletonize(in) != p.rule.ASTSkeleton {
		return false, ""
	}
	return true, fmt.Sprintf("matches learned pattern for attack type %q", p.rule.AttackType)
}

// Learner is the reactive loop: candidate generation, FP-gated
// validation, and injection into the L-1 analyzer (spec §4.11).
type Learner struct {
	store    *RuleStore
	analyzer *semantic.Analyzer
}

// NewLearner constructs a Learner over the given store and analyzer. The
// analyzer's dynamic pattern table is driven entirely by this Learner;
// nothing else should call InjectDynamicPatterns concurrently.
func NewLearner(store *RuleStore, analyzer *semantic.Analyzer) *Learner {
	return &Learner{store: store, analyzer: analyzer}
}

// HistoricalLimit bounds the rolling legitimate-transaction set used for
// FP validation (spec §4.11 "up to 1000 historical legitimate
// transactions").
const HistoricalLimit = 1000

// HandleTrace derives a candidate rule from trace, validates it against
// historical (at most HistoricalLimit entries are consulted), and injects
// it only if it produces zero false positives. Returns the rule that was
// registered, or nil if the candidate was discarded.
//
// Must complete in well under the 100ms injection budget (spec §4.11
// "injections complete in under 100ms"): FP validation is a single
// skeleton-equality pass over historical, no SMT or I/O involved.
func (l *Learner) HandleTrace(trace AttackTrace, historical []*ir.Intent) (*GeneratedHealingRule, error) {
	if existing, ok := l.store.Get(trace.ASTPatternHash); ok {
		// A recurring pattern: don't re-validate, just note the loop saw
		// it again. TP/FP bookkeeping on subsequent matches happens via
		// Observe, not here.
		return existing, nil
	}

	if len(historical) > HistoricalLimit {
		historical = historical[len(historical)-HistoricalLimit:]
	}
	candidate := skeletonPattern{rule: &GeneratedHealingRule{
		ID:          trace.ASTPatternHash,
		PatternHash: trace.ASTPatternHash,
		ASTSkeleton: trace.ASTSkeleton,
		AttackType:  trace.AttackType,
		CreatedAt:   trace.Timestamp,
		Active:      true,
	}}

	falsePositives := 0
	for _, legit := range historical {
		if matched, _ := candidate.Detect(legit); matched {
			falsePositives++
		}
	}
	if falsePositives > 0 {
		return nil, nil // spec §4.11: "if FP > 0, discard"
	}

	if err := l.store.Register(candidate.rule); err != nil {
		return nil, fmt.Errorf("healing: register rule: %w", err)
	}
	l.reinject()
	return candidate.rule, nil
}

// Observe feeds the ground-truth adjudication of a subsequent match back
// into the rule's TP/FP counters, deactivating it (and re-injecting the
// now-smaller active set) if effectiveness falls below threshold.
func (l *Learner) Observe(patternHash string, truePositive bool) {
	rule, ok := l.store.Get(patternHash)
	if !ok {
		return
	}
	wasActive := rule.Active
	rule.RecordMatch(truePositive)
	if wasActive != rule.Active {
		l.reinject()
	}
}

func (l *Learner) reinject() {
	active := l.store.Active()
	patterns := make([]semantic.Pattern, 0, len(active))
	for _, r := range active {
		patterns = append(patterns, skeletonPattern{rule: r})
	}
	l.analyzer.InjectDynamicPatterns(patterns)
}
