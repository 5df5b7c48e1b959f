// Copyright 2026 Formal Kernel Authors

package healing

import (
	"fmt"
	"time"

	"github.com/formalkernel/kernel/pkg/ir"
)

// Scenario is one generated adversarial attempt, tagged with the
// technique that produced it (spec §4.11 adversarial loop (a)/(b)/(c)).
type Scenario struct {
	Technique string
	Intent    *ir.Intent
}

const (
	TechniqueMutation  = "corpus_mutation"
	TechniqueTrojan    = "trojan_synthesis"
	TechniqueDoSSample = "dos_template"
)

// Runner submits one intent through the verification pipeline and
// reports which layer, if any, blocked it. Defined here rather than
// imported from pkg/pipeline to keep the adversarial loop free of a
// dependency on the very thing it is attacking; pkg/kernel wires a
// concrete Runner backed by pkg/pipeline at composition time.
type Runner func(in *ir.Intent) (blockedLayer string, blocked bool)

// Outcome records one scenario's result.
type Outcome struct {
	Scenario     Scenario
	BlockedLayer string
	Blocked      bool
	RelearnedAs  *GeneratedHealingRule
}

// Trainer runs the proactive adversarial loop (spec §4.11).
type Trainer struct {
	learner *Learner
	seed    []*ir.Intent
}

// NewTrainer constructs a Trainer over a seeded corpus of known exploits
// and the Learner it feeds escapees back into.
func NewTrainer(learner *Learner, seedCorpus []*ir.Intent) *Trainer {
	return &Trainer{learner: learner, seed: seedCorpus}
}

// GenerateScenarios produces n candidate attack scenarios, round-robining
// across the three techniques the spec names.
func (t *Trainer) GenerateScenarios(n int) []Scenario {
	if len(t.seed) == 0 {
		return nil
	}
	scenarios := make([]Scenario, 0, n)
	for i := 0; i < n; i++ {
		base := t.seed[i%len(t.seed)]
		switch i % 3 {
		case 0:
			scenarios = append(scenarios, Scenario{Technique: TechniqueMutation, Intent: mutate(base, i)})
		case 1:
			donor := t.seed[(i+1)%len(t.seed)]
			scenarios = append(scenarios, Scenario{Technique: TechniqueTrojan, Intent: graftTrojan(base, donor)})
		default:
			scenarios = append(scenarios, Scenario{Technique: TechniqueDoSSample, Intent: dosTemplate(base, i)})
		}
	}
	return scenarios
}

// Run submits every scenario through runner, and for any that reach L3
// unblocked, re-runs the learner on its traced pattern (spec §4.11: "for
// any scenario that reaches L3 un-blocked, re-runs the learner on the
// traced pattern"). historical is the same rolling legitimate-transaction
// set the reactive learner validates new rules against.
func (t *Trainer) Run(scenarios []Scenario, runner Runner, historical []*ir.Intent, now time.Time) []Outcome {
	outcomes := make([]Outcome, 0, len(scenarios))
	for _, s := range scenarios {
		layer, blocked := runner(s.Intent)
		outcome := Outcome{Scenario: s, BlockedLayer: layer, Blocked: blocked}
		if !blocked {
			trace := ExtractTrace(s.Intent, s.Technique, now)
			rule, err := t.learner.HandleTrace(trace, historical)
			if err == nil {
				outcome.RelearnedAs = rule
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// Report aggregates outcomes for operator visibility (spec §4.11
// "reports aggregated outcomes").
type Report struct {
	Total        int            `json:"total"`
	BlockedCount int            `json:"blocked_count"`
	ByLayer      map[string]int `json:"by_layer"`
	Escaped      int            `json:"escaped"`
	Relearned    int            `json:"relearned"`
}

// Summarize builds a Report from a Run's outcomes.
func Summarize(outcomes []Outcome) Report {
	r := Report{Total: len(outcomes), ByLayer: map[string]int{}}
	for _, o := range outcomes {
		if o.Blocked {
			r.BlockedCount++
			r.ByLayer[o.BlockedLayer]++
		} else {
			r.Escaped++
			if o.RelearnedAs != nil {
				r.Relearned++
			}
		}
	}
	return r
}

// mutate perturbs literal magnitudes in base's constraints, deterministically
// varied by seed so repeated calls produce distinct scenarios without a
// random source (workflow scripts and this package alike avoid
// Math.random-equivalents for reproducibility).
func mutate(base *ir.Intent, seed int) *ir.Intent {
	out := cloneIntent(base)
	delta := int64(seed%97 + 1)
	var walk func(e *ir.Expr)
	walk = func(e *ir.Expr) {
		if e == nil {
			return
		}
		if e.Kind == ir.NodeLiteralInt {
			e.IntValue = e.IntValue*delta + delta
		}
		walk(e.Operand)
		walk(e.Left)
		walk(e.Right)
		walk(e.Inner)
	}
	for i := range out.Constraints {
		walk(&out.Constraints[i])
	}
	for i := range out.PostConditions {
		walk(&out.PostConditions[i])
	}
	return out
}

// graftTrojan pastes donor's first post-condition subtree under host's
// skeleton (spec §4.11(b): "synthesizing trojans that paste malicious
// sub-trees under legitimate function skeletons").
func graftTrojan(host, donor *ir.Intent) *ir.Intent {
	out := cloneIntent(host)
	if len(donor.PostConditions) == 0 {
		return out
	}
	grafted := cloneExpr(&donor.PostConditions[0])
	out.Constraints = append(out.Constraints, *grafted)
	out.Name = host.Name + "_trojan"
	return out
}

// dosTemplate builds a constraint whose left side is a literal wrapped in
// 50-69 nested parentheses (about 70 nodes, well under semantic's
// NODE_LIMIT), the IR analogue of a denial-of-service template
// (spec §4.11(c)).
func dosTemplate(base *ir.Intent, seed int) *ir.Intent {
	out := cloneIntent(base)
	depth := 50 + seed%20
	var e ir.Expr
	e = ir.Expr{Kind: ir.NodeLiteralInt, IntValue: 1}
	for i := 0; i < depth; i++ {
		inner := e
		e = ir.Expr{Kind: ir.NodeParen, Inner: &inner}
	}
	out.Constraints = append(out.Constraints, ir.Expr{
		Kind: ir.NodeComparison, Op: ir.OpGeq,
		Left:  &e,
		Right: &ir.Expr{Kind: ir.NodeLiteralInt, IntValue: 0},
	})
	out.Name = fmt.Sprintf("%s_dos_%d", base.Name, depth)
	return out
}

func cloneIntent(in *ir.Intent) *ir.Intent {
	out := &ir.Intent{
		Name:           in.Name,
		Params:         append([]ir.Param(nil), in.Params...),
		Constraints:    make([]ir.Expr, len(in.Constraints)),
		PostConditions: make([]ir.Expr, len(in.PostConditions)),
	}
	for i := range in.Constraints {
		out.Constraints[i] = *cloneExpr(&in.Constraints[i])
	}
	for i := range in.PostConditions {
		out.PostConditions[i] = *cloneExpr(&in.PostConditions[i])
	}
	return out
}

func cloneExpr(e *ir.Expr) *ir.Expr {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Operand = cloneExpr(e.Operand)
	clone.Left = cloneExpr(e.Left)
	clone.Right = cloneExpr(e.Right)
	clone.Inner = cloneExpr(e.Inner)
	return &clone
}
