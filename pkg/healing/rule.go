// Copyright 2026 Formal Kernel Authors
//
// Package healing implements the Self-Healing & Adversarial Trainer (spec
// §4.11): a reactive learner loop that turns REJECTED L-1 traces into new
// dynamic semantic.Pattern rules, and a proactive adversarial loop that
// manufactures attack scenarios to find gaps the learner hasn't closed yet.
//
// The rule store is grounded on pkg/strategy/registry.go's
// registry-of-named-strategies shape: an RWMutex-guarded map with
// Register/Get/List/Stats, generalized here from "one strategy per scheme"
// to "one rule per learned AST-pattern-hash" with the addition of the
// TP/FP effectiveness bookkeeping and deactivation spec §4.11 requires.
package healing

import (
	"fmt"
	"sync"
	"time"
)

// AttackTrace is extracted from a REJECTED transaction whose blocking
// layer was L-1 (spec §4.11 learner loop).
type AttackTrace struct {
	AttackType      string
	ASTPatternHash  string
	ASTSkeleton     string
	Timestamp       time.Time
}

// GeneratedHealingRule is one learned dynamic L-1 pattern, persisted
// across restarts via JSON (spec §4.11 "rules persist across restarts via
// JSON serialization").
type GeneratedHealingRule struct {
	ID             string    `json:"id"`
	PatternHash    string    `json:"pattern_hash"`
	ASTSkeleton    string    `json:"ast_skeleton"`
	AttackType     string    `json:"attack_type"`
	CreatedAt      time.Time `json:"created_at"`
	TruePositives  int       `json:"true_positives"`
	FalsePositives int       `json:"false_positives"`
	Observations   int       `json:"observations"`
	Active         bool      `json:"active"`
}

// EffectivenessThreshold and MinObservations gate deactivation (spec
// §4.11: "deactivate rules whose effectiveness falls below threshold
// (default 0.7) after at least 10 observations").
const (
	EffectivenessThreshold = 0.7
	MinObservations        = 10
)

// Effectiveness returns TP/(TP+FP), or 1.0 with zero observations (a rule
// that has never fired has not yet failed).
func (r *GeneratedHealingRule) Effectiveness() float64 {
	total := r.TruePositives + r.FalsePositives
	if total == 0 {
		return 1.0
	}
	return float64(r.TruePositives) / float64(total)
}

// RecordMatch updates a rule's TP/FP counters after a subsequent match is
// adjudicated, and deactivates it if its effectiveness has fallen below
// threshold with enough observations to trust the ratio.
func (r *GeneratedHealingRule) RecordMatch(truePositive bool) {
	if truePositive {
		r.TruePositives++
	} else {
		r.FalsePositives++
	}
	r.Observations++
	if r.Observations >= MinObservations && r.Effectiveness() < EffectivenessThreshold {
		r.Active = false
	}
}

// RuleStore is the registry of learned rules, indexed by pattern hash so
// a trace that recurs updates the existing rule rather than duplicating
// it. Concurrency-safe: L-1 lookups and learner injections can run from
// different goroutines.
type RuleStore struct {
	mu    sync.RWMutex
	rules map[string]*GeneratedHealingRule
}

// NewRuleStore constructs an empty store.
func NewRuleStore() *RuleStore {
	return &RuleStore{rules: make(map[string]*GeneratedHealingRule)}
}

// Register adds or replaces a rule. Returns an error if rule is nil or
// has an empty pattern hash, matching the teacher registry's
// fail-on-nil-or-invalid-key convention.
func (s *RuleStore) Register(rule *GeneratedHealingRule) error {
	if rule == nil {
		return fmt.Errorf("healing: rule cannot be nil")
	}
	if rule.PatternHash == "" {
		return fmt.Errorf("healing: rule pattern hash cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.PatternHash] = rule
	return nil
}

// Get retrieves a rule by pattern hash.
func (s *RuleStore) Get(patternHash string) (*GeneratedHealingRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[patternHash]
	return r, ok
}

// Active returns every currently-active rule, in no particular order.
func (s *RuleStore) Active() []*GeneratedHealingRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*GeneratedHealingRule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// All returns every rule, active or not, for persistence/export.
func (s *RuleStore) All() []*GeneratedHealingRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*GeneratedHealingRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// Stats mirrors the teacher registry's GetStats: a small summary struct
// for operators/dashboards rather than the full rule set.
type Stats struct {
	TotalRules  int `json:"total_rules"`
	ActiveRules int `json:"active_rules"`
}

// GetStats returns current store statistics.
func (s *RuleStore) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{TotalRules: len(s.rules)}
	for _, r := range s.rules {
		if r.Active {
			stats.ActiveRules++
		}
	}
	return stats
}
