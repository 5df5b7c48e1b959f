// Copyright 2026 Formal Kernel Authors

package healing

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Save writes every rule in the store to path as JSON, the load-bearing
// persistence format (spec §4.11 "rules persist across restarts via JSON
// serialization").
func Save(store *RuleStore, path string) error {
	rules := store.All()
	b, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("healing: marshal rules: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("healing: write rules file: %w", err)
	}
	return nil
}

// Load reads a rule set previously written by Save. A missing file is
// not an error: it means no rules have been learned yet.
func Load(path string) (*RuleStore, error) {
	store := NewRuleStore()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("healing: read rules file: %w", err)
	}
	var rules []*GeneratedHealingRule
	if err := json.Unmarshal(b, &rules); err != nil {
		return nil, fmt.Errorf("healing: unmarshal rules file: %w", err)
	}
	for _, r := range rules {
		if err := store.Register(r); err != nil {
			return nil, fmt.Errorf("healing: restore rule %s: %w", r.PatternHash, err)
		}
	}
	return store, nil
}

// exportView is the read-only operator-facing shape: trimmed to the
// fields a human reviewing learned rules cares about, with the skeleton
// elided since it's unreadable noise outside of debugging.
type exportView struct {
	ID             string  `yaml:"id"`
	AttackType     string  `yaml:"attack_type"`
	Active         bool    `yaml:"active"`
	Effectiveness  float64 `yaml:"effectiveness"`
	TruePositives  int     `yaml:"true_positives"`
	FalsePositives int     `yaml:"false_positives"`
}

// ExportYAML renders the current rule set as a human-readable YAML
// document for operator dashboards/CLI inspection. This is strictly a
// view: Save/Load (JSON) remain the durable source of truth.
func ExportYAML(store *RuleStore) ([]byte, error) {
	rules := store.All()
	views := make([]exportView, 0, len(rules))
	for _, r := range rules {
		views = append(views, exportView{
			ID:             r.ID,
			AttackType:     r.AttackType,
			Active:         r.Active,
			Effectiveness:  r.Effectiveness(),
			TruePositives:  r.TruePositives,
			FalsePositives: r.FalsePositives,
		})
	}
	return yaml.Marshal(views)
}
