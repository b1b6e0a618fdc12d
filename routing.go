package iudex

import (
	"context"
	"fmt"
	"sync"

	"github.com/NicholasJacob1990/iudex/script"
)

// compiledHILRule pairs a routing rule with its compiled condition.
type compiledHILRule struct {
	rule      HILRule
	condition script.Script
}

// RoutingTable decides which stage a paused run resumes into, based on the
// human decision delivered to it. Rules are evaluated in order; the first
// match wins, and a decision matching no rule resumes at the default stage.
type RoutingTable struct {
	rules         []compiledHILRule
	defaultResume Stage
}

// NewRoutingTable compiles the routing rules. Rule conditions see a
// "decision" global with the action, edited field and note.
func NewRoutingTable(compiler script.Compiler, rules []HILRule, defaultResume Stage) (*RoutingTable, error) {
	if !resumeTargets[defaultResume] {
		return nil, fmt.Errorf("default resume stage %q is not a valid resume target", defaultResume)
	}
	table := &RoutingTable{defaultResume: defaultResume}
	for _, rule := range rules {
		compiled := compiledHILRule{rule: rule}
		if rule.Condition != "" {
			condition, err := compiler.Compile(context.Background(), rule.Condition)
			if err != nil {
				return nil, fmt.Errorf("failed to compile routing condition %q: %w", rule.Condition, err)
			}
			compiled.condition = condition
		}
		table.rules = append(table.rules, compiled)
	}
	return table, nil
}

// Resolve returns the stage to resume into and the rationale for the choice.
func (t *RoutingTable) Resolve(ctx context.Context, decision HumanDecision) (Stage, string, error) {
	globals := map[string]any{
		"decision": map[string]any{
			"actor":        decision.Actor,
			"action":       decision.Action,
			"edited_field": decision.EditedField,
			"note":         decision.Note,
		},
	}
	for _, compiled := range t.rules {
		if compiled.rule.Field != "" && compiled.rule.Field != decision.EditedField {
			continue
		}
		if compiled.condition != nil {
			value, err := compiled.condition.Evaluate(ctx, globals)
			if err != nil {
				return "", "", fmt.Errorf("failed to evaluate routing condition %q: %w", compiled.rule.Condition, err)
			}
			if !value.IsTruthy() {
				continue
			}
		}
		rationale := fmt.Sprintf("matched rule (field=%q condition=%q)", compiled.rule.Field, compiled.rule.Condition)
		return compiled.rule.Resume, rationale, nil
	}
	return t.defaultResume, "no rule matched, using default resume stage", nil
}

// compiledDrafterRule pairs a drafter rule with its compiled condition.
type compiledDrafterRule struct {
	rule      DrafterRule
	condition script.Script
}

// ModelRouter picks the primary drafter model for each section. Rules are
// evaluated in order against the section metadata; sections matching no rule
// rotate across the configured drafters.
type ModelRouter struct {
	rules    []compiledDrafterRule
	drafters []string

	mu   sync.Mutex
	next int
}

// NewModelRouter compiles the drafter rules. Rule conditions see a "section"
// global with the section name, brief, complexity and tags.
func NewModelRouter(compiler script.Compiler, rules []DrafterRule, drafters []string) (*ModelRouter, error) {
	if len(drafters) == 0 {
		return nil, fmt.Errorf("at least one drafter model required")
	}
	router := &ModelRouter{drafters: drafters}
	for _, rule := range rules {
		compiled := compiledDrafterRule{rule: rule}
		if rule.Condition != "" {
			condition, err := compiler.Compile(context.Background(), rule.Condition)
			if err != nil {
				return nil, fmt.Errorf("failed to compile drafter condition %q: %w", rule.Condition, err)
			}
			compiled.condition = condition
		}
		router.rules = append(router.rules, compiled)
	}
	return router, nil
}

// Route returns the chosen model and the rationale for the choice.
func (r *ModelRouter) Route(ctx context.Context, section OutlineSection) (string, string, error) {
	tags := make([]any, len(section.Tags))
	for i, tag := range section.Tags {
		tags[i] = tag
	}
	globals := map[string]any{
		"section": map[string]any{
			"name":       section.Name,
			"brief":      section.Brief,
			"complexity": section.Complexity,
			"tags":       tags,
		},
	}
	for _, compiled := range r.rules {
		if compiled.condition != nil {
			value, err := compiled.condition.Evaluate(ctx, globals)
			if err != nil {
				return "", "", fmt.Errorf("failed to evaluate drafter condition %q: %w", compiled.rule.Condition, err)
			}
			if !value.IsTruthy() {
				continue
			}
		}
		rationale := fmt.Sprintf("matched rule %q", compiled.rule.Condition)
		return compiled.rule.Model, rationale, nil
	}
	r.mu.Lock()
	model := r.drafters[r.next%len(r.drafters)]
	r.next++
	r.mu.Unlock()
	return model, "no rule matched, rotating across drafters", nil
}
