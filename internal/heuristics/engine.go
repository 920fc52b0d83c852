package heuristics

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/formsentry/formsentry/api/schemas"
)

// Engine evaluates the enabled rules against a detection context. Danger
// rules run first, all of them; a single danger match settles the verdict and
// the safe rules are never consulted. Evaluation is pure and safe to run
// concurrently; rule registration should happen during setup or be externally
// serialized against in-flight Analyze calls.
type Engine struct {
	mu     sync.RWMutex
	rules  map[string]Rule
	order  []string
	logger *zap.Logger
}

// NewEngine creates an empty engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		rules:  make(map[string]Rule),
		logger: logger.Named("heuristics"),
	}
}

// NewEngineWithRules creates an engine pre-loaded with the given rules,
// typically a registry's SortedByPriority snapshot.
func NewEngineWithRules(logger *zap.Logger, rules []Rule) (*Engine, error) {
	e := NewEngine(logger)
	for _, rule := range rules {
		if err := e.RegisterRule(rule); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// RegisterRule upserts a rule by ID, replacing any previous descriptor
// wholesale.
func (e *Engine) RegisterRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; !exists {
		e.order = append(e.order, rule.ID)
	}
	e.rules[rule.ID] = rule
	return nil
}

// UnregisterRule removes a rule, reporting whether it existed.
func (e *Engine) UnregisterRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return false
	}
	delete(e.rules, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// SetRuleEnabled toggles a rule, reporting whether the ID is known.
func (e *Engine) SetRuleEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[id]
	if !ok {
		return false
	}
	e.rules[id] = rule.WithEnabled(enabled)
	return true
}

// Rules returns a snapshot of the registered rules in insertion order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.order))
	for _, id := range e.order {
		if rule, ok := e.rules[id]; ok {
			out = append(out, rule)
		}
	}
	return out
}

// Analyze runs the two-phase rule evaluation and reduces the matches to a
// single verdict with the maximum confidence among them.
func (e *Engine) Analyze(ctx *schemas.DetectionContext) schemas.DetectionResult {
	danger, safe := e.enabledByCategory()

	if matches, confidence := e.evaluate(danger, ctx); len(matches) > 0 {
		return schemas.DetectionResult{
			Verdict:      schemas.VerdictDangerous,
			Confidence:   confidence,
			MatchedRules: matches,
			Reason:       reasonFor("danger", matches),
		}
	}

	if matches, confidence := e.evaluate(safe, ctx); len(matches) > 0 {
		return schemas.DetectionResult{
			Verdict:      schemas.VerdictSafe,
			Confidence:   confidence,
			MatchedRules: matches,
			Reason:       reasonFor("safe", matches),
		}
	}

	return schemas.DetectionResult{
		Verdict: schemas.VerdictUnknown,
		Reason:  "no rule matched",
	}
}

// enabledByCategory partitions the enabled rules and sorts each set by
// descending priority, stable on ties.
func (e *Engine) enabledByCategory() (danger, safe []Rule) {
	e.mu.RLock()
	for _, id := range e.order {
		rule, ok := e.rules[id]
		if !ok || !rule.Enabled {
			continue
		}
		switch rule.Category {
		case schemas.CategoryDanger:
			danger = append(danger, rule)
		case schemas.CategorySafe:
			safe = append(safe, rule)
		}
	}
	e.mu.RUnlock()

	byPriority := func(rules []Rule) {
		sort.SliceStable(rules, func(i, j int) bool {
			return rules[i].Priority > rules[j].Priority
		})
	}
	byPriority(danger)
	byPriority(safe)
	return danger, safe
}

// evaluate runs every rule in order, never short-circuiting within the set,
// and returns the matches plus the maximum confidence among them.
func (e *Engine) evaluate(rules []Rule, ctx *schemas.DetectionContext) ([]schemas.RuleMatch, float64) {
	var matches []schemas.RuleMatch
	var maxConfidence float64
	for _, rule := range rules {
		result := e.check(rule, ctx)
		if !result.Matched {
			continue
		}
		matches = append(matches, schemas.RuleMatch{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Result:   result,
		})
		if result.Confidence > maxConfidence {
			maxConfidence = result.Confidence
		}
	}
	return matches, maxConfidence
}

// check isolates a single rule evaluation: a panicking rule is downgraded to
// a non-match instead of aborting the batch.
func (e *Engine) check(rule Rule, ctx *schemas.DetectionContext) (result schemas.RuleCheckResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Rule check panicked, treating as non-match",
				zap.String("rule_id", rule.ID),
				zap.Any("panic", r))
			result = schemas.NoMatch()
		}
	}()
	return rule.Check(ctx)
}

func reasonFor(category string, matches []schemas.RuleMatch) string {
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = fmt.Sprintf("%s %s", m.RuleID, m.RuleName)
	}
	return fmt.Sprintf("matched %s rules: %s", category, strings.Join(names, ", "))
}
