// Package heuristics contains the rule model, the built-in danger/safe rule
// set, the rule registry, and the priority-ordered evaluation engine that
// turns a DetectionContext into a verdict.
package heuristics

import (
	"fmt"
	"strings"

	"github.com/formsentry/formsentry/api/schemas"
)

// CheckFunc is a pure predicate over a detection context. It must not mutate
// the context or perform I/O; a panic inside a check is treated by the engine
// as a non-match.
type CheckFunc func(ctx *schemas.DetectionContext) schemas.RuleCheckResult

// Rule is an immutable rule descriptor. Rules are passed and stored by value;
// state changes (enable/disable) produce a modified copy via WithEnabled so
// snapshots handed out by the registry stay safe to share.
type Rule struct {
	ID          string
	Name        string
	Description string
	Category    schemas.RuleCategory
	Priority    int
	Enabled     bool
	Tags        []string
	Check       CheckFunc
}

// Validate reports whether the descriptor is well formed.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule: id must not be empty")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule %s: name must not be empty", r.ID)
	}
	if r.Category != schemas.CategoryDanger && r.Category != schemas.CategorySafe {
		return fmt.Errorf("rule %s: unknown category %q", r.ID, r.Category)
	}
	if r.Check == nil {
		return fmt.Errorf("rule %s: check function must be set", r.ID)
	}
	return nil
}

// WithEnabled returns a copy of the rule with the enabled flag set.
func (r Rule) WithEnabled(enabled bool) Rule {
	r.Enabled = enabled
	return r
}
