package heuristics

import (
	"sort"
	"sync"

	"github.com/formsentry/formsentry/api/schemas"
)

// Registry is the in-memory rule catalogue. It is seeded with the built-in
// rule set and supports upsert, enable/disable and ordered snapshots. It has
// no side effects beyond its own state; the engine holds the authoritative
// runtime rule store, a registry configures one at construction time.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
	order []string // insertion order, the tie-breaker for equal priorities
}

// NewRegistry returns a registry pre-seeded with the built-in rules.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// Register upserts a rule by ID. A re-registered rule keeps its original
// insertion position so priority ties remain stable.
func (r *Registry) Register(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[rule.ID]; !exists {
		r.order = append(r.order, rule.ID)
	}
	r.rules[rule.ID] = rule
	return nil
}

// Unregister removes a rule, reporting whether it existed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return false
	}
	delete(r.rules, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the rule with the given ID.
func (r *Registry) Get(id string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	return rule, ok
}

// All returns a snapshot of every rule in insertion order.
func (r *Registry) All() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(Rule) bool { return true })
}

// ByCategory returns a snapshot of the rules in the given category.
func (r *Registry) ByCategory(cat schemas.RuleCategory) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(rule Rule) bool { return rule.Category == cat })
}

// Enabled returns a snapshot of the enabled rules.
func (r *Registry) Enabled() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(rule Rule) bool { return rule.Enabled })
}

// Enable marks a rule enabled, reporting whether the ID is known.
func (r *Registry) Enable(id string) bool { return r.setEnabled(id, true) }

// Disable marks a rule disabled, reporting whether the ID is known.
func (r *Registry) Disable(id string) bool { return r.setEnabled(id, false) }

func (r *Registry) setEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return false
	}
	r.rules[id] = rule.WithEnabled(enabled)
	return true
}

// SortedByPriority returns a snapshot sorted by descending priority; rules of
// equal priority keep their insertion order.
func (r *Registry) SortedByPriority() []Rule {
	rules := r.All()
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return rules
}

// Clear removes every rule, built-ins included.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = make(map[string]Rule)
	r.order = nil
}

// Reset restores the catalogue to exactly the built-in rule set, all enabled,
// discarding any custom registrations and local enable/disable state.
func (r *Registry) Reset() {
	builtins := BuiltinRules()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = make(map[string]Rule, len(builtins))
	r.order = make([]string, 0, len(builtins))
	for _, rule := range builtins {
		r.rules[rule.ID] = rule
		r.order = append(r.order, rule.ID)
	}
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

func (r *Registry) snapshotLocked(keep func(Rule) bool) []Rule {
	out := make([]Rule, 0, len(r.order))
	for _, id := range r.order {
		if rule, ok := r.rules[id]; ok && keep(rule) {
			out = append(out, rule)
		}
	}
	return out
}
