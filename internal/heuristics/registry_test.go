package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formsentry/formsentry/api/schemas"
)

func alwaysMatch(confidence float64) CheckFunc {
	return func(*schemas.DetectionContext) schemas.RuleCheckResult {
		return schemas.Match(confidence, nil)
	}
}

func customRule(id string, category schemas.RuleCategory, priority int) Rule {
	return Rule{
		ID:       id,
		Name:     "custom_" + id,
		Category: category,
		Priority: priority,
		Enabled:  true,
		Check:    alwaysMatch(0.5),
	}
}

func TestRegistry_SeededWithBuiltins(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	assert.Equal(t, 8, reg.Len())
	assert.Len(t, reg.ByCategory(schemas.CategoryDanger), 5)
	assert.Len(t, reg.ByCategory(schemas.CategorySafe), 3)
	for _, rule := range reg.All() {
		assert.True(t, rule.Enabled, "builtin %s should start enabled", rule.ID)
	}
}

func TestRegistry_RegisterUpsert(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	require.NoError(t, reg.Register(customRule("X001", schemas.CategoryDanger, 50)))
	assert.Equal(t, 9, reg.Len())

	// Re-registering the same ID replaces, not duplicates.
	updated := customRule("X001", schemas.CategoryDanger, 60)
	require.NoError(t, reg.Register(updated))
	assert.Equal(t, 9, reg.Len())
	got, ok := reg.Get("X001")
	require.True(t, ok)
	assert.Equal(t, 60, got.Priority)
}

func TestRegistry_RegisterRejectsInvalid(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	assert.Error(t, reg.Register(Rule{ID: "", Name: "x", Category: schemas.CategoryDanger, Check: alwaysMatch(1)}))
	assert.Error(t, reg.Register(Rule{ID: "X", Name: "x", Category: "WEIRD", Check: alwaysMatch(1)}))
	assert.Error(t, reg.Register(Rule{ID: "X", Name: "x", Category: schemas.CategorySafe}))
}

func TestRegistry_Unregister(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	assert.True(t, reg.Unregister("D001"))
	assert.False(t, reg.Unregister("D001"))
	assert.Equal(t, 7, reg.Len())
	_, ok := reg.Get("D001")
	assert.False(t, ok)
}

func TestRegistry_EnableDisable(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	assert.True(t, reg.Disable("D002"))
	got, ok := reg.Get("D002")
	require.True(t, ok)
	assert.False(t, got.Enabled)
	assert.Len(t, reg.Enabled(), 7)

	assert.True(t, reg.Enable("D002"))
	assert.Len(t, reg.Enabled(), 8)

	assert.False(t, reg.Enable("nope"))
	assert.False(t, reg.Disable("nope"))
}

func TestRegistry_DisableDoesNotMutateSnapshots(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	before := reg.All()
	require.True(t, reg.Disable("D001"))

	// The snapshot taken before the toggle is unaffected.
	for _, rule := range before {
		assert.True(t, rule.Enabled)
	}
}

func TestRegistry_SortedByPriority(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	require.NoError(t, reg.Register(customRule("X100A", schemas.CategoryDanger, 100)))
	require.NoError(t, reg.Register(customRule("X100B", schemas.CategoryDanger, 100)))

	sorted := reg.SortedByPriority()
	priorities := make([]int, len(sorted))
	for i, rule := range sorted {
		priorities[i] = rule.Priority
	}
	for i := 1; i < len(priorities); i++ {
		assert.GreaterOrEqual(t, priorities[i-1], priorities[i])
	}

	// Equal priorities keep insertion order: D001 and S001 (both 100, seeded
	// first) precede the custom rules, and X100A precedes X100B.
	idxOf := func(id string) int {
		for i, rule := range sorted {
			if rule.ID == id {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idxOf("D001"), idxOf("X100A"))
	assert.Less(t, idxOf("X100A"), idxOf("X100B"))
}

func TestRegistry_ResetIsIdempotent(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	// Arbitrary churn.
	require.NoError(t, reg.Register(customRule("X001", schemas.CategorySafe, 10)))
	reg.Unregister("D003")
	reg.Disable("D001")
	reg.Disable("S002")
	reg.Clear()
	require.NoError(t, reg.Register(customRule("X002", schemas.CategoryDanger, 99)))

	for i := 0; i < 3; i++ {
		reg.Reset()
		assert.Equal(t, 8, reg.Len())
		for _, rule := range reg.All() {
			assert.True(t, rule.Enabled, "after reset %s must be enabled", rule.ID)
		}
		_, hasCustom := reg.Get("X001")
		assert.False(t, hasCustom)
		_, hasD003 := reg.Get("D003")
		assert.True(t, hasD003)
	}
}

func TestRegistry_ClearRemovesEverything(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Clear()
	assert.Zero(t, reg.Len())
	assert.Empty(t, reg.All())
}
