package subscription

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plansYAML = `
plans:
  - type: monthly
    id: plan_M
    name: Pro Monthly
    price: {amount: 19900, currency: INR}
    period_months: 1
    total_count: 12
  - type: yearly
    id: plan_Y
    name: Pro Yearly
    price: {amount: 199900, currency: INR}
    period_months: 12
    total_count: 10
`

func TestParsePlans(t *testing.T) {
	t.Parallel()

	t.Run("valid table", func(t *testing.T) {
		t.Parallel()

		plans, err := ParsePlans([]byte(plansYAML))
		require.NoError(t, err)
		require.Len(t, plans, 2)

		yearly := plans[PlanYearly]
		assert.Equal(t, "plan_Y", yearly.ID)
		assert.Equal(t, 10, yearly.TotalCount)
		assert.Equal(t, Money{Amount: 199900, Currency: "INR"}, yearly.Price)
		assert.Equal(t, 12, plans[PlanMonthly].TotalCount)
	})

	cases := map[string]string{
		"malformed":     "plans: [",
		"empty":         "plans: []",
		"unknown type":  "plans:\n  - {type: weekly, id: p, total_count: 1}",
		"missing id":    "plans:\n  - {type: monthly, total_count: 1}",
		"zero count":    "plans:\n  - {type: monthly, id: p}",
		"duplicate":     "plans:\n  - {type: monthly, id: a, total_count: 1}\n  - {type: monthly, id: b, total_count: 1}",
		"no plans root": "other: true",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := ParsePlans([]byte(doc))
			assert.ErrorIs(t, err, ErrPlanSource)
		})
	}
}

func TestYAMLPlans_Load(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(plansYAML), 0o600))

	plans, err := YAMLPlans{Path: path}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "plan_M", plans[PlanMonthly].ID)

	_, err = YAMLPlans{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Load(context.Background())
	assert.ErrorIs(t, err, ErrPlanSource)

	cfg := DefaultConfig()
	cfg.PlansFile = path
	assert.Equal(t, YAMLPlans{Path: path}, cfg.PlanSource())
	assert.IsType(t, Plans{}, DefaultConfig().PlanSource())
}

func TestPlan_PeriodEnd(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, start.AddDate(0, 1, 0), DefaultPlans()[PlanMonthly].PeriodEnd(start))
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), DefaultPlans()[PlanYearly].PeriodEnd(start))
	assert.Equal(t, start.AddDate(0, 1, 0), Plan{}.PeriodEnd(start))
}

func TestPlans_LoadCopies(t *testing.T) {
	t.Parallel()

	src := DefaultPlans()
	loaded, err := src.Load(context.Background())
	require.NoError(t, err)

	delete(loaded, PlanYearly)
	assert.Len(t, src, 2)
}
