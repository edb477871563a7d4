package cost

import (
	"testing"

	"github.com/asteroniris/asteroniris/pkg/config"
)

func newTestTracker(t *testing.T, dailyLimit float64) *CostTracker {
	t.Helper()
	cfg := &config.CostConfig{
		Enabled:         true,
		DailyLimitUSD:   dailyLimit,
		MonthlyLimitUSD: dailyLimit * 30,
		WarnAtPercent:   80,
		Prices: map[string]config.ModelPriceConfig{
			"test-model": {Input: 1.0, Output: 1.0},
		},
	}
	ct, err := NewCostTracker(cfg, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return ct
}

func TestRecordUsage_FallsBackToSharedEntity(t *testing.T) {
	ct := newTestTracker(t, 100)
	ct.RecordUsage("test-model", 1_000_000, 0)

	shared := ct.GetEntitySummary(sharedCostEntity)
	if shared.SessionCostUSD <= 0 {
		t.Errorf("expected shared entity to accrue cost, got %+v", shared)
	}
}

func TestRecordEntityUsage_IsolatesEntities(t *testing.T) {
	ct := newTestTracker(t, 100)
	ct.RecordEntityUsage("alice", "test-model", 1_000_000, 0)
	ct.RecordEntityUsage("bob", "test-model", 2_000_000, 0)

	alice := ct.GetEntitySummary("alice")
	bob := ct.GetEntitySummary("bob")

	if alice.RequestCount != 1 || alice.TotalTokens != 1_000_000 {
		t.Errorf("expected alice to have 1 request / 1M tokens, got %+v", alice)
	}
	if bob.RequestCount != 1 || bob.TotalTokens != 2_000_000 {
		t.Errorf("expected bob to have 1 request / 2M tokens, got %+v", bob)
	}
	if alice.SessionCostUSD >= bob.SessionCostUSD {
		t.Errorf("expected bob's cost to exceed alice's, got alice=%v bob=%v", alice.SessionCostUSD, bob.SessionCostUSD)
	}

	overall := ct.GetSummary()
	if overall.RequestCount != 2 {
		t.Errorf("expected tracker-wide summary to see both requests, got %+v", overall)
	}
}

func TestCheckEntityBudget_ExceedsIndependentlyOfOtherEntities(t *testing.T) {
	ct := newTestTracker(t, 1) // $1/day limit

	// Bob spends right up to his own limit; Alice should be unaffected.
	ct.RecordEntityUsage("bob", "test-model", 1_000_000, 0) // $1

	aliceCheck := ct.CheckEntityBudget("alice", 0.10)
	if aliceCheck.Status == BudgetExceeded {
		t.Errorf("expected alice's own budget to be unaffected by bob's spend, got %+v", aliceCheck)
	}

	bobCheck := ct.CheckEntityBudget("bob", 0.50)
	if bobCheck.Status != BudgetExceeded {
		t.Errorf("expected bob to have exceeded his daily budget, got %+v", bobCheck)
	}
}

func TestCheckEntityBudget_EmptyEntityUsesSharedBucket(t *testing.T) {
	ct := newTestTracker(t, 1)
	ct.RecordUsage("test-model", 1_000_000, 0) // recorded under sharedCostEntity

	check := ct.CheckEntityBudget("", 0.50)
	if check.Status != BudgetExceeded {
		t.Errorf("expected empty entity to resolve to the shared bucket and exceed budget, got %+v", check)
	}
}
