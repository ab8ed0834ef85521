package quota

import (
	"context"
	"testing"
	"time"

	"github.com/inletapp/go-inbox/core"
)

func newTestTracker(t *testing.T, config core.QuotaConfig) *Tracker {
	t.Helper()
	tracker, err := NewTracker(NewMemoryCounterStore(), config)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	tracker.Now = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }
	return tracker
}

func TestTracker_ZoneTransitionsAreMonotonic(t *testing.T) {
	tracker := newTestTracker(t, core.QuotaConfig{DefaultDailyBudget: 100, MinimalCostUnits: 1})
	ctx := context.Background()

	decision, err := tracker.Record(ctx, "youtube", 50)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if decision.Zone != ZoneNormal {
		t.Fatalf("expected normal zone at 50%%; got %s", decision.Zone)
	}

	decision, err = tracker.Record(ctx, "youtube", 35)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if decision.Zone != ZoneWarning {
		t.Fatalf("expected warning zone at 85%%; got %s", decision.Zone)
	}

	decision, err = tracker.Record(ctx, "youtube", 11)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if decision.Zone != ZoneCritical {
		t.Fatalf("expected critical zone at 96%%; got %s", decision.Zone)
	}
}

func TestTracker_CriticalZoneAdmitsOnlyMinimalCost(t *testing.T) {
	tracker := newTestTracker(t, core.QuotaConfig{DefaultDailyBudget: 100, MinimalCostUnits: 1})
	ctx := context.Background()

	if _, err := tracker.Record(ctx, "youtube", 96); err != nil {
		t.Fatalf("record: %v", err)
	}

	decision, err := tracker.CanConsume(ctx, "youtube", 1)
	if err != nil {
		t.Fatalf("can consume: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected minimal-cost operation to be admitted in critical zone")
	}

	decision, err = tracker.CanConsume(ctx, "youtube", 5)
	if err != nil {
		t.Fatalf("can consume: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("expected non-minimal operation to be denied in critical zone")
	}
}

func TestTracker_ExhaustedBudgetDeniesEverything(t *testing.T) {
	tracker := newTestTracker(t, core.QuotaConfig{DefaultDailyBudget: 10, MinimalCostUnits: 1})
	ctx := context.Background()

	if _, err := tracker.Record(ctx, "spotify", 10); err != nil {
		t.Fatalf("record: %v", err)
	}

	decision, err := tracker.CanConsume(ctx, "spotify", 1)
	if err != nil {
		t.Fatalf("can consume: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("expected exhausted budget to deny even minimal cost")
	}
}

func TestTracker_DayBoundaryResetsCounter(t *testing.T) {
	tracker := newTestTracker(t, core.QuotaConfig{DefaultDailyBudget: 10})
	ctx := context.Background()
	current := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	tracker.Now = func() time.Time { return current }

	if _, err := tracker.Record(ctx, "gmailnews", 10); err != nil {
		t.Fatalf("record: %v", err)
	}

	current = current.Add(2 * time.Hour)

	decision, err := tracker.CanConsume(ctx, "gmailnews", 5)
	if err != nil {
		t.Fatalf("can consume: %v", err)
	}
	if !decision.Allowed || decision.Used != 0 {
		t.Fatalf("expected fresh counter after day boundary; got used=%d allowed=%v", decision.Used, decision.Allowed)
	}
}

func TestTracker_PerProviderBudgetOverride(t *testing.T) {
	tracker := newTestTracker(t, core.QuotaConfig{
		DefaultDailyBudget: 100,
		DailyBudgets:       map[string]int64{"youtube": 10},
	})
	ctx := context.Background()

	decision, err := tracker.Record(ctx, "youtube", 9)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if decision.Zone != ZoneCritical {
		t.Fatalf("expected provider override budget of 10; got zone %s with budget %d", decision.Zone, decision.Budget)
	}
}

func TestTracker_ScaleBatchInWarningZone(t *testing.T) {
	tracker := newTestTracker(t, core.QuotaConfig{DefaultDailyBudget: 100})

	normal := Decision{Zone: ZoneNormal, Budget: 100, Remaining: 60}
	if got := tracker.ScaleBatch(normal, 40); got != 40 {
		t.Fatalf("expected untouched batch in normal zone; got %d", got)
	}

	warning := Decision{Zone: ZoneWarning, Budget: 100, Remaining: 10}
	got := tracker.ScaleBatch(warning, 40)
	if got >= 40 || got < 1 {
		t.Fatalf("expected proportionally shrunk batch; got %d", got)
	}
}

func TestQuotaExceededError_MapsToRateLimitCategory(t *testing.T) {
	err := QuotaExceededError{ProviderID: "youtube", Used: 100, Budget: 100}
	mapped := err.ToServiceError()
	if mapped.TextCode != core.InboxErrorQuotaExceeded {
		t.Fatalf("expected %s; got %s", core.InboxErrorQuotaExceeded, mapped.TextCode)
	}
}
