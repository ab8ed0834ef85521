package quota

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/inletapp/go-inbox/core"
)

const dayLayout = "2006-01-02"

// Zone is the advisory pressure level for a provider's daily budget.
type Zone string

const (
	ZoneNormal   Zone = "normal"
	ZoneWarning  Zone = "warning"
	ZoneCritical Zone = "critical"

	warningRatio  = 0.80
	criticalRatio = 0.95
)

// CounterStore is the shared per-provider, per-day usage surface. The
// increment must be a single atomic operation, never read-modify-write.
type CounterStore interface {
	IncrementAndGet(ctx context.Context, providerID string, day string, units int64) (int64, error)
	Get(ctx context.Context, providerID string, day string) (int64, error)
	PruneBefore(ctx context.Context, day string) error
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Zone      Zone
	Used      int64
	Budget    int64
	Remaining int64
}

type QuotaExceededError struct {
	ProviderID string
	Used       int64
	Budget     int64
}

func (e QuotaExceededError) Error() string {
	return fmt.Sprintf(
		"quota: provider %q exhausted daily budget (%d/%d units)",
		strings.TrimSpace(e.ProviderID), e.Used, e.Budget,
	)
}

func (e QuotaExceededError) ToServiceError() *goerrors.Error {
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.InboxErrorQuotaExceeded).
		WithMetadata(map[string]any{
			"provider_id": strings.TrimSpace(e.ProviderID),
			"used":        e.Used,
			"budget":      e.Budget,
		})
}

// Tracker provides best-effort admission control over provider API budgets.
// Slight over-budget under concurrency is acceptable; the gate is advisory
// back-pressure, not a transactional guarantee.
type Tracker struct {
	store  CounterStore
	config core.QuotaConfig
	Now    func() time.Time
}

func NewTracker(store CounterStore, config core.QuotaConfig) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("quota: counter store is required")
	}
	return &Tracker{
		store:  store,
		config: config,
		Now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (t *Tracker) now() time.Time {
	if t != nil && t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// Day keys are UTC calendar days.
func (t *Tracker) currentDay() string {
	return t.now().Format(dayLayout)
}

func (t *Tracker) budget(providerID string) int64 {
	if budget, ok := t.config.DailyBudgets[providerID]; ok && budget > 0 {
		return budget
	}
	if t.config.DefaultDailyBudget > 0 {
		return t.config.DefaultDailyBudget
	}
	return 10000
}

func (t *Tracker) minimalCost() int64 {
	if t.config.MinimalCostUnits > 0 {
		return int64(t.config.MinimalCostUnits)
	}
	return 1
}

func zoneFor(used int64, budget int64) Zone {
	if budget <= 0 {
		return ZoneCritical
	}
	ratio := float64(used) / float64(budget)
	switch {
	case ratio >= criticalRatio:
		return ZoneCritical
	case ratio >= warningRatio:
		return ZoneWarning
	default:
		return ZoneNormal
	}
}

// CanConsume reports whether units may be spent right now. In the critical
// zone only minimal-cost operations are admitted; a fully exhausted budget
// denies everything.
func (t *Tracker) CanConsume(ctx context.Context, providerID string, units int64) (Decision, error) {
	if t == nil {
		return Decision{}, fmt.Errorf("quota: tracker is nil")
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return Decision{}, fmt.Errorf("quota: provider id is required")
	}
	if units < 0 {
		return Decision{}, fmt.Errorf("quota: units must not be negative")
	}

	used, err := t.store.Get(ctx, providerID, t.currentDay())
	if err != nil {
		return Decision{}, err
	}
	budget := t.budget(providerID)
	decision := Decision{
		Zone:      zoneFor(used, budget),
		Used:      used,
		Budget:    budget,
		Remaining: budget - used,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}

	switch decision.Zone {
	case ZoneCritical:
		decision.Allowed = used < budget && units <= t.minimalCost()
	default:
		decision.Allowed = true
	}
	return decision, nil
}

// Record charges units against the provider's daily counter and returns the
// post-increment decision so callers can react to zone changes.
func (t *Tracker) Record(ctx context.Context, providerID string, units int64) (Decision, error) {
	if t == nil {
		return Decision{}, fmt.Errorf("quota: tracker is nil")
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return Decision{}, fmt.Errorf("quota: provider id is required")
	}
	if units <= 0 {
		return t.CanConsume(ctx, providerID, 0)
	}

	used, err := t.store.IncrementAndGet(ctx, providerID, t.currentDay(), units)
	if err != nil {
		return Decision{}, err
	}
	budget := t.budget(providerID)
	decision := Decision{
		Allowed:   used <= budget,
		Zone:      zoneFor(used, budget),
		Used:      used,
		Budget:    budget,
		Remaining: budget - used,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	return decision, nil
}

// ScaleBatch shrinks a planned batch size proportionally to the remaining
// budget while in the warning zone. Outside it the size passes through.
func (t *Tracker) ScaleBatch(decision Decision, batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	if decision.Zone != ZoneWarning || decision.Budget <= 0 {
		return batchSize
	}
	fraction := float64(decision.Remaining) / float64(decision.Budget)
	scaled := int(float64(batchSize) * fraction / (1 - warningRatio))
	if scaled < 1 {
		scaled = 1
	}
	if scaled > batchSize {
		scaled = batchSize
	}
	return scaled
}

// Prune drops counters older than the retention window.
func (t *Tracker) Prune(ctx context.Context) error {
	if t == nil {
		return fmt.Errorf("quota: tracker is nil")
	}
	retention := t.config.RetentionDays
	if retention <= 0 {
		retention = 7
	}
	cutoff := t.now().AddDate(0, 0, -retention).Format(dayLayout)
	return t.store.PruneBefore(ctx, cutoff)
}
