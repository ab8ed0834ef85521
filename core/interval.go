package core

import (
	"time"
)

const (
	IntervalTierHot    = 1 * time.Hour
	IntervalTierActive = 4 * time.Hour
	IntervalTierQuiet  = 12 * time.Hour
	IntervalTierIdle   = 24 * time.Hour

	// intervalSignificanceRatio gates interval changes: anything below a 50%
	// relative move keeps the current interval to avoid oscillation.
	intervalSignificanceRatio = 0.5

	hotItemsPerWeek    = 10
	activeItemsPerWeek = 3
)

// IntervalAdapter maps recent ingestion activity onto a polling interval
// tier. Busier subscriptions poll more often, dormant ones back off to the
// longest tier.
type IntervalAdapter struct{}

// TargetInterval returns the tier interval for the given activity window.
func (IntervalAdapter) TargetInterval(metrics ActivityMetrics) time.Duration {
	switch {
	case metrics.ItemsLast7Days >= hotItemsPerWeek:
		return IntervalTierHot
	case metrics.ItemsLast7Days >= activeItemsPerWeek:
		return IntervalTierActive
	case metrics.ItemsLast30Days >= 1:
		return IntervalTierQuiet
	default:
		return IntervalTierIdle
	}
}

// Recompute returns the interval the subscription should use and whether it
// changed. The target is applied only when it moves at least 50% relative to
// the current interval.
func (a IntervalAdapter) Recompute(current time.Duration, metrics ActivityMetrics) (time.Duration, bool) {
	target := a.TargetInterval(metrics)
	if current <= 0 {
		return target, true
	}
	if target == current {
		return current, false
	}
	delta := target - current
	if delta < 0 {
		delta = -delta
	}
	if float64(delta) < intervalSignificanceRatio*float64(current) {
		return current, false
	}
	return target, true
}
