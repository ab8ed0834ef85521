package core

import (
	"testing"
	"time"
)

func TestIntervalAdapterTargetInterval(t *testing.T) {
	adapter := IntervalAdapter{}

	cases := []struct {
		name    string
		metrics ActivityMetrics
		want    time.Duration
	}{
		{name: "hot", metrics: ActivityMetrics{ItemsLast7Days: 10}, want: IntervalTierHot},
		{name: "very_hot", metrics: ActivityMetrics{ItemsLast7Days: 40}, want: IntervalTierHot},
		{name: "active", metrics: ActivityMetrics{ItemsLast7Days: 3}, want: IntervalTierActive},
		{name: "quiet", metrics: ActivityMetrics{ItemsLast7Days: 0, ItemsLast30Days: 2}, want: IntervalTierQuiet},
		{name: "idle", metrics: ActivityMetrics{}, want: IntervalTierIdle},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := adapter.TargetInterval(tc.metrics); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestIntervalAdapterRecomputeSignificanceGate(t *testing.T) {
	adapter := IntervalAdapter{}

	cases := []struct {
		name        string
		current     time.Duration
		metrics     ActivityMetrics
		want        time.Duration
		wantChanged bool
	}{
		{
			name:        "zero_current_adopts_target",
			current:     0,
			metrics:     ActivityMetrics{},
			want:        IntervalTierIdle,
			wantChanged: true,
		},
		{
			name:        "same_tier_no_change",
			current:     IntervalTierActive,
			metrics:     ActivityMetrics{ItemsLast7Days: 5},
			want:        IntervalTierActive,
			wantChanged: false,
		},
		{
			name:        "large_move_applies",
			current:     IntervalTierIdle,
			metrics:     ActivityMetrics{ItemsLast7Days: 12},
			want:        IntervalTierHot,
			wantChanged: true,
		},
		{
			name:        "small_move_is_held",
			current:     10 * time.Hour,
			metrics:     ActivityMetrics{ItemsLast30Days: 2},
			want:        10 * time.Hour,
			wantChanged: false,
		},
		{
			name:        "backoff_to_idle",
			current:     IntervalTierHot,
			metrics:     ActivityMetrics{},
			want:        IntervalTierIdle,
			wantChanged: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := adapter.Recompute(tc.current, tc.metrics)
			if got != tc.want || changed != tc.wantChanged {
				t.Fatalf("expected (%s, %t), got (%s, %t)", tc.want, tc.wantChanged, got, changed)
			}
		})
	}
}
