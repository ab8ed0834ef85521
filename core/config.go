package core

import (
	"fmt"
	"strings"
	"time"
)

type RefreshConfig struct {
	BufferSeconds    int `koanf:"buffer_seconds" mapstructure:"buffer_seconds"`
	WaitDelayMillis  int `koanf:"wait_delay_millis" mapstructure:"wait_delay_millis"`
	LockTTLSeconds   int `koanf:"lock_ttl_seconds" mapstructure:"lock_ttl_seconds"`
	TimeoutSeconds   int `koanf:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type SchedulerConfig struct {
	MaxBatch         int `koanf:"max_batch" mapstructure:"max_batch"`
	GroupConcurrency int `koanf:"group_concurrency" mapstructure:"group_concurrency"`
	RunBudgetSeconds int `koanf:"run_budget_seconds" mapstructure:"run_budget_seconds"`
	RunLockTTLSecs   int `koanf:"run_lock_ttl_seconds" mapstructure:"run_lock_ttl_seconds"`
	RecomputeEvery   int `koanf:"recompute_every" mapstructure:"recompute_every"`
	FetchLimit       int `koanf:"fetch_limit" mapstructure:"fetch_limit"`
}

type DeadLetterConfig struct {
	MaxAttempts           int `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffSeconds int `koanf:"initial_backoff_seconds" mapstructure:"initial_backoff_seconds"`
	MaxBackoffSeconds     int `koanf:"max_backoff_seconds" mapstructure:"max_backoff_seconds"`
}

type QuotaConfig struct {
	DefaultDailyBudget int64            `koanf:"default_daily_budget" mapstructure:"default_daily_budget"`
	DailyBudgets       map[string]int64 `koanf:"daily_budgets" mapstructure:"daily_budgets"`
	MinimalCostUnits   int              `koanf:"minimal_cost_units" mapstructure:"minimal_cost_units"`
	RetentionDays      int              `koanf:"retention_days" mapstructure:"retention_days"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Refresh     RefreshConfig    `koanf:"refresh" mapstructure:"refresh"`
	Scheduler   SchedulerConfig  `koanf:"scheduler" mapstructure:"scheduler"`
	DeadLetter  DeadLetterConfig `koanf:"dead_letter" mapstructure:"dead_letter"`
	Quota       QuotaConfig      `koanf:"quota" mapstructure:"quota"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "inbox",
		Refresh: RefreshConfig{
			BufferSeconds:   int((5 * time.Minute).Seconds()),
			WaitDelayMillis: 500,
			LockTTLSeconds:  30,
			TimeoutSeconds:  30,
		},
		Scheduler: SchedulerConfig{
			MaxBatch:         200,
			GroupConcurrency: 8,
			RunBudgetSeconds: int((10 * time.Minute).Seconds()),
			RunLockTTLSecs:   int((15 * time.Minute).Seconds()),
			RecomputeEvery:   6,
			FetchLimit:       50,
		},
		DeadLetter: DeadLetterConfig{
			MaxAttempts:           5,
			InitialBackoffSeconds: 60,
			MaxBackoffSeconds:     3600,
		},
		Quota: QuotaConfig{
			DefaultDailyBudget: 10000,
			DailyBudgets:       map[string]int64{},
			MinimalCostUnits:   1,
			RetentionDays:      7,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Refresh.BufferSeconds < 0 {
		return fmt.Errorf("core: refresh.buffer_seconds must not be negative")
	}
	if c.Scheduler.MaxBatch < 1 {
		return fmt.Errorf("core: scheduler.max_batch must be positive")
	}
	if c.Scheduler.GroupConcurrency < 1 {
		return fmt.Errorf("core: scheduler.group_concurrency must be positive")
	}
	if c.DeadLetter.MaxAttempts < 1 {
		return fmt.Errorf("core: dead_letter.max_attempts must be positive")
	}
	if c.Quota.DefaultDailyBudget < 1 {
		return fmt.Errorf("core: quota.default_daily_budget must be positive")
	}
	return nil
}

func (c RefreshConfig) Buffer() time.Duration {
	return time.Duration(c.BufferSeconds) * time.Second
}

func (c RefreshConfig) WaitDelay() time.Duration {
	return time.Duration(c.WaitDelayMillis) * time.Millisecond
}

func (c RefreshConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c SchedulerConfig) RunBudget() time.Duration {
	return time.Duration(c.RunBudgetSeconds) * time.Second
}

func (c SchedulerConfig) RunLockTTL() time.Duration {
	return time.Duration(c.RunLockTTLSecs) * time.Second
}

func (c DeadLetterConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSeconds) * time.Second
}

func (c DeadLetterConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}
