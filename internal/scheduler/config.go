package scheduler

import (
	"time"

	"github.com/smallbiznis/meterguard/internal/config"
)

const (
	JobOutboxDrain = "outbox_drain"
	JobBudgetSync  = "budget_sync"
	JobStateSweep  = "state_sweep"
	JobMetricsPush = "metrics_push"
)

// Config controls how often each job runs. RunInterval is the loop tick; a
// job runs on the first tick after its own interval has elapsed.
type Config struct {
	RunInterval         time.Duration
	OutboxInterval      time.Duration
	OutboxBatchSize     int
	OutboxEnabled       bool
	BudgetSyncInterval  time.Duration
	BudgetSyncEnabled   bool
	BudgetSyncCurrency  string
	StateSweepInterval  time.Duration
	MetricsPushInterval time.Duration
	JobTimeout          time.Duration
	LockTTL             time.Duration
	// EnabledJobs restricts the loop to the named jobs. Empty runs all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:         time.Second,
		OutboxInterval:      5 * time.Second,
		OutboxBatchSize:     10,
		OutboxEnabled:       true,
		BudgetSyncInterval:  15 * time.Minute,
		StateSweepInterval:  time.Minute,
		MetricsPushInterval: time.Minute,
		JobTimeout:          30 * time.Second,
		LockTTL:             time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		OutboxInterval:      cfg.Outbox.Interval,
		OutboxBatchSize:     cfg.Outbox.BatchSize,
		OutboxEnabled:       cfg.Outbox.DrainEnabled,
		BudgetSyncInterval:  cfg.LiteLLM.SyncInterval,
		BudgetSyncEnabled:   cfg.LiteLLM.SyncEnabled && cfg.LiteLLM.Configured(),
		BudgetSyncCurrency:  cfg.LiteLLM.SyncCurrency,
		MetricsPushInterval: cfg.Metrics.Interval,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.OutboxInterval <= 0 {
		c.OutboxInterval = defaults.OutboxInterval
	}
	if c.OutboxBatchSize <= 0 {
		c.OutboxBatchSize = defaults.OutboxBatchSize
	}
	if c.BudgetSyncInterval <= 0 {
		c.BudgetSyncInterval = defaults.BudgetSyncInterval
	}
	if c.StateSweepInterval <= 0 {
		c.StateSweepInterval = defaults.StateSweepInterval
	}
	if c.MetricsPushInterval <= 0 {
		c.MetricsPushInterval = defaults.MetricsPushInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
