package scheduler

import (
	"time"

	"github.com/smallbiznis/vestora/internal/config"
)

const (
	JobAccrual        = "accrual"
	JobMaturity       = "maturity"
	JobReconciliation = "reconciliation"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	ItemTimeout time.Duration
	// LeaseTTL enables the per-job redis lease when positive.
	LeaseTTL    time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   100,
		JobTimeout:  5 * time.Minute,
		ItemTimeout: 10 * time.Second,
	}
}

func configFromEngine(settings config.SchedulerSettings) Config {
	return Config{
		RunInterval: settings.RunInterval,
		BatchSize:   settings.BatchSize,
		JobTimeout:  settings.JobTimeout,
		ItemTimeout: settings.ItemTimeout,
		LeaseTTL:    settings.LeaseTTL,
		EnabledJobs: settings.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = defaults.ItemTimeout
	}
	if c.LeaseTTL < 0 {
		c.LeaseTTL = 0
	}
	return c
}
