package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EngineConfig carries the tunables of the investment engine. It is loaded from
// engine.yml and reloaded in place when the file changes.
type EngineConfig struct {
	// Currencies maps an ISO-like currency code to its fixed decimal scale.
	Currencies map[string]int32

	// USDTINRRate is the externally supplied INR price of one USDT.
	USDTINRRate decimal.Decimal

	BreakdownRetention decimal.Decimal
	BreakdownClawback  decimal.Decimal

	Scheduler SchedulerSettings

	DBRetryAttempts int
}

type SchedulerSettings struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	ItemTimeout time.Duration
	LeaseTTL    time.Duration
	EnabledJobs []string
}

type rawEngineConfig struct {
	Currencies map[string]int32 `mapstructure:"currencies"`
	FX         struct {
		USDTINRRate string `mapstructure:"usdt_inr_rate"`
	} `mapstructure:"fx"`
	Breakdown struct {
		RetentionRatio string `mapstructure:"retention_ratio"`
		ClawbackRatio  string `mapstructure:"clawback_ratio"`
	} `mapstructure:"breakdown"`
	Scheduler struct {
		RunInterval time.Duration `mapstructure:"run_interval"`
		BatchSize   int           `mapstructure:"batch_size"`
		JobTimeout  time.Duration `mapstructure:"job_timeout"`
		ItemTimeout time.Duration `mapstructure:"item_timeout"`
		LeaseTTL    time.Duration `mapstructure:"lease_ttl"`
		EnabledJobs []string      `mapstructure:"enabled_jobs"`
	} `mapstructure:"scheduler"`
	DB struct {
		RetryAttempts int `mapstructure:"retry_attempts"`
	} `mapstructure:"db"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Currencies: map[string]int32{
			"INR":  2,
			"USDT": 6,
		},
		USDTINRRate:        decimal.NewFromInt(83),
		BreakdownRetention: decimal.RequireFromString("0.8"),
		BreakdownClawback:  decimal.RequireFromString("0.5"),
		Scheduler: SchedulerSettings{
			RunInterval: time.Minute,
			BatchSize:   100,
			JobTimeout:  5 * time.Minute,
			ItemTimeout: 10 * time.Second,
		},
		DBRetryAttempts: 3,
	}
}

func setEngineDefaults(v *viper.Viper) {
	defaults := DefaultEngineConfig()
	v.SetDefault("fx.usdt_inr_rate", defaults.USDTINRRate.String())
	v.SetDefault("breakdown.retention_ratio", defaults.BreakdownRetention.String())
	v.SetDefault("breakdown.clawback_ratio", defaults.BreakdownClawback.String())
	v.SetDefault("scheduler.run_interval", defaults.Scheduler.RunInterval)
	v.SetDefault("scheduler.batch_size", defaults.Scheduler.BatchSize)
	v.SetDefault("scheduler.job_timeout", defaults.Scheduler.JobTimeout)
	v.SetDefault("scheduler.item_timeout", defaults.Scheduler.ItemTimeout)
	v.SetDefault("scheduler.lease_ttl", time.Duration(0))
	v.SetDefault("db.retry_attempts", defaults.DBRetryAttempts)
}

// EngineHolder serves the current EngineConfig to readers while a file watcher
// swaps it on change.
type EngineHolder struct {
	current atomic.Value // holds EngineConfig
}

// NewStaticEngineHolder wraps a fixed config. Used by tests and by processes
// that do not watch a file.
func NewStaticEngineHolder(cfg EngineConfig) *EngineHolder {
	holder := &EngineHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewEngineHolder(cfg Config) (*EngineHolder, error) {
	v := viper.New()

	if cfg.EngineConfigPath != "" {
		v.SetConfigFile(cfg.EngineConfigPath)
	} else {
		v.SetConfigName("engine")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/vestora")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("VESTORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setEngineDefaults(v)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	engine, err := decodeEngineConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticEngineHolder(engine)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeEngineConfig(v)
		if err != nil {
			log.Printf("[engine-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[engine-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *EngineHolder) Get() EngineConfig {
	return h.current.Load().(EngineConfig)
}

func decodeEngineConfig(v *viper.Viper) (EngineConfig, error) {
	var raw rawEngineConfig
	if err := v.Unmarshal(&raw); err != nil {
		return EngineConfig{}, err
	}

	cfg := EngineConfig{
		Currencies: make(map[string]int32, len(raw.Currencies)),
		Scheduler: SchedulerSettings{
			RunInterval: raw.Scheduler.RunInterval,
			BatchSize:   raw.Scheduler.BatchSize,
			JobTimeout:  raw.Scheduler.JobTimeout,
			ItemTimeout: raw.Scheduler.ItemTimeout,
			LeaseTTL:    raw.Scheduler.LeaseTTL,
			EnabledJobs: raw.Scheduler.EnabledJobs,
		},
		DBRetryAttempts: raw.DB.RetryAttempts,
	}
	if len(raw.Currencies) == 0 {
		raw.Currencies = DefaultEngineConfig().Currencies
	}
	// viper lowercases map keys
	for code, scale := range raw.Currencies {
		cfg.Currencies[strings.ToUpper(code)] = scale
	}

	var err error
	if cfg.USDTINRRate, err = decimal.NewFromString(raw.FX.USDTINRRate); err != nil {
		return EngineConfig{}, fmt.Errorf("fx.usdt_inr_rate: %w", err)
	}
	if cfg.BreakdownRetention, err = decimal.NewFromString(raw.Breakdown.RetentionRatio); err != nil {
		return EngineConfig{}, fmt.Errorf("breakdown.retention_ratio: %w", err)
	}
	if cfg.BreakdownClawback, err = decimal.NewFromString(raw.Breakdown.ClawbackRatio); err != nil {
		return EngineConfig{}, fmt.Errorf("breakdown.clawback_ratio: %w", err)
	}

	if err := ValidateEngineConfig(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func ValidateEngineConfig(cfg EngineConfig) error {
	if len(cfg.Currencies) == 0 {
		return errors.New("currencies cannot be empty")
	}
	for code, scale := range cfg.Currencies {
		if scale < 0 || scale > 18 {
			return fmt.Errorf("currency %s: scale %d out of range", code, scale)
		}
	}
	if !cfg.USDTINRRate.IsPositive() {
		return errors.New("fx.usdt_inr_rate must be positive")
	}
	one := decimal.NewFromInt(1)
	if cfg.BreakdownRetention.IsNegative() || cfg.BreakdownRetention.GreaterThan(one) {
		return errors.New("breakdown.retention_ratio must be within [0, 1]")
	}
	if cfg.BreakdownClawback.IsNegative() || cfg.BreakdownClawback.GreaterThan(one) {
		return errors.New("breakdown.clawback_ratio must be within [0, 1]")
	}
	if cfg.DBRetryAttempts < 0 {
		return errors.New("db.retry_attempts cannot be negative")
	}
	return nil
}
