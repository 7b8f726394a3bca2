package seed

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vestora/internal/authorization"
	"github.com/smallbiznis/vestora/internal/config"
	plandomain "github.com/smallbiznis/vestora/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var defaultPlans = []plandomain.CreateRequest{
	{
		Name:                "Daily Starter",
		Code:                "daily-starter",
		Description:         "2% a day for 30 days",
		BaseCurrency:        "INR",
		FixedAmount:         decimal.NewFromInt(1000),
		RatePercent:         decimal.NewFromInt(2),
		Frequency:           plandomain.FrequencyDaily,
		DurationDays:        30,
		BreakdownWindowDays: 7,
	},
	{
		Name:                "Weekly Growth",
		Code:                "weekly-growth",
		Description:         "5% a week for 12 weeks",
		BaseCurrency:        "INR",
		FixedAmount:         decimal.NewFromInt(5000),
		RatePercent:         decimal.NewFromInt(5),
		Frequency:           plandomain.FrequencyWeekly,
		DurationDays:        84,
		BreakdownWindowDays: 14,
	},
	{
		Name:                "Monthly Stable",
		Code:                "monthly-stable",
		Description:         "8% a month for a year",
		BaseCurrency:        "INR",
		FixedAmount:         decimal.NewFromInt(10000),
		RatePercent:         decimal.NewFromInt(8),
		Frequency:           plandomain.FrequencyMonthly,
		DurationDays:        360,
		BreakdownWindowDays: 30,
	},
}

// EnsureDemoCatalog creates the demo plans that do not exist yet. Existing
// codes are left untouched.
func EnsureDemoCatalog(ctx context.Context, plans plandomain.Service) (int, error) {
	created := 0
	for _, req := range defaultPlans {
		_, err := plans.Create(ctx, authorization.System, req)
		if errors.Is(err, plandomain.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// Module seeds the demo catalog on startup outside production.
var Module = fx.Module("seed",
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, plans plandomain.Service) {
		if cfg.IsProduction() {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				created, err := EnsureDemoCatalog(ctx, plans)
				if err != nil {
					return err
				}
				if created > 0 {
					log.Info("seeded demo plans", zap.Int("count", created))
				}
				return nil
			},
		})
	}),
)
