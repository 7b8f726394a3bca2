package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

const day = 24 * time.Hour

// CycleDays is the length of one accrual cycle. A month is a fixed 30 days.
func (f Frequency) CycleDays() (int, error) {
	switch f {
	case FrequencyDaily:
		return 1, nil
	case FrequencyWeekly:
		return 7, nil
	case FrequencyMonthly:
		return 30, nil
	default:
		return 0, ErrInvalidFrequency
	}
}

func (f Frequency) CycleLength() (time.Duration, error) {
	days, err := f.CycleDays()
	if err != nil {
		return 0, err
	}
	return time.Duration(days) * day, nil
}

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	default:
		return false
	}
}

// Plan is a purchasable investment product. Its terms are frozen once an
// investment references it; status may still change.
type Plan struct {
	ID                  snowflake.ID    `gorm:"primaryKey" json:"id"`
	Code                string          `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name                string          `gorm:"type:text;not null" json:"name"`
	Description         string          `gorm:"type:text" json:"description,omitempty"`
	BaseCurrency        string          `gorm:"type:text;not null" json:"base_currency"`
	FixedAmount         decimal.Decimal `gorm:"type:numeric(38,8);not null" json:"fixed_amount"`
	RatePercent         decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"rate_percent"`
	Frequency           Frequency       `gorm:"type:text;not null" json:"frequency"`
	DurationDays        int             `gorm:"not null" json:"duration_days"`
	BreakdownWindowDays int             `gorm:"not null" json:"breakdown_window_days"`
	Status              Status          `gorm:"type:text;not null" json:"status"`
	CreatedAt           time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"not null" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// RatePerCycle converts the stored percentage into a fraction.
func (p Plan) RatePerCycle() decimal.Decimal {
	return p.RatePercent.Div(decimal.NewFromInt(100))
}

func (p Plan) TotalCycles() (int, error) {
	cycleDays, err := p.Frequency.CycleDays()
	if err != nil {
		return 0, err
	}
	return p.DurationDays / cycleDays, nil
}

// PriceIn returns the exact purchase amount in currency. USDT prices are the
// base INR amount converted at usdtINRRate and rounded half-even to scale.
func (p Plan) PriceIn(currency string, usdtINRRate decimal.Decimal, scale int32) (decimal.Decimal, error) {
	switch {
	case currency == p.BaseCurrency:
		return p.FixedAmount, nil
	case p.BaseCurrency == "INR" && currency == "USDT":
		if !usdtINRRate.IsPositive() {
			return decimal.Zero, ErrPriceUnavailable
		}
		return p.FixedAmount.Div(usdtINRRate).RoundBank(scale), nil
	case p.BaseCurrency == "USDT" && currency == "INR":
		return p.FixedAmount.Mul(usdtINRRate).RoundBank(scale), nil
	default:
		return decimal.Zero, ErrPriceUnavailable
	}
}
