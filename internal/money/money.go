package money

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vestora/internal/apperror"
	"github.com/smallbiznis/vestora/internal/config"
)

const (
	INR  = "INR"
	USDT = "USDT"
)

var (
	ErrUnsupportedCurrency = apperror.New(apperror.KindInvalidAmount, "unsupported_currency")
	ErrNonPositiveAmount   = apperror.New(apperror.KindInvalidAmount, "amount_must_be_positive")
	ErrPrecisionExceeded   = apperror.New(apperror.KindInvalidAmount, "amount_precision_exceeded")
)

// Registry resolves the fixed scale of every supported currency. Scales are read
// on each call so a config reload takes effect without a restart.
type Registry struct {
	scales func() map[string]int32
}

func NewRegistry(holder *config.EngineHolder) *Registry {
	return &Registry{scales: func() map[string]int32 { return holder.Get().Currencies }}
}

func NewStaticRegistry(scales map[string]int32) *Registry {
	copied := make(map[string]int32, len(scales))
	for code, scale := range scales {
		copied[Normalize(code)] = scale
	}
	return &Registry{scales: func() map[string]int32 { return copied }}
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *Registry) Scale(code string) (int32, error) {
	scale, ok := r.scales()[Normalize(code)]
	if !ok {
		return 0, ErrUnsupportedCurrency
	}
	return scale, nil
}

func (r *Registry) Supports(code string) bool {
	_, err := r.Scale(code)
	return err == nil
}

// ValidateAmount rejects non-positive amounts and amounts carrying more
// fractional digits than the currency allows. Trailing zeros are not counted.
func (r *Registry) ValidateAmount(code string, amount decimal.Decimal) error {
	scale, err := r.Scale(code)
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !FitsScale(amount, scale) {
		return ErrPrecisionExceeded
	}
	return nil
}

// Round applies banker's rounding (half to even) at the currency scale.
func (r *Registry) Round(code string, amount decimal.Decimal) (decimal.Decimal, error) {
	scale, err := r.Scale(code)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.RoundBank(scale), nil
}

func FitsScale(amount decimal.Decimal, scale int32) bool {
	return amount.Equal(amount.Truncate(scale))
}
