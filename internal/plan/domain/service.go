package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vestora/internal/apperror"
	"github.com/smallbiznis/vestora/internal/authorization"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Name                string          `json:"name"`
	Code                string          `json:"code"`
	Description         string          `json:"description"`
	BaseCurrency        string          `json:"base_currency"`
	FixedAmount         decimal.Decimal `json:"fixed_amount"`
	RatePercent         decimal.Decimal `json:"rate_percent"`
	Frequency           Frequency       `json:"frequency"`
	DurationDays        int             `json:"duration_days"`
	BreakdownWindowDays int             `json:"breakdown_window_days"`
}

// UpdateTermsRequest replaces the economic terms of an unreferenced plan.
// Nil fields are left unchanged.
type UpdateTermsRequest struct {
	Name                *string          `json:"name"`
	Description         *string          `json:"description"`
	FixedAmount         *decimal.Decimal `json:"fixed_amount"`
	RatePercent         *decimal.Decimal `json:"rate_percent"`
	Frequency           *Frequency       `json:"frequency"`
	DurationDays        *int             `json:"duration_days"`
	BreakdownWindowDays *int             `json:"breakdown_window_days"`
}

type ListRequest struct {
	Status Status
}

// Catalog writes take the acting admin; the service authorizes plan.manage
// and audits inside the write transaction.
type Service interface {
	Create(ctx context.Context, actor authorization.Actor, req CreateRequest) (Plan, error)
	UpdateTerms(ctx context.Context, actor authorization.Actor, id snowflake.ID, req UpdateTermsRequest) (Plan, error)
	SetStatus(ctx context.Context, actor authorization.Actor, id snowflake.ID, status Status) (Plan, error)
	Get(ctx context.Context, id snowflake.ID) (Plan, error)
	// GetTx reads the plan inside the caller's transaction, bypassing the cache.
	GetTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (Plan, error)
	// ShareLockTx reads the plan under a share lock held until tx ends, so
	// UpdateTerms waits for a purchase that priced against the current terms.
	ShareLockTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (Plan, error)
	List(ctx context.Context, req ListRequest) ([]Plan, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	ShareLockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	Update(ctx context.Context, db *gorm.DB, plan *Plan) error
	List(ctx context.Context, db *gorm.DB, status Status) ([]Plan, error)
	// IsReferenced reports whether any investment points at the plan.
	IsReferenced(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
}

var (
	ErrInvalidName       = apperror.New(apperror.KindInvalidRequest, "invalid_plan_name")
	ErrInvalidCode       = apperror.New(apperror.KindInvalidRequest, "invalid_plan_code")
	ErrInvalidFrequency  = apperror.New(apperror.KindInvalidRequest, "invalid_frequency")
	ErrInvalidDuration   = apperror.New(apperror.KindInvalidRequest, "invalid_duration")
	ErrInvalidWindow     = apperror.New(apperror.KindInvalidRequest, "invalid_breakdown_window")
	ErrInvalidRate       = apperror.New(apperror.KindInvalidRequest, "invalid_rate")
	ErrInvalidStatus     = apperror.New(apperror.KindInvalidRequest, "invalid_plan_status")
	ErrDuplicateCode     = apperror.New(apperror.KindInvalidRequest, "plan_code_taken")
	ErrNotFound          = apperror.New(apperror.KindNotFound, "plan_not_found")
	ErrPlanReferenced    = apperror.New(apperror.KindInvalidStateTransition, "plan_terms_frozen")
	ErrPlanInactive      = apperror.New(apperror.KindNotEligible, "plan_inactive")
	ErrPriceUnavailable  = apperror.New(apperror.KindNotEligible, "plan_price_unavailable")
	ErrAmountOutOfBounds = apperror.New(apperror.KindNotEligible, "amount_out_of_bounds")
)
