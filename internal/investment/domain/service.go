package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vestora/internal/apperror"
	"github.com/smallbiznis/vestora/internal/authorization"
	"github.com/smallbiznis/vestora/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateInvestmentRequest struct {
	UserID      snowflake.ID    `json:"user_id"`
	PlanID      snowflake.ID    `json:"plan_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PaymentMode PaymentMode     `json:"payment_mode"`
}

type ListInvestmentsRequest struct {
	pagination.Pagination
	UserID snowflake.ID
	Status Status
}

type ListInvestmentsResponse struct {
	pagination.PageInfo
	Investments []Investment `json:"investments"`
}

type ListFilter struct {
	UserID snowflake.ID
	Status Status
}

// AccrualResult describes what one scheduler step did to one investment.
type AccrualResult struct {
	InvestmentID snowflake.ID
	Skipped      bool
	Cycles       int
	Amount       decimal.Decimal
	Currency     string
	Completed    bool
}

// Finding is one inconsistency reported by a health check.
type Finding struct {
	Check    string `json:"check"`
	TargetID string `json:"target_id"`
	Detail   string `json:"detail"`
}

type Service interface {
	CreateInvestment(ctx context.Context, req CreateInvestmentRequest) (Investment, error)
	ApprovePurchase(ctx context.Context, actor authorization.Actor, id snowflake.ID) (Investment, error)
	Cancel(ctx context.Context, actor authorization.Actor, id snowflake.ID, reason string) (Investment, error)
	Get(ctx context.Context, id snowflake.ID) (Investment, error)
	List(ctx context.Context, req ListInvestmentsRequest) (ListInvestmentsResponse, error)

	RequestBreakdown(ctx context.Context, id, userID snowflake.ID) (BreakdownRequest, error)
	ApproveBreakdown(ctx context.Context, actor authorization.Actor, requestID snowflake.ID) (BreakdownRequest, error)
	RejectBreakdown(ctx context.Context, actor authorization.Actor, requestID snowflake.ID, notes string) (BreakdownRequest, error)
	GetBreakdownRequest(ctx context.Context, requestID snowflake.ID) (BreakdownRequest, error)

	// ListDueIDs and ListMaturedIDs page through candidates without locking.
	// AccrueDue and SettleMaturity lock each row and re-check before acting.
	ListDueIDs(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	AccrueDue(ctx context.Context, id snowflake.ID) (AccrualResult, error)
	ListMaturedIDs(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	SettleMaturity(ctx context.Context, id snowflake.ID) (AccrualResult, error)
	// RecordFailure stores the last scheduler error on the investment.
	RecordFailure(ctx context.Context, id snowflake.ID, cause error) error

	ListIDs(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	CheckInvestment(ctx context.Context, id snowflake.ID) ([]Finding, error)
	CheckStaleBreakdowns(ctx context.Context) ([]Finding, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, inv *Investment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Investment, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Investment, error)
	// Update writes every mutable column when the stored version matches.
	Update(ctx context.Context, db *gorm.DB, inv *Investment, expectedVersion int64) (bool, error)
	UpdateLastError(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, at time.Time) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]Investment, error)
	ListDueIDs(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	ListMaturedIDs(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	ListIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)

	InsertBreakdown(ctx context.Context, db *gorm.DB, req *BreakdownRequest) error
	FindBreakdownByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BreakdownRequest, error)
	LockBreakdownByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BreakdownRequest, error)
	FindPendingBreakdown(ctx context.Context, db *gorm.DB, investmentID snowflake.ID) (*BreakdownRequest, error)
	UpdateBreakdown(ctx context.Context, db *gorm.DB, req *BreakdownRequest) error
	// ListStalePendingBreakdowns returns pending requests whose investment is
	// no longer breakdown_pending.
	ListStalePendingBreakdowns(ctx context.Context, db *gorm.DB, limit int) ([]BreakdownRequest, error)
}

var (
	ErrInvalidUser            = apperror.New(apperror.KindInvalidRequest, "invalid_user")
	ErrInvalidPlan            = apperror.New(apperror.KindInvalidRequest, "invalid_plan")
	ErrInvalidPaymentMode     = apperror.New(apperror.KindInvalidRequest, "invalid_payment_mode")
	ErrInvalidStatus          = apperror.New(apperror.KindInvalidRequest, "invalid_investment_status")
	ErrInvalidPageToken       = apperror.New(apperror.KindInvalidRequest, "invalid_page_token")
	ErrNotFound               = apperror.New(apperror.KindNotFound, "investment_not_found")
	ErrBreakdownNotFound      = apperror.New(apperror.KindNotFound, "breakdown_request_not_found")
	ErrInvalidTransition      = apperror.New(apperror.KindInvalidStateTransition, "invalid_state_transition")
	ErrBreakdownAlreadyExists = apperror.New(apperror.KindInvalidStateTransition, "breakdown_already_requested")
	ErrBreakdownNotPending    = apperror.New(apperror.KindInvalidStateTransition, "breakdown_not_pending")
	ErrNotActive              = apperror.New(apperror.KindNotEligible, "investment_not_active")
	ErrNotOwner               = apperror.New(apperror.KindNotEligible, "investment_not_owned")
	ErrOutsideBreakdownWindow = apperror.New(apperror.KindNotEligible, "outside_breakdown_window")
	ErrKYCRequired            = apperror.New(apperror.KindNotEligible, "kyc_required")
	ErrVersionConflict        = apperror.New(apperror.KindConcurrencyConflict, "investment_version_conflict")
)
