package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/vestora/internal/plan/domain"
)

type Status string

const (
	StatusPendingApproval   Status = "pending_approval"
	StatusActive            Status = "active"
	StatusBreakdownPending  Status = "breakdown_pending"
	StatusBreakdownApproved Status = "breakdown_approved"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPendingApproval:  {StatusActive, StatusCancelled},
	StatusActive:           {StatusBreakdownPending, StatusCompleted, StatusCancelled},
	StatusBreakdownPending: {StatusBreakdownApproved, StatusActive},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Terminal statuses allow nothing.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusActive, StatusBreakdownPending,
		StatusBreakdownApproved, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusBreakdownApproved || s == StatusCompleted || s == StatusCancelled
}

// PaymentMode decides when the purchase debit happens: at purchase for
// direct, at approval for admin.
type PaymentMode string

const (
	PaymentModeDirect PaymentMode = "direct"
	PaymentModeAdmin  PaymentMode = "admin"
)

func (m PaymentMode) Valid() bool {
	return m == PaymentModeDirect || m == PaymentModeAdmin
}

// Investment is a user's holding in a plan. The plan terms are copied at
// purchase so later catalog edits never reach it.
type Investment struct {
	ID                  snowflake.ID         `gorm:"primaryKey" json:"id"`
	UserID              snowflake.ID         `gorm:"not null;index" json:"user_id"`
	PlanID              snowflake.ID         `gorm:"not null;index" json:"plan_id"`
	Principal           decimal.Decimal      `gorm:"type:numeric(38,8);not null" json:"principal"`
	Currency            string               `gorm:"type:text;not null" json:"currency"`
	RatePercent         decimal.Decimal      `gorm:"type:numeric(20,8);not null" json:"rate_percent"`
	Frequency           plandomain.Frequency `gorm:"type:text;not null" json:"frequency"`
	DurationDays        int                  `gorm:"not null" json:"duration_days"`
	BreakdownWindowDays int                  `gorm:"not null" json:"breakdown_window_days"`
	PaymentMode         PaymentMode          `gorm:"type:text;not null" json:"payment_mode"`
	Status              Status               `gorm:"type:text;not null" json:"status"`
	AccruedReturnTotal  decimal.Decimal      `gorm:"type:numeric(38,8);not null" json:"accrued_return_total"`
	CyclesCredited      int                  `gorm:"not null" json:"cycles_credited"`
	StartDate           *time.Time           `json:"start_date,omitempty"`
	EndDate             *time.Time           `json:"end_date,omitempty"`
	LastAccrualAt       *time.Time           `json:"last_accrual_at,omitempty"`
	NextAccrualAt       *time.Time           `json:"next_accrual_at,omitempty"`
	ApprovedBy          string               `gorm:"type:text" json:"approved_by,omitempty"`
	ApprovedAt          *time.Time           `json:"approved_at,omitempty"`
	CancelReason        string               `gorm:"type:text" json:"cancel_reason,omitempty"`
	CancelledAt         *time.Time           `json:"cancelled_at,omitempty"`
	CompletedAt         *time.Time           `json:"completed_at,omitempty"`
	LastError           string               `gorm:"type:text" json:"last_error,omitempty"`
	LastErrorAt         *time.Time           `json:"last_error_at,omitempty"`
	Version             int64                `gorm:"not null" json:"-"`
	CreatedAt           time.Time            `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time            `gorm:"not null" json:"updated_at"`
}

func (Investment) TableName() string { return "investments" }

// Start sets the accrual schedule from the moment the principal moved.
func (i *Investment) Start(at time.Time) error {
	cycle, err := i.Frequency.CycleLength()
	if err != nil {
		return err
	}
	start := at
	end := at.AddDate(0, 0, i.DurationDays)
	next := at.Add(cycle)
	i.StartDate = &start
	i.EndDate = &end
	i.NextAccrualAt = &next
	return nil
}

func (i Investment) TotalCycles() (int, error) {
	cycleDays, err := i.Frequency.CycleDays()
	if err != nil {
		return 0, err
	}
	return i.DurationDays / cycleDays, nil
}

// ReturnPerCycle is principal times the per-cycle rate, rounded half-even to
// the currency scale.
func (i Investment) ReturnPerCycle(scale int32) decimal.Decimal {
	rate := i.RatePercent.Div(decimal.NewFromInt(100))
	return i.Principal.Mul(rate).RoundBank(scale)
}

// DueCycles counts the due instants next_accrual + k*cycle that fall on or
// before min(now, end_date), never more than the cycles left in the term.
func (i Investment) DueCycles(now time.Time) (int, error) {
	if i.NextAccrualAt == nil || i.EndDate == nil {
		return 0, nil
	}
	cycle, err := i.Frequency.CycleLength()
	if err != nil {
		return 0, err
	}

	limit := now
	if i.EndDate.Before(limit) {
		limit = *i.EndDate
	}
	if i.NextAccrualAt.After(limit) {
		return 0, nil
	}

	due := int(limit.Sub(*i.NextAccrualAt)/cycle) + 1
	total, err := i.TotalCycles()
	if err != nil {
		return 0, err
	}
	if remaining := total - i.CyclesCredited; due > remaining {
		due = remaining
	}
	if due < 0 {
		due = 0
	}
	return due, nil
}

// BreakdownDeadline is the last instant a breakdown may be requested.
func (i Investment) BreakdownDeadline() (time.Time, bool) {
	if i.StartDate == nil {
		return time.Time{}, false
	}
	return i.StartDate.AddDate(0, 0, i.BreakdownWindowDays), true
}

func (i Investment) Matured(now time.Time) bool {
	return i.EndDate != nil && !now.Before(*i.EndDate)
}

// ComputeBreakdownPayout returns max(0, principal*retention - accrued*clawback)
// rounded half-even to scale.
func ComputeBreakdownPayout(principal, accrued, retention, clawback decimal.Decimal, scale int32) decimal.Decimal {
	payout := principal.Mul(retention).Sub(accrued.Mul(clawback))
	if payout.IsNegative() {
		return decimal.Zero
	}
	return payout.RoundBank(scale)
}

type BreakdownStatus string

const (
	BreakdownStatusPending  BreakdownStatus = "pending"
	BreakdownStatusApproved BreakdownStatus = "approved"
	BreakdownStatusRejected BreakdownStatus = "rejected"
)

// BreakdownRequest is an early exit request. FinalAmount is frozen when the
// request is made and paid unchanged on approval.
type BreakdownRequest struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvestmentID     snowflake.ID    `gorm:"not null;index" json:"investment_id"`
	UserID           snowflake.ID    `gorm:"not null" json:"user_id"`
	Currency         string          `gorm:"type:text;not null" json:"currency"`
	RequestedAmount  decimal.Decimal `gorm:"type:numeric(38,8);not null" json:"requested_amount"`
	AccruedAtRequest decimal.Decimal `gorm:"type:numeric(38,8);not null" json:"accrued_at_request"`
	FinalAmount      decimal.Decimal `gorm:"type:numeric(38,8);not null" json:"final_amount"`
	SettledReturn    decimal.Decimal `gorm:"type:numeric(38,8);not null" json:"settled_return"`
	Status           BreakdownStatus `gorm:"type:text;not null" json:"status"`
	Notes            string          `gorm:"type:text" json:"notes,omitempty"`
	DecidedBy        string          `gorm:"type:text" json:"decided_by,omitempty"`
	DecidedAt        *time.Time      `json:"decided_at,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null" json:"updated_at"`
}

func (BreakdownRequest) TableName() string { return "breakdown_requests" }
