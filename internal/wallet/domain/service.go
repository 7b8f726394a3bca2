package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vestora/internal/apperror"
	"github.com/smallbiznis/vestora/internal/authorization"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
)

// AdjustRequest moves money into or out of a wallet on an operator's behalf.
type AdjustRequest struct {
	UserID   snowflake.ID    `json:"user_id"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	// Reference is the external payment or payout id. One is generated when
	// empty.
	Reference   string `json:"reference"`
	Description string `json:"description"`
	// Correction posts admin_credit/admin_debit instead of deposit/withdrawal.
	Correction bool `json:"correction"`
}

type Service interface {
	Deposit(ctx context.Context, actor authorization.Actor, req AdjustRequest) (ledgerdomain.Entry, error)
	Withdraw(ctx context.Context, actor authorization.Actor, req AdjustRequest) (ledgerdomain.Entry, error)
	SetStatus(ctx context.Context, actor authorization.Actor, userID snowflake.ID, currency string, status ledgerdomain.AccountStatus) (ledgerdomain.Account, error)
}

var ErrInvalidReference = apperror.New(apperror.KindInvalidRequest, "invalid_reference")
