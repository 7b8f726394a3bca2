package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
)

// Direction tells whether an entry raises or lowers the balance.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// EntryType is the closed set of reasons a wallet balance may change.
type EntryType string

const (
	EntryTypeDeposit            EntryType = "deposit"
	EntryTypeWithdrawal         EntryType = "withdrawal"
	EntryTypeAdminCredit        EntryType = "admin_credit"
	EntryTypeAdminDebit         EntryType = "admin_debit"
	EntryTypeInvestmentPurchase EntryType = "investment_purchase"
	EntryTypeReturnCredited     EntryType = "return_credited"
	EntryTypeReturnSettlement   EntryType = "return_settlement"
	EntryTypeBreakdownPayout    EntryType = "breakdown_payout"
)

// AllEntryTypes lists every entry type. Keep in sync with Direction.
var AllEntryTypes = []EntryType{
	EntryTypeDeposit,
	EntryTypeWithdrawal,
	EntryTypeAdminCredit,
	EntryTypeAdminDebit,
	EntryTypeInvestmentPurchase,
	EntryTypeReturnCredited,
	EntryTypeReturnSettlement,
	EntryTypeBreakdownPayout,
}

func (t EntryType) Direction() (Direction, error) {
	switch t {
	case EntryTypeDeposit, EntryTypeAdminCredit, EntryTypeReturnCredited, EntryTypeReturnSettlement, EntryTypeBreakdownPayout:
		return DirectionCredit, nil
	case EntryTypeWithdrawal, EntryTypeAdminDebit, EntryTypeInvestmentPurchase:
		return DirectionDebit, nil
	default:
		return "", ErrInvalidEntryType
	}
}

// IsCreditedReturn reports whether the entry pays investment return into the
// wallet. Per investment, these entries must sum to its accrued total.
func (t EntryType) IsCreditedReturn() bool {
	return t == EntryTypeReturnCredited || t == EntryTypeReturnSettlement
}

var CreditedReturnTypes = []EntryType{EntryTypeReturnCredited, EntryTypeReturnSettlement}

// Account is a wallet: one balance per user and currency.
type Account struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID       snowflake.ID    `gorm:"not null;uniqueIndex:ux_ledger_accounts_user_currency,priority:1" json:"user_id"`
	Currency     string          `gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_user_currency,priority:2" json:"currency"`
	Balance      decimal.Decimal `gorm:"type:numeric(38,8);not null" json:"balance"`
	Status       AccountStatus   `gorm:"type:text;not null" json:"status"`
	LastSequence int64           `gorm:"not null" json:"last_sequence"`
	Version      int64           `gorm:"not null" json:"-"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "ledger_accounts" }

// Entry is the immutable record of one balance mutation. Amount is signed:
// positive for credits, negative for debits.
type Entry struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID     snowflake.ID      `gorm:"not null;uniqueIndex:ux_ledger_entries_account_sequence,priority:1" json:"account_id"`
	Sequence      int64             `gorm:"not null;uniqueIndex:ux_ledger_entries_account_sequence,priority:2" json:"sequence"`
	EntryType     EntryType         `gorm:"type:text;not null" json:"entry_type"`
	Amount        decimal.Decimal   `gorm:"type:numeric(38,8);not null" json:"amount"`
	BalanceBefore decimal.Decimal   `gorm:"type:numeric(38,8);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal   `gorm:"type:numeric(38,8);not null" json:"balance_after"`
	CorrelationID string            `gorm:"type:text;not null;index" json:"correlation_id"`
	Description   string            `gorm:"type:text" json:"description,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	OccurredAt    time.Time         `gorm:"not null" json:"occurred_at"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
}

func (Entry) TableName() string { return "ledger_entries" }
