package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vestora/internal/apperror"
	"github.com/smallbiznis/vestora/pkg/db/pagination"
	"gorm.io/gorm"
)

// PostingRequest describes one credit or debit against a user's wallet.
type PostingRequest struct {
	UserID        snowflake.ID
	Currency      string
	Amount        decimal.Decimal
	EntryType     EntryType
	CorrelationID string
	Description   string
	Metadata      map[string]any
}

type ListEntriesRequest struct {
	UserID    snowflake.ID
	Currency  string
	EntryType EntryType
	PageToken string
	PageSize  int
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

// ReconcileReport is the result of replaying an account's entries from the
// first sequence.
type ReconcileReport struct {
	AccountID       snowflake.ID    `json:"account_id"`
	EntryCount      int             `json:"entry_count"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ReplayedBalance decimal.Decimal `json:"replayed_balance"`
	Problems        []string        `json:"problems,omitempty"`
}

func (r ReconcileReport) Consistent() bool {
	return len(r.Problems) == 0
}

type Service interface {
	OpenAccount(ctx context.Context, userID snowflake.ID, currency string) (Account, error)
	GetAccount(ctx context.Context, userID snowflake.ID, currency string) (Account, error)
	SetAccountStatus(ctx context.Context, userID snowflake.ID, currency string, status AccountStatus) (Account, error)

	Credit(ctx context.Context, req PostingRequest) (Entry, error)
	Debit(ctx context.Context, req PostingRequest) (Entry, error)
	// CreditTx and DebitTx post inside the caller's transaction so a status
	// change and its ledger effect commit together.
	CreditTx(ctx context.Context, tx *gorm.DB, req PostingRequest) (Entry, error)
	DebitTx(ctx context.Context, tx *gorm.DB, req PostingRequest) (Entry, error)

	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
	// SumCorrelatedTx totals the signed amounts of the given entry types that
	// carry correlationID on the user's wallet.
	SumCorrelatedTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID, currency, correlationID string, types []EntryType) (decimal.Decimal, error)

	Reconcile(ctx context.Context, accountID snowflake.ID) (ReconcileReport, error)
	ListAccountIDs(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
}

var (
	ErrInvalidUser         = apperror.New(apperror.KindInvalidRequest, "invalid_user")
	ErrInvalidEntryType    = apperror.New(apperror.KindInvalidRequest, "invalid_entry_type")
	ErrInvalidCorrelation  = apperror.New(apperror.KindInvalidRequest, "invalid_correlation_id")
	ErrInvalidStatus       = apperror.New(apperror.KindInvalidRequest, "invalid_account_status")
	ErrDirectionMismatch   = apperror.New(apperror.KindInvalidAmount, "entry_type_direction_mismatch")
	ErrInsufficientFunds   = apperror.New(apperror.KindInsufficientFunds, "insufficient_funds")
	ErrAccountFrozen       = apperror.New(apperror.KindNotEligible, "account_frozen")
	ErrAccountNotFound     = apperror.New(apperror.KindNotFound, "account_not_found")
	ErrConcurrentPosting   = apperror.New(apperror.KindConcurrencyConflict, "account_version_conflict")
	ErrInvalidPageToken    = apperror.New(apperror.KindInvalidRequest, "invalid_page_token")
	ErrTransactionRequired = apperror.New(apperror.KindInternal, "transaction_required")
)
