package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vestora/pkg/db/pagination"
	"gorm.io/gorm"
)

type EntryFilter struct {
	EntryType EntryType
}

type Repository interface {
	// InsertAccountIfAbsent creates the wallet unless one already exists for
	// the same user and currency.
	InsertAccountIfAbsent(ctx context.Context, db *gorm.DB, account *Account) error
	FindAccount(ctx context.Context, db *gorm.DB, userID snowflake.ID, currency string) (*Account, error)
	FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	// LockAccount reads the wallet with SELECT ... FOR UPDATE.
	LockAccount(ctx context.Context, db *gorm.DB, userID snowflake.ID, currency string) (*Account, error)
	// UpdateBalance writes balance and sequence, guarded by the version read
	// under lock. It returns false when the row changed underneath.
	UpdateBalance(ctx context.Context, db *gorm.DB, account *Account, expectedVersion int64) (bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, account *Account) error
	ListAccountIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)

	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) error
	ListEntries(ctx context.Context, db *gorm.DB, accountID snowflake.ID, filter EntryFilter, page pagination.Pagination) ([]Entry, error)
	// ListEntriesAfter returns entries in ascending sequence order.
	ListEntriesAfter(ctx context.Context, db *gorm.DB, accountID snowflake.ID, afterSequence int64, limit int) ([]Entry, error)
	ListCorrelated(ctx context.Context, db *gorm.DB, accountID snowflake.ID, correlationID string, types []EntryType) ([]Entry, error)
}
