package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vestora/internal/ledger/domain"
	"github.com/smallbiznis/vestora/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertAccountIfAbsent(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(account).Error
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, userID snowflake.ID, currency string) (*domain.Account, error) {
	var account domain.Account
	result := db.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		Limit(1).
		Find(&account)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	result := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&account)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) LockAccount(ctx context.Context, db *gorm.DB, userID snowflake.ID, currency string) (*domain.Account, error) {
	var account domain.Account
	result := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND currency = ?", userID, currency).
		Limit(1).
		Find(&account)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) UpdateBalance(ctx context.Context, db *gorm.DB, account *domain.Account, expectedVersion int64) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE ledger_accounts
		 SET balance = ?, last_sequence = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		account.Balance,
		account.LastSequence,
		account.Version,
		account.UpdatedAt,
		account.ID,
		expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`UPDATE ledger_accounts SET status = ?, updated_at = ? WHERE id = ?`,
		account.Status,
		account.UpdatedAt,
		account.ID,
	).Error
}

func (r *repo) ListAccountIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id > ?", afterID).
		Order("id asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, accountID snowflake.ID, filter domain.EntryFilter, page pagination.Pagination) ([]domain.Entry, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("account_id = ?", accountID)
	if filter.EntryType != "" {
		stmt = stmt.Where("entry_type = ?", filter.EntryType)
	}
	stmt, err := pagination.Apply(stmt, "id", page)
	if err != nil {
		return nil, err
	}

	var entries []domain.Entry
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListEntriesAfter(ctx context.Context, db *gorm.DB, accountID snowflake.ID, afterSequence int64, limit int) ([]domain.Entry, error) {
	var entries []domain.Entry
	err := db.WithContext(ctx).
		Where("account_id = ? AND sequence > ?", accountID, afterSequence).
		Order("sequence asc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListCorrelated(ctx context.Context, db *gorm.DB, accountID snowflake.ID, correlationID string, types []domain.EntryType) ([]domain.Entry, error) {
	stmt := db.WithContext(ctx).
		Where("account_id = ? AND correlation_id = ?", accountID, correlationID)
	if len(types) > 0 {
		stmt = stmt.Where("entry_type IN ?", types)
	}

	var entries []domain.Entry
	if err := stmt.Order("sequence asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
