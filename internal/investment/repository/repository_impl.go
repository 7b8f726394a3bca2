package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vestora/internal/investment/domain"
	"github.com/smallbiznis/vestora/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, inv *domain.Investment) error {
	return db.WithContext(ctx).Create(inv).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Investment, error) {
	var inv domain.Investment
	result := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&inv)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &inv, nil
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Investment, error) {
	var inv domain.Investment
	result := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&inv)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &inv, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, inv *domain.Investment, expectedVersion int64) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE investments
		 SET status = ?, accrued_return_total = ?, cycles_credited = ?,
		     start_date = ?, end_date = ?, last_accrual_at = ?, next_accrual_at = ?,
		     approved_by = ?, approved_at = ?, cancel_reason = ?, cancelled_at = ?,
		     completed_at = ?, last_error = ?, last_error_at = ?,
		     version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		inv.Status,
		inv.AccruedReturnTotal,
		inv.CyclesCredited,
		inv.StartDate,
		inv.EndDate,
		inv.LastAccrualAt,
		inv.NextAccrualAt,
		inv.ApprovedBy,
		inv.ApprovedAt,
		inv.CancelReason,
		inv.CancelledAt,
		inv.CompletedAt,
		inv.LastError,
		inv.LastErrorAt,
		inv.Version,
		inv.UpdatedAt,
		inv.ID,
		expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) UpdateLastError(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE investments SET last_error = ?, last_error_at = ? WHERE id = ?`,
		message,
		at,
		id,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]domain.Investment, error) {
	stmt := db.WithContext(ctx).Model(&domain.Investment{})
	if filter.UserID != 0 {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt, err := pagination.Apply(stmt, "id", page)
	if err != nil {
		return nil, err
	}

	var items []domain.Investment
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListDueIDs(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	return pluckIDs(db.WithContext(ctx).
		Model(&domain.Investment{}).
		Where("status = ? AND next_accrual_at <= ? AND id > ?", domain.StatusActive, now, afterID), limit)
}

func (r *repo) ListMaturedIDs(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	return pluckIDs(db.WithContext(ctx).
		Model(&domain.Investment{}).
		Where("status = ? AND end_date <= ? AND id > ?", domain.StatusActive, now, afterID), limit)
}

func (r *repo) ListIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	return pluckIDs(db.WithContext(ctx).
		Model(&domain.Investment{}).
		Where("id > ?", afterID), limit)
}

func pluckIDs(stmt *gorm.DB, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	if err := stmt.Order("id asc").Limit(limit).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) InsertBreakdown(ctx context.Context, db *gorm.DB, req *domain.BreakdownRequest) error {
	return db.WithContext(ctx).Create(req).Error
}

func (r *repo) FindBreakdownByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BreakdownRequest, error) {
	return findBreakdown(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) LockBreakdownByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BreakdownRequest, error) {
	return findBreakdown(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) FindPendingBreakdown(ctx context.Context, db *gorm.DB, investmentID snowflake.ID) (*domain.BreakdownRequest, error) {
	return findBreakdown(db.WithContext(ctx).
		Where("investment_id = ? AND status = ?", investmentID, domain.BreakdownStatusPending))
}

func findBreakdown(stmt *gorm.DB) (*domain.BreakdownRequest, error) {
	var req domain.BreakdownRequest
	result := stmt.Limit(1).Find(&req)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &req, nil
}

func (r *repo) UpdateBreakdown(ctx context.Context, db *gorm.DB, req *domain.BreakdownRequest) error {
	return db.WithContext(ctx).Exec(
		`UPDATE breakdown_requests
		 SET status = ?, notes = ?, settled_return = ?, decided_by = ?, decided_at = ?, updated_at = ?
		 WHERE id = ?`,
		req.Status,
		req.Notes,
		req.SettledReturn,
		req.DecidedBy,
		req.DecidedAt,
		req.UpdatedAt,
		req.ID,
	).Error
}

func (r *repo) ListStalePendingBreakdowns(ctx context.Context, db *gorm.DB, limit int) ([]domain.BreakdownRequest, error) {
	var items []domain.BreakdownRequest
	err := db.WithContext(ctx).
		Model(&domain.BreakdownRequest{}).
		Joins("JOIN investments ON investments.id = breakdown_requests.investment_id").
		Where("breakdown_requests.status = ? AND investments.status <> ?", domain.BreakdownStatusPending, domain.StatusBreakdownPending).
		Order("breakdown_requests.id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
