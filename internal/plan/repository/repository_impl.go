package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vestora/internal/plan/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	result := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&plan)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	return r.findLocked(ctx, db, id, clause.LockingStrengthUpdate)
}

func (r *repo) ShareLockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	return r.findLocked(ctx, db, id, clause.LockingStrengthShare)
}

func (r *repo) findLocked(ctx context.Context, db *gorm.DB, id snowflake.ID, strength string) (*domain.Plan, error) {
	var plan domain.Plan
	result := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: strength}).
		Where("id = ?", id).
		Limit(1).
		Find(&plan)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`UPDATE plans
		 SET name = ?, description = ?, fixed_amount = ?, rate_percent = ?, frequency = ?,
		     duration_days = ?, breakdown_window_days = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		plan.Name,
		plan.Description,
		plan.FixedAmount,
		plan.RatePercent,
		plan.Frequency,
		plan.DurationDays,
		plan.BreakdownWindowDays,
		plan.Status,
		plan.UpdatedAt,
		plan.ID,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, status domain.Status) ([]domain.Plan, error) {
	stmt := db.WithContext(ctx).Model(&domain.Plan{})
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}

	var plans []domain.Plan
	if err := stmt.Order("id asc").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) IsReferenced(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Table("investments").
		Where("plan_id = ?", id).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
