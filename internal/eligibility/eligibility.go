// Package eligibility answers whether a user has cleared KYC and may buy
// investments. Identity and document storage live elsewhere; this package
// only reads the verified flag they maintain.
package eligibility

//go:generate mockgen -destination=mock/checker_mock.go -package=mock github.com/smallbiznis/vestora/internal/eligibility Checker

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Checker interface {
	IsEligible(ctx context.Context, userID snowflake.ID) (bool, error)
}

// UserEligibility mirrors the KYC outcome written by the identity service.
type UserEligibility struct {
	UserID      snowflake.ID `gorm:"primaryKey" json:"user_id"`
	KYCVerified bool         `gorm:"not null" json:"kyc_verified"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (UserEligibility) TableName() string { return "user_eligibility" }

type dbChecker struct {
	db *gorm.DB
}

func NewDBChecker(db *gorm.DB) Checker {
	return &dbChecker{db: db}
}

// IsEligible treats a missing row as not verified.
func (c *dbChecker) IsEligible(ctx context.Context, userID snowflake.ID) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	var row UserEligibility
	result := c.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0 && row.KYCVerified, nil
}

var Module = fx.Module("eligibility",
	fx.Provide(NewDBChecker),
)
