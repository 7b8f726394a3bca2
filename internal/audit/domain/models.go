package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	ActorTypeSystem = "system"
	ActorTypeUser   = "user"
)

// Actions recorded by the engine.
const (
	ActionPlanCreate        = "plan.create"
	ActionPlanUpdateTerms   = "plan.update_terms"
	ActionPlanSetStatus     = "plan.set_status"
	ActionInvestmentCreate  = "investment.create"
	ActionInvestmentApprove = "investment.approve"
	ActionInvestmentCancel  = "investment.cancel"
	ActionBreakdownRequest  = "breakdown.request"
	ActionBreakdownApprove  = "breakdown.approve"
	ActionBreakdownReject   = "breakdown.reject"
	ActionWalletDeposit     = "wallet.deposit"
	ActionWalletWithdraw    = "wallet.withdraw"
	ActionWalletStatus      = "wallet.set_status"
	ActionRoleGrant         = "role.grant"
	ActionRoleRevoke        = "role.revoke"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    string            `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null;index" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"target_type"`
	TargetID   string            `gorm:"type:text;index" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
