package authorization

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vestora/internal/apperror"
)

const (
	ObjectInvestment = "investment"
	ObjectBreakdown  = "breakdown"
	ObjectWallet     = "wallet"
	ObjectPlan       = "plan"
	ObjectAuditLog   = "audit_log"
	ObjectRole       = "role"
)

const (
	ActionInvestmentApprove = "investment.approve"
	ActionInvestmentCancel  = "investment.cancel"
	ActionBreakdownApprove  = "breakdown.approve"
	ActionBreakdownReject   = "breakdown.reject"
	ActionWalletAdjust      = "wallet.adjust"
	ActionPlanManage        = "plan.manage"
	ActionAuditLogView      = "audit_log.view"
	ActionRoleManage        = "role.manage"
)

const RoleAdmin = "role:admin"

type Service interface {
	// Authorize returns ErrForbidden unless actor may perform action on object.
	// The system actor is always allowed.
	Authorize(ctx context.Context, actor Actor, object, action string) error
	// GrantRole and RevokeRole require role.manage and are audited. Both are
	// idempotent.
	GrantRole(ctx context.Context, actor Actor, userID snowflake.ID, role string) error
	RevokeRole(ctx context.Context, actor Actor, userID snowflake.ID, role string) error
}

var (
	ErrInvalidActor  = apperror.New(apperror.KindInvalidRequest, "invalid_actor")
	ErrInvalidObject = apperror.New(apperror.KindInvalidRequest, "invalid_object")
	ErrInvalidAction = apperror.New(apperror.KindInvalidRequest, "invalid_action")
	ErrInvalidRole   = apperror.New(apperror.KindInvalidRequest, "invalid_role")
	ErrForbidden     = apperror.ErrForbidden
)
