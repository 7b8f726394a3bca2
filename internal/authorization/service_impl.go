package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/vestora/internal/audit/domain"
	"github.com/smallbiznis/vestora/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer persists policies and role grants in casbin_rule through the
// gorm adapter, then seeds the static policy set and bootstrap admins.
func NewEnforcer(db *gorm.DB, cfg config.Config) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := bootstrap(enforcer, cfg.AdminUserIDs); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// NewMemoryEnforcer keeps everything in memory.
func NewMemoryEnforcer(adminUserIDs ...string) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := bootstrap(enforcer, adminUserIDs); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}
	if actor.IsSystem() {
		return nil
	}
	if actor.Type != ActorTypeUser || actor.ID == 0 {
		return ErrInvalidActor
	}

	allowed, err := s.enforcer.Enforce(actor.Subject(), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("subject", actor.Subject()),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) GrantRole(ctx context.Context, actor Actor, userID snowflake.ID, role string) error {
	return s.changeRole(ctx, actor, userID, role, auditdomain.ActionRoleGrant, s.enforcer.AddGroupingPolicy)
}

func (s *ServiceImpl) RevokeRole(ctx context.Context, actor Actor, userID snowflake.ID, role string) error {
	return s.changeRole(ctx, actor, userID, role, auditdomain.ActionRoleRevoke, s.enforcer.RemoveGroupingPolicy)
}

func (s *ServiceImpl) changeRole(
	ctx context.Context,
	actor Actor,
	userID snowflake.ID,
	role string,
	action string,
	apply func(params ...interface{}) (bool, error),
) error {
	role, err := normalizeRole(role)
	if err != nil {
		return err
	}
	if userID == 0 {
		return ErrInvalidActor
	}
	if err := s.Authorize(ctx, actor, ObjectRole, ActionRoleManage); err != nil {
		return err
	}

	changed, err := apply(User(userID).Subject(), role)
	if err != nil {
		return err
	}
	s.log.Info("role changed",
		zap.String("action", action),
		zap.String("subject", User(userID).Subject()),
		zap.String("role", role),
		zap.Bool("changed", changed),
	)
	if s.auditSvc == nil {
		return nil
	}
	// casbin_rule is written by the adapter outside any caller transaction
	return s.auditSvc.Record(ctx, nil, auditdomain.RecordRequest{
		ActorType:  actor.Type,
		ActorID:    actor.IDString(),
		Action:     action,
		TargetType: "user",
		TargetID:   userID.String(),
		Metadata: map[string]any{
			"role":    role,
			"changed": changed,
		},
	})
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor Actor, object, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, nil, auditdomain.RecordRequest{
		ActorType:  actor.Type,
		ActorID:    actor.IDString(),
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object":  object,
			"action":  action,
			"subject": actor.Subject(),
		},
	})
}

// normalizeRole accepts "admin" or "role:admin". Only roles with seeded
// policies can be granted.
func normalizeRole(role string) (string, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != "" && !strings.HasPrefix(role, "role:") {
		role = "role:" + role
	}
	if role != RoleAdmin {
		return "", ErrInvalidRole
	}
	return role, nil
}

func bootstrap(enforcer *casbin.SyncedEnforcer, adminUserIDs []string) error {
	if err := seedPolicies(enforcer); err != nil {
		return err
	}
	for _, raw := range adminUserIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id == 0 {
			return ErrInvalidActor
		}
		if _, err := enforcer.AddGroupingPolicy(User(id).Subject(), RoleAdmin); err != nil {
			return err
		}
	}
	return enforcer.BuildRoleLinks()
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{RoleAdmin, ObjectInvestment, ActionInvestmentApprove},
		{RoleAdmin, ObjectInvestment, ActionInvestmentCancel},
		{RoleAdmin, ObjectBreakdown, ActionBreakdownApprove},
		{RoleAdmin, ObjectBreakdown, ActionBreakdownReject},
		{RoleAdmin, ObjectWallet, ActionWalletAdjust},
		{RoleAdmin, ObjectPlan, ActionPlanManage},
		{RoleAdmin, ObjectAuditLog, ActionAuditLogView},
		{RoleAdmin, ObjectRole, ActionRoleManage},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
