package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/vestora/internal/audit/domain"
	"github.com/smallbiznis/vestora/internal/authorization"
	"github.com/smallbiznis/vestora/internal/cache"
	"github.com/smallbiznis/vestora/internal/clock"
	"github.com/smallbiznis/vestora/internal/money"
	plandomain "github.com/smallbiznis/vestora/internal/plan/domain"
	"github.com/smallbiznis/vestora/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var maxRatePercent = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Money    *money.Registry
	Repo     plandomain.Repository
	AuthzSvc authorization.Service
	AuditSvc auditdomain.Service
	Cache    cache.PlanCache `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	money    *money.Registry
	repo     plandomain.Repository
	authzSvc authorization.Service
	auditSvc auditdomain.Service
	cache    cache.PlanCache
}

func NewService(p Params) plandomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("plan.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		money:    p.Money,
		repo:     p.Repo,
		authzSvc: p.AuthzSvc,
		auditSvc: p.AuditSvc,
		cache:    p.Cache,
	}
}

func (s *Service) Create(ctx context.Context, actor authorization.Actor, req plandomain.CreateRequest) (plandomain.Plan, error) {
	if err := s.authzSvc.Authorize(ctx, actor, authorization.ObjectPlan, authorization.ActionPlanManage); err != nil {
		return plandomain.Plan{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return plandomain.Plan{}, plandomain.ErrInvalidName
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = name
	}
	code = slug.Make(code)
	if code == "" || !slug.IsSlug(code) {
		return plandomain.Plan{}, plandomain.ErrInvalidCode
	}

	now := s.clock.Now()
	plan := plandomain.Plan{
		ID:                  s.genID.Generate(),
		Code:                code,
		Name:                name,
		Description:         strings.TrimSpace(req.Description),
		BaseCurrency:        money.Normalize(req.BaseCurrency),
		FixedAmount:         req.FixedAmount,
		RatePercent:         req.RatePercent,
		Frequency:           plandomain.Frequency(strings.ToLower(strings.TrimSpace(string(req.Frequency)))),
		DurationDays:        req.DurationDays,
		BreakdownWindowDays: req.BreakdownWindowDays,
		Status:              plandomain.StatusActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if plan.BaseCurrency == "" {
		plan.BaseCurrency = money.INR
	}
	if err := s.validateTerms(plan); err != nil {
		return plandomain.Plan{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &plan); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return plandomain.ErrDuplicateCode
			}
			return err
		}
		return s.audit(ctx, tx, actor, auditdomain.ActionPlanCreate, plan, nil)
	})
	if err != nil {
		return plandomain.Plan{}, err
	}

	s.log.Info("plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("code", plan.Code),
	)
	return plan, nil
}

// UpdateTerms is refused once any investment references the plan. The check
// runs under the plan row lock.
func (s *Service) UpdateTerms(ctx context.Context, actor authorization.Actor, id snowflake.ID, req plandomain.UpdateTermsRequest) (plandomain.Plan, error) {
	if err := s.authzSvc.Authorize(ctx, actor, authorization.ObjectPlan, authorization.ActionPlanManage); err != nil {
		return plandomain.Plan{}, err
	}

	var updated plandomain.Plan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if plan == nil {
			return plandomain.ErrNotFound
		}

		referenced, err := s.repo.IsReferenced(ctx, tx, id)
		if err != nil {
			return err
		}
		if referenced {
			return plandomain.ErrPlanReferenced
		}

		applyTerms(plan, req)
		if strings.TrimSpace(plan.Name) == "" {
			return plandomain.ErrInvalidName
		}
		if err := s.validateTerms(*plan); err != nil {
			return err
		}
		plan.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, plan); err != nil {
			return err
		}
		updated = *plan
		return s.audit(ctx, tx, actor, auditdomain.ActionPlanUpdateTerms, *plan, nil)
	})
	if err != nil {
		return plandomain.Plan{}, err
	}

	s.invalidate(ctx, id)
	return updated, nil
}

func (s *Service) SetStatus(ctx context.Context, actor authorization.Actor, id snowflake.ID, status plandomain.Status) (plandomain.Plan, error) {
	if err := s.authzSvc.Authorize(ctx, actor, authorization.ObjectPlan, authorization.ActionPlanManage); err != nil {
		return plandomain.Plan{}, err
	}
	if !status.Valid() {
		return plandomain.Plan{}, plandomain.ErrInvalidStatus
	}

	var updated plandomain.Plan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if plan == nil {
			return plandomain.ErrNotFound
		}

		previous := plan.Status
		plan.Status = status
		plan.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, plan); err != nil {
			return err
		}
		updated = *plan
		return s.audit(ctx, tx, actor, auditdomain.ActionPlanSetStatus, *plan, map[string]any{
			"from": string(previous),
			"to":   string(status),
		})
	})
	if err != nil {
		return plandomain.Plan{}, err
	}

	s.invalidate(ctx, id)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (plandomain.Plan, error) {
	if s.cache != nil {
		if plan, ok := s.cache.Get(ctx, id); ok {
			return plan, nil
		}
	}

	plan, err := s.GetTx(ctx, s.db, id)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, plan)
	}
	return plan, nil
}

func (s *Service) GetTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (plandomain.Plan, error) {
	plan, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if plan == nil {
		return plandomain.Plan{}, plandomain.ErrNotFound
	}
	return *plan, nil
}

func (s *Service) ShareLockTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (plandomain.Plan, error) {
	plan, err := s.repo.ShareLockByID(ctx, tx, id)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if plan == nil {
		return plandomain.Plan{}, plandomain.ErrNotFound
	}
	return *plan, nil
}

func (s *Service) List(ctx context.Context, req plandomain.ListRequest) ([]plandomain.Plan, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, plandomain.ErrInvalidStatus
	}
	return s.repo.List(ctx, s.db, req.Status)
}

func (s *Service) validateTerms(plan plandomain.Plan) error {
	if err := s.money.ValidateAmount(plan.BaseCurrency, plan.FixedAmount); err != nil {
		return err
	}
	if !plan.RatePercent.IsPositive() || plan.RatePercent.GreaterThan(maxRatePercent) {
		return plandomain.ErrInvalidRate
	}
	cycleDays, err := plan.Frequency.CycleDays()
	if err != nil {
		return err
	}
	if plan.DurationDays < cycleDays {
		return plandomain.ErrInvalidDuration
	}
	if plan.BreakdownWindowDays < 0 || plan.BreakdownWindowDays > plan.DurationDays {
		return plandomain.ErrInvalidWindow
	}
	return nil
}

func applyTerms(plan *plandomain.Plan, req plandomain.UpdateTermsRequest) {
	if req.Name != nil {
		plan.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		plan.Description = strings.TrimSpace(*req.Description)
	}
	if req.FixedAmount != nil {
		plan.FixedAmount = *req.FixedAmount
	}
	if req.RatePercent != nil {
		plan.RatePercent = *req.RatePercent
	}
	if req.Frequency != nil {
		plan.Frequency = plandomain.Frequency(strings.ToLower(strings.TrimSpace(string(*req.Frequency))))
	}
	if req.DurationDays != nil {
		plan.DurationDays = *req.DurationDays
	}
	if req.BreakdownWindowDays != nil {
		plan.BreakdownWindowDays = *req.BreakdownWindowDays
	}
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor authorization.Actor, action string, plan plandomain.Plan, extra map[string]any) error {
	metadata := map[string]any{
		"code":         plan.Code,
		"fixed_amount": plan.FixedAmount.String(),
		"rate_percent": plan.RatePercent.String(),
		"frequency":    string(plan.Frequency),
		"status":       string(plan.Status),
	}
	for key, value := range extra {
		metadata[key] = value
	}
	return s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
		ActorType:  actor.Type,
		ActorID:    actor.IDString(),
		Action:     action,
		TargetType: "plan",
		TargetID:   plan.ID.String(),
		Metadata:   metadata,
	})
}

func (s *Service) invalidate(ctx context.Context, id snowflake.ID) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}
}
