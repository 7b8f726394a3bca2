package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/vestora/internal/audit/domain"
	"github.com/smallbiznis/vestora/internal/authorization"
	"github.com/smallbiznis/vestora/internal/clock"
	"github.com/smallbiznis/vestora/internal/config"
	"github.com/smallbiznis/vestora/internal/eligibility"
	investmentdomain "github.com/smallbiznis/vestora/internal/investment/domain"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
	"github.com/smallbiznis/vestora/internal/money"
	obsmetrics "github.com/smallbiznis/vestora/internal/observability/metrics"
	plandomain "github.com/smallbiznis/vestora/internal/plan/domain"
	"github.com/smallbiznis/vestora/pkg/db"
	"github.com/smallbiznis/vestora/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxLastErrorLength = 500
	healthCheckLimit   = 500
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Money       *money.Registry
	Engine      *config.EngineHolder
	Repo        investmentdomain.Repository
	PlanSvc     plandomain.Service
	LedgerSvc   ledgerdomain.Service
	AuthzSvc    authorization.Service
	AuditSvc    auditdomain.Service
	Eligibility eligibility.Checker
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	money       *money.Registry
	engine      *config.EngineHolder
	repo        investmentdomain.Repository
	planSvc     plandomain.Service
	ledgerSvc   ledgerdomain.Service
	authzSvc    authorization.Service
	auditSvc    auditdomain.Service
	eligibility eligibility.Checker
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) investmentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("investment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		money:       p.Money,
		engine:      p.Engine,
		repo:        p.Repo,
		planSvc:     p.PlanSvc,
		ledgerSvc:   p.LedgerSvc,
		authzSvc:    p.AuthzSvc,
		auditSvc:    p.AuditSvc,
		eligibility: p.Eligibility,
		obsMetrics:  p.ObsMetrics,
	}
}

// CreateInvestment buys a plan at its exact price. Direct payments debit the
// wallet in the same transaction that inserts the active investment; admin
// payments wait in pending_approval with no ledger effect.
func (s *Service) CreateInvestment(ctx context.Context, req investmentdomain.CreateInvestmentRequest) (investmentdomain.Investment, error) {
	if req.UserID == 0 {
		return investmentdomain.Investment{}, investmentdomain.ErrInvalidUser
	}
	if req.PlanID == 0 {
		return investmentdomain.Investment{}, investmentdomain.ErrInvalidPlan
	}
	mode := req.PaymentMode
	if mode == "" {
		mode = investmentdomain.PaymentModeDirect
	}
	if !mode.Valid() {
		return investmentdomain.Investment{}, investmentdomain.ErrInvalidPaymentMode
	}
	currency := money.Normalize(req.Currency)
	if err := s.money.ValidateAmount(currency, req.Amount); err != nil {
		return investmentdomain.Investment{}, err
	}

	plan, err := s.planSvc.GetTx(ctx, s.db, req.PlanID)
	if err != nil {
		return investmentdomain.Investment{}, err
	}
	if err := s.checkPrice(plan, currency, req.Amount); err != nil {
		return investmentdomain.Investment{}, err
	}

	eligible, err := s.eligibility.IsEligible(ctx, req.UserID)
	if err != nil {
		return investmentdomain.Investment{}, fmt.Errorf("check eligibility: %w", err)
	}
	if !eligible {
		return investmentdomain.Investment{}, investmentdomain.ErrKYCRequired
	}

	id := s.genID.Generate()
	var created investmentdomain.Investment
	err = db.WithRetry(ctx, s.engine.Get().DBRetryAttempts, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// terms may have changed since the price check; the share lock
			// holds them until commit
			plan, err := s.planSvc.ShareLockTx(ctx, tx, req.PlanID)
			if err != nil {
				return err
			}
			if err := s.checkPrice(plan, currency, req.Amount); err != nil {
				return err
			}

			now := s.clock.Now()
			inv := investmentdomain.Investment{
				ID:                  id,
				UserID:              req.UserID,
				PlanID:              plan.ID,
				Principal:           req.Amount,
				Currency:            currency,
				RatePercent:         plan.RatePercent,
				Frequency:           plan.Frequency,
				DurationDays:        plan.DurationDays,
				BreakdownWindowDays: plan.BreakdownWindowDays,
				PaymentMode:         mode,
				Status:              investmentdomain.StatusPendingApproval,
				AccruedReturnTotal:  decimal.Zero,
				Version:             1,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if mode == investmentdomain.PaymentModeDirect {
				inv.Status = investmentdomain.StatusActive
				if err := inv.Start(now); err != nil {
					return err
				}
			}

			if err := s.repo.Insert(ctx, tx, &inv); err != nil {
				return err
			}
			if mode == investmentdomain.PaymentModeDirect {
				if err := s.debitPurchase(ctx, tx, inv); err != nil {
					return err
				}
			}

			created = inv
			return s.audit(ctx, tx, authorization.User(req.UserID), auditdomain.ActionInvestmentCreate, "investment", inv.ID, map[string]any{
				"plan_id":      plan.ID.String(),
				"principal":    inv.Principal.String(),
				"currency":     inv.Currency,
				"payment_mode": string(mode),
			})
		})
	})
	if err != nil {
		return investmentdomain.Investment{}, err
	}

	s.obsMetrics.RecordInvestmentTransition(ctx, "", string(created.Status))
	s.log.Info("investment created",
		zap.String("investment_id", created.ID.String()),
		zap.String("user_id", created.UserID.String()),
		zap.String("status", string(created.Status)),
		zap.String("payment_mode", string(mode)),
	)
	return created, nil
}

func (s *Service) checkPrice(plan plandomain.Plan, currency string, amount decimal.Decimal) error {
	if plan.Status != plandomain.StatusActive {
		return plandomain.ErrPlanInactive
	}
	scale, err := s.money.Scale(currency)
	if err != nil {
		return err
	}
	price, err := plan.PriceIn(currency, s.engine.Get().USDTINRRate, scale)
	if err != nil {
		return err
	}
	if !amount.Equal(price) {
		return plandomain.ErrAmountOutOfBounds
	}
	return nil
}

func (s *Service) debitPurchase(ctx context.Context, tx *gorm.DB, inv investmentdomain.Investment) error {
	_, err := s.ledgerSvc.DebitTx(ctx, tx, ledgerdomain.PostingRequest{
		UserID:        inv.UserID,
		Currency:      inv.Currency,
		Amount:        inv.Principal,
		EntryType:     ledgerdomain.EntryTypeInvestmentPurchase,
		CorrelationID: inv.ID.String(),
		Description:   "investment purchase",
		Metadata:      map[string]any{"plan_id": inv.PlanID.String()},
	})
	return err
}

// ApprovePurchase activates an admin-mediated purchase. The wallet debit and
// the accrual schedule both start at approval.
func (s *Service) ApprovePurchase(ctx context.Context, actor authorization.Actor, id snowflake.ID) (investmentdomain.Investment, error) {
	if err := s.authzSvc.Authorize(ctx, actor, authorization.ObjectInvestment, authorization.ActionInvestmentApprove); err != nil {
		return investmentdomain.Investment{}, err
	}

	var approved investmentdomain.Investment
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		inv, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv.Status != investmentdomain.StatusPendingApproval ||
			!investmentdomain.CanTransition(inv.Status, investmentdomain.StatusActive) {
			return investmentdomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		if err := inv.Start(now); err != nil {
			return err
		}
		inv.Status = investmentdomain.StatusActive
		inv.ApprovedBy = actor.Subject()
		inv.ApprovedAt = &now

		if err := s.debitPurchase(ctx, tx, *inv); err != nil {
			return err
		}
		if err := s.save(ctx, tx, inv, now); err != nil {
			return err
		}
		approved = *inv
		return s.audit(ctx, tx, actor, auditdomain.ActionInvestmentApprove, "investment", inv.ID, map[string]any{
			"principal": inv.Principal.String(),
			"currency":  inv.Currency,
		})
	})
	if err != nil {
		return investmentdomain.Investment{}, err
	}

	s.obsMetrics.RecordInvestmentTransition(ctx, string(investmentdomain.StatusPendingApproval), string(investmentdomain.StatusActive))
	s.log.Info("investment approved",
		zap.String("investment_id", id.String()),
		zap.String("actor", actor.Subject()),
	)
	return approved, nil
}

// Cancel ends a pending or active investment without settlement.
func (s *Service) Cancel(ctx context.Context, actor authorization.Actor, id snowflake.ID, reason string) (investmentdomain.Investment, error) {
	if err := s.authzSvc.Authorize(ctx, actor, authorization.ObjectInvestment, authorization.ActionInvestmentCancel); err != nil {
		return investmentdomain.Investment{}, err
	}

	var (
		cancelled investmentdomain.Investment
		previous  investmentdomain.Status
	)
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		inv, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if !investmentdomain.CanTransition(inv.Status, investmentdomain.StatusCancelled) {
			return investmentdomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		previous = inv.Status
		inv.Status = investmentdomain.StatusCancelled
		inv.CancelReason = strings.TrimSpace(reason)
		inv.CancelledAt = &now
		inv.NextAccrualAt = nil
		if err := s.save(ctx, tx, inv, now); err != nil {
			return err
		}
		cancelled = *inv
		return s.audit(ctx, tx, actor, auditdomain.ActionInvestmentCancel, "investment", inv.ID, map[string]any{
			"from":   string(previous),
			"reason": inv.CancelReason,
		})
	})
	if err != nil {
		return investmentdomain.Investment{}, err
	}

	s.obsMetrics.RecordInvestmentTransition(ctx, string(previous), string(investmentdomain.StatusCancelled))
	s.log.Info("investment cancelled",
		zap.String("investment_id", id.String()),
		zap.String("actor", actor.Subject()),
	)
	return cancelled, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (investmentdomain.Investment, error) {
	inv, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return investmentdomain.Investment{}, err
	}
	if inv == nil {
		return investmentdomain.Investment{}, investmentdomain.ErrNotFound
	}
	return *inv, nil
}

func (s *Service) List(ctx context.Context, req investmentdomain.ListInvestmentsRequest) (investmentdomain.ListInvestmentsResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return investmentdomain.ListInvestmentsResponse{}, investmentdomain.ErrInvalidStatus
	}
	if err := pagination.ValidateToken(req.PageToken); err != nil {
		return investmentdomain.ListInvestmentsResponse{}, investmentdomain.ErrInvalidPageToken
	}

	items, err := s.repo.List(ctx, s.db, investmentdomain.ListFilter{
		UserID: req.UserID,
		Status: req.Status,
	}, req.Pagination)
	if err != nil {
		return investmentdomain.ListInvestmentsResponse{}, err
	}

	investments, pageInfo := pagination.BuildCursorPageInfo(items, req.Pagination.Limit(), func(item investmentdomain.Investment) string {
		return item.ID.String()
	})
	return investmentdomain.ListInvestmentsResponse{PageInfo: pageInfo, Investments: investments}, nil
}

func (s *Service) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return db.WithRetry(ctx, s.engine.Get().DBRetryAttempts, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(fn)
	})
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*investmentdomain.Investment, error) {
	inv, err := s.repo.LockByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, investmentdomain.ErrNotFound
	}
	return inv, nil
}

func (s *Service) save(ctx context.Context, tx *gorm.DB, inv *investmentdomain.Investment, now time.Time) error {
	expected := inv.Version
	inv.Version++
	inv.UpdatedAt = now
	ok, err := s.repo.Update(ctx, tx, inv, expected)
	if err != nil {
		return err
	}
	if !ok {
		return investmentdomain.ErrVersionConflict
	}
	return nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor authorization.Actor, action, targetType string, targetID snowflake.ID, metadata map[string]any) error {
	return s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
		ActorType:  actor.Type,
		ActorID:    actor.IDString(),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID.String(),
		Metadata:   metadata,
	})
}
