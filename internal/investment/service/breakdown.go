package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/vestora/internal/audit/domain"
	"github.com/smallbiznis/vestora/internal/authorization"
	investmentdomain "github.com/smallbiznis/vestora/internal/investment/domain"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
	"github.com/smallbiznis/vestora/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RequestBreakdown freezes the early-exit payout for an active investment
// inside its breakdown window.
func (s *Service) RequestBreakdown(ctx context.Context, id, userID snowflake.ID) (investmentdomain.BreakdownRequest, error) {
	if userID == 0 {
		return investmentdomain.BreakdownRequest{}, investmentdomain.ErrInvalidUser
	}

	var created investmentdomain.BreakdownRequest
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		inv, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv.UserID != userID {
			return investmentdomain.ErrNotOwner
		}
		if inv.Status == investmentdomain.StatusBreakdownPending {
			return investmentdomain.ErrBreakdownAlreadyExists
		}
		pending, err := s.repo.FindPendingBreakdown(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			return investmentdomain.ErrBreakdownAlreadyExists
		}
		if inv.Status != investmentdomain.StatusActive {
			return investmentdomain.ErrNotActive
		}

		now := s.clock.Now()
		deadline, ok := inv.BreakdownDeadline()
		if !ok || now.After(deadline) {
			return investmentdomain.ErrOutsideBreakdownWindow
		}

		scale, err := s.money.Scale(inv.Currency)
		if err != nil {
			return err
		}
		cfg := s.engine.Get()
		final := investmentdomain.ComputeBreakdownPayout(inv.Principal, inv.AccruedReturnTotal, cfg.BreakdownRetention, cfg.BreakdownClawback, scale)

		req := investmentdomain.BreakdownRequest{
			ID:               s.genID.Generate(),
			InvestmentID:     inv.ID,
			UserID:           inv.UserID,
			Currency:         inv.Currency,
			RequestedAmount:  inv.Principal,
			AccruedAtRequest: inv.AccruedReturnTotal,
			FinalAmount:      final,
			SettledReturn:    decimal.Zero,
			Status:           investmentdomain.BreakdownStatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.repo.InsertBreakdown(ctx, tx, &req); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return investmentdomain.ErrBreakdownAlreadyExists
			}
			return err
		}

		inv.Status = investmentdomain.StatusBreakdownPending
		if err := s.save(ctx, tx, inv, now); err != nil {
			return err
		}
		created = req
		return s.audit(ctx, tx, authorization.User(userID), auditdomain.ActionBreakdownRequest, "breakdown_request", req.ID, map[string]any{
			"investment_id":      inv.ID.String(),
			"final_amount":       final.String(),
			"accrued_at_request": inv.AccruedReturnTotal.String(),
		})
	})
	if err != nil {
		return investmentdomain.BreakdownRequest{}, err
	}

	s.obsMetrics.RecordInvestmentTransition(ctx, string(investmentdomain.StatusActive), string(investmentdomain.StatusBreakdownPending))
	s.log.Info("breakdown requested",
		zap.String("investment_id", id.String()),
		zap.String("request_id", created.ID.String()),
		zap.String("final_amount", created.FinalAmount.String()),
	)
	return created, nil
}

// ApproveBreakdown pays the frozen final amount and closes the investment.
// Accrued return not yet in the ledger is credited first.
func (s *Service) ApproveBreakdown(ctx context.Context, actor authorization.Actor, requestID snowflake.ID) (investmentdomain.BreakdownRequest, error) {
	if err := s.authzSvc.Authorize(ctx, actor, authorization.ObjectBreakdown, authorization.ActionBreakdownApprove); err != nil {
		return investmentdomain.BreakdownRequest{}, err
	}

	var decided investmentdomain.BreakdownRequest
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		req, inv, err := s.lockBreakdown(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !investmentdomain.CanTransition(inv.Status, investmentdomain.StatusBreakdownApproved) {
			return investmentdomain.ErrInvalidTransition
		}

		settled, err := s.settleUncreditedReturn(ctx, tx, inv)
		if err != nil {
			return err
		}
		if req.FinalAmount.IsPositive() {
			_, err := s.ledgerSvc.CreditTx(ctx, tx, ledgerdomain.PostingRequest{
				UserID:        inv.UserID,
				Currency:      inv.Currency,
				Amount:        req.FinalAmount,
				EntryType:     ledgerdomain.EntryTypeBreakdownPayout,
				CorrelationID: req.ID.String(),
				Description:   "breakdown payout",
				Metadata:      map[string]any{"investment_id": inv.ID.String()},
			})
			if err != nil {
				return err
			}
		}

		now := s.clock.Now()
		req.Status = investmentdomain.BreakdownStatusApproved
		req.SettledReturn = settled
		req.DecidedBy = actor.Subject()
		req.DecidedAt = &now
		req.UpdatedAt = now
		if err := s.repo.UpdateBreakdown(ctx, tx, req); err != nil {
			return err
		}

		inv.Status = investmentdomain.StatusBreakdownApproved
		inv.NextAccrualAt = nil
		if err := s.save(ctx, tx, inv, now); err != nil {
			return err
		}
		decided = *req
		return s.audit(ctx, tx, actor, auditdomain.ActionBreakdownApprove, "breakdown_request", req.ID, map[string]any{
			"investment_id":  inv.ID.String(),
			"final_amount":   req.FinalAmount.String(),
			"settled_return": settled.String(),
		})
	})
	if err != nil {
		return investmentdomain.BreakdownRequest{}, err
	}

	s.obsMetrics.RecordBreakdownDecision(ctx, string(investmentdomain.BreakdownStatusApproved))
	s.obsMetrics.RecordInvestmentTransition(ctx, string(investmentdomain.StatusBreakdownPending), string(investmentdomain.StatusBreakdownApproved))
	s.log.Info("breakdown approved",
		zap.String("request_id", requestID.String()),
		zap.String("investment_id", decided.InvestmentID.String()),
		zap.String("actor", actor.Subject()),
	)
	return decided, nil
}

// RejectBreakdown returns the investment to active. Its accrual schedule is
// untouched, so cycles that fell due meanwhile are caught up on the next pass.
func (s *Service) RejectBreakdown(ctx context.Context, actor authorization.Actor, requestID snowflake.ID, notes string) (investmentdomain.BreakdownRequest, error) {
	if err := s.authzSvc.Authorize(ctx, actor, authorization.ObjectBreakdown, authorization.ActionBreakdownReject); err != nil {
		return investmentdomain.BreakdownRequest{}, err
	}

	var decided investmentdomain.BreakdownRequest
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		req, inv, err := s.lockBreakdown(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if inv.Status != investmentdomain.StatusBreakdownPending ||
			!investmentdomain.CanTransition(inv.Status, investmentdomain.StatusActive) {
			return investmentdomain.ErrInvalidTransition
		}

		settled, err := s.settleUncreditedReturn(ctx, tx, inv)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		req.Status = investmentdomain.BreakdownStatusRejected
		req.Notes = strings.TrimSpace(notes)
		req.SettledReturn = settled
		req.DecidedBy = actor.Subject()
		req.DecidedAt = &now
		req.UpdatedAt = now
		if err := s.repo.UpdateBreakdown(ctx, tx, req); err != nil {
			return err
		}

		inv.Status = investmentdomain.StatusActive
		if err := s.save(ctx, tx, inv, now); err != nil {
			return err
		}
		decided = *req
		return s.audit(ctx, tx, actor, auditdomain.ActionBreakdownReject, "breakdown_request", req.ID, map[string]any{
			"investment_id":  inv.ID.String(),
			"notes":          req.Notes,
			"settled_return": settled.String(),
		})
	})
	if err != nil {
		return investmentdomain.BreakdownRequest{}, err
	}

	s.obsMetrics.RecordBreakdownDecision(ctx, string(investmentdomain.BreakdownStatusRejected))
	s.obsMetrics.RecordInvestmentTransition(ctx, string(investmentdomain.StatusBreakdownPending), string(investmentdomain.StatusActive))
	s.log.Info("breakdown rejected",
		zap.String("request_id", requestID.String()),
		zap.String("investment_id", decided.InvestmentID.String()),
		zap.String("actor", actor.Subject()),
	)
	return decided, nil
}

func (s *Service) GetBreakdownRequest(ctx context.Context, requestID snowflake.ID) (investmentdomain.BreakdownRequest, error) {
	req, err := s.repo.FindBreakdownByID(ctx, s.db, requestID)
	if err != nil {
		return investmentdomain.BreakdownRequest{}, err
	}
	if req == nil {
		return investmentdomain.BreakdownRequest{}, investmentdomain.ErrBreakdownNotFound
	}
	return *req, nil
}

// lockBreakdown locks the investment before the request so every path takes
// rows in the same order: investment, request, wallet.
func (s *Service) lockBreakdown(ctx context.Context, tx *gorm.DB, requestID snowflake.ID) (*investmentdomain.BreakdownRequest, *investmentdomain.Investment, error) {
	peek, err := s.repo.FindBreakdownByID(ctx, tx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if peek == nil {
		return nil, nil, investmentdomain.ErrBreakdownNotFound
	}

	inv, err := s.lock(ctx, tx, peek.InvestmentID)
	if err != nil {
		return nil, nil, err
	}
	req, err := s.repo.LockBreakdownByID(ctx, tx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req == nil {
		return nil, nil, investmentdomain.ErrBreakdownNotFound
	}
	if req.Status != investmentdomain.BreakdownStatusPending {
		return nil, nil, investmentdomain.ErrBreakdownNotPending
	}
	return req, inv, nil
}

// settleUncreditedReturn credits the part of the accrued total that has no
// matching credited-return entry, keeping accrued == sum of credited return.
func (s *Service) settleUncreditedReturn(ctx context.Context, tx *gorm.DB, inv *investmentdomain.Investment) (decimal.Decimal, error) {
	credited, err := s.ledgerSvc.SumCorrelatedTx(ctx, tx, inv.UserID, inv.Currency, inv.ID.String(), ledgerdomain.CreditedReturnTypes)
	if err != nil {
		return decimal.Zero, err
	}

	uncredited := inv.AccruedReturnTotal.Sub(credited)
	if uncredited.IsNegative() {
		s.log.Warn("ledger holds more return than accrued",
			zap.String("investment_id", inv.ID.String()),
			zap.String("accrued", inv.AccruedReturnTotal.String()),
			zap.String("credited", credited.String()),
		)
		return decimal.Zero, nil
	}
	if uncredited.IsZero() {
		return decimal.Zero, nil
	}

	_, err = s.ledgerSvc.CreditTx(ctx, tx, ledgerdomain.PostingRequest{
		UserID:        inv.UserID,
		Currency:      inv.Currency,
		Amount:        uncredited,
		EntryType:     ledgerdomain.EntryTypeReturnSettlement,
		CorrelationID: inv.ID.String(),
		Description:   "accrued return settlement",
	})
	if err != nil {
		return decimal.Zero, err
	}
	return uncredited, nil
}
