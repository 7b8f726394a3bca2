package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	investmentdomain "github.com/smallbiznis/vestora/internal/investment/domain"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) ListDueIDs(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	return s.repo.ListDueIDs(ctx, s.db, now, afterID, limit)
}

func (s *Service) ListMaturedIDs(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	return s.repo.ListMaturedIDs(ctx, s.db, now, afterID, limit)
}

// AccrueDue credits every cycle owed to one investment. The row is locked and
// re-checked first; next_accrual only moves forward in the same transaction
// as the credit, so a repeated call is a no-op.
func (s *Service) AccrueDue(ctx context.Context, id snowflake.ID) (investmentdomain.AccrualResult, error) {
	var result investmentdomain.AccrualResult
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		inv, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if inv.Status != investmentdomain.StatusActive || inv.NextAccrualAt == nil || inv.NextAccrualAt.After(now) {
			result = investmentdomain.AccrualResult{InvestmentID: id, Skipped: true}
			return nil
		}
		result, err = s.accrue(ctx, tx, inv, now)
		return err
	})
	if err != nil {
		return investmentdomain.AccrualResult{}, err
	}
	s.afterAccrual(ctx, result)
	return result, nil
}

// SettleMaturity completes an investment whose term has ended, crediting any
// cycles still owed up to the end date first.
func (s *Service) SettleMaturity(ctx context.Context, id snowflake.ID) (investmentdomain.AccrualResult, error) {
	var result investmentdomain.AccrualResult
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		inv, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if inv.Status != investmentdomain.StatusActive || !inv.Matured(now) {
			result = investmentdomain.AccrualResult{InvestmentID: id, Skipped: true}
			return nil
		}
		result, err = s.accrue(ctx, tx, inv, now)
		return err
	})
	if err != nil {
		return investmentdomain.AccrualResult{}, err
	}
	s.afterAccrual(ctx, result)
	return result, nil
}

func (s *Service) accrue(ctx context.Context, tx *gorm.DB, inv *investmentdomain.Investment, now time.Time) (investmentdomain.AccrualResult, error) {
	result := investmentdomain.AccrualResult{
		InvestmentID: inv.ID,
		Currency:     inv.Currency,
		Amount:       decimal.Zero,
	}

	cycles, err := inv.DueCycles(now)
	if err != nil {
		return result, err
	}
	if cycles > 0 {
		scale, err := s.money.Scale(inv.Currency)
		if err != nil {
			return result, err
		}
		cycle, err := inv.Frequency.CycleLength()
		if err != nil {
			return result, err
		}

		perCycle := inv.ReturnPerCycle(scale)
		amount := perCycle.Mul(decimal.NewFromInt(int64(cycles)))
		if amount.IsPositive() {
			_, err := s.ledgerSvc.CreditTx(ctx, tx, ledgerdomain.PostingRequest{
				UserID:        inv.UserID,
				Currency:      inv.Currency,
				Amount:        amount,
				EntryType:     ledgerdomain.EntryTypeReturnCredited,
				CorrelationID: inv.ID.String(),
				Description:   "investment return",
				Metadata: map[string]any{
					"cycles":      cycles,
					"per_cycle":   perCycle.String(),
					"first_cycle": inv.CyclesCredited + 1,
				},
			})
			if err != nil {
				return result, err
			}
		}

		lastDue := inv.NextAccrualAt.Add(time.Duration(cycles-1) * cycle)
		next := inv.NextAccrualAt.Add(time.Duration(cycles) * cycle)
		inv.LastAccrualAt = &lastDue
		inv.NextAccrualAt = &next
		inv.CyclesCredited += cycles
		inv.AccruedReturnTotal = inv.AccruedReturnTotal.Add(amount)

		result.Cycles = cycles
		result.Amount = amount
	}

	if inv.Matured(now) && investmentdomain.CanTransition(inv.Status, investmentdomain.StatusCompleted) {
		inv.Status = investmentdomain.StatusCompleted
		inv.CompletedAt = &now
		inv.NextAccrualAt = nil
		result.Completed = true
	}

	if result.Cycles == 0 && !result.Completed {
		result.Skipped = true
		return result, nil
	}
	inv.LastError = ""
	inv.LastErrorAt = nil
	if err := s.save(ctx, tx, inv, now); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) afterAccrual(ctx context.Context, result investmentdomain.AccrualResult) {
	if result.Skipped {
		return
	}
	if result.Completed {
		s.obsMetrics.RecordInvestmentTransition(ctx, string(investmentdomain.StatusActive), string(investmentdomain.StatusCompleted))
	}
	s.log.Debug("accrual applied",
		zap.String("investment_id", result.InvestmentID.String()),
		zap.Int("cycles", result.Cycles),
		zap.String("amount", result.Amount.String()),
		zap.Bool("completed", result.Completed),
	)
}

func (s *Service) RecordFailure(ctx context.Context, id snowflake.ID, cause error) error {
	if cause == nil {
		return nil
	}
	message := cause.Error()
	if len(message) > maxLastErrorLength {
		message = message[:maxLastErrorLength]
	}
	return s.repo.UpdateLastError(ctx, s.db, id, message, s.clock.Now())
}
