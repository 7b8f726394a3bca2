package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vestora/internal/apperror"
	investmentdomain "github.com/smallbiznis/vestora/internal/investment/domain"
	obsmetrics "github.com/smallbiznis/vestora/internal/observability/metrics"
	"go.uber.org/zap"
)

const CheckLedgerReplay = "ledger_replay"

type listFunc func(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error)

type itemFunc func(ctx context.Context, id snowflake.ID) (investmentdomain.AccrualResult, error)

// RunAccrualPass credits every active investment whose next accrual instant
// has passed. Failures are recorded per investment and never stop the pass.
func (s *Scheduler) RunAccrualPass(ctx context.Context) error {
	return s.runInvestmentPass(ctx, JobAccrual, s.investmentSvc.ListDueIDs, s.investmentSvc.AccrueDue)
}

// RunMaturitySweep completes active investments past their end date, settling
// cycles still owed up to the end date first.
func (s *Scheduler) RunMaturitySweep(ctx context.Context) error {
	return s.runInvestmentPass(ctx, JobMaturity, s.investmentSvc.ListMaturedIDs, s.investmentSvc.SettleMaturity)
}

func (s *Scheduler) runInvestmentPass(ctx context.Context, job string, list listFunc, apply itemFunc) error {
	cfg := s.config()
	ctx, sweep, owner := s.openPass(ctx, job, cfg.BatchSize)
	if owner {
		s.passOpened(ctx, sweep)
		defer s.passClosed(ctx, sweep)
	}
	now := s.clock.Now()

	var afterID snowflake.ID
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ids, err := list(ctx, now, afterID, cfg.BatchSize)
		if err != nil {
			s.itemError(ctx, sweep, "scheduler.batch.fetch_failed", job, err)
			return err
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.applyItem(ctx, sweep, job, cfg.ItemTimeout, id, apply)
		}
		if len(ids) < cfg.BatchSize {
			return nil
		}
		afterID = ids[len(ids)-1]
	}
}

func (s *Scheduler) applyItem(ctx context.Context, sweep *pass, job string, timeout time.Duration, id snowflake.ID, apply itemFunc) {
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	result, err := apply(itemCtx, id)
	if err != nil {
		if apperror.IsKind(err, apperror.KindConcurrencyConflict) {
			schedMetrics.IncItemDeferred(job, obsmetrics.SchedulerDeferredReasonConflict)
			s.investmentDeferred(ctx, job, id, obsmetrics.SchedulerDeferredReasonConflict, err)
			return
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			schedMetrics.IncItemDeferred(job, obsmetrics.SchedulerDeferredReasonTimeout)
		}
		s.itemError(ctx, sweep, "scheduler.investment.failed", job, err,
			zap.String("investment_id", fmtID(id)),
		)
		if recErr := s.investmentSvc.RecordFailure(context.WithoutCancel(ctx), id, err); recErr != nil {
			s.ctxLog(ctx).Warn("scheduler.investment.record_failure_failed",
				zap.String("investment_id", fmtID(id)),
				zap.Error(recErr),
			)
		}
		return
	}
	if result.Skipped {
		return
	}

	sweep.settle()
	schedMetrics.AddCyclesCredited(result.Currency, result.Cycles)
	if result.Completed {
		schedMetrics.IncTransition(string(investmentdomain.StatusActive), string(investmentdomain.StatusCompleted))
	}
}

// RunReconciliation replays every ledger account, compares each investment's
// accrued total with its credited-return entries and looks for orphaned
// breakdown requests. Findings are reported and left for an operator.
func (s *Scheduler) RunReconciliation(ctx context.Context) error {
	cfg := s.config()
	ctx, sweep, owner := s.openPass(ctx, JobReconciliation, cfg.BatchSize)
	if owner {
		s.passOpened(ctx, sweep)
		defer s.passClosed(ctx, sweep)
	}

	var jobErr error
	if err := s.reconcileAccounts(ctx, sweep, cfg.BatchSize); err != nil {
		jobErr = errors.Join(jobErr, err)
	}
	if err := s.checkInvestments(ctx, sweep, cfg.BatchSize); err != nil {
		jobErr = errors.Join(jobErr, err)
	}

	findings, err := s.investmentSvc.CheckStaleBreakdowns(ctx)
	if err != nil {
		s.itemError(ctx, sweep, "scheduler.reconcile.failed", JobReconciliation, err)
		return errors.Join(jobErr, err)
	}
	for _, finding := range findings {
		s.flagFinding(ctx, sweep, finding)
	}
	return jobErr
}

func (s *Scheduler) reconcileAccounts(ctx context.Context, sweep *pass, batchSize int) error {
	var afterID snowflake.ID
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ids, err := s.ledgerSvc.ListAccountIDs(ctx, afterID, batchSize)
		if err != nil {
			s.itemError(ctx, sweep, "scheduler.batch.fetch_failed", JobReconciliation, err)
			return err
		}
		for _, id := range ids {
			report, err := s.ledgerSvc.Reconcile(ctx, id)
			if err != nil {
				s.itemError(ctx, sweep, "scheduler.reconcile.failed", JobReconciliation, err,
					zap.String("account_id", fmtID(id)),
				)
				continue
			}
			sweep.settle()
			for _, problem := range report.Problems {
				s.flagFinding(ctx, sweep, investmentdomain.Finding{
					Check:    CheckLedgerReplay,
					TargetID: id.String(),
					Detail:   problem,
				})
			}
		}
		if len(ids) < batchSize {
			return nil
		}
		afterID = ids[len(ids)-1]
	}
}

func (s *Scheduler) checkInvestments(ctx context.Context, sweep *pass, batchSize int) error {
	var afterID snowflake.ID
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ids, err := s.investmentSvc.ListIDs(ctx, afterID, batchSize)
		if err != nil {
			s.itemError(ctx, sweep, "scheduler.batch.fetch_failed", JobReconciliation, err)
			return err
		}
		for _, id := range ids {
			findings, err := s.investmentSvc.CheckInvestment(ctx, id)
			if err != nil {
				s.itemError(ctx, sweep, "scheduler.reconcile.failed", JobReconciliation, err,
					zap.String("investment_id", fmtID(id)),
				)
				continue
			}
			sweep.settle()
			for _, finding := range findings {
				s.flagFinding(ctx, sweep, finding)
			}
		}
		if len(ids) < batchSize {
			return nil
		}
		afterID = ids[len(ids)-1]
	}
}
