package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/vestora/internal/clock"
	"github.com/smallbiznis/vestora/internal/config"
	investmentdomain "github.com/smallbiznis/vestora/internal/investment/domain"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/vestora/internal/observability/metrics"
	"github.com/smallbiznis/vestora/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

const leaseKeyPrefix = "vestora:scheduler:"

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Engine        *config.EngineHolder
	InvestmentSvc investmentdomain.Service
	LedgerSvc     ledgerdomain.Service
	Locker        *ratelimit.Locker `optional:"true"`
}

// Scheduler drives the accrual, maturity and reconciliation passes. Every
// state change happens inside the investment and ledger services under row
// locks; the scheduler only pages through candidates.
type Scheduler struct {
	log           *zap.Logger
	clock         clock.Clock
	engine        *config.EngineHolder
	investmentSvc investmentdomain.Service
	ledgerSvc     ledgerdomain.Service
	locker        *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Engine == nil || p.InvestmentSvc == nil || p.LedgerSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:         p.Clock,
		engine:        p.Engine,
		investmentSvc: p.InvestmentSvc,
		ledgerSvc:     p.LedgerSvc,
		locker:        p.Locker,
	}, nil
}

// config is read on every run so engine.yml edits apply without a restart.
func (s *Scheduler) config() Config {
	if s.engine == nil {
		return DefaultConfig()
	}
	return configFromEngine(s.engine.Get().Scheduler)
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, sweep, owner := s.openPass(ctx, name, batchSize)
	if owner {
		s.passOpened(ctx, sweep)
	}
	log := s.ctxLog(ctx).With(
		zap.String("job", name),
		zap.String("pass_id", sweep.passID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	schedMetrics.AddItemsProcessed(name, sweep.settled)
	if owner {
		if err != nil && sweep.failures == 0 {
			sweep.fail()
		}
		s.passClosed(ctx, sweep)
	}
	if err == nil {
		return nil
	}

	// a timed out pass resumes from the same rows on the next tick
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	cfg := s.config()
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobAccrual, s.RunAccrualPass},
		{JobMaturity, s.RunMaturitySweep},
		{JobReconciliation, s.RunReconciliation},
	}

	for _, job := range jobs {
		if !isJobEnabled(cfg, job.Name) {
			continue
		}
		name, fn := job.Name, job.Run
		err = errors.Join(err, s.runJob(parent, name, cfg.BatchSize, cfg.JobTimeout, func(ctx context.Context) error {
			return s.withLease(ctx, name, cfg.LeaseTTL, fn)
		}))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.config().RunInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(interval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		if next := s.config().RunInterval; next != interval {
			s.log.Info("scheduler interval changed",
				zap.Duration("from", interval),
				zap.Duration("to", next),
			)
			interval = next
			ticker.Reset(interval)
		}
		nextRun = s.clock.Now().Add(interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// withLease skips fn when another worker holds the job's lease. A lease error
// runs fn anyway since row locks already serialize the work.
func (s *Scheduler) withLease(ctx context.Context, job string, ttl time.Duration, fn func(context.Context) error) error {
	if ttl <= 0 || !s.locker.Enabled() {
		return fn(ctx)
	}

	lease, ok, err := s.locker.TryAcquire(ctx, leaseKeyPrefix+job, ttl)
	if err != nil {
		s.ctxLog(ctx).Warn("scheduler.lease.unavailable",
			zap.String("job", job),
			zap.Error(err),
		)
		return fn(ctx)
	}
	if !ok {
		obsmetrics.Scheduler().IncItemDeferred(job, obsmetrics.SchedulerDeferredReasonLeaseHeld)
		s.ctxLog(ctx).Debug("scheduler.lease.held", zap.String("job", job))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lease); err != nil {
			s.ctxLog(ctx).Warn("scheduler.lease.release_failed",
				zap.String("job", job),
				zap.Error(err),
			)
		}
	}()
	return fn(ctx)
}

func isJobEnabled(cfg Config, jobName string) bool {
	// If EnabledJobs is empty, all jobs are enabled by default
	if len(cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
