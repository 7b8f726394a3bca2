package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	investmentdomain "github.com/smallbiznis/vestora/internal/investment/domain"
	obscontext "github.com/smallbiznis/vestora/internal/observability/context"
	obslogger "github.com/smallbiznis/vestora/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/vestora/internal/observability/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// pass counts what one job did across all of its batches. Nested job calls
// share the outer pass through the context.
type pass struct {
	job       string
	passID    string
	batchSize int
	began     time.Time

	settled  int
	failures int
	findings int
}

type passKey struct{}

func (p *pass) settle() {
	if p != nil {
		p.settled++
	}
}

func (p *pass) fail() {
	if p != nil {
		p.failures++
	}
}

// openPass returns the pass already carried by ctx, or starts a new one.
// The bool reports whether the caller started it and so must close it.
func (s *Scheduler) openPass(ctx context.Context, job string, batchSize int) (context.Context, *pass, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p := passFromContext(ctx); p != nil {
		return ctx, p, false
	}
	p := &pass{
		job:       job,
		passID:    ulid.Make().String(),
		batchSize: batchSize,
		began:     time.Now(),
	}
	ctx = obscontext.WithActor(context.WithValue(ctx, passKey{}, p), "system", "scheduler")
	return ctx, p, true
}

func passFromContext(ctx context.Context) *pass {
	if ctx == nil {
		return nil
	}
	p, _ := ctx.Value(passKey{}).(*pass)
	return p
}

func (s *Scheduler) ctxLog(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) passOpened(ctx context.Context, p *pass) {
	if p == nil {
		return
	}
	s.ctxLog(ctx).Info("scheduler.pass.opened",
		zap.String("job", p.job),
		zap.String("pass_id", p.passID),
		zap.Int("batch_size", p.batchSize),
	)
}

// passClosed logs at warn when any investment failed or reconciliation
// found drift.
func (s *Scheduler) passClosed(ctx context.Context, p *pass) {
	if p == nil {
		return
	}
	level := zapcore.InfoLevel
	if p.failures > 0 || p.findings > 0 {
		level = zapcore.WarnLevel
	}
	ce := s.ctxLog(ctx).Check(level, "scheduler.pass.closed")
	if ce == nil {
		return
	}
	ce.Write(
		zap.String("job", p.job),
		zap.String("pass_id", p.passID),
		zap.Int64("elapsed_ms", time.Since(p.began).Milliseconds()),
		zap.Int("settled", p.settled),
		zap.Int("failures", p.failures),
		zap.Int("findings", p.findings),
	)
}

func (s *Scheduler) itemError(ctx context.Context, p *pass, msg, job string, err error, extra ...zap.Field) {
	if err == nil {
		return
	}
	p.fail()
	fields := make([]zap.Field, 0, 4+len(extra))
	fields = append(fields,
		zap.String("job", job),
		zap.String("error_class", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("will_retry", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
	s.ctxLog(ctx).Error(msg, append(fields, extra...)...)
}

// investmentDeferred records an investment left for the next tick, usually
// because another worker held its row.
func (s *Scheduler) investmentDeferred(ctx context.Context, job string, id snowflake.ID, reason string, err error) {
	s.ctxLog(ctx).Info("scheduler.investment.deferred",
		zap.String("job", job),
		zap.String("investment_id", fmtID(id)),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func (s *Scheduler) flagFinding(ctx context.Context, p *pass, finding investmentdomain.Finding) {
	if p != nil {
		p.findings++
	}
	obsmetrics.Scheduler().IncReconcileFinding(finding.Check)
	s.ctxLog(ctx).Warn("scheduler.reconcile.drift",
		zap.String("check", finding.Check),
		zap.String("target_id", finding.TargetID),
		zap.String("detail", finding.Detail),
	)
}

func fmtID(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
