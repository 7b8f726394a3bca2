package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	auditrepository "github.com/smallbiznis/vestora/internal/audit/repository"
	auditservice "github.com/smallbiznis/vestora/internal/audit/service"
	"github.com/smallbiznis/vestora/internal/authorization"
	"github.com/smallbiznis/vestora/internal/cache"
	"github.com/smallbiznis/vestora/internal/clock"
	"github.com/smallbiznis/vestora/internal/config"
	eligibilitymock "github.com/smallbiznis/vestora/internal/eligibility/mock"
	investmentdomain "github.com/smallbiznis/vestora/internal/investment/domain"
	investmentrepository "github.com/smallbiznis/vestora/internal/investment/repository"
	investmentservice "github.com/smallbiznis/vestora/internal/investment/service"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/vestora/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/vestora/internal/ledger/service"
	"github.com/smallbiznis/vestora/internal/money"
	plandomain "github.com/smallbiznis/vestora/internal/plan/domain"
	planrepository "github.com/smallbiznis/vestora/internal/plan/repository"
	planservice "github.com/smallbiznis/vestora/internal/plan/service"
	"github.com/smallbiznis/vestora/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type engineStack struct {
	db          *gorm.DB
	clock       *clock.FakeClock
	engine      *config.EngineHolder
	investments investmentdomain.Service
	ledger      ledgerdomain.Service
	plans       plandomain.Service
}

func newEngineStack(t *testing.T, start time.Time) *engineStack {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(start)
	log := zap.NewNop()
	registry := money.NewStaticRegistry(map[string]int32{"INR": 2, "USDT": 6})
	engine := config.NewStaticEngineHolder(config.DefaultEngineConfig())

	enforcer, err := authorization.NewMemoryEnforcer("7")
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  clk,
		Money:  registry,
		Engine: engine,
		Repo:   ledgerrepository.Provide(),
	})
	planSvc := planservice.NewService(planservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Money:    registry,
		Repo:     planrepository.Provide(),
		AuthzSvc: authzSvc,
		AuditSvc: auditSvc,
		Cache:    cache.NewMemoryPlanCache(time.Minute),
	})

	checker := eligibilitymock.NewMockChecker(gomock.NewController(t))
	checker.EXPECT().IsEligible(gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()

	investmentSvc := investmentservice.NewService(investmentservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Money:       registry,
		Engine:      engine,
		Repo:        investmentrepository.Provide(),
		PlanSvc:     planSvc,
		LedgerSvc:   ledgerSvc,
		AuthzSvc:    authzSvc,
		AuditSvc:    auditSvc,
		Eligibility: checker,
	})

	return &engineStack{
		db:          db,
		clock:       clk,
		engine:      engine,
		investments: investmentSvc,
		ledger:      ledgerSvc,
		plans:       planSvc,
	}
}

func TestConcurrentAccrualPassesCreditEachCycleOnce(t *testing.T) {
	setupMetrics(t)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stack := newEngineStack(t, start)
	ctx := context.Background()
	investor := snowflake.ID(9001)

	plan, err := stack.plans.Create(ctx, authorization.System, plandomain.CreateRequest{
		Name:                "Daily Two",
		BaseCurrency:        "INR",
		FixedAmount:         decimal.NewFromInt(1000),
		RatePercent:         decimal.NewFromInt(2),
		Frequency:           plandomain.FrequencyDaily,
		DurationDays:        30,
		BreakdownWindowDays: 7,
	})
	require.NoError(t, err)

	_, err = stack.ledger.Credit(ctx, ledgerdomain.PostingRequest{
		UserID:        investor,
		Currency:      "INR",
		Amount:        decimal.NewFromInt(3000),
		EntryType:     ledgerdomain.EntryTypeDeposit,
		CorrelationID: "deposit-3000",
	})
	require.NoError(t, err)

	var ids []snowflake.ID
	for i := 0; i < 3; i++ {
		inv, err := stack.investments.CreateInvestment(ctx, investmentdomain.CreateInvestmentRequest{
			UserID:      investor,
			PlanID:      plan.ID,
			Amount:      decimal.NewFromInt(1000),
			Currency:    "INR",
			PaymentMode: investmentdomain.PaymentModeDirect,
		})
		require.NoError(t, err)
		ids = append(ids, inv.ID)
	}

	stack.clock.Set(start.Add(3 * 24 * time.Hour))

	// two workers sharing the database, no lease
	workers := make([]*Scheduler, 2)
	for i := range workers {
		s, err := New(Params{
			Log:           zap.NewNop(),
			Clock:         stack.clock,
			Engine:        stack.engine,
			InvestmentSvc: stack.investments,
			LedgerSvc:     stack.ledger,
		})
		require.NoError(t, err)
		workers[i] = s
	}

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(workers))
	)
	for i, s := range workers {
		wg.Add(1)
		go func(i int, s *Scheduler) {
			defer wg.Done()
			errs[i] = s.RunAccrualPass(ctx)
		}(i, s)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	for _, id := range ids {
		inv, err := stack.investments.Get(ctx, id)
		require.NoError(t, err)
		require.Empty(t, inv.LastError)
		require.Equal(t, 3, inv.CyclesCredited)
		testutil.RequireDecimal(t, "60.00", inv.AccruedReturnTotal)

		var entries []ledgerdomain.Entry
		require.NoError(t, stack.db.
			Where("correlation_id = ? AND entry_type = ?", id.String(), ledgerdomain.EntryTypeReturnCredited).
			Find(&entries).Error)
		require.Len(t, entries, 1)

		findings, err := stack.investments.CheckInvestment(ctx, id)
		require.NoError(t, err)
		require.Empty(t, findings)
	}

	account, err := stack.ledger.GetAccount(ctx, investor, "INR")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "180.00", account.Balance)
	report, err := stack.ledger.Reconcile(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, report.Consistent(), report.Problems)

	// a third pass in the same instant has nothing left to credit
	require.NoError(t, workers[0].RunAccrualPass(ctx))
	account, err = stack.ledger.GetAccount(ctx, investor, "INR")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "180.00", account.Balance)
}
