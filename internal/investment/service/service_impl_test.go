package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vestora/internal/apperror"
	auditdomain "github.com/smallbiznis/vestora/internal/audit/domain"
	auditrepository "github.com/smallbiznis/vestora/internal/audit/repository"
	auditservice "github.com/smallbiznis/vestora/internal/audit/service"
	"github.com/smallbiznis/vestora/internal/authorization"
	"github.com/smallbiznis/vestora/internal/cache"
	"github.com/smallbiznis/vestora/internal/clock"
	"github.com/smallbiznis/vestora/internal/config"
	eligibilitymock "github.com/smallbiznis/vestora/internal/eligibility/mock"
	investmentdomain "github.com/smallbiznis/vestora/internal/investment/domain"
	"github.com/smallbiznis/vestora/internal/investment/repository"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/vestora/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/vestora/internal/ledger/service"
	"github.com/smallbiznis/vestora/internal/money"
	plandomain "github.com/smallbiznis/vestora/internal/plan/domain"
	planrepository "github.com/smallbiznis/vestora/internal/plan/repository"
	planservice "github.com/smallbiznis/vestora/internal/plan/service"
	"github.com/smallbiznis/vestora/internal/testutil"
	"github.com/smallbiznis/vestora/pkg/db/pagination"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const day = 24 * time.Hour

var (
	t0       = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	investor = snowflake.ID(9001)
	admin    = authorization.User(snowflake.ID(7))
)

type testEnv struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	params   Params
	svc      investmentdomain.Service
	ledger   ledgerdomain.Service
	plans    plandomain.Service
	eligible *eligibilitymock.MockChecker
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(t0)
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

	ctrl := gomock.NewController(t)
	checker := eligibilitymock.NewMockChecker(ctrl)

	params := Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Money:       registry,
		Engine:      engine,
		Repo:        repository.Provide(),
		PlanSvc:     planSvc,
		LedgerSvc:   ledgerSvc,
		AuthzSvc:    authzSvc,
		AuditSvc:    auditSvc,
		Eligibility: checker,
	}

	return &testEnv{
		db:       db,
		clock:    clk,
		params:   params,
		svc:      NewService(params),
		ledger:   ledgerSvc,
		plans:    planSvc,
		eligible: checker,
	}
}

func (e *testEnv) allowAll() {
	e.eligible.EXPECT().IsEligible(gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
}

func (e *testEnv) createPlan(t *testing.T, name string, frequency plandomain.Frequency, rate string, durationDays, windowDays int) plandomain.Plan {
	t.Helper()
	plan, err := e.plans.Create(context.Background(), admin, plandomain.CreateRequest{
		Name:                name,
		BaseCurrency:        "INR",
		FixedAmount:         decimal.RequireFromString("1000"),
		RatePercent:         decimal.RequireFromString(rate),
		Frequency:           frequency,
		DurationDays:        durationDays,
		BreakdownWindowDays: windowDays,
	})
	require.NoError(t, err)
	return plan
}

func (e *testEnv) deposit(t *testing.T, currency, amount string) {
	t.Helper()
	_, err := e.ledger.Credit(context.Background(), ledgerdomain.PostingRequest{
		UserID:        investor,
		Currency:      currency,
		Amount:        decimal.RequireFromString(amount),
		EntryType:     ledgerdomain.EntryTypeDeposit,
		CorrelationID: "deposit-" + amount,
	})
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, currency string) decimal.Decimal {
	t.Helper()
	account, err := e.ledger.GetAccount(context.Background(), investor, currency)
	require.NoError(t, err)
	return account.Balance
}

func (e *testEnv) buy(t *testing.T, plan plandomain.Plan, mode investmentdomain.PaymentMode) investmentdomain.Investment {
	t.Helper()
	inv, err := e.svc.CreateInvestment(context.Background(), investmentdomain.CreateInvestmentRequest{
		UserID:      investor,
		PlanID:      plan.ID,
		Amount:      decimal.RequireFromString("1000"),
		Currency:    "INR",
		PaymentMode: mode,
	})
	require.NoError(t, err)
	return inv
}

func (e *testEnv) requireConsistent(t *testing.T, id snowflake.ID) {
	t.Helper()
	findings, err := e.svc.CheckInvestment(context.Background(), id)
	require.NoError(t, err)
	require.Empty(t, findings)

	account, err := e.ledger.GetAccount(context.Background(), investor, "INR")
	require.NoError(t, err)
	report, err := e.ledger.Reconcile(context.Background(), account.ID)
	require.NoError(t, err)
	require.True(t, report.Consistent(), report.Problems)
}

func TestDailyAccrualAndBreakdownScenario(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "1000.00")

	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)
	require.Equal(t, investmentdomain.StatusActive, inv.Status)
	require.True(t, t0.Add(day).Equal(*inv.NextAccrualAt))
	testutil.RequireDecimal(t, "0", env.balance(t, "INR"))

	env.clock.Set(t0.Add(3 * day))
	result, err := env.svc.AccrueDue(ctx, inv.ID)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, 3, result.Cycles)
	testutil.RequireDecimal(t, "60.00", result.Amount)

	got, err := env.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	testutil.RequireDecimal(t, "60.00", got.AccruedReturnTotal)
	require.Equal(t, 3, got.CyclesCredited)
	require.True(t, t0.Add(4*day).Equal(*got.NextAccrualAt), "next accrual %s", got.NextAccrualAt)
	testutil.RequireDecimal(t, "60.00", env.balance(t, "INR"))

	// a second pass in the same instant finds nothing due
	result, err = env.svc.AccrueDue(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	testutil.RequireDecimal(t, "60.00", env.balance(t, "INR"))

	req, err := env.svc.RequestBreakdown(ctx, inv.ID, investor)
	require.NoError(t, err)
	testutil.RequireDecimal(t, "770", req.FinalAmount)
	testutil.RequireDecimal(t, "60", req.AccruedAtRequest)
	require.Equal(t, investmentdomain.BreakdownStatusPending, req.Status)

	approved, err := env.svc.ApproveBreakdown(ctx, admin, req.ID)
	require.NoError(t, err)
	require.Equal(t, investmentdomain.BreakdownStatusApproved, approved.Status)
	require.Equal(t, "user:7", approved.DecidedBy)
	testutil.RequireDecimal(t, "0", approved.SettledReturn)
	testutil.RequireDecimal(t, "830.00", env.balance(t, "INR"))

	got, err = env.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, investmentdomain.StatusBreakdownApproved, got.Status)

	// no accrual once the investment has left active
	env.clock.Set(t0.Add(10 * day))
	result, err = env.svc.AccrueDue(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, result.Skipped)

	env.requireConsistent(t, inv.ID)

	var audits int64
	require.NoError(t, env.db.Model(&auditdomain.AuditLog{}).
		Where("action = ? AND target_id = ?", auditdomain.ActionBreakdownApprove, req.ID.String()).
		Count(&audits).Error)
	require.Equal(t, int64(1), audits)
}

func TestDirectPurchaseInsufficientFundsWritesNothing(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "500.00")

	_, err := env.svc.CreateInvestment(ctx, investmentdomain.CreateInvestmentRequest{
		UserID:   investor,
		PlanID:   plan.ID,
		Amount:   decimal.RequireFromString("1000"),
		Currency: "INR",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)
	require.Equal(t, apperror.KindInsufficientFunds, apperror.KindOf(err))

	var count int64
	require.NoError(t, env.db.Model(&investmentdomain.Investment{}).Count(&count).Error)
	require.Zero(t, count)
	testutil.RequireDecimal(t, "500", env.balance(t, "INR"))
}

func TestCreateInvestmentEligibility(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "5000")
	env.deposit(t, "USDT", "100")

	env.eligible.EXPECT().IsEligible(gomock.Any(), investor).Return(false, nil).Times(1)
	_, err := env.svc.CreateInvestment(ctx, investmentdomain.CreateInvestmentRequest{
		UserID: investor, PlanID: plan.ID, Amount: decimal.RequireFromString("1000"), Currency: "INR",
	})
	require.ErrorIs(t, err, investmentdomain.ErrKYCRequired)
	require.Equal(t, apperror.KindNotEligible, apperror.KindOf(err))
	testutil.RequireDecimal(t, "5000", env.balance(t, "INR"))

	env.allowAll()

	_, err = env.svc.CreateInvestment(ctx, investmentdomain.CreateInvestmentRequest{
		UserID: investor, PlanID: plan.ID, Amount: decimal.RequireFromString("999.99"), Currency: "INR",
	})
	require.ErrorIs(t, err, plandomain.ErrAmountOutOfBounds)

	_, err = env.svc.CreateInvestment(ctx, investmentdomain.CreateInvestmentRequest{
		UserID: investor, PlanID: plan.ID, Amount: decimal.RequireFromString("1000.001"), Currency: "INR",
	})
	require.Equal(t, apperror.KindInvalidAmount, apperror.KindOf(err))

	// 1000 / 83 = 12.0481927..., rounded half-even to six places
	usdt, err := env.svc.CreateInvestment(ctx, investmentdomain.CreateInvestmentRequest{
		UserID: investor, PlanID: plan.ID, Amount: decimal.RequireFromString("12.048193"), Currency: "usdt",
	})
	require.NoError(t, err)
	require.Equal(t, "USDT", usdt.Currency)
	testutil.RequireDecimal(t, "87.951807", env.balance(t, "USDT"))

	_, err = env.plans.SetStatus(ctx, admin, plan.ID, plandomain.StatusSuspended)
	require.NoError(t, err)
	_, err = env.svc.CreateInvestment(ctx, investmentdomain.CreateInvestmentRequest{
		UserID: investor, PlanID: plan.ID, Amount: decimal.RequireFromString("1000"), Currency: "INR",
	})
	require.ErrorIs(t, err, plandomain.ErrPlanInactive)
	testutil.RequireDecimal(t, "5000", env.balance(t, "INR"))
}

func TestAdminPaymentApproval(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Weekly Five", plandomain.FrequencyWeekly, "5", 28, 7)
	env.deposit(t, "INR", "1000")

	inv := env.buy(t, plan, investmentdomain.PaymentModeAdmin)
	require.Equal(t, investmentdomain.StatusPendingApproval, inv.Status)
	require.Nil(t, inv.StartDate)
	testutil.RequireDecimal(t, "1000", env.balance(t, "INR"))

	_, err := env.svc.ApprovePurchase(ctx, authorization.User(snowflake.ID(8)), inv.ID)
	require.Equal(t, apperror.KindForbidden, apperror.KindOf(err))

	env.clock.Set(t0.Add(2 * time.Hour))
	approved, err := env.svc.ApprovePurchase(ctx, admin, inv.ID)
	require.NoError(t, err)
	require.Equal(t, investmentdomain.StatusActive, approved.Status)
	require.Equal(t, "user:7", approved.ApprovedBy)
	require.True(t, t0.Add(2*time.Hour).Equal(*approved.StartDate))
	require.True(t, t0.Add(2*time.Hour+7*day).Equal(*approved.NextAccrualAt))
	testutil.RequireDecimal(t, "0", env.balance(t, "INR"))

	_, err = env.svc.ApprovePurchase(ctx, admin, inv.ID)
	require.ErrorIs(t, err, investmentdomain.ErrInvalidTransition)
	require.Equal(t, apperror.KindInvalidStateTransition, apperror.KindOf(err))
}

func TestApprovePurchaseInsufficientFundsKeepsPending(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Weekly Five", plandomain.FrequencyWeekly, "5", 28, 7)
	inv := env.buy(t, plan, investmentdomain.PaymentModeAdmin)

	_, err := env.svc.ApprovePurchase(ctx, admin, inv.ID)
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)

	got, err := env.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, investmentdomain.StatusPendingApproval, got.Status)
	require.Nil(t, got.StartDate)
}

func TestCancel(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Weekly Five", plandomain.FrequencyWeekly, "5", 28, 7)
	inv := env.buy(t, plan, investmentdomain.PaymentModeAdmin)

	cancelled, err := env.svc.Cancel(ctx, admin, inv.ID, " duplicate order ")
	require.NoError(t, err)
	require.Equal(t, investmentdomain.StatusCancelled, cancelled.Status)
	require.Equal(t, "duplicate order", cancelled.CancelReason)

	_, err = env.svc.Cancel(ctx, admin, inv.ID, "again")
	require.ErrorIs(t, err, investmentdomain.ErrInvalidTransition)

	_, err = env.svc.ApprovePurchase(ctx, admin, inv.ID)
	require.ErrorIs(t, err, investmentdomain.ErrInvalidTransition)

	_, err = env.svc.Cancel(ctx, admin, snowflake.ID(1), "missing")
	require.ErrorIs(t, err, investmentdomain.ErrNotFound)
}

func TestCatchUpIsCappedAtEndDate(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Five Days", plandomain.FrequencyDaily, "2", 5, 2)
	env.deposit(t, "INR", "1000")
	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)

	env.clock.Set(t0.Add(12 * day))
	ids, err := env.svc.ListDueIDs(ctx, env.clock.Now(), 0, 10)
	require.NoError(t, err)
	require.Equal(t, []snowflake.ID{inv.ID}, ids)

	result, err := env.svc.AccrueDue(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, 5, result.Cycles)
	testutil.RequireDecimal(t, "100", result.Amount)
	require.True(t, result.Completed)

	got, err := env.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, investmentdomain.StatusCompleted, got.Status)
	require.Equal(t, 5, got.CyclesCredited)
	require.NotNil(t, got.CompletedAt)

	result, err = env.svc.SettleMaturity(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, result.Skipped)

	testutil.RequireDecimal(t, "100", env.balance(t, "INR"))
	env.requireConsistent(t, inv.ID)
}

func TestMaturitySweepSettlesOwedCycles(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Two Weeks", plandomain.FrequencyWeekly, "5", 14, 7)
	env.deposit(t, "INR", "1000")
	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)

	env.clock.Set(t0.Add(13 * day))
	ids, err := env.svc.ListMaturedIDs(ctx, env.clock.Now(), 0, 10)
	require.NoError(t, err)
	require.Empty(t, ids)

	env.clock.Set(t0.Add(15 * day))
	ids, err = env.svc.ListMaturedIDs(ctx, env.clock.Now(), 0, 10)
	require.NoError(t, err)
	require.Equal(t, []snowflake.ID{inv.ID}, ids)

	result, err := env.svc.SettleMaturity(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, 2, result.Cycles)
	require.True(t, result.Completed)
	testutil.RequireDecimal(t, "100", result.Amount)

	got, err := env.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, investmentdomain.StatusCompleted, got.Status)
	testutil.RequireDecimal(t, "100", got.AccruedReturnTotal)
	env.requireConsistent(t, inv.ID)
}

func TestNoDoubleBreakdown(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "1000")
	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)

	first, err := env.svc.RequestBreakdown(ctx, inv.ID, investor)
	require.NoError(t, err)

	_, err = env.svc.RequestBreakdown(ctx, inv.ID, investor)
	require.ErrorIs(t, err, investmentdomain.ErrBreakdownAlreadyExists)
	require.Equal(t, apperror.KindInvalidStateTransition, apperror.KindOf(err))

	rejected, err := env.svc.RejectBreakdown(ctx, admin, first.ID, "  keep invested ")
	require.NoError(t, err)
	require.Equal(t, investmentdomain.BreakdownStatusRejected, rejected.Status)
	require.Equal(t, "keep invested", rejected.Notes)

	_, err = env.svc.RejectBreakdown(ctx, admin, first.ID, "again")
	require.ErrorIs(t, err, investmentdomain.ErrBreakdownNotPending)
	_, err = env.svc.ApproveBreakdown(ctx, admin, first.ID)
	require.ErrorIs(t, err, investmentdomain.ErrBreakdownNotPending)

	second, err := env.svc.RequestBreakdown(ctx, inv.ID, investor)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	var pending int64
	require.NoError(t, env.db.Model(&investmentdomain.BreakdownRequest{}).
		Where("investment_id = ? AND status = ?", inv.ID, investmentdomain.BreakdownStatusPending).
		Count(&pending).Error)
	require.Equal(t, int64(1), pending)
}

func TestRejectBreakdownKeepsSchedule(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "1000")
	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)

	env.clock.Set(t0.Add(day))
	_, err := env.svc.AccrueDue(ctx, inv.ID)
	require.NoError(t, err)

	req, err := env.svc.RequestBreakdown(ctx, inv.ID, investor)
	require.NoError(t, err)

	// pending breakdowns do not accrue
	env.clock.Set(t0.Add(3 * day))
	result, err := env.svc.AccrueDue(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, result.Skipped)

	_, err = env.svc.RejectBreakdown(ctx, admin, req.ID, "")
	require.NoError(t, err)

	got, err := env.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, investmentdomain.StatusActive, got.Status)
	require.True(t, t0.Add(2*day).Equal(*got.NextAccrualAt))

	result, err = env.svc.AccrueDue(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, 2, result.Cycles)
	testutil.RequireDecimal(t, "60", env.balance(t, "INR"))
	env.requireConsistent(t, inv.ID)
}

func TestRequestBreakdownEligibility(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "2000")
	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)

	_, err := env.svc.RequestBreakdown(ctx, inv.ID, snowflake.ID(4242))
	require.ErrorIs(t, err, investmentdomain.ErrNotOwner)

	env.clock.Set(t0.Add(7*day + time.Second))
	_, err = env.svc.RequestBreakdown(ctx, inv.ID, investor)
	require.ErrorIs(t, err, investmentdomain.ErrOutsideBreakdownWindow)
	require.Equal(t, apperror.KindNotEligible, apperror.KindOf(err))

	pending := env.buy(t, plan, investmentdomain.PaymentModeAdmin)
	_, err = env.svc.RequestBreakdown(ctx, pending.ID, investor)
	require.ErrorIs(t, err, investmentdomain.ErrNotActive)
}

func TestApproveBreakdownSettlesUncreditedReturn(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "1000")
	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)

	env.clock.Set(t0.Add(3 * day))
	_, err := env.svc.AccrueDue(ctx, inv.ID)
	require.NoError(t, err)

	// accrued total ahead of the ledger
	require.NoError(t, env.db.Exec(
		`UPDATE investments SET accrued_return_total = ? WHERE id = ?`, "70.00", inv.ID,
	).Error)

	findings, err := env.svc.CheckInvestment(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, CheckAccruedMismatch, findings[0].Check)

	req, err := env.svc.RequestBreakdown(ctx, inv.ID, investor)
	require.NoError(t, err)
	testutil.RequireDecimal(t, "765", req.FinalAmount)

	approved, err := env.svc.ApproveBreakdown(ctx, admin, req.ID)
	require.NoError(t, err)
	testutil.RequireDecimal(t, "10", approved.SettledReturn)
	testutil.RequireDecimal(t, "835.00", env.balance(t, "INR"))

	env.requireConsistent(t, inv.ID)
}

func TestBreakdownDecisionsRequireAdmin(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "1000")
	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)
	req, err := env.svc.RequestBreakdown(ctx, inv.ID, investor)
	require.NoError(t, err)

	_, err = env.svc.ApproveBreakdown(ctx, authorization.User(investor), req.ID)
	require.ErrorIs(t, err, authorization.ErrForbidden)
	_, err = env.svc.RejectBreakdown(ctx, authorization.User(investor), req.ID, "")
	require.ErrorIs(t, err, authorization.ErrForbidden)

	got, err := env.svc.GetBreakdownRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, investmentdomain.BreakdownStatusPending, got.Status)

	_, err = env.svc.ApproveBreakdown(ctx, authorization.System, req.ID)
	require.NoError(t, err)
}

func TestAccruedInvariantAcrossPasses(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Odd", plandomain.FrequencyDaily, "1.337", 10, 3)
	env.deposit(t, "INR", "1000")
	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)

	for _, offset := range []time.Duration{day, day + time.Hour, 4 * day, 4*day + 12*time.Hour, 9 * day, 11 * day} {
		env.clock.Set(t0.Add(offset))
		_, err := env.svc.AccrueDue(ctx, inv.ID)
		require.NoError(t, err)
		env.requireConsistent(t, inv.ID)
	}

	got, err := env.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, investmentdomain.StatusCompleted, got.Status)
	require.Equal(t, 10, got.CyclesCredited)
	// 13.37 per cycle
	testutil.RequireDecimal(t, "133.70", got.AccruedReturnTotal)
}

func TestStaleBreakdownIsReported(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "1000")
	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)
	req, err := env.svc.RequestBreakdown(ctx, inv.ID, investor)
	require.NoError(t, err)

	findings, err := env.svc.CheckStaleBreakdowns(ctx)
	require.NoError(t, err)
	require.Empty(t, findings)

	require.NoError(t, env.db.Exec(`UPDATE investments SET status = ? WHERE id = ?`, investmentdomain.StatusActive, inv.ID).Error)

	findings, err = env.svc.CheckStaleBreakdowns(ctx)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, req.ID.String(), findings[0].TargetID)
}

func TestListInvestments(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	for i := 0; i < 3; i++ {
		env.buy(t, plan, investmentdomain.PaymentModeAdmin)
	}

	page, err := env.svc.List(ctx, investmentdomain.ListInvestmentsRequest{
		UserID:     investor,
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, page.Investments, 2)
	require.True(t, page.HasMore)

	rest, err := env.svc.List(ctx, investmentdomain.ListInvestmentsRequest{
		UserID:     investor,
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, rest.Investments, 1)
	require.False(t, rest.HasMore)

	active, err := env.svc.List(ctx, investmentdomain.ListInvestmentsRequest{Status: investmentdomain.StatusActive})
	require.NoError(t, err)
	require.Empty(t, active.Investments)

	_, err = env.svc.List(ctx, investmentdomain.ListInvestmentsRequest{Status: "open"})
	require.ErrorIs(t, err, investmentdomain.ErrInvalidStatus)
}

func (e *testEnv) returnEntries(t *testing.T, id snowflake.ID) []ledgerdomain.Entry {
	t.Helper()
	var entries []ledgerdomain.Entry
	require.NoError(t, e.db.
		Where("correlation_id = ? AND entry_type = ?", id.String(), ledgerdomain.EntryTypeReturnCredited).
		Find(&entries).Error)
	return entries
}

func TestConcurrentAccrualCreditsOnce(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "1000.00")
	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)
	env.clock.Set(t0.Add(3 * day))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
		failures []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.svc.AccrueDue(ctx, inv.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if !result.Skipped {
				credited++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failures)
	require.Equal(t, 1, credited)

	entries := env.returnEntries(t, inv.ID)
	require.Len(t, entries, 1)
	testutil.RequireDecimal(t, "60.00", entries[0].Amount)

	got, err := env.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	testutil.RequireDecimal(t, "60.00", got.AccruedReturnTotal)
	require.Equal(t, 3, got.CyclesCredited)
	testutil.RequireDecimal(t, "60.00", env.balance(t, "INR"))
	env.requireConsistent(t, inv.ID)
}

func TestAccrualRacingBreakdownRequests(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "1000.00")
	inv := env.buy(t, plan, investmentdomain.PaymentModeDirect)
	env.clock.Set(t0.Add(3 * day))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		requested []investmentdomain.BreakdownRequest
		failures  []error
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				req, err := env.svc.RequestBreakdown(ctx, inv.ID, investor)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					requested = append(requested, req)
				case !errors.Is(err, investmentdomain.ErrBreakdownAlreadyExists):
					failures = append(failures, err)
				}
				return
			}
			if _, err := env.svc.AccrueDue(ctx, inv.ID); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, failures)
	require.Len(t, requested, 1)

	var pending int64
	require.NoError(t, env.db.Model(&investmentdomain.BreakdownRequest{}).
		Where("investment_id = ? AND status = ?", inv.ID, investmentdomain.BreakdownStatusPending).
		Count(&pending).Error)
	require.Equal(t, int64(1), pending)

	// accrual either won the lock before the request or was skipped after it
	entries := env.returnEntries(t, inv.ID)
	require.LessOrEqual(t, len(entries), 1)

	got, err := env.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, investmentdomain.StatusBreakdownPending, got.Status)
	testutil.RequireDecimal(t, got.AccruedReturnTotal.String(), env.balance(t, "INR"))
	testutil.RequireDecimal(t, got.AccruedReturnTotal.String(), requested[0].AccruedAtRequest)
	if len(entries) == 1 {
		testutil.RequireDecimal(t, "60.00", entries[0].Amount)
	}
	env.requireConsistent(t, inv.ID)
}

// repricedPlans hands the purchase transaction terms that changed after the
// pre-check, as a committed UpdateTerms would.
type repricedPlans struct {
	plandomain.Service
	fixedAmount decimal.Decimal
	locked      int
}

func (p *repricedPlans) ShareLockTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (plandomain.Plan, error) {
	p.locked++
	plan, err := p.Service.ShareLockTx(ctx, tx, id)
	if err != nil {
		return plan, err
	}
	plan.FixedAmount = p.fixedAmount
	return plan, nil
}

func TestPurchaseRechecksPriceUnderPlanLock(t *testing.T) {
	env := setup(t)
	env.allowAll()
	ctx := context.Background()

	plan := env.createPlan(t, "Daily Two", plandomain.FrequencyDaily, "2", 30, 7)
	env.deposit(t, "INR", "2000.00")

	plans := &repricedPlans{Service: env.plans, fixedAmount: decimal.RequireFromString("1500")}
	params := env.params
	params.PlanSvc = plans
	svc := NewService(params)

	_, err := svc.CreateInvestment(ctx, investmentdomain.CreateInvestmentRequest{
		UserID:      investor,
		PlanID:      plan.ID,
		Amount:      decimal.RequireFromString("1000"),
		Currency:    "INR",
		PaymentMode: investmentdomain.PaymentModeDirect,
	})
	require.ErrorIs(t, err, plandomain.ErrAmountOutOfBounds)
	require.Equal(t, 1, plans.locked)
	testutil.RequireDecimal(t, "2000.00", env.balance(t, "INR"))

	var count int64
	require.NoError(t, env.db.Model(&investmentdomain.Investment{}).Count(&count).Error)
	require.Zero(t, count)

	// the plan row is still unreferenced, so its terms stay editable
	_, err = env.plans.UpdateTerms(ctx, admin, plan.ID, plandomain.UpdateTermsRequest{
		FixedAmount: decimalPtr("1500"),
	})
	require.NoError(t, err)
}

func decimalPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}
