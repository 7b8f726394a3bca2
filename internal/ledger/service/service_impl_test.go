package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vestora/internal/apperror"
	"github.com/smallbiznis/vestora/internal/clock"
	"github.com/smallbiznis/vestora/internal/config"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
	"github.com/smallbiznis/vestora/internal/ledger/repository"
	"github.com/smallbiznis/vestora/internal/money"
	"github.com/smallbiznis/vestora/internal/testutil"
	"github.com/smallbiznis/vestora/pkg/telemetry/correlation"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testUser = snowflake.ID(9001)

func setupLedger(t *testing.T) (ledgerdomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  testutil.NewNode(t),
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Money:  money.NewStaticRegistry(map[string]int32{"INR": 2, "USDT": 6}),
		Engine: config.NewStaticEngineHolder(config.DefaultEngineConfig()),
		Repo:   repository.Provide(),
	})
	return svc, db
}

func deposit(t *testing.T, svc ledgerdomain.Service, currency, amount string) ledgerdomain.Entry {
	t.Helper()
	entry, err := svc.Credit(context.Background(), ledgerdomain.PostingRequest{
		UserID:        testUser,
		Currency:      currency,
		Amount:        decimal.RequireFromString(amount),
		EntryType:     ledgerdomain.EntryTypeDeposit,
		CorrelationID: "dep-" + amount,
	})
	require.NoError(t, err)
	return entry
}

func TestCreditAndDebitChainBalances(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()

	first := deposit(t, svc, "INR", "1000.00")
	require.Equal(t, int64(1), first.Sequence)
	testutil.RequireDecimal(t, "0", first.BalanceBefore)
	testutil.RequireDecimal(t, "1000", first.BalanceAfter)

	debit, err := svc.Debit(ctx, ledgerdomain.PostingRequest{
		UserID:        testUser,
		Currency:      "inr",
		Amount:        decimal.RequireFromString("250.50"),
		EntryType:     ledgerdomain.EntryTypeWithdrawal,
		CorrelationID: "wd-1",
		Metadata:      map[string]any{"channel": "bank"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), debit.Sequence)
	testutil.RequireDecimal(t, "-250.50", debit.Amount)
	testutil.RequireDecimal(t, "1000", debit.BalanceBefore)
	testutil.RequireDecimal(t, "749.50", debit.BalanceAfter)

	account, err := svc.GetAccount(ctx, testUser, "INR")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "749.50", account.Balance)
	require.Equal(t, int64(2), account.LastSequence)

	report, err := svc.Reconcile(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, report.Consistent(), report.Problems)
	require.Equal(t, 2, report.EntryCount)
	testutil.RequireDecimal(t, "749.50", report.ReplayedBalance)
}

func TestDebitInsufficientFundsWritesNothing(t *testing.T) {
	svc, db := setupLedger(t)
	ctx := context.Background()
	deposit(t, svc, "INR", "100")

	_, err := svc.Debit(ctx, ledgerdomain.PostingRequest{
		UserID:        testUser,
		Currency:      "INR",
		Amount:        decimal.RequireFromString("100.01"),
		EntryType:     ledgerdomain.EntryTypeWithdrawal,
		CorrelationID: "wd-big",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)
	require.Equal(t, apperror.KindInsufficientFunds, apperror.KindOf(err))

	var count int64
	require.NoError(t, db.Model(&ledgerdomain.Entry{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	account, err := svc.GetAccount(ctx, testUser, "INR")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "100", account.Balance)
}

func TestAmountValidation(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		currency string
		amount   string
		wantErr  error
	}{
		{name: "inr third decimal", currency: "INR", amount: "10.005", wantErr: money.ErrPrecisionExceeded},
		{name: "usdt seventh decimal", currency: "USDT", amount: "0.0000001", wantErr: money.ErrPrecisionExceeded},
		{name: "zero", currency: "INR", amount: "0", wantErr: money.ErrNonPositiveAmount},
		{name: "negative", currency: "INR", amount: "-5", wantErr: money.ErrNonPositiveAmount},
		{name: "unknown currency", currency: "EUR", amount: "5", wantErr: money.ErrUnsupportedCurrency},
		{name: "trailing zeros allowed", currency: "INR", amount: "10.500"},
		{name: "usdt full scale", currency: "USDT", amount: "0.000001"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Credit(ctx, ledgerdomain.PostingRequest{
				UserID:        testUser,
				Currency:      tc.currency,
				Amount:        decimal.RequireFromString(tc.amount),
				EntryType:     ledgerdomain.EntryTypeDeposit,
				CorrelationID: "c-" + tc.name,
			})
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, apperror.KindInvalidAmount, apperror.KindOf(err))
		})
	}
}

func TestEntryTypeMustMatchDirection(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, ledgerdomain.PostingRequest{
		UserID:        testUser,
		Currency:      "INR",
		Amount:        decimal.NewFromInt(1),
		EntryType:     ledgerdomain.EntryTypeWithdrawal,
		CorrelationID: "x",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrDirectionMismatch)

	_, err = svc.Debit(ctx, ledgerdomain.PostingRequest{
		UserID:        testUser,
		Currency:      "INR",
		Amount:        decimal.NewFromInt(1),
		EntryType:     ledgerdomain.EntryType("gift"),
		CorrelationID: "x",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidEntryType)
}

func TestCorrelationIDFallsBackToContext(t *testing.T) {
	svc, _ := setupLedger(t)

	_, err := svc.Credit(context.Background(), ledgerdomain.PostingRequest{
		UserID:    testUser,
		Currency:  "INR",
		Amount:    decimal.NewFromInt(1),
		EntryType: ledgerdomain.EntryTypeDeposit,
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidCorrelation)

	ctx := correlation.ContextWithCorrelationID(context.Background(), "req-77")
	entry, err := svc.Credit(ctx, ledgerdomain.PostingRequest{
		UserID:    testUser,
		Currency:  "INR",
		Amount:    decimal.NewFromInt(1),
		EntryType: ledgerdomain.EntryTypeDeposit,
	})
	require.NoError(t, err)
	require.Equal(t, "req-77", entry.CorrelationID)
}

func TestFrozenAccountRejectsPostings(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()
	deposit(t, svc, "INR", "50")

	_, err := svc.SetAccountStatus(ctx, testUser, "INR", ledgerdomain.AccountStatusFrozen)
	require.NoError(t, err)

	_, err = svc.Credit(ctx, ledgerdomain.PostingRequest{
		UserID:        testUser,
		Currency:      "INR",
		Amount:        decimal.NewFromInt(1),
		EntryType:     ledgerdomain.EntryTypeAdminCredit,
		CorrelationID: "adj",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrAccountFrozen)
	require.Equal(t, apperror.KindNotEligible, apperror.KindOf(err))

	_, err = svc.SetAccountStatus(ctx, testUser, "INR", ledgerdomain.AccountStatusActive)
	require.NoError(t, err)
	deposit(t, svc, "INR", "1")

	_, err = svc.SetAccountStatus(ctx, testUser, "INR", ledgerdomain.AccountStatus("closed"))
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidStatus)
}

func TestDebitTxRollsBackWithCaller(t *testing.T) {
	svc, db := setupLedger(t)
	ctx := context.Background()
	deposit(t, svc, "INR", "300")

	boom := errors.New("later step failed")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.DebitTx(ctx, tx, ledgerdomain.PostingRequest{
			UserID:        testUser,
			Currency:      "INR",
			Amount:        decimal.NewFromInt(200),
			EntryType:     ledgerdomain.EntryTypeInvestmentPurchase,
			CorrelationID: "inv-1",
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	account, err := svc.GetAccount(ctx, testUser, "INR")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "300", account.Balance)
	require.Equal(t, int64(1), account.LastSequence)

	_, err = svc.DebitTx(ctx, nil, ledgerdomain.PostingRequest{})
	require.ErrorIs(t, err, ledgerdomain.ErrTransactionRequired)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()
	deposit(t, svc, "INR", "500")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, ledgerdomain.PostingRequest{
				UserID:        testUser,
				Currency:      "INR",
				Amount:        decimal.NewFromInt(100),
				EntryType:     ledgerdomain.EntryTypeWithdrawal,
				CorrelationID: "wd",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, succeeded)
	require.Equal(t, 5, rejected)

	account, err := svc.GetAccount(ctx, testUser, "INR")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "0", account.Balance)

	report, err := svc.Reconcile(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, report.Consistent(), report.Problems)
	require.Equal(t, 6, report.EntryCount)
}

func TestReconcileDetectsTampering(t *testing.T) {
	svc, db := setupLedger(t)
	ctx := context.Background()
	deposit(t, svc, "INR", "10")
	deposit(t, svc, "INR", "20")

	account, err := svc.GetAccount(ctx, testUser, "INR")
	require.NoError(t, err)
	require.NoError(t, db.Exec(`UPDATE ledger_accounts SET balance = ? WHERE id = ?`, "999", account.ID).Error)

	report, err := svc.Reconcile(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, report.Consistent())
	testutil.RequireDecimal(t, "30", report.ReplayedBalance)
	testutil.RequireDecimal(t, "999", report.StoredBalance)

	_, err = svc.Reconcile(ctx, snowflake.ID(1))
	require.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func TestListEntriesPaginates(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()
	for _, amount := range []string{"1", "2", "3", "4", "5"} {
		deposit(t, svc, "INR", amount)
	}

	first, err := svc.ListEntries(ctx, ledgerdomain.ListEntriesRequest{UserID: testUser, Currency: "INR", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	require.True(t, first.HasMore)
	require.Equal(t, int64(5), first.Entries[0].Sequence)

	second, err := svc.ListEntries(ctx, ledgerdomain.ListEntriesRequest{UserID: testUser, Currency: "INR", PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Entries, 2)
	require.Equal(t, int64(3), second.Entries[0].Sequence)

	third, err := svc.ListEntries(ctx, ledgerdomain.ListEntriesRequest{UserID: testUser, Currency: "INR", PageSize: 2, PageToken: second.NextPageToken})
	require.NoError(t, err)
	require.Len(t, third.Entries, 1)
	require.False(t, third.HasMore)

	_, err = svc.ListEntries(ctx, ledgerdomain.ListEntriesRequest{UserID: testUser, Currency: "INR", PageToken: "???"})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidPageToken)

	_, err = svc.ListEntries(ctx, ledgerdomain.ListEntriesRequest{UserID: testUser, Currency: "USDT"})
	require.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func TestSumCorrelatedTx(t *testing.T) {
	svc, db := setupLedger(t)
	ctx := context.Background()

	for _, amount := range []string{"20", "20"} {
		_, err := svc.Credit(ctx, ledgerdomain.PostingRequest{
			UserID:        testUser,
			Currency:      "INR",
			Amount:        decimal.RequireFromString(amount),
			EntryType:     ledgerdomain.EntryTypeReturnCredited,
			CorrelationID: "inv-42",
		})
		require.NoError(t, err)
	}
	_, err := svc.Credit(ctx, ledgerdomain.PostingRequest{
		UserID:        testUser,
		Currency:      "INR",
		Amount:        decimal.NewFromInt(500),
		EntryType:     ledgerdomain.EntryTypeDeposit,
		CorrelationID: "inv-42",
	})
	require.NoError(t, err)

	total, err := svc.SumCorrelatedTx(ctx, db, testUser, "INR", "inv-42", ledgerdomain.CreditedReturnTypes)
	require.NoError(t, err)
	testutil.RequireDecimal(t, "40", total)

	total, err = svc.SumCorrelatedTx(ctx, db, snowflake.ID(1), "INR", "inv-42", ledgerdomain.CreditedReturnTypes)
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestOpenAccountIsIdempotent(t *testing.T) {
	svc, _ := setupLedger(t)
	ctx := context.Background()

	first, err := svc.OpenAccount(ctx, testUser, "usdt")
	require.NoError(t, err)
	second, err := svc.OpenAccount(ctx, testUser, "USDT")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "USDT", second.Currency)

	_, err = svc.OpenAccount(ctx, testUser, "EUR")
	require.ErrorIs(t, err, money.ErrUnsupportedCurrency)

	ids, err := svc.ListAccountIDs(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []snowflake.ID{first.ID}, ids)
}
