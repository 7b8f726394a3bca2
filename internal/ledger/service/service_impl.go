package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vestora/internal/apperror"
	"github.com/smallbiznis/vestora/internal/clock"
	"github.com/smallbiznis/vestora/internal/config"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
	"github.com/smallbiznis/vestora/internal/money"
	obsmetrics "github.com/smallbiznis/vestora/internal/observability/metrics"
	"github.com/smallbiznis/vestora/pkg/db"
	"github.com/smallbiznis/vestora/pkg/db/pagination"
	"github.com/smallbiznis/vestora/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const reconcilePageSize = 500

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Money      *money.Registry
	Engine     *config.EngineHolder
	Repo       ledgerdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	money      *money.Registry
	engine     *config.EngineHolder
	repo       ledgerdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		money:      p.Money,
		engine:     p.Engine,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) OpenAccount(ctx context.Context, userID snowflake.ID, currency string) (ledgerdomain.Account, error) {
	if userID == 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidUser
	}
	currency = money.Normalize(currency)
	if !s.money.Supports(currency) {
		return ledgerdomain.Account{}, money.ErrUnsupportedCurrency
	}

	var account *ledgerdomain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.ensureAccount(ctx, tx, userID, currency)
		return err
	})
	if err != nil {
		return ledgerdomain.Account{}, err
	}
	return *account, nil
}

func (s *Service) GetAccount(ctx context.Context, userID snowflake.ID, currency string) (ledgerdomain.Account, error) {
	if userID == 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidUser
	}
	account, err := s.repo.FindAccount(ctx, s.db, userID, money.Normalize(currency))
	if err != nil {
		return ledgerdomain.Account{}, err
	}
	if account == nil {
		return ledgerdomain.Account{}, ledgerdomain.ErrAccountNotFound
	}
	return *account, nil
}

func (s *Service) SetAccountStatus(ctx context.Context, userID snowflake.ID, currency string, status ledgerdomain.AccountStatus) (ledgerdomain.Account, error) {
	switch status {
	case ledgerdomain.AccountStatusActive, ledgerdomain.AccountStatusFrozen:
	default:
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidStatus
	}

	var updated ledgerdomain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.LockAccount(ctx, tx, userID, money.Normalize(currency))
		if err != nil {
			return err
		}
		if account == nil {
			return ledgerdomain.ErrAccountNotFound
		}
		account.Status = status
		account.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateStatus(ctx, tx, account); err != nil {
			return err
		}
		updated = *account
		return nil
	})
	if err != nil {
		return ledgerdomain.Account{}, err
	}

	s.log.Info("ledger account status changed",
		zap.String("account_id", updated.ID.String()),
		zap.String("status", string(status)),
	)
	return updated, nil
}

func (s *Service) Credit(ctx context.Context, req ledgerdomain.PostingRequest) (ledgerdomain.Entry, error) {
	return s.postWithRetry(ctx, req, ledgerdomain.DirectionCredit)
}

func (s *Service) Debit(ctx context.Context, req ledgerdomain.PostingRequest) (ledgerdomain.Entry, error) {
	return s.postWithRetry(ctx, req, ledgerdomain.DirectionDebit)
}

func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.PostingRequest) (ledgerdomain.Entry, error) {
	if tx == nil {
		return ledgerdomain.Entry{}, ledgerdomain.ErrTransactionRequired
	}
	return s.post(ctx, tx, req, ledgerdomain.DirectionCredit)
}

func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.PostingRequest) (ledgerdomain.Entry, error) {
	if tx == nil {
		return ledgerdomain.Entry{}, ledgerdomain.ErrTransactionRequired
	}
	return s.post(ctx, tx, req, ledgerdomain.DirectionDebit)
}

func (s *Service) postWithRetry(ctx context.Context, req ledgerdomain.PostingRequest, want ledgerdomain.Direction) (ledgerdomain.Entry, error) {
	var entry ledgerdomain.Entry
	err := db.WithRetry(ctx, s.engine.Get().DBRetryAttempts, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			entry, err = s.post(ctx, tx, req, want)
			return err
		})
	})
	if err != nil {
		return ledgerdomain.Entry{}, err
	}
	return entry, nil
}

// post applies one mutation inside tx. The wallet row stays locked until tx
// ends, so the balance check and the entry append are atomic.
func (s *Service) post(ctx context.Context, tx *gorm.DB, req ledgerdomain.PostingRequest, want ledgerdomain.Direction) (ledgerdomain.Entry, error) {
	req, err := s.normalizeRequest(ctx, req, want)
	if err != nil {
		s.reject(ctx, req.EntryType, err)
		return ledgerdomain.Entry{}, err
	}

	account, err := s.ensureAccount(ctx, tx, req.UserID, req.Currency)
	if err != nil {
		return ledgerdomain.Entry{}, err
	}
	if account.Status == ledgerdomain.AccountStatusFrozen {
		s.reject(ctx, req.EntryType, ledgerdomain.ErrAccountFrozen)
		return ledgerdomain.Entry{}, ledgerdomain.ErrAccountFrozen
	}

	signed := req.Amount
	if want == ledgerdomain.DirectionDebit {
		if account.Balance.LessThan(req.Amount) {
			s.reject(ctx, req.EntryType, ledgerdomain.ErrInsufficientFunds)
			return ledgerdomain.Entry{}, ledgerdomain.ErrInsufficientFunds
		}
		signed = req.Amount.Neg()
	}

	now := s.clock.Now()
	before := account.Balance
	expectedVersion := account.Version

	account.Balance = before.Add(signed)
	account.LastSequence++
	account.Version++
	account.UpdatedAt = now

	ok, err := s.repo.UpdateBalance(ctx, tx, account, expectedVersion)
	if err != nil {
		return ledgerdomain.Entry{}, err
	}
	if !ok {
		return ledgerdomain.Entry{}, ledgerdomain.ErrConcurrentPosting
	}

	entry := ledgerdomain.Entry{
		ID:            s.genID.Generate(),
		AccountID:     account.ID,
		Sequence:      account.LastSequence,
		EntryType:     req.EntryType,
		Amount:        signed,
		BalanceBefore: before,
		BalanceAfter:  account.Balance,
		CorrelationID: req.CorrelationID,
		Description:   req.Description,
		OccurredAt:    now,
		CreatedAt:     now,
	}
	if len(req.Metadata) > 0 {
		entry.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if err := s.repo.InsertEntry(ctx, tx, &entry); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return ledgerdomain.Entry{}, ledgerdomain.ErrConcurrentPosting
		}
		return ledgerdomain.Entry{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, string(req.EntryType), req.Currency)
	}
	s.log.Debug("ledger entry posted",
		zap.String("account_id", account.ID.String()),
		zap.Int64("sequence", entry.Sequence),
		zap.String("entry_type", string(entry.EntryType)),
		zap.String("correlation_id", entry.CorrelationID),
	)
	return entry, nil
}

func (s *Service) normalizeRequest(ctx context.Context, req ledgerdomain.PostingRequest, want ledgerdomain.Direction) (ledgerdomain.PostingRequest, error) {
	if req.UserID == 0 {
		return req, ledgerdomain.ErrInvalidUser
	}
	direction, err := req.EntryType.Direction()
	if err != nil {
		return req, err
	}
	if direction != want {
		return req, ledgerdomain.ErrDirectionMismatch
	}

	req.Currency = money.Normalize(req.Currency)
	if err := s.money.ValidateAmount(req.Currency, req.Amount); err != nil {
		return req, err
	}

	req.CorrelationID = strings.TrimSpace(req.CorrelationID)
	if req.CorrelationID == "" {
		req.CorrelationID = correlation.ExtractCorrelationID(ctx)
	}
	if req.CorrelationID == "" {
		return req, ledgerdomain.ErrInvalidCorrelation
	}
	req.Description = strings.TrimSpace(req.Description)
	return req, nil
}

// ensureAccount returns the locked wallet row, creating an empty one on first
// use. Concurrent creators race on the unique (user_id, currency) index and
// the loser simply locks the winner's row.
func (s *Service) ensureAccount(ctx context.Context, tx *gorm.DB, userID snowflake.ID, currency string) (*ledgerdomain.Account, error) {
	account, err := s.repo.LockAccount(ctx, tx, userID, currency)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	now := s.clock.Now()
	if err := s.repo.InsertAccountIfAbsent(ctx, tx, &ledgerdomain.Account{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Currency:  currency,
		Balance:   decimal.Zero,
		Status:    ledgerdomain.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, err
	}

	account, err = s.repo.LockAccount(ctx, tx, userID, currency)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) reject(ctx context.Context, entryType ledgerdomain.EntryType, err error) {
	if s.obsMetrics == nil {
		return
	}
	reason := apperror.CodeOf(err)
	if reason == "" {
		reason = "unknown"
	}
	s.obsMetrics.RecordLedgerRejection(ctx, string(entryType), reason)
}

func (s *Service) ListEntries(ctx context.Context, req ledgerdomain.ListEntriesRequest) (ledgerdomain.ListEntriesResponse, error) {
	if req.UserID == 0 {
		return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidUser
	}
	if req.EntryType != "" {
		if _, err := req.EntryType.Direction(); err != nil {
			return ledgerdomain.ListEntriesResponse{}, err
		}
	}

	account, err := s.repo.FindAccount(ctx, s.db, req.UserID, money.Normalize(req.Currency))
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}
	if account == nil {
		return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrAccountNotFound
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	if err := pagination.ValidateToken(page.PageToken); err != nil {
		return ledgerdomain.ListEntriesResponse{}, ledgerdomain.ErrInvalidPageToken
	}
	entries, err := s.repo.ListEntries(ctx, s.db, account.ID, ledgerdomain.EntryFilter{EntryType: req.EntryType}, page)
	if err != nil {
		return ledgerdomain.ListEntriesResponse{}, err
	}

	entries, pageInfo := pagination.BuildCursorPageInfo(entries, page.Limit(), func(e ledgerdomain.Entry) string {
		return e.ID.String()
	})
	return ledgerdomain.ListEntriesResponse{PageInfo: pageInfo, Entries: entries}, nil
}

func (s *Service) SumCorrelatedTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID, currency, correlationID string, types []ledgerdomain.EntryType) (decimal.Decimal, error) {
	if tx == nil {
		tx = s.db
	}
	account, err := s.repo.FindAccount(ctx, tx, userID, money.Normalize(currency))
	if err != nil {
		return decimal.Zero, err
	}
	if account == nil {
		return decimal.Zero, nil
	}

	entries, err := s.repo.ListCorrelated(ctx, tx, account.ID, correlationID, types)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.Amount)
	}
	return total, nil
}

// Reconcile replays every entry of the account in sequence order and checks
// the chain of before/after balances against the stored balance.
func (s *Service) Reconcile(ctx context.Context, accountID snowflake.ID) (ledgerdomain.ReconcileReport, error) {
	account, err := s.repo.FindAccountByID(ctx, s.db, accountID)
	if err != nil {
		return ledgerdomain.ReconcileReport{}, err
	}
	if account == nil {
		return ledgerdomain.ReconcileReport{}, ledgerdomain.ErrAccountNotFound
	}

	report := ledgerdomain.ReconcileReport{
		AccountID:     account.ID,
		StoredBalance: account.Balance,
	}

	running := decimal.Zero
	var lastSequence int64
	for {
		entries, err := s.repo.ListEntriesAfter(ctx, s.db, account.ID, lastSequence, reconcilePageSize)
		if err != nil {
			return ledgerdomain.ReconcileReport{}, err
		}
		for _, entry := range entries {
			report.Problems = append(report.Problems, checkEntry(entry, lastSequence, running)...)
			running = running.Add(entry.Amount)
			lastSequence = entry.Sequence
			report.EntryCount++
		}
		if len(entries) < reconcilePageSize {
			break
		}
	}

	report.ReplayedBalance = running
	if !running.Equal(account.Balance) {
		report.Problems = append(report.Problems,
			fmt.Sprintf("stored balance %s differs from replayed %s", account.Balance, running))
	}
	if lastSequence != account.LastSequence {
		report.Problems = append(report.Problems,
			fmt.Sprintf("last sequence %d differs from replayed %d", account.LastSequence, lastSequence))
	}

	if !report.Consistent() {
		s.log.Warn("ledger account failed reconciliation",
			zap.String("account_id", account.ID.String()),
			zap.Strings("problems", report.Problems),
		)
	}
	return report, nil
}

func checkEntry(entry ledgerdomain.Entry, previousSequence int64, running decimal.Decimal) []string {
	var problems []string
	if entry.Sequence != previousSequence+1 {
		problems = append(problems, fmt.Sprintf("entry %s: sequence %d follows %d", entry.ID, entry.Sequence, previousSequence))
	}
	if !entry.BalanceBefore.Equal(running) {
		problems = append(problems, fmt.Sprintf("entry %s: balance_before %s, replayed %s", entry.ID, entry.BalanceBefore, running))
	}
	if !entry.BalanceAfter.Equal(entry.BalanceBefore.Add(entry.Amount)) {
		problems = append(problems, fmt.Sprintf("entry %s: balance_after %s does not follow amount", entry.ID, entry.BalanceAfter))
	}
	if entry.BalanceAfter.IsNegative() {
		problems = append(problems, fmt.Sprintf("entry %s: negative balance %s", entry.ID, entry.BalanceAfter))
	}

	direction, err := entry.EntryType.Direction()
	switch {
	case err != nil:
		problems = append(problems, fmt.Sprintf("entry %s: unknown entry type %q", entry.ID, entry.EntryType))
	case direction == ledgerdomain.DirectionCredit && !entry.Amount.IsPositive(),
		direction == ledgerdomain.DirectionDebit && !entry.Amount.IsNegative():
		problems = append(problems, fmt.Sprintf("entry %s: amount %s has wrong sign for %s", entry.ID, entry.Amount, entry.EntryType))
	}
	return problems
}

func (s *Service) ListAccountIDs(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = reconcilePageSize
	}
	return s.repo.ListAccountIDs(ctx, s.db, afterID, limit)
}
