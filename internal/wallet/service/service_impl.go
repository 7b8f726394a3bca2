package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/vestora/internal/audit/domain"
	"github.com/smallbiznis/vestora/internal/authorization"
	"github.com/smallbiznis/vestora/internal/config"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
	"github.com/smallbiznis/vestora/internal/money"
	walletdomain "github.com/smallbiznis/vestora/internal/wallet/domain"
	"github.com/smallbiznis/vestora/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxReferenceLength = 128

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Engine    *config.EngineHolder
	LedgerSvc ledgerdomain.Service
	AuthzSvc  authorization.Service
	AuditSvc  auditdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	engine    *config.EngineHolder
	ledgerSvc ledgerdomain.Service
	authzSvc  authorization.Service
	auditSvc  auditdomain.Service
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("wallet.service"),
		genID:     p.GenID,
		engine:    p.Engine,
		ledgerSvc: p.LedgerSvc,
		authzSvc:  p.AuthzSvc,
		auditSvc:  p.AuditSvc,
	}
}

func (s *Service) Deposit(ctx context.Context, actor authorization.Actor, req walletdomain.AdjustRequest) (ledgerdomain.Entry, error) {
	entryType := ledgerdomain.EntryTypeDeposit
	if req.Correction {
		entryType = ledgerdomain.EntryTypeAdminCredit
	}
	return s.adjust(ctx, actor, req, entryType, auditdomain.ActionWalletDeposit)
}

func (s *Service) Withdraw(ctx context.Context, actor authorization.Actor, req walletdomain.AdjustRequest) (ledgerdomain.Entry, error) {
	entryType := ledgerdomain.EntryTypeWithdrawal
	if req.Correction {
		entryType = ledgerdomain.EntryTypeAdminDebit
	}
	return s.adjust(ctx, actor, req, entryType, auditdomain.ActionWalletWithdraw)
}

func (s *Service) adjust(ctx context.Context, actor authorization.Actor, req walletdomain.AdjustRequest, entryType ledgerdomain.EntryType, action string) (ledgerdomain.Entry, error) {
	if err := s.authzSvc.Authorize(ctx, actor, authorization.ObjectWallet, authorization.ActionWalletAdjust); err != nil {
		return ledgerdomain.Entry{}, err
	}

	reference := strings.TrimSpace(req.Reference)
	if len(reference) > maxReferenceLength {
		return ledgerdomain.Entry{}, walletdomain.ErrInvalidReference
	}
	if reference == "" {
		reference = string(entryType) + ":" + s.genID.Generate().String()
	}

	direction, err := entryType.Direction()
	if err != nil {
		return ledgerdomain.Entry{}, err
	}
	posting := ledgerdomain.PostingRequest{
		UserID:        req.UserID,
		Currency:      req.Currency,
		Amount:        req.Amount,
		EntryType:     entryType,
		CorrelationID: reference,
		Description:   req.Description,
		Metadata:      map[string]any{"actor": actor.Subject()},
	}

	var entry ledgerdomain.Entry
	err = db.WithRetry(ctx, s.engine.Get().DBRetryAttempts, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			if direction == ledgerdomain.DirectionCredit {
				entry, err = s.ledgerSvc.CreditTx(ctx, tx, posting)
			} else {
				entry, err = s.ledgerSvc.DebitTx(ctx, tx, posting)
			}
			if err != nil {
				return err
			}
			return s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
				ActorType:  actor.Type,
				ActorID:    actor.IDString(),
				Action:     action,
				TargetType: "ledger_entry",
				TargetID:   entry.ID.String(),
				Metadata: map[string]any{
					"user_id":    req.UserID.String(),
					"currency":   money.Normalize(req.Currency),
					"amount":     req.Amount.String(),
					"entry_type": string(entryType),
					"reference":  reference,
				},
			})
		})
	})
	if err != nil {
		return ledgerdomain.Entry{}, err
	}

	s.log.Info("wallet adjusted",
		zap.String("user_id", req.UserID.String()),
		zap.String("entry_type", string(entryType)),
		zap.String("amount", req.Amount.String()),
		zap.String("actor", actor.Subject()),
	)
	return entry, nil
}

// SetStatus freezes or unfreezes a wallet. A frozen wallet rejects every
// posting, including scheduled return credits.
func (s *Service) SetStatus(ctx context.Context, actor authorization.Actor, userID snowflake.ID, currency string, status ledgerdomain.AccountStatus) (ledgerdomain.Account, error) {
	if err := s.authzSvc.Authorize(ctx, actor, authorization.ObjectWallet, authorization.ActionWalletAdjust); err != nil {
		return ledgerdomain.Account{}, err
	}

	account, err := s.ledgerSvc.SetAccountStatus(ctx, userID, currency, status)
	if err != nil {
		return ledgerdomain.Account{}, err
	}

	if err := s.auditSvc.Record(ctx, nil, auditdomain.RecordRequest{
		ActorType:  actor.Type,
		ActorID:    actor.IDString(),
		Action:     auditdomain.ActionWalletStatus,
		TargetType: "ledger_account",
		TargetID:   account.ID.String(),
		Metadata: map[string]any{
			"user_id":  userID.String(),
			"currency": account.Currency,
			"status":   string(status),
		},
	}); err != nil {
		return ledgerdomain.Account{}, err
	}
	return account, nil
}
