package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	investmentdomain "github.com/smallbiznis/vestora/internal/investment/domain"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
)

const (
	CheckAccruedMismatch = "accrued_mismatch"
	CheckNegativeAccrued = "negative_accrued"
	CheckScheduleInvalid = "schedule_invalid"
	CheckStaleBreakdown  = "stale_breakdown_request"
)

func (s *Service) ListIDs(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	return s.repo.ListIDs(ctx, s.db, afterID, limit)
}

// CheckInvestment reports inconsistencies on one investment. Nothing is
// corrected.
func (s *Service) CheckInvestment(ctx context.Context, id snowflake.ID) ([]investmentdomain.Finding, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var findings []investmentdomain.Finding
	add := func(check, detail string) {
		findings = append(findings, investmentdomain.Finding{Check: check, TargetID: id.String(), Detail: detail})
	}

	if inv.AccruedReturnTotal.IsNegative() {
		add(CheckNegativeAccrued, inv.AccruedReturnTotal.String())
	}

	credited, err := s.ledgerSvc.SumCorrelatedTx(ctx, nil, inv.UserID, inv.Currency, inv.ID.String(), ledgerdomain.CreditedReturnTypes)
	if err != nil {
		return nil, err
	}
	if !credited.Equal(inv.AccruedReturnTotal) {
		add(CheckAccruedMismatch, fmt.Sprintf("accrued %s, ledger %s", inv.AccruedReturnTotal, credited))
	}

	if inv.Status == investmentdomain.StatusActive {
		switch {
		case inv.StartDate == nil || inv.NextAccrualAt == nil:
			add(CheckScheduleInvalid, "active without schedule")
		case !inv.NextAccrualAt.After(*inv.StartDate):
			add(CheckScheduleInvalid, "next accrual not after start")
		}
	}
	return findings, nil
}

func (s *Service) CheckStaleBreakdowns(ctx context.Context) ([]investmentdomain.Finding, error) {
	stale, err := s.repo.ListStalePendingBreakdowns(ctx, s.db, healthCheckLimit)
	if err != nil {
		return nil, err
	}
	findings := make([]investmentdomain.Finding, 0, len(stale))
	for _, req := range stale {
		findings = append(findings, investmentdomain.Finding{
			Check:    CheckStaleBreakdown,
			TargetID: req.ID.String(),
			Detail:   fmt.Sprintf("investment %s is not breakdown_pending", req.InvestmentID),
		})
	}
	return findings, nil
}
