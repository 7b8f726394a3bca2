package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vestora/internal/authorization"
	ledgerdomain "github.com/smallbiznis/vestora/internal/ledger/domain"
	walletdomain "github.com/smallbiznis/vestora/internal/wallet/domain"
	"github.com/smallbiznis/vestora/pkg/db/pagination"
)

type adjustWalletRequest struct {
	UserID      string `json:"user_id"`
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	Correction  bool   `json:"correction"`
}

type setWalletStatusRequest struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (s *Server) GetWallet(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	if !s.requireSelfOrAuthorized(c, userID, authorization.ObjectWallet, authorization.ActionWalletAdjust) {
		return
	}

	account, err := s.ledgerSvc.GetAccount(c.Request.Context(), userID, c.Param("currency"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) ListWalletEntries(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	if !s.requireSelfOrAuthorized(c, userID, authorization.ObjectWallet, authorization.ActionWalletAdjust) {
		return
	}

	var query struct {
		pagination.Pagination
		EntryType string `form:"entry_type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListEntries(c.Request.Context(), ledgerdomain.ListEntriesRequest{
		UserID:    userID,
		Currency:  c.Param("currency"),
		EntryType: ledgerdomain.EntryType(strings.ToLower(strings.TrimSpace(query.EntryType))),
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DepositWallet(c *gin.Context) {
	s.adjustWallet(c, s.walletSvc.Deposit)
}

func (s *Server) WithdrawWallet(c *gin.Context) {
	s.adjustWallet(c, s.walletSvc.Withdraw)
}

type adjustFunc func(ctx context.Context, actor authorization.Actor, req walletdomain.AdjustRequest) (ledgerdomain.Entry, error)

func (s *Server) adjustWallet(c *gin.Context, adjust adjustFunc) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}

	var req adjustWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseSnowflakeID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "invalid amount"))
		return
	}

	entry, err := adjust(c.Request.Context(), actor, walletdomain.AdjustRequest{
		UserID:      userID,
		Currency:    strings.TrimSpace(req.Currency),
		Amount:      amount,
		Reference:   strings.TrimSpace(req.Reference),
		Description: strings.TrimSpace(req.Description),
		Correction:  req.Correction,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) SetWalletStatus(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}

	var req setWalletStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseSnowflakeID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}

	account, err := s.walletSvc.SetStatus(
		c.Request.Context(),
		actor,
		userID,
		strings.TrimSpace(req.Currency),
		ledgerdomain.AccountStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}
