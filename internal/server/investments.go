package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vestora/internal/authorization"
	investmentdomain "github.com/smallbiznis/vestora/internal/investment/domain"
	"github.com/smallbiznis/vestora/pkg/db/pagination"
)

type createInvestmentRequest struct {
	UserID      string `json:"user_id"`
	PlanID      string `json:"plan_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PaymentMode string `json:"payment_mode"`
}

type cancelInvestmentRequest struct {
	Reason string `json:"reason"`
}

type rejectBreakdownRequest struct {
	Notes string `json:"notes"`
}

// CreateInvestment buys a plan for the calling user. Admins may buy on behalf
// of another user by naming user_id.
func (s *Server) CreateInvestment(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}

	var req createInvestmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	planID, err := parseSnowflakeID(req.PlanID)
	if err != nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "invalid plan_id"))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "invalid amount"))
		return
	}
	onBehalf, err := parseOptionalSnowflakeID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}

	userID := actor.ID
	if onBehalf != nil {
		userID = *onBehalf
	}
	if userID == 0 {
		AbortWithError(c, newValidationError("user_id", "required", "user_id is required"))
		return
	}
	if !s.requireSelfOrAuthorized(c, userID, authorization.ObjectInvestment, authorization.ActionInvestmentApprove) {
		return
	}

	inv, err := s.investmentSvc.CreateInvestment(c.Request.Context(), investmentdomain.CreateInvestmentRequest{
		UserID:      userID,
		PlanID:      planID,
		Amount:      amount,
		Currency:    strings.TrimSpace(req.Currency),
		PaymentMode: investmentdomain.PaymentMode(strings.ToLower(strings.TrimSpace(req.PaymentMode))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) GetInvestment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	inv, err := s.investmentSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.requireSelfOrAuthorized(c, inv.UserID, authorization.ObjectInvestment, authorization.ActionInvestmentApprove) {
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) ListUserInvestments(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	if !s.requireSelfOrAuthorized(c, userID, authorization.ObjectInvestment, authorization.ActionInvestmentApprove) {
		return
	}

	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.investmentSvc.List(c.Request.Context(), investmentdomain.ListInvestmentsRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		UserID: userID,
		Status: investmentdomain.Status(strings.ToLower(strings.TrimSpace(query.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RequestBreakdown(c *gin.Context) {
	actor, ok := s.requireUserActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, err := s.investmentSvc.RequestBreakdown(c.Request.Context(), id, actor.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": req})
}

func (s *Server) ApprovePurchase(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	inv, err := s.investmentSvc.ApprovePurchase(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) CancelInvestment(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req cancelInvestmentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	inv, err := s.investmentSvc.Cancel(c.Request.Context(), actor, id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) ApproveBreakdown(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, err := s.investmentSvc.ApproveBreakdown(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": req})
}

func (s *Server) RejectBreakdown(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req rejectBreakdownRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	breakdown, err := s.investmentSvc.RejectBreakdown(c.Request.Context(), actor, id, strings.TrimSpace(req.Notes))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": breakdown})
}
