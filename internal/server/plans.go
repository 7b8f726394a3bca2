package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/vestora/internal/plan/domain"
)

type createPlanRequest struct {
	Name                string `json:"name"`
	Code                string `json:"code"`
	Description         string `json:"description"`
	BaseCurrency        string `json:"base_currency"`
	FixedAmount         string `json:"fixed_amount"`
	RatePercent         string `json:"rate_percent"`
	Frequency           string `json:"frequency"`
	DurationDays        int    `json:"duration_days"`
	BreakdownWindowDays int    `json:"breakdown_window_days"`
}

type updatePlanTermsRequest struct {
	Name                *string `json:"name"`
	Description         *string `json:"description"`
	FixedAmount         *string `json:"fixed_amount"`
	RatePercent         *string `json:"rate_percent"`
	Frequency           *string `json:"frequency"`
	DurationDays        *int    `json:"duration_days"`
	BreakdownWindowDays *int    `json:"breakdown_window_days"`
}

type setPlanStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) ListPlans(c *gin.Context) {
	var query struct {
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := plandomain.Status(strings.ToLower(strings.TrimSpace(query.Status)))
	if status != "" && !status.Valid() {
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	plans, err := s.planSvc.List(c.Request.Context(), plandomain.ListRequest{Status: status})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) CreatePlan(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}

	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	fixedAmount, err := parseAmount(req.FixedAmount)
	if err != nil {
		AbortWithError(c, newValidationError("fixed_amount", "invalid_fixed_amount", "invalid fixed_amount"))
		return
	}
	ratePercent, err := parseAmount(req.RatePercent)
	if err != nil {
		AbortWithError(c, newValidationError("rate_percent", "invalid_rate_percent", "invalid rate_percent"))
		return
	}

	plan, err := s.planSvc.Create(c.Request.Context(), actor, plandomain.CreateRequest{
		Name:                strings.TrimSpace(req.Name),
		Code:                strings.TrimSpace(req.Code),
		Description:         strings.TrimSpace(req.Description),
		BaseCurrency:        strings.TrimSpace(req.BaseCurrency),
		FixedAmount:         fixedAmount,
		RatePercent:         ratePercent,
		Frequency:           plandomain.Frequency(strings.ToLower(strings.TrimSpace(req.Frequency))),
		DurationDays:        req.DurationDays,
		BreakdownWindowDays: req.BreakdownWindowDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (s *Server) UpdatePlanTerms(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req updatePlanTermsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	update := plandomain.UpdateTermsRequest{
		Name:                req.Name,
		Description:         req.Description,
		DurationDays:        req.DurationDays,
		BreakdownWindowDays: req.BreakdownWindowDays,
	}
	if req.FixedAmount != nil {
		amount, err := parseOptionalDecimal(*req.FixedAmount)
		if err != nil {
			AbortWithError(c, newValidationError("fixed_amount", "invalid_fixed_amount", "invalid fixed_amount"))
			return
		}
		update.FixedAmount = amount
	}
	if req.RatePercent != nil {
		rate, err := parseOptionalDecimal(*req.RatePercent)
		if err != nil {
			AbortWithError(c, newValidationError("rate_percent", "invalid_rate_percent", "invalid rate_percent"))
			return
		}
		update.RatePercent = rate
	}
	if req.Frequency != nil {
		frequency := plandomain.Frequency(strings.ToLower(strings.TrimSpace(*req.Frequency)))
		update.Frequency = &frequency
	}

	plan, err := s.planSvc.UpdateTerms(c.Request.Context(), actor, id, update)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (s *Server) SetPlanStatus(c *gin.Context) {
	actor, ok := s.requireActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req setPlanStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.planSvc.SetStatus(c.Request.Context(), actor, id, plandomain.Status(strings.ToLower(strings.TrimSpace(req.Status))))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func parseOptionalDecimal(value string) (*decimal.Decimal, error) {
	parsed, err := parseAmount(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
