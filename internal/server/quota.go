package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	pricingdomain "github.com/smallbiznis/meterguard/internal/pricing/domain"
	quotadomain "github.com/smallbiznis/meterguard/internal/quota/domain"
)

type quotaCheckRequest struct {
	accountParams
	Model       string `json:"model"`
	AmountCents int64  `json:"amount_cents"`
}

type quotaCheckResponse struct {
	Allowed       bool                     `json:"allowed"`
	Model         string                   `json:"model"`
	FallbackModel string                   `json:"fallback_model,omitempty"`
	Gate          quotadomain.GateDecision `json:"gate"`
	Decision      *quotadomain.Decision    `json:"decision,omitempty"`
}

type quotaSettleRequest struct {
	accountParams
	Model      string               `json:"model"`
	Unit       string               `json:"unit"`
	Tokens     pricingdomain.Tokens `json:"tokens"`
	FinalCents int64                `json:"final_cents"`
	Currency   string               `json:"currency"`
	RequestID  string               `json:"request_id"`
	Success    *bool                `json:"success"`
	Meta       map[string]any       `json:"meta"`
}

// CheckQuota runs overdraft gating and then the daily limit check. A denied
// call answers 429 with the decision attached.
func (s *Server) CheckQuota(c *gin.Context) {
	var req quotaCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	account, err := req.account()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	model := strings.TrimSpace(req.Model)
	gate, err := s.quotaSvc.Gate(ctx, account, model)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp := quotaCheckResponse{Model: model, Gate: gate}
	if !gate.Allowed {
		denyQuota(c, quotadomain.ErrOverdraftGated, resp)
		return
	}
	if gate.FallbackModel != "" {
		resp.FallbackModel = gate.FallbackModel
		model = gate.FallbackModel
	}

	decision, err := s.quotaSvc.Check(ctx, quotadomain.CheckRequest{
		Account:     account,
		AmountCents: req.AmountCents,
		Model:       model,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp.Decision = &decision
	if !decision.Allowed {
		denyQuota(c, quotadomain.ErrLimitExceeded, resp)
		return
	}
	if decision.FallbackModel != "" {
		resp.FallbackModel = decision.FallbackModel
	}
	resp.Allowed = true
	c.JSON(http.StatusOK, resp)
}

func denyQuota(c *gin.Context, reason error, resp quotaCheckResponse) {
	_ = c.Error(reason)
	status, payload := mapError(reason)
	payload.Code = errorCode(reason)
	c.AbortWithStatusJSON(status, gin.H{
		"error":  payload,
		"result": resp,
	})
}

func (s *Server) SettleQuota(c *gin.Context) {
	var req quotaSettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	account, err := req.account()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	unit := pricingdomain.Unit(strings.ToLower(strings.TrimSpace(req.Unit)))
	if unit != "" && !unit.Valid() {
		AbortWithError(c, newValidationError("unit", "invalid_unit", "unsupported unit"))
		return
	}
	success := true
	if req.Success != nil {
		success = *req.Success
	}

	settlement, err := s.quotaSvc.Settle(c.Request.Context(), quotadomain.SettleRequest{
		Account:       account,
		Model:         req.Model,
		Unit:          unit,
		Tokens:        req.Tokens,
		FinalCents:    req.FinalCents,
		Currency:      req.Currency,
		CorrelationID: strings.TrimSpace(req.RequestID),
		Success:       success,
		Meta:          req.Meta,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settlement)
}
