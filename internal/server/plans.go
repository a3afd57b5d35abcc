package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	pricingdomain "github.com/smallbiznis/meterguard/internal/pricing/domain"
)

type createPlanRequest struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Type     string `json:"type"`
	Currency string `json:"currency"`
}

type upsertDailyLimitRequest struct {
	LimitCents     int64  `json:"limit_cents"`
	OverflowPolicy string `json:"overflow_policy"`
	ResetTime      string `json:"reset_time"`
	Timezone       string `json:"timezone"`
}

type upsertUsagePlanRequest struct {
	BillingCycle     string `json:"billing_cycle"`
	MinCommitCents   *int64 `json:"min_commit_cents"`
	CreditGrantCents *int64 `json:"credit_grant_cents"`
}

type assignPlanRequest struct {
	accountParams
	PlanID        string `json:"plan_id"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to"`
	Timezone      string `json:"timezone"`
}

type addPriceRuleRequest struct {
	ModelPattern       string           `json:"model_pattern"`
	Unit               string           `json:"unit"`
	UnitBasePriceCents int64            `json:"unit_base_price_cents"`
	InputMultiplier    *decimal.Decimal `json:"input_multiplier"`
	OutputMultiplier   *decimal.Decimal `json:"output_multiplier"`
	PriceMultiplier    *decimal.Decimal `json:"price_multiplier"`
	MinChargeCents     int64            `json:"min_charge_cents"`
	Priority           int              `json:"priority"`
	EffectiveFrom      string           `json:"effective_from"`
	EffectiveTo        string           `json:"effective_to"`
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.planSvc.CreatePlan(c.Request.Context(), plandomain.CreatePlanRequest{
		Name:     req.Name,
		Code:     req.Code,
		Type:     plandomain.PlanType(strings.ToLower(strings.TrimSpace(req.Type))),
		Currency: req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (s *Server) GetPlan(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, plandomain.ErrPlanNotFound)
		return
	}
	detail, err := s.planSvc.GetPlan(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) ArchivePlan(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, plandomain.ErrPlanNotFound)
		return
	}
	plan, err := s.planSvc.ArchivePlan(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) UpsertDailyLimit(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, plandomain.ErrPlanNotFound)
		return
	}
	var req upsertDailyLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	limit, err := s.planSvc.UpsertDailyLimit(c.Request.Context(), plandomain.UpsertDailyLimitRequest{
		PlanID:         id,
		LimitCents:     req.LimitCents,
		OverflowPolicy: plandomain.OverflowPolicy(strings.ToLower(strings.TrimSpace(req.OverflowPolicy))),
		ResetTime:      req.ResetTime,
		Timezone:       req.Timezone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, limit)
}

func (s *Server) UpsertUsagePlan(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, plandomain.ErrPlanNotFound)
		return
	}
	var req upsertUsagePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	usage, err := s.planSvc.UpsertUsagePlan(c.Request.Context(), plandomain.UpsertUsagePlanRequest{
		PlanID:           id,
		BillingCycle:     plandomain.BillingCycle(strings.ToLower(strings.TrimSpace(req.BillingCycle))),
		MinCommitCents:   req.MinCommitCents,
		CreditGrantCents: req.CreditGrantCents,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (s *Server) AssignPlan(c *gin.Context) {
	var req assignPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	account, err := req.account()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	planID, err := parseSnowflakeID(req.PlanID)
	if err != nil {
		AbortWithError(c, plandomain.ErrPlanNotFound)
		return
	}
	from, to, err := parseEffectiveWindow(req.EffectiveFrom, req.EffectiveTo)
	if err != nil {
		AbortWithError(c, plandomain.ErrInvalidWindow)
		return
	}

	assignment, err := s.planSvc.Assign(c.Request.Context(), plandomain.AssignRequest{
		Account:       account,
		PlanID:        planID,
		EffectiveFrom: from,
		EffectiveTo:   to,
		Timezone:      req.Timezone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, assignment)
}

func (s *Server) AddPriceRule(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, pricingdomain.ErrInvalidPlan)
		return
	}
	var req addPriceRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	from, to, err := parseEffectiveWindow(req.EffectiveFrom, req.EffectiveTo)
	if err != nil {
		AbortWithError(c, pricingdomain.ErrInvalidWindow)
		return
	}

	rule, err := s.pricingSvc.AddRule(c.Request.Context(), pricingdomain.AddRuleRequest{
		PlanID:             id,
		ModelPattern:       req.ModelPattern,
		Unit:               pricingdomain.Unit(strings.ToLower(strings.TrimSpace(req.Unit))),
		UnitBasePriceCents: req.UnitBasePriceCents,
		InputMultiplier:    req.InputMultiplier,
		OutputMultiplier:   req.OutputMultiplier,
		PriceMultiplier:    req.PriceMultiplier,
		MinChargeCents:     req.MinChargeCents,
		Priority:           req.Priority,
		EffectiveFrom:      from,
		EffectiveTo:        to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) ListPriceRules(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, pricingdomain.ErrInvalidPlan)
		return
	}
	rules, err := s.pricingSvc.ListRules(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rules})
}

// parseEffectiveWindow reads optional bounds; blank means open.
func parseEffectiveWindow(fromRaw, toRaw string) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if strings.TrimSpace(fromRaw) != "" {
		parsed, err := parseDate(fromRaw)
		if err != nil {
			return nil, nil, err
		}
		from = &parsed
	}
	if strings.TrimSpace(toRaw) != "" {
		parsed, err := parseDate(toRaw)
		if err != nil {
			return nil, nil, err
		}
		to = &parsed
	}
	return from, to, nil
}
