package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterguard/internal/cache"
	"github.com/smallbiznis/meterguard/internal/clock"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	pricingdomain "github.com/smallbiznis/meterguard/internal/pricing/domain"
	"github.com/smallbiznis/meterguard/internal/pricing/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	PlanSvc   plandomain.Service
	Clock     clock.Clock                `optional:"true"`
	RuleCache cache.PricingResolverCache `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	planSvc plandomain.Service
	clock   clock.Clock
	cache   cache.PricingResolverCache
	repo    pricingdomain.Repository
}

func NewService(p Params) pricingdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("pricing.service"),
		genID:   p.GenID,
		planSvc: p.PlanSvc,
		clock:   clock.OrSystem(p.Clock),
		cache:   p.RuleCache,
		repo:    repository.Provide(),
	}
}

func (s *Service) AddRule(ctx context.Context, req pricingdomain.AddRuleRequest) (*pricingdomain.PriceRule, error) {
	if req.PlanID <= 0 {
		return nil, pricingdomain.ErrInvalidPlan
	}
	pattern := strings.TrimSpace(req.ModelPattern)
	if pattern == "" {
		return nil, pricingdomain.ErrInvalidPattern
	}
	unit := pricingdomain.Unit(strings.ToLower(strings.TrimSpace(string(req.Unit))))
	if unit == "" {
		unit = pricingdomain.UnitToken
	}
	if !unit.Valid() {
		return nil, pricingdomain.ErrInvalidUnit
	}
	if req.UnitBasePriceCents < 0 || req.MinChargeCents < 0 {
		return nil, pricingdomain.ErrInvalidPrice
	}
	in, err := nullMultiplier(req.InputMultiplier)
	if err != nil {
		return nil, err
	}
	out, err := nullMultiplier(req.OutputMultiplier)
	if err != nil {
		return nil, err
	}
	price, err := nullMultiplier(req.PriceMultiplier)
	if err != nil {
		return nil, err
	}
	from, to := utcPtr(req.EffectiveFrom), utcPtr(req.EffectiveTo)
	if from != nil && to != nil && !to.After(*from) {
		return nil, pricingdomain.ErrInvalidWindow
	}

	if _, err := s.planSvc.GetPlan(ctx, req.PlanID); err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			return nil, pricingdomain.ErrInvalidPlan
		}
		return nil, err
	}

	rule := &pricingdomain.PriceRule{
		ID:                 s.genID.Generate(),
		PlanID:             req.PlanID,
		ModelPattern:       pattern,
		Unit:               unit,
		UnitBasePriceCents: req.UnitBasePriceCents,
		InputMultiplier:    in,
		OutputMultiplier:   out,
		PriceMultiplier:    price,
		MinChargeCents:     req.MinChargeCents,
		Priority:           req.Priority,
		EffectiveFrom:      from,
		EffectiveTo:        to,
		CreatedAt:          s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, rule); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.InvalidatePlan(req.PlanID.String())
	}
	s.log.Info("pricing.rule_added",
		zap.String("plan_id", req.PlanID.String()),
		zap.String("pattern", pattern),
		zap.String("unit", string(unit)),
	)
	return rule, nil
}

func (s *Service) ListRules(ctx context.Context, planID snowflake.ID) ([]pricingdomain.PriceRule, error) {
	if planID <= 0 {
		return nil, pricingdomain.ErrInvalidPlan
	}
	return s.repo.ListByPlan(ctx, s.db, planID)
}

// Resolve picks the rule pricing model under planID. Only rules effective now
// are candidates.
func (s *Service) Resolve(ctx context.Context, planID snowflake.ID, model string, unit pricingdomain.Unit) (*pricingdomain.PriceRule, bool, error) {
	if planID <= 0 {
		return nil, false, pricingdomain.ErrInvalidPlan
	}
	if !unit.Valid() {
		return nil, false, pricingdomain.ErrInvalidUnit
	}
	rules, err := s.rulesFor(ctx, planID, unit)
	if err != nil {
		return nil, false, err
	}

	now := s.clock.Now()
	candidates := make([]pricingdomain.PriceRule, 0, len(rules))
	for _, r := range rules {
		if r.EffectiveAt(now) {
			candidates = append(candidates, r)
		}
	}
	rule, ok := pricingdomain.SelectRule(candidates, strings.TrimSpace(model))
	return rule, ok, nil
}

// Quote prices one call for an account. Unassigned accounts and unmatched
// models come back with Priced=false.
func (s *Service) Quote(ctx context.Context, req pricingdomain.QuoteRequest) (pricingdomain.Quote, error) {
	if req.Tokens.Input < 0 || req.Tokens.Output < 0 || req.Tokens.Total < 0 {
		return pricingdomain.Quote{}, pricingdomain.ErrInvalidTokens
	}
	unit := req.Unit
	if unit == "" {
		unit = pricingdomain.UnitToken
	}
	at := req.At
	if at.IsZero() {
		at = s.clock.Now()
	}

	assignment, err := s.planSvc.EffectiveAssignment(ctx, req.Account, at)
	if err != nil {
		if errors.Is(err, plandomain.ErrNoActiveAssignment) {
			return pricingdomain.Quote{}, nil
		}
		return pricingdomain.Quote{}, err
	}
	plan, err := s.planFor(ctx, assignment.PlanID)
	if err != nil {
		return pricingdomain.Quote{}, err
	}

	quote := pricingdomain.Quote{PlanID: plan.ID, Currency: plan.Currency}
	rule, ok, err := s.Resolve(ctx, plan.ID, req.Model, unit)
	if err != nil {
		return pricingdomain.Quote{}, err
	}
	if !ok {
		s.log.Debug("pricing.unpriced",
			zap.String("account", req.Account.Key()),
			zap.String("model", req.Model),
			zap.String("plan_id", plan.ID.String()),
		)
		return quote, nil
	}
	quote.Rule = rule
	quote.Priced = true
	quote.AmountCents = pricingdomain.Cost(*rule, req.Tokens)
	return quote, nil
}

func (s *Service) rulesFor(ctx context.Context, planID snowflake.ID, unit pricingdomain.Unit) ([]pricingdomain.PriceRule, error) {
	if s.cache != nil {
		if rules, ok := s.cache.GetRules(planID.String(), string(unit)); ok {
			return rules, nil
		}
	}
	rules, err := s.repo.ListByPlanUnit(ctx, s.db, planID, unit)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetRules(planID.String(), string(unit), rules)
	}
	return rules, nil
}

func (s *Service) planFor(ctx context.Context, planID snowflake.ID) (*plandomain.Plan, error) {
	if s.cache != nil {
		if plan, ok := s.cache.GetPlan(planID.String()); ok {
			return &plan, nil
		}
	}
	detail, err := s.planSvc.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetPlan(planID.String(), detail.Plan)
	}
	return &detail.Plan, nil
}

func nullMultiplier(m *decimal.Decimal) (decimal.NullDecimal, error) {
	if m == nil {
		return decimal.NullDecimal{}, nil
	}
	if m.IsNegative() {
		return decimal.NullDecimal{}, pricingdomain.ErrInvalidMultiplier
	}
	return decimal.NewNullDecimal(*m), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
