package cache

import (
	"strings"
	"time"

	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	pricingdomain "github.com/smallbiznis/meterguard/internal/pricing/domain"
)

const (
	defaultPlanTTL = 5 * time.Minute
	defaultRuleTTL = 60 * time.Second
)

// PricingResolverCache stores hot-path lookups for quoting usage.
type PricingResolverCache interface {
	GetPlan(planID string) (plandomain.Plan, bool)
	SetPlan(planID string, plan plandomain.Plan)
	GetRules(planID, unit string) ([]pricingdomain.PriceRule, bool)
	SetRules(planID, unit string, rules []pricingdomain.PriceRule)
	InvalidatePlan(planID string)
}

type pricingResolverCache struct {
	plans   *TTLCache[string, plandomain.Plan]
	rules   *TTLCache[string, []pricingdomain.PriceRule]
	planTTL time.Duration
	ruleTTL time.Duration
}

// NewPricingResolverCache returns an in-memory cache. A non-positive
// ruleTTL keeps the default.
func NewPricingResolverCache(ruleTTL time.Duration) PricingResolverCache {
	if ruleTTL <= 0 {
		ruleTTL = defaultRuleTTL
	}
	return &pricingResolverCache{
		plans:   NewTTLCache[string, plandomain.Plan](),
		rules:   NewTTLCache[string, []pricingdomain.PriceRule](),
		planTTL: defaultPlanTTL,
		ruleTTL: ruleTTL,
	}
}

func (c *pricingResolverCache) GetPlan(planID string) (plandomain.Plan, bool) {
	return c.plans.Get(planID)
}

func (c *pricingResolverCache) SetPlan(planID string, plan plandomain.Plan) {
	if plan.ID == 0 {
		return
	}
	c.plans.Set(planID, plan, c.planTTL)
}

func (c *pricingResolverCache) GetRules(planID, unit string) ([]pricingdomain.PriceRule, bool) {
	return c.rules.Get(cacheKey(planID, unit))
}

func (c *pricingResolverCache) SetRules(planID, unit string, rules []pricingdomain.PriceRule) {
	c.rules.Set(cacheKey(planID, unit), append([]pricingdomain.PriceRule(nil), rules...), c.ruleTTL)
}

func (c *pricingResolverCache) InvalidatePlan(planID string) {
	c.plans.Delete(planID)
	for _, unit := range []pricingdomain.Unit{
		pricingdomain.UnitToken,
		pricingdomain.UnitRequest,
		pricingdomain.UnitMinute,
		pricingdomain.UnitImage,
	} {
		c.rules.Delete(cacheKey(planID, string(unit)))
	}
}

func cacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}
