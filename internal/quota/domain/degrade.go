package domain

import (
	"strings"

	pricingdomain "github.com/smallbiznis/meterguard/internal/pricing/domain"
)

type degradeRule struct {
	pattern  string
	fallback string
}

// DegradeMapper maps a requested model to its cheaper fallback.
type DegradeMapper struct {
	rules        []degradeRule
	defaultModel string
}

// ParseDegradeMapping reads "pattern->fallback,pattern2->fallback2". Malformed
// pairs are skipped.
func ParseDegradeMapping(raw, defaultModel string) DegradeMapper {
	m := DegradeMapper{defaultModel: strings.TrimSpace(defaultModel)}
	for _, pair := range strings.Split(raw, ",") {
		pattern, fallback, ok := strings.Cut(pair, "->")
		if !ok {
			continue
		}
		pattern, fallback = strings.TrimSpace(pattern), strings.TrimSpace(fallback)
		if pattern == "" || fallback == "" {
			continue
		}
		m.rules = append(m.rules, degradeRule{pattern: pattern, fallback: fallback})
	}
	return m
}

// Map returns the first matching fallback in declaration order, or the
// default model.
func (m DegradeMapper) Map(model string) string {
	model = strings.TrimSpace(model)
	for _, r := range m.rules {
		if pricingdomain.MatchPattern(r.pattern, model) {
			return r.fallback
		}
	}
	return m.defaultModel
}

func (m DegradeMapper) Len() int { return len(m.rules) }
