package domain

import (
	"sort"
	"strings"
)

// MatchPattern reports whether model matches pattern. "foo*" is a prefix
// match, "*foo" a suffix match, "*" matches everything and anything else must
// be equal.
func MatchPattern(pattern, model string) bool {
	pattern = strings.TrimSpace(pattern)
	switch {
	case pattern == "":
		return false
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*"):
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*"):
		return strings.HasSuffix(model, strings.TrimPrefix(pattern, "*"))
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(model, strings.Trim(pattern, "*"))
	default:
		return pattern == model
	}
}

// IsWildcard reports whether pattern contains a wildcard.
func IsWildcard(pattern string) bool {
	return strings.Contains(pattern, "*")
}

// SortRules orders rules by priority ascending then id ascending.
func SortRules(rules []PriceRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// SelectRule picks the rule for model from candidates: an exact pattern wins,
// otherwise the first matching wildcard in rule order.
func SelectRule(candidates []PriceRule, model string) (*PriceRule, bool) {
	rules := append([]PriceRule(nil), candidates...)
	SortRules(rules)
	for i := range rules {
		if !IsWildcard(rules[i].ModelPattern) && strings.TrimSpace(rules[i].ModelPattern) == model {
			return &rules[i], true
		}
	}
	for i := range rules {
		if IsWildcard(rules[i].ModelPattern) && MatchPattern(rules[i].ModelPattern, model) {
			return &rules[i], true
		}
	}
	return nil, false
}
