package domain

import "github.com/shopspring/decimal"

var (
	one      = decimal.NewFromInt(1)
	thousand = decimal.NewFromInt(1000)
)

func multiplierOrOne(m decimal.NullDecimal) decimal.Decimal {
	if m.Valid {
		return m.Decimal
	}
	return one
}

// Cost prices tokens under rule in whole cents. Split input/output
// multipliers apply when either is set; a missing side counts as 1.0.
// Otherwise the total is scaled by the price multiplier. The result is
// clamped up to the minimum charge and rounded half away from zero.
func Cost(rule PriceRule, tokens Tokens) int64 {
	tokens = tokens.Normalized()
	base := decimal.NewFromInt(rule.UnitBasePriceCents)

	var cost decimal.Decimal
	if rule.InputMultiplier.Valid || rule.OutputMultiplier.Valid {
		in := decimal.NewFromInt(tokens.Input).Div(thousand).Mul(multiplierOrOne(rule.InputMultiplier))
		out := decimal.NewFromInt(tokens.Output).Div(thousand).Mul(multiplierOrOne(rule.OutputMultiplier))
		cost = base.Mul(in.Add(out))
	} else {
		cost = base.Mul(decimal.NewFromInt(tokens.Total).Div(thousand)).Mul(multiplierOrOne(rule.PriceMultiplier))
	}

	if minCharge := decimal.NewFromInt(rule.MinChargeCents); cost.LessThan(minCharge) {
		cost = minCharge
	}
	return cost.Round(0).IntPart()
}
