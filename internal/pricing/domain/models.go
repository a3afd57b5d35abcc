package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Unit string

const (
	UnitToken   Unit = "token"
	UnitRequest Unit = "request"
	UnitMinute  Unit = "minute"
	UnitImage   Unit = "image"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitToken, UnitRequest, UnitMinute, UnitImage:
		return true
	default:
		return false
	}
}

// PriceRule prices a model pattern for one unit within a plan.
type PriceRule struct {
	ID                 snowflake.ID        `gorm:"primaryKey" json:"id"`
	PlanID             snowflake.ID        `gorm:"not null;index:ix_price_rules_plan_unit,priority:1" json:"plan_id"`
	ModelPattern       string              `gorm:"type:varchar(191);not null" json:"model_pattern"`
	Unit               Unit                `gorm:"type:varchar(16);not null;index:ix_price_rules_plan_unit,priority:2" json:"unit"`
	UnitBasePriceCents int64               `gorm:"not null" json:"unit_base_price_cents"`
	InputMultiplier    decimal.NullDecimal `gorm:"type:decimal(12,6)" json:"input_multiplier"`
	OutputMultiplier   decimal.NullDecimal `gorm:"type:decimal(12,6)" json:"output_multiplier"`
	PriceMultiplier    decimal.NullDecimal `gorm:"type:decimal(12,6)" json:"price_multiplier"`
	MinChargeCents     int64               `gorm:"not null;default:0" json:"min_charge_cents"`
	Priority           int                 `gorm:"not null;default:0" json:"priority"`
	EffectiveFrom      *time.Time          `json:"effective_from,omitempty"`
	EffectiveTo        *time.Time          `json:"effective_to,omitempty"`
	CreatedAt          time.Time           `gorm:"not null" json:"created_at"`
}

func (PriceRule) TableName() string { return "price_rules" }

// EffectiveAt reports whether the rule's optional window covers t.
func (r PriceRule) EffectiveAt(t time.Time) bool {
	if r.EffectiveFrom != nil && r.EffectiveFrom.After(t) {
		return false
	}
	if r.EffectiveTo != nil && !r.EffectiveTo.After(t) {
		return false
	}
	return true
}

// Tokens carries the token counts of one call.
type Tokens struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// Normalized fills Total from Input+Output when it is unset.
func (t Tokens) Normalized() Tokens {
	if t.Total == 0 {
		t.Total = t.Input + t.Output
	}
	return t
}

// Quote is the priced cost of one call. Priced=false means no rule applied;
// a zero amount then means "unpriced", not "free".
type Quote struct {
	AmountCents int64        `json:"amount_cents"`
	Priced      bool         `json:"priced"`
	Rule        *PriceRule   `json:"rule,omitempty"`
	PlanID      snowflake.ID `json:"plan_id,omitempty"`
	Currency    string       `json:"currency"`
}
