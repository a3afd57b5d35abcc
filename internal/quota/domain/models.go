package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	"github.com/smallbiznis/meterguard/internal/quota/window"
)

type Reason string

const (
	ReasonUnlimited     Reason = "unlimited"
	ReasonWithinLimit   Reason = "within_limit"
	ReasonLimitExceeded Reason = "limit_exceeded"
	ReasonGraceOverflow Reason = "grace_overflow"
	ReasonDegraded      Reason = "degraded"
	ReasonOverdraft     Reason = "overdraft"
	ReasonGatingOff     Reason = "gating_disabled"
)

// Decision is the pre-call admission answer.
type Decision struct {
	Allowed              bool                      `json:"allowed"`
	Policy               plandomain.OverflowPolicy `json:"policy,omitempty"`
	Reason               Reason                    `json:"reason"`
	LimitCents           int64                     `json:"limit_cents"`
	SpentCents           int64                     `json:"spent_cents"`
	RemainingBeforeCents int64                     `json:"remaining_before_cents"`
	Unlimited            bool                      `json:"unlimited"`
	FallbackModel        string                    `json:"fallback_model,omitempty"`
	Window               window.Window             `json:"window"`
}

// Settlement is the outcome of Settle. FinalCents is the resolver's price
// when a rule matched (Priced), else the caller's ReportedCents.
type Settlement struct {
	ChargedCents         int64                     `json:"charged_cents"`
	FinalCents           int64                     `json:"final_cents"`
	ReportedCents        int64                     `json:"reported_cents"`
	Priced               bool                      `json:"priced"`
	PriceRuleID          *snowflake.ID             `json:"price_rule_id,omitempty"`
	Capped               bool                      `json:"capped"`
	Blocked              bool                      `json:"blocked"`
	Unlimited            bool                      `json:"unlimited"`
	Policy               plandomain.OverflowPolicy `json:"policy,omitempty"`
	RemainingBeforeCents int64                     `json:"remaining_before_cents"`
	Usage                *ledgerdomain.UsageResult `json:"usage,omitempty"`
	AlertID              *snowflake.ID             `json:"alert_id,omitempty"`
}

type GateDecision struct {
	Allowed       bool   `json:"allowed"`
	Reason        Reason `json:"reason"`
	BalanceCents  int64  `json:"balance_cents"`
	FallbackModel string `json:"fallback_model,omitempty"`
}

// OverdraftAlert records a settlement that overflowed the daily limit.
type OverdraftAlert struct {
	ID                   snowflake.ID              `gorm:"primaryKey" json:"id"`
	EntityType           accountdomain.EntityType  `gorm:"type:varchar(16);not null;index:ix_overdraft_alerts_owner,priority:1" json:"entity_type"`
	EntityID             snowflake.ID              `gorm:"not null;index:ix_overdraft_alerts_owner,priority:2" json:"entity_id"`
	Model                string                    `gorm:"type:varchar(128);not null" json:"model"`
	RequestID            *string                   `gorm:"type:varchar(64)" json:"request_id,omitempty"`
	OverflowPolicy       plandomain.OverflowPolicy `gorm:"type:varchar(16);not null" json:"overflow_policy"`
	FinalAmountCents     int64                     `gorm:"not null" json:"final_amount_cents"`
	ChargedAmountCents   int64                     `gorm:"not null" json:"charged_amount_cents"`
	RemainingBeforeCents int64                     `gorm:"not null" json:"remaining_before_cents"`
	CreatedAt            time.Time                 `gorm:"not null;index" json:"created_at"`
}

func (OverdraftAlert) TableName() string { return "overdraft_alerts" }
