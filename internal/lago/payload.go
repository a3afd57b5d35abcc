package lago

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
)

type Subject struct {
	UserID *string `json:"user_id"`
	TeamID *string `json:"team_id"`
}

// SubjectOf maps an account and optional team to the event subject.
func SubjectOf(account accountdomain.Account, teamID *snowflake.ID) Subject {
	var subject Subject
	id := account.EntityID.String()
	switch account.EntityType {
	case accountdomain.EntityTypeTeam:
		subject.TeamID = &id
	default:
		subject.UserID = &id
	}
	if teamID != nil && subject.TeamID == nil {
		team := teamID.String()
		subject.TeamID = &team
	}
	return subject
}

type Tokens struct {
	Total  int64 `json:"total"`
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

type Pricing struct {
	PriceRuleID         *string  `json:"price_rule_id"`
	UnitBasePriceCents  *int64   `json:"unit_base_price_cents"`
	PriceMultiplier     *float64 `json:"price_multiplier"`
	ComputedAmountCents int64    `json:"computed_amount_cents"`
	Currency            string   `json:"currency"`
}

type UsagePayload struct {
	UsageID   string         `json:"usage_id"`
	Subject   Subject        `json:"subject"`
	Model     string         `json:"model"`
	Unit      string         `json:"unit"`
	Tokens    Tokens         `json:"tokens"`
	Pricing   Pricing        `json:"pricing"`
	Timestamp string         `json:"timestamp"`
	RequestID *string        `json:"request_id"`
	Success   bool           `json:"success"`
	Meta      map[string]any `json:"meta"`
}

type PaymentPayload struct {
	EventType     string         `json:"event_type"`
	Provider      string         `json:"provider"`
	ProviderTxnID string         `json:"provider_txn_id"`
	OrderID       string         `json:"order_id"`
	AmountCents   int64          `json:"amount_cents"`
	Currency      string         `json:"currency"`
	Status        string         `json:"status"`
	RequestID     *string        `json:"request_id"`
	Subject       Subject        `json:"subject"`
	Meta          map[string]any `json:"meta"`
}

type CreditPayload struct {
	Subject     Subject `json:"subject"`
	Currency    string  `json:"currency"`
	AmountCents int64   `json:"amount_cents"`
	OrderID     string  `json:"order_id"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func idString(id *snowflake.ID) *string {
	if id == nil {
		return nil
	}
	v := id.String()
	return &v
}

func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nonNilMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
