package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusPaused   Status = "paused"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCanceled, StatusPaused:
		return true
	default:
		return false
	}
}

// Customer is the billing identity of an account.
type Customer struct {
	ID               snowflake.ID             `gorm:"primaryKey" json:"id"`
	EntityType       accountdomain.EntityType `gorm:"type:varchar(16);not null;uniqueIndex:ux_customers_owner,priority:1" json:"entity_type"`
	EntityID         snowflake.ID             `gorm:"not null;uniqueIndex:ux_customers_owner,priority:2" json:"entity_id"`
	Name             *string                  `gorm:"type:varchar(200)" json:"name,omitempty"`
	Email            *string                  `gorm:"type:varchar(320)" json:"email,omitempty"`
	StripeCustomerID *string                  `gorm:"type:varchar(128);uniqueIndex:ux_customers_stripe" json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time                `gorm:"not null" json:"created_at"`
}

func (Customer) TableName() string { return "customers" }

func (c Customer) Account() accountdomain.Account {
	return accountdomain.Account{EntityType: c.EntityType, EntityID: c.EntityID}
}

type Subscription struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID           snowflake.ID `gorm:"not null;index" json:"customer_id"`
	PlanID               snowflake.ID `gorm:"not null;index" json:"plan_id"`
	Status               Status       `gorm:"type:varchar(16);not null" json:"status"`
	StripeSubscriptionID *string      `gorm:"type:varchar(128);uniqueIndex:ux_subscriptions_stripe" json:"stripe_subscription_id,omitempty"`
	CreatedAt            time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time    `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// PriceMapping binds a plan to the Stripe price billed for it in one currency.
type PriceMapping struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	PlanID        snowflake.ID `gorm:"not null;index:ix_stripe_price_mappings_plan" json:"plan_id"`
	StripePriceID string       `gorm:"type:varchar(128);not null" json:"stripe_price_id"`
	Currency      string       `gorm:"type:varchar(8);not null" json:"currency"`
	Active        bool         `gorm:"not null" json:"active"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
}

func (PriceMapping) TableName() string { return "stripe_price_mappings" }
