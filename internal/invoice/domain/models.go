package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusFinalized, StatusPaid, StatusFailed:
		return true
	default:
		return false
	}
}

// Invoice aggregates priced usage of one account over [PeriodStart, PeriodEnd).
type Invoice struct {
	ID               snowflake.ID             `gorm:"primaryKey" json:"id"`
	CustomerID       *snowflake.ID            `gorm:"index" json:"customer_id,omitempty"`
	EntityType       accountdomain.EntityType `gorm:"type:varchar(16);not null;index:ix_invoices_owner,priority:1" json:"entity_type"`
	EntityID         snowflake.ID             `gorm:"not null;index:ix_invoices_owner,priority:2" json:"entity_id"`
	PeriodStart      time.Time                `gorm:"not null" json:"period_start"`
	PeriodEnd        time.Time                `gorm:"not null" json:"period_end"`
	Currency         string                   `gorm:"type:varchar(3);not null" json:"currency"`
	TotalAmountCents int64                    `gorm:"not null" json:"total_amount_cents"`
	Status           Status                   `gorm:"type:varchar(16);not null" json:"status"`
	StripeInvoiceID  *string                  `gorm:"type:varchar(128);uniqueIndex:ux_invoices_stripe" json:"stripe_invoice_id,omitempty"`
	CreatedAt        time.Time                `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time                `gorm:"not null" json:"updated_at"`

	Items []InvoiceItem `gorm:"-" json:"items,omitempty"`
}

func (Invoice) TableName() string { return "invoices" }

func (i Invoice) Account() accountdomain.Account {
	return accountdomain.Account{EntityType: i.EntityType, EntityID: i.EntityID}
}

type InvoiceItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	Description string       `gorm:"type:varchar(255);not null" json:"description"`
	Quantity    int64        `gorm:"not null;default:1" json:"quantity"`
	AmountCents int64        `gorm:"not null" json:"amount_cents"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (InvoiceItem) TableName() string { return "invoice_items" }
