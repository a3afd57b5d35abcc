package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"gorm.io/datatypes"
)

// Status is shared by orders and payments.
type Status string

const (
	StatusCreated    Status = "created"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefunded         = "refunded"
	EventTypeRequiresAction   = "requires_action"
)

// Order is a top-up requested by an account. OrderID is the caller's key.
type Order struct {
	ID          snowflake.ID             `gorm:"primaryKey" json:"id"`
	OrderID     string                   `gorm:"type:varchar(64);not null;uniqueIndex:ux_orders_order_id" json:"order_id"`
	EntityType  accountdomain.EntityType `gorm:"type:varchar(16);not null" json:"entity_type"`
	EntityID    snowflake.ID             `gorm:"not null;index" json:"entity_id"`
	AmountCents int64                    `gorm:"not null" json:"amount_cents"`
	Currency    string                   `gorm:"type:varchar(8);not null" json:"currency"`
	Provider    string                   `gorm:"type:varchar(32);not null" json:"provider"`
	Status      Status                   `gorm:"type:varchar(32);not null" json:"status"`
	CreatedAt   time.Time                `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time                `gorm:"not null" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

func (o Order) Account() accountdomain.Account {
	return accountdomain.Account{EntityType: o.EntityType, EntityID: o.EntityID}
}

// Payment is one provider attempt at settling an order. An order may have
// several; the latest by created_at is the effective one.
type Payment struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrderRef      snowflake.ID   `gorm:"not null;index:ix_payments_order_created,priority:1" json:"order_ref"`
	Provider      string         `gorm:"type:varchar(32);not null" json:"provider"`
	ProviderTxnID *string        `gorm:"type:varchar(128);uniqueIndex:ux_payments_provider_txn" json:"provider_txn_id,omitempty"`
	AmountCents   int64          `gorm:"not null" json:"amount_cents"`
	Currency      string         `gorm:"type:varchar(8);not null" json:"currency"`
	Status        Status         `gorm:"type:varchar(32);not null" json:"status"`
	Raw           datatypes.JSON `json:"raw,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;index:ix_payments_order_created,priority:2" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

type Refund struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	PaymentID        snowflake.ID `gorm:"not null;index" json:"payment_id"`
	ProviderRefundID *string      `gorm:"type:varchar(128);uniqueIndex:ux_refunds_provider_refund" json:"provider_refund_id,omitempty"`
	AmountCents      int64        `gorm:"not null" json:"amount_cents"`
	Status           Status       `gorm:"type:varchar(32);not null" json:"status"`
	Reason           string       `gorm:"type:varchar(191)" json:"reason,omitempty"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
}

func (Refund) TableName() string { return "refunds" }
