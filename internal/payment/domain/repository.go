package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertOrder(ctx context.Context, db *gorm.DB, order *Order) error
	FindOrderByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Order, error)
	FindOrderByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	UpdateOrderStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, at time.Time) error

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindEffectivePayment(ctx context.Context, db *gorm.DB, orderRef snowflake.ID, provider string) (*Payment, error)
	FindPaymentByTxnID(ctx context.Context, db *gorm.DB, provider, providerTxnID string) (*Payment, error)
	LockPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	UpdatePayment(ctx context.Context, db *gorm.DB, payment *Payment) error

	InsertRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
}
