package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice, items []InvoiceItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByStripeID(ctx context.Context, db *gorm.DB, stripeInvoiceID string) (*Invoice, error)
	ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceItem, error)
	List(ctx context.Context, db *gorm.DB, req ListRequest) ([]Invoice, error)
	// Sequence is the 1-based position of the invoice among its account's invoices.
	Sequence(ctx context.Context, db *gorm.DB, invoice Invoice) (int64, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, at time.Time) error
	LinkStripe(ctx context.Context, db *gorm.DB, id snowflake.ID, stripeInvoiceID string, status Status, at time.Time) error
}
