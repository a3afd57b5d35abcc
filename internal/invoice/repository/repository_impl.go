package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterguard/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice, items []domain.InvoiceItem) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return take(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByStripeID(ctx context.Context, db *gorm.DB, stripeInvoiceID string) (*domain.Invoice, error) {
	return take(db.WithContext(ctx).Where("stripe_invoice_id = ?", stripeInvoiceID))
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoiceItem, error) {
	var items []domain.InvoiceItem
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListRequest) ([]domain.Invoice, error) {
	q := db.WithContext(ctx).Model(&domain.Invoice{})
	if req.Account != nil {
		q = q.Where("entity_type = ? AND entity_id = ?", req.Account.EntityType, req.Account.EntityID)
	}
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if req.BeforeID != nil {
		q = q.Where("id < ?", *req.BeforeID)
	}
	var items []domain.Invoice
	err := q.Order("id DESC").Offset(req.Offset).Limit(req.Limit).Find(&items).Error
	return items, err
}

func (r *repo) Sequence(ctx context.Context, db *gorm.DB, invoice domain.Invoice) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("entity_type = ? AND entity_id = ? AND id <= ?", invoice.EntityType, invoice.EntityID, invoice.ID).
		Count(&count).Error
	return count, err
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, updated_at = ? WHERE id = ?`,
		status, at, id,
	).Error
}

func (r *repo) LinkStripe(ctx context.Context, db *gorm.DB, id snowflake.ID, stripeInvoiceID string, status domain.Status, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET stripe_invoice_id = ?, status = ?, updated_at = ? WHERE id = ?`,
		stripeInvoiceID, status, at, id,
	).Error
}

func take(q *gorm.DB) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := q.Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}
