package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterguard/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertOrder(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) FindOrderByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Order, error) {
	return takeOrder(db.WithContext(ctx).Where("order_id = ?", orderID))
}

func (r *repo) FindOrderByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return takeOrder(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) UpdateOrderStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		status, at, id,
	).Error
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

// FindEffectivePayment returns the latest payment for the order at provider.
func (r *repo) FindEffectivePayment(ctx context.Context, db *gorm.DB, orderRef snowflake.ID, provider string) (*domain.Payment, error) {
	return takePayment(db.WithContext(ctx).
		Where("order_ref = ? AND provider = ?", orderRef, provider).
		Order("created_at DESC").
		Order("id DESC"))
}

func (r *repo) FindPaymentByTxnID(ctx context.Context, db *gorm.DB, provider, providerTxnID string) (*domain.Payment, error) {
	return takePayment(db.WithContext(ctx).Where("provider = ? AND provider_txn_id = ?", provider, providerTxnID))
}

func (r *repo) LockPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return takePayment(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) UpdatePayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Model(&domain.Payment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]any{
			"status":          payment.Status,
			"provider_txn_id": payment.ProviderTxnID,
			"updated_at":      payment.UpdatedAt,
		}).Error
}

func (r *repo) InsertRefund(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Create(refund).Error
}

func takeOrder(q *gorm.DB) (*domain.Order, error) {
	var order domain.Order
	err := q.Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func takePayment(q *gorm.DB) (*domain.Payment, error) {
	var payment domain.Payment
	err := q.Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
