package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertCustomer(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Create(customer).Error
}

func (r *repo) FindCustomerByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	return takeCustomer(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindCustomerByAccount(ctx context.Context, db *gorm.DB, account accountdomain.Account) (*domain.Customer, error) {
	return takeCustomer(db.WithContext(ctx).Where("entity_type = ? AND entity_id = ?", account.EntityType, account.EntityID))
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	return takeSubscription(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindSubscriptionByStripeID(ctx context.Context, db *gorm.DB, stripeID string) (*domain.Subscription, error) {
	return takeSubscription(db.WithContext(ctx).Where("stripe_subscription_id = ?", stripeID))
}

func (r *repo) ListSubscriptions(ctx context.Context, db *gorm.DB, req domain.ListSubscriptionsRequest) ([]domain.Subscription, error) {
	q := db.WithContext(ctx).Model(&domain.Subscription{})
	if req.CustomerID != nil {
		q = q.Where("customer_id = ?", *req.CustomerID)
	}
	if req.PlanID != nil {
		q = q.Where("plan_id = ?", *req.PlanID)
	}
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	var items []domain.Subscription
	err := q.Order("id DESC").Offset(req.Offset).Limit(req.Limit).Find(&items).Error
	return items, err
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ?`,
		status, at, id,
	).Error
}

func (r *repo) SetStripeCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, stripeID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers SET stripe_customer_id = ? WHERE id = ?`,
		stripeID, id,
	).Error
}

func (r *repo) FindActiveSubscription(ctx context.Context, db *gorm.DB, customerID, planID snowflake.ID) (*domain.Subscription, error) {
	return takeSubscription(db.WithContext(ctx).
		Where("customer_id = ? AND plan_id = ? AND status = ?", customerID, planID, domain.StatusActive).
		Order("id DESC"))
}

func (r *repo) SetStripeSubscriptionID(ctx context.Context, db *gorm.DB, id snowflake.ID, stripeID string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET stripe_subscription_id = ?, updated_at = ? WHERE id = ?`,
		stripeID, at, id,
	).Error
}

func (r *repo) InsertPriceMapping(ctx context.Context, db *gorm.DB, mapping *domain.PriceMapping) error {
	return db.WithContext(ctx).Create(mapping).Error
}

func (r *repo) FindPriceMapping(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PriceMapping, error) {
	return takePriceMapping(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) SavePriceMapping(ctx context.Context, db *gorm.DB, mapping *domain.PriceMapping) error {
	return db.WithContext(ctx).Save(mapping).Error
}

func (r *repo) DeletePriceMapping(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Delete(&domain.PriceMapping{}, "id = ?", id).Error
}

func (r *repo) ListPriceMappings(ctx context.Context, db *gorm.DB, planID *snowflake.ID) ([]domain.PriceMapping, error) {
	q := db.WithContext(ctx).Model(&domain.PriceMapping{})
	if planID != nil {
		q = q.Where("plan_id = ?", *planID)
	}
	var items []domain.PriceMapping
	err := q.Order("id DESC").Find(&items).Error
	return items, err
}

func (r *repo) FindActivePriceMapping(ctx context.Context, db *gorm.DB, planID snowflake.ID, currency string) (*domain.PriceMapping, error) {
	q := db.WithContext(ctx).Where("plan_id = ? AND active = ?", planID, true)
	if currency != "" {
		q = q.Where("currency = ?", currency)
	}
	return takePriceMapping(q.Order("id DESC"))
}

func takePriceMapping(q *gorm.DB) (*domain.PriceMapping, error) {
	var mapping domain.PriceMapping
	err := q.Take(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

func takeCustomer(q *gorm.DB) (*domain.Customer, error) {
	var customer domain.Customer
	err := q.Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func takeSubscription(q *gorm.DB) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := q.Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
