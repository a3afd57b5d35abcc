package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"gorm.io/gorm"
)

type Repository interface {
	InsertCustomer(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindCustomerByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	FindCustomerByAccount(ctx context.Context, db *gorm.DB, account accountdomain.Account) (*Customer, error)

	InsertSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindSubscriptionByStripeID(ctx context.Context, db *gorm.DB, stripeID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, db *gorm.DB, req ListSubscriptionsRequest) ([]Subscription, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, at time.Time) error

	SetStripeCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, stripeID string) error
	FindActiveSubscription(ctx context.Context, db *gorm.DB, customerID, planID snowflake.ID) (*Subscription, error)
	SetStripeSubscriptionID(ctx context.Context, db *gorm.DB, id snowflake.ID, stripeID string, at time.Time) error

	InsertPriceMapping(ctx context.Context, db *gorm.DB, mapping *PriceMapping) error
	FindPriceMapping(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PriceMapping, error)
	SavePriceMapping(ctx context.Context, db *gorm.DB, mapping *PriceMapping) error
	DeletePriceMapping(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	ListPriceMappings(ctx context.Context, db *gorm.DB, planID *snowflake.ID) ([]PriceMapping, error)
	FindActivePriceMapping(ctx context.Context, db *gorm.DB, planID snowflake.ID, currency string) (*PriceMapping, error)
}
