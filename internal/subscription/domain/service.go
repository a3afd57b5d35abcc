package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	intakedomain "github.com/smallbiznis/meterguard/internal/intake/domain"
	"github.com/smallbiznis/meterguard/pkg/errs"
)

var (
	ErrInvalidCustomer      = errs.New(errs.KindValidation, "invalid_customer")
	ErrInvalidPlan          = errs.New(errs.KindValidation, "invalid_plan")
	ErrInvalidStatus        = errs.New(errs.KindValidation, "invalid_status")
	ErrNotSubscriptionEvent = errs.New(errs.KindValidation, "not_a_subscription_event")
	ErrCustomerNotFound     = errs.New(errs.KindNotFound, "customer_not_found")
	ErrSubscriptionNotFound = errs.New(errs.KindNotFound, "subscription_not_found")
	ErrInvalidPriceID       = errs.New(errs.KindValidation, "invalid_stripe_price_id")
	ErrInvalidCurrency      = errs.New(errs.KindValidation, "invalid_currency")
	ErrNoPriceMapping       = errs.New(errs.KindValidation, "no_stripe_price_mapping")
	ErrPriceMappingNotFound = errs.New(errs.KindNotFound, "price_mapping_not_found")
	ErrStripeNotConfigured  = errs.New(errs.KindConfiguration, "stripe_not_configured")
)

type CreateCustomerRequest struct {
	Account          accountdomain.Account
	Name             string
	Email            string
	StripeCustomerID string
}

type CreateSubscriptionRequest struct {
	CustomerID           snowflake.ID
	PlanID               snowflake.ID
	StripeSubscriptionID string
}

// EnsureStripeSubscriptionRequest resolves the price from the plan's active
// mapping when StripePriceID is blank.
type EnsureStripeSubscriptionRequest struct {
	CustomerID    snowflake.ID
	PlanID        snowflake.ID
	StripePriceID string
}

type CreatePriceMappingRequest struct {
	PlanID        snowflake.ID
	StripePriceID string
	Currency      string
	Active        *bool
}

// UpdatePriceMappingRequest changes only the non-nil fields.
type UpdatePriceMappingRequest struct {
	ID            snowflake.ID
	StripePriceID *string
	Currency      *string
	Active        *bool
}

type ListSubscriptionsRequest struct {
	CustomerID *snowflake.ID
	PlanID     *snowflake.ID
	Status     Status
	Limit      int
	Offset     int
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error)
	GetCustomer(ctx context.Context, id snowflake.ID) (*Customer, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	GetSubscription(ctx context.Context, id snowflake.ID) (*Subscription, error)
	ListSubscriptions(ctx context.Context, req ListSubscriptionsRequest) ([]Subscription, error)
	UpdateStatus(ctx context.Context, id snowflake.ID, status Status) (*Subscription, error)
	HandleStripeWebhook(ctx context.Context, headers http.Header, body []byte) (intakedomain.Result, error)

	// EnsureStripeCustomer returns the customer's Stripe id, creating the
	// Stripe customer on first use.
	EnsureStripeCustomer(ctx context.Context, customerID snowflake.ID) (string, error)
	// EnsureStripeSubscription reuses the active local subscription for the
	// customer and plan when it already carries a Stripe id.
	EnsureStripeSubscription(ctx context.Context, req EnsureStripeSubscriptionRequest) (*Subscription, error)

	CreatePriceMapping(ctx context.Context, req CreatePriceMappingRequest) (*PriceMapping, error)
	UpdatePriceMapping(ctx context.Context, req UpdatePriceMappingRequest) (*PriceMapping, error)
	DeletePriceMapping(ctx context.Context, id snowflake.ID) error
	ListPriceMappings(ctx context.Context, planID *snowflake.ID) ([]PriceMapping, error)
	// ActivePriceFor returns the newest active mapping's price id, or "" when
	// none matches. A blank currency matches any.
	ActivePriceFor(ctx context.Context, planID snowflake.ID, currency string) (string, error)
}
