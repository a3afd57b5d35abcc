package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	obslogger "github.com/smallbiznis/meterguard/internal/observability/logger"
	"github.com/smallbiznis/meterguard/internal/payment/adapters/stripe"
	subscriptiondomain "github.com/smallbiznis/meterguard/internal/subscription/domain"
	"go.uber.org/zap"
)

func (s *Service) EnsureStripeCustomer(ctx context.Context, customerID snowflake.ID) (string, error) {
	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}
	if customer.StripeCustomerID != nil && *customer.StripeCustomerID != "" {
		return *customer.StripeCustomerID, nil
	}
	if !s.billing.Configured() {
		return "", subscriptiondomain.ErrStripeNotConfigured
	}

	params := stripe.CustomerParams{
		Description:    fmt.Sprintf("Customer %s:%s", customer.EntityType, customer.EntityID),
		IdempotencyKey: "cus_" + customer.ID.String(),
	}
	if customer.Name != nil {
		params.Name = *customer.Name
	}
	if customer.Email != nil {
		params.Email = *customer.Email
	}
	stripeID, err := s.billing.CreateCustomer(ctx, params)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetStripeCustomerID(ctx, s.db, customer.ID, stripeID); err != nil {
		return "", err
	}
	obslogger.WithContext(ctx, s.log).Info("subscription.stripe_customer_created",
		zap.String("customer_id", customer.ID.String()),
		zap.String("stripe_customer_id", stripeID),
	)
	return stripeID, nil
}

func (s *Service) EnsureStripeSubscription(ctx context.Context, req subscriptiondomain.EnsureStripeSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	if req.CustomerID == 0 {
		return nil, subscriptiondomain.ErrInvalidCustomer
	}
	if req.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	existing, err := s.repo.FindActiveSubscription(ctx, s.db, req.CustomerID, req.PlanID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.StripeSubscriptionID != nil {
		return existing, nil
	}
	if !s.billing.Configured() {
		return nil, subscriptiondomain.ErrStripeNotConfigured
	}

	priceID := strings.TrimSpace(req.StripePriceID)
	if priceID == "" {
		detail, err := s.planSvc.GetPlan(ctx, req.PlanID)
		if err != nil {
			return nil, subscriptiondomain.ErrInvalidPlan
		}
		if priceID, err = s.ActivePriceFor(ctx, req.PlanID, detail.Plan.Currency); err != nil {
			return nil, err
		}
		if priceID == "" {
			return nil, subscriptiondomain.ErrNoPriceMapping
		}
	}

	stripeCustomerID, err := s.EnsureStripeCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	stripeSubID, err := s.billing.CreateSubscription(ctx, stripe.SubscriptionParams{
		CustomerID:     stripeCustomerID,
		PriceID:        priceID,
		IdempotencyKey: fmt.Sprintf("sub_%s_%s", req.CustomerID, req.PlanID),
	})
	if err != nil {
		return nil, err
	}

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("customer_id", req.CustomerID.String()),
		zap.String("plan_id", req.PlanID.String()),
		zap.String("stripe_subscription_id", stripeSubID),
	)
	if existing != nil {
		now := s.clock.Now()
		if err := s.repo.SetStripeSubscriptionID(ctx, s.db, existing.ID, stripeSubID, now); err != nil {
			return nil, err
		}
		existing.StripeSubscriptionID = &stripeSubID
		existing.UpdatedAt = now
		log.Info("subscription.stripe_linked")
		return existing, nil
	}
	sub, err := s.CreateSubscription(ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID:           req.CustomerID,
		PlanID:               req.PlanID,
		StripeSubscriptionID: stripeSubID,
	})
	if err != nil {
		return nil, err
	}
	log.Info("subscription.stripe_created")
	return sub, nil
}

func (s *Service) CreatePriceMapping(ctx context.Context, req subscriptiondomain.CreatePriceMappingRequest) (*subscriptiondomain.PriceMapping, error) {
	if req.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	priceID := strings.TrimSpace(req.StripePriceID)
	if priceID == "" {
		return nil, subscriptiondomain.ErrInvalidPriceID
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if _, err := s.planSvc.GetPlan(ctx, req.PlanID); err != nil {
		return nil, subscriptiondomain.ErrInvalidPlan
	}

	now := s.clock.Now()
	mapping := &subscriptiondomain.PriceMapping{
		ID:            s.genID.Generate(),
		PlanID:        req.PlanID,
		StripePriceID: priceID,
		Currency:      currency,
		Active:        req.Active == nil || *req.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.InsertPriceMapping(ctx, s.db, mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

func (s *Service) UpdatePriceMapping(ctx context.Context, req subscriptiondomain.UpdatePriceMappingRequest) (*subscriptiondomain.PriceMapping, error) {
	mapping, err := s.repo.FindPriceMapping(ctx, s.db, req.ID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, subscriptiondomain.ErrPriceMappingNotFound
	}
	if req.StripePriceID != nil {
		priceID := strings.TrimSpace(*req.StripePriceID)
		if priceID == "" {
			return nil, subscriptiondomain.ErrInvalidPriceID
		}
		mapping.StripePriceID = priceID
	}
	if req.Currency != nil {
		if mapping.Currency, err = normalizeCurrency(*req.Currency); err != nil {
			return nil, err
		}
	}
	if req.Active != nil {
		mapping.Active = *req.Active
	}
	mapping.UpdatedAt = s.clock.Now()
	if err := s.repo.SavePriceMapping(ctx, s.db, mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

// DeletePriceMapping is a no-op for an unknown id.
func (s *Service) DeletePriceMapping(ctx context.Context, id snowflake.ID) error {
	return s.repo.DeletePriceMapping(ctx, s.db, id)
}

func (s *Service) ListPriceMappings(ctx context.Context, planID *snowflake.ID) ([]subscriptiondomain.PriceMapping, error) {
	return s.repo.ListPriceMappings(ctx, s.db, planID)
}

func (s *Service) ActivePriceFor(ctx context.Context, planID snowflake.ID, currency string) (string, error) {
	mapping, err := s.repo.FindActivePriceMapping(ctx, s.db, planID, strings.ToUpper(strings.TrimSpace(currency)))
	if err != nil || mapping == nil {
		return "", err
	}
	return mapping.StripePriceID, nil
}

func normalizeCurrency(raw string) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return "", subscriptiondomain.ErrInvalidCurrency
	}
	return currency, nil
}
