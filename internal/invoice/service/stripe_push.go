package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/meterguard/internal/invoice/domain"
	"github.com/smallbiznis/meterguard/internal/invoice/format"
	obslogger "github.com/smallbiznis/meterguard/internal/observability/logger"
	"github.com/smallbiznis/meterguard/internal/payment/adapters/stripe"
	subscriptiondomain "github.com/smallbiznis/meterguard/internal/subscription/domain"
	"go.uber.org/zap"
)

func (s *Service) PushToStripe(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.StripeInvoiceID != nil && *invoice.StripeInvoiceID != "" {
		return invoice, nil
	}
	if invoice.Status != invoicedomain.StatusDraft {
		return nil, invoicedomain.ErrNotPushable
	}
	if invoice.CustomerID == nil {
		return nil, invoicedomain.ErrNoCustomer
	}
	if s.customers == nil || !s.billing.Configured() {
		return nil, subscriptiondomain.ErrStripeNotConfigured
	}

	stripeCustomerID, err := s.customers.EnsureStripeCustomer(ctx, *invoice.CustomerID)
	if err != nil {
		return nil, err
	}
	stripeInvoiceID, err := s.billing.PushInvoice(ctx, stripe.InvoiceParams{
		CustomerID:  stripeCustomerID,
		AmountCents: invoice.TotalAmountCents,
		Currency:    invoice.Currency,
		Description: "Invoice " + invoice.ID.String() + " " + format.Period(invoice.PeriodStart, invoice.PeriodEnd),
		Key:         invoice.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.repo.LinkStripe(ctx, s.db, invoice.ID, stripeInvoiceID, invoicedomain.StatusFinalized, now); err != nil {
		return nil, err
	}
	invoice.StripeInvoiceID = &stripeInvoiceID
	invoice.Status = invoicedomain.StatusFinalized
	invoice.UpdatedAt = now

	obslogger.WithContext(ctx, s.log).Info("invoice.pushed_to_stripe",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("stripe_invoice_id", stripeInvoiceID),
		zap.Int64("total_amount_cents", invoice.TotalAmountCents),
	)
	return invoice, nil
}
