package stripe

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/smallbiznis/meterguard/internal/config"
	"go.uber.org/zap"
)

// Billing manages Stripe Billing objects: customers, subscriptions and
// invoices. It needs only the secret key; webhooks are verified elsewhere.
type Billing struct {
	api *restClient
	log *zap.Logger
}

type CustomerParams struct {
	Description    string
	Name           string
	Email          string
	IdempotencyKey string
}

type SubscriptionParams struct {
	CustomerID     string
	PriceID        string
	IdempotencyKey string
}

type InvoiceParams struct {
	CustomerID  string
	AmountCents int64
	Currency    string
	Description string
	// Key namespaces the idempotency keys of the item and invoice calls.
	Key string
}

func NewBilling(cfg config.StripeConfig, client *http.Client, log *zap.Logger) *Billing {
	if log == nil {
		log = zap.NewNop()
	}
	return &Billing{api: newRESTClient(cfg, client), log: log.Named("stripe.billing")}
}

func ProvideBilling(cfg config.Config, log *zap.Logger) *Billing {
	return NewBilling(cfg.Stripe, nil, log)
}

func (b *Billing) Configured() bool {
	return b != nil && b.api.secretKey != ""
}

func (b *Billing) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	form := url.Values{}
	setIfPresent(form, "description", p.Description)
	setIfPresent(form, "name", p.Name)
	setIfPresent(form, "email", p.Email)

	var out billingObject
	if err := b.api.call(ctx, http.MethodPost, "/v1/customers", form, p.IdempotencyKey, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateSubscription leaves the first invoice incomplete until the customer
// confirms payment.
func (b *Billing) CreateSubscription(ctx context.Context, p SubscriptionParams) (string, error) {
	form := url.Values{}
	form.Set("customer", p.CustomerID)
	form.Set("items[0][price]", p.PriceID)
	form.Set("payment_behavior", "default_incomplete")
	form.Add("expand[]", "latest_invoice.payment_intent")

	var out billingObject
	if err := b.api.call(ctx, http.MethodPost, "/v1/subscriptions", form, p.IdempotencyKey, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// PushInvoice bills an exact amount: one invoice item, then an invoice that
// is finalized and, when auto-collection allows it, paid.
func (b *Billing) PushInvoice(ctx context.Context, p InvoiceParams) (string, error) {
	item := url.Values{}
	item.Set("customer", p.CustomerID)
	item.Set("amount", strconv.FormatInt(p.AmountCents, 10))
	item.Set("currency", strings.ToLower(p.Currency))
	setIfPresent(item, "description", p.Description)
	if err := b.api.call(ctx, http.MethodPost, "/v1/invoiceitems", item, "ii_"+p.Key, nil); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("customer", p.CustomerID)
	form.Set("pending_invoice_items_behavior", "include")
	var created billingObject
	if err := b.api.call(ctx, http.MethodPost, "/v1/invoices", form, "inv_"+p.Key, &created); err != nil {
		return "", err
	}

	path := "/v1/invoices/" + url.PathEscape(created.ID)
	if err := b.api.call(ctx, http.MethodPost, path+"/finalize", url.Values{}, "fin_"+p.Key, nil); err != nil {
		return "", err
	}
	// A finalized invoice stays collectible by Stripe when the pay attempt fails.
	if err := b.api.call(ctx, http.MethodPost, path+"/pay", url.Values{}, "pay_"+p.Key, nil); err != nil {
		b.log.Info("stripe.invoice_pay_deferred",
			zap.String("stripe_invoice_id", created.ID),
			zap.Error(err),
		)
	}
	return created.ID, nil
}

type billingObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func setIfPresent(form url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		form.Set(key, value)
	}
}
