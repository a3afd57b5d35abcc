package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/smallbiznis/meterguard/internal/config"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedCall struct {
	path           string
	form           map[string]string
	idempotencyKey string
}

type fakeBillingAPI struct {
	mu      sync.Mutex
	calls   []recordedCall
	payFail bool
}

func (f *fakeBillingAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{path: r.URL.Path, form: form, idempotencyKey: r.Header.Get("Idempotency-Key")})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/customers":
			_, _ = w.Write([]byte(`{"id":"cus_1"}`))
		case "/v1/subscriptions":
			_, _ = w.Write([]byte(`{"id":"sub_1","status":"incomplete"}`))
		case "/v1/invoiceitems":
			_, _ = w.Write([]byte(`{"id":"ii_1"}`))
		case "/v1/invoices":
			_, _ = w.Write([]byte(`{"id":"in_1","status":"draft"}`))
		case "/v1/invoices/in_1/finalize":
			_, _ = w.Write([]byte(`{"id":"in_1","status":"open"}`))
		case "/v1/invoices/in_1/pay":
			if f.payFail {
				w.WriteHeader(http.StatusPaymentRequired)
				_, _ = w.Write([]byte(`{"error":{"type":"card_error","message":"no payment method"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"in_1","status":"paid"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeBillingAPI) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.path)
	}
	return out
}

func newTestBilling(t *testing.T, api *fakeBillingAPI) *Billing {
	t.Helper()
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)
	return NewBilling(config.StripeConfig{SecretKey: "sk_test", APIBase: server.URL}, nil, zap.NewNop())
}

func TestBillingCreatesCustomerAndSubscription(t *testing.T) {
	api := &fakeBillingAPI{}
	billing := newTestBilling(t, api)
	ctx := context.Background()

	customerID, err := billing.CreateCustomer(ctx, CustomerParams{Description: "Customer user:7", Email: "a@b.co", IdempotencyKey: "cus_7"})
	require.NoError(t, err)
	assert.Equal(t, "cus_1", customerID)

	subID, err := billing.CreateSubscription(ctx, SubscriptionParams{CustomerID: customerID, PriceID: "price_9", IdempotencyKey: "sub_7_9"})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", subID)

	require.Len(t, api.calls, 2)
	assert.Equal(t, "Customer user:7", api.calls[0].form["description"])
	assert.Equal(t, "cus_7", api.calls[0].idempotencyKey)
	assert.Equal(t, "price_9", api.calls[1].form["items[0][price]"])
	assert.Equal(t, "default_incomplete", api.calls[1].form["payment_behavior"])
	assert.Equal(t, "sub_7_9", api.calls[1].idempotencyKey)
}

func TestBillingPushInvoice(t *testing.T) {
	api := &fakeBillingAPI{}
	billing := newTestBilling(t, api)

	id, err := billing.PushInvoice(context.Background(), InvoiceParams{
		CustomerID: "cus_1", AmountCents: 1250, Currency: "USD", Description: "Invoice 42", Key: "42",
	})
	require.NoError(t, err)
	assert.Equal(t, "in_1", id)
	assert.Equal(t, []string{"/v1/invoiceitems", "/v1/invoices", "/v1/invoices/in_1/finalize", "/v1/invoices/in_1/pay"}, api.paths())
	assert.Equal(t, "1250", api.calls[0].form["amount"])
	assert.Equal(t, "usd", api.calls[0].form["currency"])
	assert.Equal(t, "ii_42", api.calls[0].idempotencyKey)
	assert.Equal(t, "inv_42", api.calls[1].idempotencyKey)
}

func TestBillingPushInvoiceToleratesFailedPay(t *testing.T) {
	api := &fakeBillingAPI{payFail: true}
	billing := newTestBilling(t, api)

	id, err := billing.PushInvoice(context.Background(), InvoiceParams{CustomerID: "cus_1", AmountCents: 10, Currency: "usd", Key: "43"})
	require.NoError(t, err)
	assert.Equal(t, "in_1", id)
}

func TestBillingWithoutSecretKey(t *testing.T) {
	billing := NewBilling(config.StripeConfig{}, nil, nil)
	assert.False(t, billing.Configured())

	_, err := billing.CreateCustomer(context.Background(), CustomerParams{})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotConfigured)

	var missing *Billing
	assert.False(t, missing.Configured())
}
