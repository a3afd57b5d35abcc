package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/smallbiznis/meterguard/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
)

const (
	Name           = "stripe"
	defaultTimeout = 10 * time.Second
)

// Adapter talks to the Stripe REST API with form-encoded requests.
type Adapter struct {
	api      *restClient
	verifier *WebhookVerifier
}

type restClient struct {
	secretKey string
	apiBase   string
	client    *http.Client
}

func newRESTClient(cfg config.StripeConfig, client *http.Client) *restClient {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		base = "https://api.stripe.com"
	}
	return &restClient{
		secretKey: strings.TrimSpace(cfg.SecretKey),
		apiBase:   base,
		client:    tracing.WrapHTTPClient(client, "stripe"),
	}
}

// New fails when the webhook secret is missing: unsigned events are never accepted.
func New(cfg config.StripeConfig, client *http.Client, clk clock.Clock) (*Adapter, error) {
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("stripe: webhook secret: %w", paymentdomain.ErrProviderNotConfigured)
	}
	return &Adapter{
		api:      newRESTClient(cfg, client),
		verifier: NewWebhookVerifier(cfg, clk),
	}, nil
}

func (a *Adapter) Name() string { return Name }

// CreatePayment opens a PaymentIntent keyed by the order id so retries do
// not charge twice.
func (a *Adapter) CreatePayment(ctx context.Context, order paymentdomain.Order) (paymentdomain.InitResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(order.AmountCents, 10))
	form.Set("currency", strings.ToLower(order.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[order_id]", order.OrderID)

	var intent paymentIntent
	if err := a.api.call(ctx, http.MethodPost, "/v1/payment_intents", form, order.OrderID, &intent); err != nil {
		return paymentdomain.InitResult{}, err
	}
	return paymentdomain.InitResult{
		Type: paymentdomain.InitTypeClientSecret,
		Payload: map[string]any{
			"client_secret": intent.ClientSecret,
			"order_id":      order.OrderID,
			"amount_cents":  order.AmountCents,
			"currency":      order.Currency,
		},
		ProviderTxnID: intent.ID,
	}, nil
}

func (a *Adapter) HandleWebhook(ctx context.Context, headers http.Header, body []byte) (*paymentdomain.WebhookEvent, error) {
	event, err := a.verifier.Verify(headers, body)
	if err != nil {
		return nil, err
	}

	var obj eventObject
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	eventType := mapEventType(event.Type)
	amount := obj.Amount
	if eventType == paymentdomain.EventTypeRefunded && obj.AmountRefunded > 0 {
		amount = obj.AmountRefunded
	}
	txnID := obj.ID
	if obj.Object == "charge" && obj.PaymentIntent != "" {
		txnID = obj.PaymentIntent
	}
	currency := strings.ToUpper(strings.TrimSpace(obj.Currency))
	if currency == "" {
		currency = "USD"
	}

	return &paymentdomain.WebhookEvent{
		EventID:       event.ID,
		EventType:     eventType,
		OrderID:       readMetadataValue(obj.Metadata, "order_id"),
		AmountCents:   amount,
		Currency:      currency,
		ProviderTxnID: txnID,
		Raw:           body,
	}, nil
}

func (a *Adapter) Refund(ctx context.Context, providerTxnID string, amountCents int64, reason string) (paymentdomain.RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", providerTxnID)
	if amountCents > 0 {
		form.Set("amount", strconv.FormatInt(amountCents, 10))
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		form.Set("reason", reason)
	}

	var refund refundObject
	err := a.api.call(ctx, http.MethodPost, "/v1/refunds", form, "refund-"+providerTxnID+"-"+strconv.FormatInt(amountCents, 10), &refund)
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return paymentdomain.RefundResult{OK: false, Error: apiErr.Message}, nil
	}
	if err != nil {
		return paymentdomain.RefundResult{}, err
	}
	return paymentdomain.RefundResult{OK: true, ProviderRefundID: refund.ID}, nil
}

func (a *Adapter) Query(ctx context.Context, providerTxnID string) (paymentdomain.PaymentStatus, error) {
	if a.api.secretKey == "" {
		return paymentdomain.PaymentStatus{Status: paymentdomain.StatusCreated, Currency: "USD", ProviderTxnID: providerTxnID}, nil
	}
	var intent paymentIntent
	if err := a.api.call(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(providerTxnID), nil, "", &intent); err != nil {
		return paymentdomain.PaymentStatus{}, err
	}
	currency := strings.ToUpper(intent.Currency)
	if currency == "" {
		currency = "USD"
	}
	return paymentdomain.PaymentStatus{
		Status:        mapIntentStatus(intent.Status),
		AmountCents:   intent.Amount,
		Currency:      currency,
		ProviderTxnID: intent.ID,
	}, nil
}

func (c *restClient) call(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	if c.secretKey == "" {
		return fmt.Errorf("stripe: secret key: %w", paymentdomain.ErrProviderNotConfigured)
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: stripe: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: stripe: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: stripe: http %d", paymentdomain.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		var envelope struct {
			Error apiError `json:"error"`
		}
		_ = json.Unmarshal(raw, &envelope)
		envelope.Error.Status = resp.StatusCode
		if envelope.Error.Message == "" {
			envelope.Error.Message = http.StatusText(resp.StatusCode)
		}
		return &envelope.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("stripe: decode: %w", err)
	}
	return nil
}

type apiError struct {
	Status  int    `json:"-"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("stripe: http %d: %s", e.Status, e.Message)
}

type paymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type refundObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type eventObject struct {
	ID             string         `json:"id"`
	Object         string         `json:"object"`
	Amount         int64          `json:"amount"`
	AmountRefunded int64          `json:"amount_refunded"`
	Currency       string         `json:"currency"`
	PaymentIntent  string         `json:"payment_intent"`
	Metadata       map[string]any `json:"metadata"`
}

func mapEventType(eventType string) string {
	switch strings.TrimSpace(eventType) {
	case "payment_intent.succeeded":
		return paymentdomain.EventTypePaymentSucceeded
	case "payment_intent.payment_failed":
		return paymentdomain.EventTypePaymentFailed
	case "charge.refunded", "payment_intent.canceled":
		return paymentdomain.EventTypeRefunded
	default:
		return paymentdomain.EventTypeRequiresAction
	}
}

func mapIntentStatus(status string) paymentdomain.Status {
	switch status {
	case "succeeded":
		return paymentdomain.StatusSucceeded
	case "requires_payment_method", "":
		return paymentdomain.StatusCreated
	case "canceled":
		return paymentdomain.StatusFailed
	default:
		return paymentdomain.StatusProcessing
	}
}
