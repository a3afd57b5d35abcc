package domain

import (
	"context"
	"net/http"
)

type InitType string

const (
	InitTypeClientSecret InitType = "client_secret"
	InitTypeRedirectURL  InitType = "redirect_url"
	InitTypeHTMLForm     InitType = "html_form"
)

// InitResult tells the caller how to continue a checkout on the provider side.
type InitResult struct {
	Type          InitType       `json:"type"`
	Payload       map[string]any `json:"payload"`
	ProviderTxnID string         `json:"provider_txn_id,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// WebhookEvent is a verified provider notification in canonical form.
type WebhookEvent struct {
	EventID       string
	EventType     string
	OrderID       string
	AmountCents   int64
	Currency      string
	ProviderTxnID string
	Raw           []byte
}

// DedupKey is the event id, or the transaction id for providers that send none.
func (e WebhookEvent) DedupKey() string {
	if e.EventID != "" {
		return e.EventID
	}
	return e.ProviderTxnID
}

type RefundResult struct {
	OK               bool   `json:"ok"`
	ProviderRefundID string `json:"provider_refund_id,omitempty"`
	Error            string `json:"error,omitempty"`
}

// PaymentStatus is the provider's view of a transaction.
type PaymentStatus struct {
	Status        Status `json:"status"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	ProviderTxnID string `json:"provider_txn_id,omitempty"`
}

// Provider is the capability every payment adapter implements.
//
//go:generate mockgen -source=provider.go -destination=./mocks/mock_provider.go -package=mocks
type Provider interface {
	Name() string
	CreatePayment(ctx context.Context, order Order) (InitResult, error)
	// HandleWebhook verifies the signature before parsing.
	HandleWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookEvent, error)
	Refund(ctx context.Context, providerTxnID string, amountCents int64, reason string) (RefundResult, error)
	Query(ctx context.Context, providerTxnID string) (PaymentStatus, error)
}
