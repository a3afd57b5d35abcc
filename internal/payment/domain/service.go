package domain

import (
	"context"
	"net/http"

	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	intakedomain "github.com/smallbiznis/meterguard/internal/intake/domain"
	"github.com/smallbiznis/meterguard/pkg/errs"
)

var (
	ErrProviderNotFound      = errs.New(errs.KindNotFound, "provider_not_found")
	ErrProviderNotConfigured = errs.New(errs.KindConfiguration, "provider_not_configured")
	ErrNotSupported          = errs.New(errs.KindValidation, "not_supported")
	ErrProviderUnavailable   = errs.New(errs.KindTransient, "upstream_unavailable")
	ErrInvalidSignature      = errs.New(errs.KindSignature, "invalid_signature")
	ErrInvalidPayload        = errs.New(errs.KindValidation, "invalid_payload")
	ErrInvalidOrder          = errs.New(errs.KindValidation, "invalid_order_id")
	ErrInvalidAmount         = errs.New(errs.KindValidation, "invalid_amount")
	ErrInvalidCurrency       = errs.New(errs.KindValidation, "invalid_currency")
	ErrInvalidLookup         = errs.New(errs.KindValidation, "provider_txn_id_or_order_id_required")
	ErrOrderExists           = errs.New(errs.KindDuplicate, "order_exists")
	ErrPaymentNotFound       = errs.New(errs.KindNotFound, "payment_not_found")
)

type CheckoutRequest struct {
	Account     accountdomain.Account
	Provider    string
	OrderID     string
	AmountCents int64
	Currency    string
}

type CheckoutResult struct {
	Order   Order      `json:"order"`
	Payment Payment    `json:"payment"`
	Init    InitResult `json:"init"`
}

// RefundRequest locates the payment by ProviderTxnID first, then OrderID.
// AmountCents zero refunds the full payment.
type RefundRequest struct {
	Provider      string
	ProviderTxnID string
	OrderID       string
	AmountCents   int64
	Reason        string
}

type RefundResponse struct {
	Result          RefundResult `json:"result"`
	Refund          *Refund      `json:"refund,omitempty"`
	AlreadyRefunded bool         `json:"already_refunded"`
}

type StatusRequest struct {
	Provider      string
	ProviderTxnID string
	OrderID       string
}

type LocalStatus struct {
	OrderID       string  `json:"order_id"`
	OrderStatus   Status  `json:"order_status"`
	PaymentStatus Status  `json:"payment_status"`
	ProviderTxnID *string `json:"provider_txn_id,omitempty"`
}

type StatusResponse struct {
	Local    *LocalStatus  `json:"local"`
	Provider PaymentStatus `json:"provider"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	HandleWebhook(ctx context.Context, provider string, headers http.Header, body []byte) (intakedomain.Result, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResponse, error)
	Status(ctx context.Context, req StatusRequest) (*StatusResponse, error)
}
