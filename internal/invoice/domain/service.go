package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	intakedomain "github.com/smallbiznis/meterguard/internal/intake/domain"
	"github.com/smallbiznis/meterguard/pkg/errs"
)

var (
	ErrInvalidPeriod   = errs.New(errs.KindValidation, "invalid_period")
	ErrInvalidCurrency = errs.New(errs.KindValidation, "invalid_currency")
	ErrInvalidStatus   = errs.New(errs.KindValidation, "invalid_status")
	ErrNotInvoiceEvent = errs.New(errs.KindValidation, "not_an_invoice_event")
	ErrInvoiceNotFound = errs.New(errs.KindNotFound, "invoice_not_found")
	ErrNoCustomer      = errs.New(errs.KindValidation, "invoice_has_no_customer")
	ErrNotPushable     = errs.New(errs.KindValidation, "invoice_not_pushable")
)

type GenerateRequest struct {
	Account    accountdomain.Account
	CustomerID *snowflake.ID
	Start      time.Time
	End        time.Time
	Currency   string
}

type ListRequest struct {
	Account *accountdomain.Account
	Status  Status
	Limit   int
	Offset  int

	// BeforeID pages by id, newest first.
	BeforeID *snowflake.ID
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	// Generate always writes a new invoice; calling it twice for the same
	// period yields two invoices.
	Generate(ctx context.Context, req GenerateRequest) (*Invoice, error)
	GenerateForDay(ctx context.Context, account accountdomain.Account, day time.Time) (*Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, req ListRequest) ([]Invoice, error)
	HandleStripeWebhook(ctx context.Context, headers http.Header, body []byte) (intakedomain.Result, error)
	RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error)
	// PushToStripe bills the invoice total through Stripe and finalizes it
	// locally. An invoice already linked to Stripe is returned unchanged.
	PushToStripe(ctx context.Context, id snowflake.ID) (*Invoice, error)
}
