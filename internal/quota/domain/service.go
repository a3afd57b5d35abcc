package domain

import (
	"context"

	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	pricingdomain "github.com/smallbiznis/meterguard/internal/pricing/domain"
	"github.com/smallbiznis/meterguard/pkg/errs"
)

var (
	ErrInvalidAccount  = errs.New(errs.KindValidation, "invalid_account")
	ErrInvalidAmount   = errs.New(errs.KindValidation, "invalid_amount")
	ErrInvalidModel    = errs.New(errs.KindValidation, "invalid_model")
	ErrInvalidCurrency = errs.New(errs.KindValidation, "invalid_currency")
	ErrLimitExceeded   = errs.New(errs.KindPolicy, "limit_exceeded")
	ErrOverdraftGated  = errs.New(errs.KindPolicy, "overdraft_gated")
)

type CheckRequest struct {
	Account     accountdomain.Account
	AmountCents int64
	Model       string
}

type SettleRequest struct {
	Account       accountdomain.Account
	Model         string
	Unit          pricingdomain.Unit
	Tokens        pricingdomain.Tokens
	FinalCents    int64
	Currency      string
	CorrelationID string
	Success       bool
	Meta          map[string]any
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	Check(ctx context.Context, req CheckRequest) (Decision, error)
	Settle(ctx context.Context, req SettleRequest) (*Settlement, error)
	Gate(ctx context.Context, account accountdomain.Account, model string) (GateDecision, error)
	ListAlerts(ctx context.Context, account accountdomain.Account, limit int) ([]OverdraftAlert, error)
}
