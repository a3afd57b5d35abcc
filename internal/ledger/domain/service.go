package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/pkg/errs"
	"gorm.io/gorm"
)

var (
	ErrInvalidAccount  = errs.New(errs.KindValidation, "invalid_account")
	ErrInvalidCurrency = errs.New(errs.KindValidation, "invalid_currency")
	ErrInvalidAmount   = errs.New(errs.KindValidation, "invalid_amount")
	ErrInvalidReason   = errs.New(errs.KindValidation, "invalid_reason")
	ErrInvalidModel    = errs.New(errs.KindValidation, "invalid_model")
	ErrInvalidUnit     = errs.New(errs.KindValidation, "invalid_unit")
	ErrInvalidWindow   = errs.New(errs.KindValidation, "invalid_window")
	ErrWalletNotFound  = errs.New(errs.KindNotFound, "wallet_not_found")
	ErrTxRequired      = errs.New(errs.KindIntegrity, "transaction_required")
	ErrUsageConflict   = errs.New(errs.KindIntegrity, "usage_conflict")
)

type CreditRequest struct {
	Account     accountdomain.Account
	Currency    string
	AmountCents int64
	Reason      Reason
	Meta        map[string]any
}

type DebitRequest struct {
	Account     accountdomain.Account
	Currency    string
	AmountCents int64
	Reason      Reason
	Meta        map[string]any
}

type UsageRequest struct {
	Account       accountdomain.Account
	TeamID        *snowflake.ID
	Model         string
	Unit          string
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
	AmountCents   int64
	PriceRuleID   *snowflake.ID
	Currency      string
	Success       bool
	CorrelationID string
	Meta          map[string]any
}

// Mutation is the outcome of one balance change.
type Mutation struct {
	Wallet Wallet      `json:"wallet"`
	Entry  LedgerEntry `json:"entry"`
}

type UsageResult struct {
	Record    UsageRecord  `json:"record"`
	Entry     *LedgerEntry `json:"entry,omitempty"`
	Wallet    *Wallet      `json:"wallet,omitempty"`
	Duplicate bool         `json:"duplicate"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	Credit(ctx context.Context, req CreditRequest) (*Mutation, error)
	Debit(ctx context.Context, req DebitRequest) (*Mutation, error)
	RecordUsage(ctx context.Context, req UsageRequest) (*UsageResult, error)

	CreditTx(ctx context.Context, tx *gorm.DB, req CreditRequest) (*Mutation, error)
	DebitTx(ctx context.Context, tx *gorm.DB, req DebitRequest) (*Mutation, error)
	RecordUsageTx(ctx context.Context, tx *gorm.DB, req UsageRequest) (*UsageResult, error)
	LockWalletTx(ctx context.Context, tx *gorm.DB, account accountdomain.Account, currency string) (*Wallet, error)
	SpentInWindowTx(ctx context.Context, tx *gorm.DB, account accountdomain.Account, start, end time.Time) (int64, error)

	GetWallet(ctx context.Context, account accountdomain.Account, currency string) (*Wallet, error)
	Balance(ctx context.Context, account accountdomain.Account, currency string) (int64, error)
	ListEntries(ctx context.Context, walletID snowflake.ID, limit int) ([]LedgerEntry, error)
	ListUsage(ctx context.Context, account accountdomain.Account, start, end time.Time, limit int) ([]UsageRecord, error)
	SpentInWindow(ctx context.Context, account accountdomain.Account, start, end time.Time) (int64, error)
	// UsageTotals sums usage in [start, end). An empty currency sums every
	// currency the account was charged in.
	UsageTotals(ctx context.Context, account accountdomain.Account, currency string, start, end time.Time) (UsageTotals, error)
	SumEntries(ctx context.Context, walletID snowflake.ID) (int64, error)
}
