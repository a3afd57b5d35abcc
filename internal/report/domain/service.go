package domain

import (
	"context"
	"time"

	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	quotadomain "github.com/smallbiznis/meterguard/internal/quota/domain"
	"github.com/smallbiznis/meterguard/pkg/errs"
)

const (
	MinDays = 1
	MaxDays = 90
)

var ErrInvalidDays = errs.New(errs.KindValidation, "invalid_days")

// DayTotal is the priced usage of one quota day window.
type DayTotal struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AmountCents int64     `json:"amount_cents"`
	TotalTokens int64     `json:"total_tokens"`
	Requests    int64     `json:"requests"`
}

type Summary struct {
	Days            int    `json:"days"`
	Currency        string `json:"currency"`
	AmountCents     int64  `json:"amount_cents"`
	TotalTokens     int64  `json:"total_tokens"`
	Requests        int64  `json:"requests"`
	BalanceCents    int64  `json:"balance_cents"`
	TodayCents      int64  `json:"today_cents"`
	DailyLimitCents *int64 `json:"daily_limit_cents,omitempty"`
	Unlimited       bool   `json:"unlimited"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	DailyTotals(ctx context.Context, account accountdomain.Account, days int, now time.Time) ([]DayTotal, error)
	Summary(ctx context.Context, account accountdomain.Account, days int) (Summary, error)
	Overdrafts(ctx context.Context, account accountdomain.Account, limit int) ([]quotadomain.OverdraftAlert, error)
}
