package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/pkg/errs"
)

var (
	ErrInvalidPlan       = errs.New(errs.KindValidation, "invalid_plan")
	ErrInvalidPattern    = errs.New(errs.KindValidation, "invalid_model_pattern")
	ErrInvalidUnit       = errs.New(errs.KindValidation, "invalid_unit")
	ErrInvalidPrice      = errs.New(errs.KindValidation, "invalid_price")
	ErrInvalidMultiplier = errs.New(errs.KindValidation, "invalid_multiplier")
	ErrInvalidWindow     = errs.New(errs.KindValidation, "invalid_effective_window")
	ErrInvalidTokens     = errs.New(errs.KindValidation, "invalid_tokens")
)

type AddRuleRequest struct {
	PlanID             snowflake.ID
	ModelPattern       string
	Unit               Unit
	UnitBasePriceCents int64
	InputMultiplier    *decimal.Decimal
	OutputMultiplier   *decimal.Decimal
	PriceMultiplier    *decimal.Decimal
	MinChargeCents     int64
	Priority           int
	EffectiveFrom      *time.Time
	EffectiveTo        *time.Time
}

type QuoteRequest struct {
	Account accountdomain.Account
	Model   string
	Unit    Unit
	Tokens  Tokens
	At      time.Time
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	AddRule(ctx context.Context, req AddRuleRequest) (*PriceRule, error)
	ListRules(ctx context.Context, planID snowflake.ID) ([]PriceRule, error)
	Resolve(ctx context.Context, planID snowflake.ID, model string, unit Unit) (*PriceRule, bool, error)
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
}
