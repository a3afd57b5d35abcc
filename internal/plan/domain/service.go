package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/pkg/errs"
)

var (
	ErrInvalidName           = errs.New(errs.KindValidation, "invalid_plan_name")
	ErrInvalidPlanType       = errs.New(errs.KindValidation, "invalid_plan_type")
	ErrInvalidCurrency       = errs.New(errs.KindValidation, "invalid_currency")
	ErrInvalidLimit          = errs.New(errs.KindValidation, "invalid_limit")
	ErrInvalidOverflowPolicy = errs.New(errs.KindValidation, "invalid_overflow_policy")
	ErrInvalidResetTime      = errs.New(errs.KindValidation, "invalid_reset_time")
	ErrInvalidTimezone       = errs.New(errs.KindValidation, "invalid_timezone")
	ErrInvalidBillingCycle   = errs.New(errs.KindValidation, "invalid_billing_cycle")
	ErrInvalidAccount        = errs.New(errs.KindValidation, "invalid_account")
	ErrInvalidWindow         = errs.New(errs.KindValidation, "invalid_effective_window")
	ErrPlanArchived          = errs.New(errs.KindValidation, "plan_archived")
	ErrPlanCodeTaken         = errs.New(errs.KindDuplicate, "plan_code_taken")
	ErrPlanNotFound          = errs.New(errs.KindNotFound, "plan_not_found")
	ErrNoActiveAssignment    = errs.New(errs.KindNotFound, "no_active_assignment")
	ErrNoDailyLimit          = errs.New(errs.KindNotFound, "no_daily_limit")
)

type CreatePlanRequest struct {
	Name     string
	Code     string
	Type     PlanType
	Currency string
}

type UpsertDailyLimitRequest struct {
	PlanID         snowflake.ID
	LimitCents     int64
	OverflowPolicy OverflowPolicy
	ResetTime      string
	Timezone       string
}

type UpsertUsagePlanRequest struct {
	PlanID           snowflake.ID
	BillingCycle     BillingCycle
	MinCommitCents   *int64
	CreditGrantCents *int64
}

type AssignRequest struct {
	Account       accountdomain.Account
	PlanID        snowflake.ID
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
	Timezone      string
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error)
	ArchivePlan(ctx context.Context, id snowflake.ID) (*Plan, error)
	UpsertDailyLimit(ctx context.Context, req UpsertDailyLimitRequest) (*DailyLimitPlan, error)
	UpsertUsagePlan(ctx context.Context, req UpsertUsagePlanRequest) (*UsagePlan, error)
	GetPlan(ctx context.Context, id snowflake.ID) (*PlanDetail, error)
	Assign(ctx context.Context, req AssignRequest) (*PlanAssignment, error)
	EffectiveAssignment(ctx context.Context, account accountdomain.Account, at time.Time) (*PlanAssignment, error)
	DailyLimitFor(ctx context.Context, account accountdomain.Account, at time.Time) (*DailyLimit, error)
}
