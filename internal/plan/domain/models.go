package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
)

type PlanType string

const (
	PlanTypeDailyLimit PlanType = "daily_limit"
	PlanTypeUsage      PlanType = "usage"
)

type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusArchived PlanStatus = "archived"
)

type OverflowPolicy string

const (
	OverflowPolicyBlock   OverflowPolicy = "block"
	OverflowPolicyGrace   OverflowPolicy = "grace"
	OverflowPolicyDegrade OverflowPolicy = "degrade"
)

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleWeekly  BillingCycle = "weekly"
)

type AssignmentStatus string

const (
	AssignmentStatusActive   AssignmentStatus = "active"
	AssignmentStatusPaused   AssignmentStatus = "paused"
	AssignmentStatusCanceled AssignmentStatus = "canceled"
)

type Plan struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Code      string       `gorm:"type:varchar(191);not null;uniqueIndex:ux_plans_code" json:"code"`
	Name      string       `gorm:"type:varchar(191);not null" json:"name"`
	Type      PlanType     `gorm:"type:varchar(16);not null" json:"type"`
	Currency  string       `gorm:"type:varchar(8);not null" json:"currency"`
	Status    PlanStatus   `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// DailyLimitPlan caps spend per day window.
type DailyLimitPlan struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	PlanID         snowflake.ID   `gorm:"not null;uniqueIndex:ux_daily_limit_plans_plan" json:"plan_id"`
	LimitCents     int64          `gorm:"not null" json:"limit_cents"`
	OverflowPolicy OverflowPolicy `gorm:"type:varchar(16);not null" json:"overflow_policy"`
	ResetTime      string         `gorm:"type:varchar(5);not null" json:"reset_time"`
	Timezone       string         `gorm:"type:varchar(16);not null" json:"timezone"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (DailyLimitPlan) TableName() string { return "daily_limit_plans" }

type UsagePlan struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	PlanID           snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_plans_plan" json:"plan_id"`
	BillingCycle     BillingCycle `gorm:"type:varchar(16);not null" json:"billing_cycle"`
	MinCommitCents   *int64       `json:"min_commit_cents,omitempty"`
	CreditGrantCents *int64       `json:"credit_grant_cents,omitempty"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

func (UsagePlan) TableName() string { return "usage_plans" }

// PlanAssignment binds an account to a plan for [EffectiveFrom, EffectiveTo).
type PlanAssignment struct {
	ID            snowflake.ID             `gorm:"primaryKey" json:"id"`
	EntityType    accountdomain.EntityType `gorm:"type:varchar(16);not null;index:ix_plan_assignments_owner,priority:1" json:"entity_type"`
	EntityID      snowflake.ID             `gorm:"not null;index:ix_plan_assignments_owner,priority:2" json:"entity_id"`
	PlanID        snowflake.ID             `gorm:"not null;index" json:"plan_id"`
	Status        AssignmentStatus         `gorm:"type:varchar(16);not null" json:"status"`
	EffectiveFrom time.Time                `gorm:"not null" json:"effective_from"`
	EffectiveTo   *time.Time               `json:"effective_to,omitempty"`
	Timezone      string                   `gorm:"type:varchar(16);not null" json:"timezone"`
	CreatedAt     time.Time                `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time                `gorm:"not null" json:"updated_at"`
}

func (PlanAssignment) TableName() string { return "plan_assignments" }

func (a PlanAssignment) Account() accountdomain.Account {
	return accountdomain.Account{EntityType: a.EntityType, EntityID: a.EntityID}
}

// ActiveAt reports whether the assignment is in force at t.
func (a PlanAssignment) ActiveAt(t time.Time) bool {
	if a.Status != AssignmentStatusActive {
		return false
	}
	if a.EffectiveFrom.After(t) {
		return false
	}
	return a.EffectiveTo == nil || a.EffectiveTo.After(t)
}

type PlanDetail struct {
	Plan       Plan            `json:"plan"`
	DailyLimit *DailyLimitPlan `json:"daily_limit,omitempty"`
	Usage      *UsagePlan      `json:"usage,omitempty"`
}

// DailyLimit is the daily-limit component in force for an account.
type DailyLimit struct {
	Assignment PlanAssignment `json:"assignment"`
	Plan       Plan           `json:"plan"`
	Limit      DailyLimitPlan `json:"limit"`
}
