package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	UpdatePlanStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status PlanStatus, at time.Time) error
	UpsertDailyLimit(ctx context.Context, db *gorm.DB, limit *DailyLimitPlan) error
	FindDailyLimit(ctx context.Context, db *gorm.DB, planID snowflake.ID) (*DailyLimitPlan, error)
	UpsertUsagePlan(ctx context.Context, db *gorm.DB, usage *UsagePlan) error
	FindUsagePlan(ctx context.Context, db *gorm.DB, planID snowflake.ID) (*UsagePlan, error)
	InsertAssignment(ctx context.Context, db *gorm.DB, assignment *PlanAssignment) error
	CloseActiveAssignments(ctx context.Context, db *gorm.DB, account accountdomain.Account, at time.Time) (int64, error)
	FindEffectiveAssignment(ctx context.Context, db *gorm.DB, account accountdomain.Account, at time.Time) (*PlanAssignment, error)
}
