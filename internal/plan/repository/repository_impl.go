package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Where("id = ?", id).Take(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repo) UpdatePlanStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status plandomain.PlanStatus, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE plans SET status = ?, updated_at = ? WHERE id = ?`,
		status, at, id,
	).Error
}

func (r *repo) UpsertDailyLimit(ctx context.Context, db *gorm.DB, limit *plandomain.DailyLimitPlan) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plan_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"limit_cents", "overflow_policy", "reset_time", "timezone", "updated_at"}),
		}).
		Create(limit).Error
}

func (r *repo) FindDailyLimit(ctx context.Context, db *gorm.DB, planID snowflake.ID) (*plandomain.DailyLimitPlan, error) {
	var limit plandomain.DailyLimitPlan
	err := db.WithContext(ctx).Where("plan_id = ?", planID).Take(&limit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &limit, nil
}

func (r *repo) UpsertUsagePlan(ctx context.Context, db *gorm.DB, usage *plandomain.UsagePlan) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plan_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"billing_cycle", "min_commit_cents", "credit_grant_cents", "updated_at"}),
		}).
		Create(usage).Error
}

func (r *repo) FindUsagePlan(ctx context.Context, db *gorm.DB, planID snowflake.ID) (*plandomain.UsagePlan, error) {
	var usage plandomain.UsagePlan
	err := db.WithContext(ctx).Where("plan_id = ?", planID).Take(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

func (r *repo) InsertAssignment(ctx context.Context, db *gorm.DB, assignment *plandomain.PlanAssignment) error {
	return db.WithContext(ctx).Create(assignment).Error
}

// CloseActiveAssignments ends every open active assignment of account at at.
func (r *repo) CloseActiveAssignments(ctx context.Context, db *gorm.DB, account accountdomain.Account, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE plan_assignments
		SET status = ?, effective_to = ?, updated_at = ?
		WHERE entity_type = ? AND entity_id = ? AND status = ?
			AND (effective_to IS NULL OR effective_to > ?)`,
		plandomain.AssignmentStatusCanceled,
		at,
		at,
		account.EntityType,
		account.EntityID,
		plandomain.AssignmentStatusActive,
		at,
	)
	return result.RowsAffected, result.Error
}

// FindEffectiveAssignment returns the single assignment in force at at,
// preferring the latest effective_from and then the highest id.
func (r *repo) FindEffectiveAssignment(ctx context.Context, db *gorm.DB, account accountdomain.Account, at time.Time) (*plandomain.PlanAssignment, error) {
	var assignment plandomain.PlanAssignment
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND status = ?", account.EntityType, account.EntityID, plandomain.AssignmentStatusActive).
		Where("effective_from <= ?", at).
		Where("(effective_to IS NULL OR effective_to > ?)", at).
		Order("effective_from DESC").
		Order("id DESC").
		Limit(1).
		Take(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}
