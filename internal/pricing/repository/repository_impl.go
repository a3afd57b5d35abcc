package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/smallbiznis/meterguard/internal/pricing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() pricingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rule *pricingdomain.PriceRule) error {
	return db.WithContext(ctx).Create(rule).Error
}

func (r *repo) ListByPlan(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]pricingdomain.PriceRule, error) {
	var rules []pricingdomain.PriceRule
	err := db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("priority ASC").
		Order("id ASC").
		Find(&rules).Error
	return rules, err
}

func (r *repo) ListByPlanUnit(ctx context.Context, db *gorm.DB, planID snowflake.ID, unit pricingdomain.Unit) ([]pricingdomain.PriceRule, error) {
	var rules []pricingdomain.PriceRule
	err := db.WithContext(ctx).
		Where("plan_id = ? AND unit = ?", planID, unit).
		Order("priority ASC").
		Order("id ASC").
		Find(&rules).Error
	return rules, err
}
