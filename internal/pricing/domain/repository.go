package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rule *PriceRule) error
	ListByPlan(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]PriceRule, error)
	ListByPlanUnit(ctx context.Context, db *gorm.DB, planID snowflake.ID, unit Unit) ([]PriceRule, error)
}
