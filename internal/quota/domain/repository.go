package domain

import (
	"context"
	"time"

	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"gorm.io/gorm"
)

type Repository interface {
	InsertAlert(ctx context.Context, db *gorm.DB, alert *OverdraftAlert) error
	ListAlerts(ctx context.Context, db *gorm.DB, account accountdomain.Account, since *time.Time, limit int) ([]OverdraftAlert, error)
}
