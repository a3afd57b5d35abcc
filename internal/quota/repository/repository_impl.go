package repository

import (
	"context"
	"time"

	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	quotadomain "github.com/smallbiznis/meterguard/internal/quota/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() quotadomain.Repository {
	return &repo{}
}

func (r *repo) InsertAlert(ctx context.Context, db *gorm.DB, alert *quotadomain.OverdraftAlert) error {
	return db.WithContext(ctx).Create(alert).Error
}

func (r *repo) ListAlerts(ctx context.Context, db *gorm.DB, account accountdomain.Account, since *time.Time, limit int) ([]quotadomain.OverdraftAlert, error) {
	var alerts []quotadomain.OverdraftAlert
	q := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", account.EntityType, account.EntityID)
	if since != nil {
		q = q.Where("created_at >= ?", since.UTC())
	}
	err := q.Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&alerts).Error
	return alerts, err
}
