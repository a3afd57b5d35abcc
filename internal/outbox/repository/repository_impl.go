package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	outboxdomain "github.com/smallbiznis/meterguard/internal/outbox/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() outboxdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *outboxdomain.EventOutbox) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*outboxdomain.EventOutbox, error) {
	var event outboxdomain.EventOutbox
	err := db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListDueIDs selects due pending rows. SKIP LOCKED is dropped by dialects
// without row locks.
func (r *repo) ListDueIDs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&outboxdomain.EventOutbox{}).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", outboxdomain.StatusPending, now).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// Claim pushes next_attempt_at to leaseUntil while the row is still pending
// and due. A false return means another drainer got it first.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now, leaseUntil time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&outboxdomain.EventOutbox{}).
		Where("id = ? AND status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", id, outboxdomain.StatusPending, now).
		Updates(map[string]any{
			"next_attempt_at": leaseUntil,
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, now time.Time) error {
	return db.WithContext(ctx).
		Model(&outboxdomain.EventOutbox{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          outboxdomain.StatusSent,
			"attempts":        attempts,
			"next_attempt_at": nil,
			"last_error":      nil,
			"updated_at":      now,
		}).Error
}

func (r *repo) MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, next time.Time, lastError string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&outboxdomain.EventOutbox{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":        attempts,
			"next_attempt_at": next,
			"last_error":      lastError,
			"updated_at":      now,
		}).Error
}

func (r *repo) MarkDead(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastError string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&outboxdomain.EventOutbox{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          outboxdomain.StatusFailed,
			"attempts":        attempts,
			"next_attempt_at": nil,
			"last_error":      lastError,
			"updated_at":      now,
		}).Error
}
