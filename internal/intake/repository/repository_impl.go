package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	intakedomain "github.com/smallbiznis/meterguard/internal/intake/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() intakedomain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, event *intakedomain.ProviderEvent) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "external_event_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalEventID string) (*intakedomain.ProviderEvent, error) {
	var event intakedomain.ProviderEvent
	err := db.WithContext(ctx).
		Where("provider = ? AND external_event_id = ?", provider, externalEventID).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome intakedomain.Outcome, linked intakedomain.HandlerOutcome, at time.Time) error {
	updates := map[string]any{
		"outcome":      outcome,
		"processed_at": at,
	}
	if linked.Linked {
		updates["linked_entity_type"] = linked.EntityType
		updates["linked_entity_id"] = linked.EntityID
	}
	if linked.Status != "" {
		updates["result_status"] = linked.Status
	}
	return db.WithContext(ctx).
		Model(&intakedomain.ProviderEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}
