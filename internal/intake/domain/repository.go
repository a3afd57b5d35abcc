package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, event *ProviderEvent) (bool, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalEventID string) (*ProviderEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome Outcome, linked HandlerOutcome, at time.Time) error
}
