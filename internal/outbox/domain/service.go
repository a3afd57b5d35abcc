package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterguard/pkg/errs"
	"gorm.io/gorm"
)

var (
	ErrInvalidEventType   = errs.New(errs.KindValidation, "invalid_event_type")
	ErrInvalidDestination = errs.New(errs.KindValidation, "invalid_destination")
	ErrInvalidPayload     = errs.New(errs.KindValidation, "invalid_payload")
	ErrEventNotFound      = errs.New(errs.KindNotFound, "outbox_event_not_found")
	ErrUnsupportedEvent   = errs.New(errs.KindConfiguration, "unsupported_event_type")
)

// Deliverer performs one delivery attempt. Every error is retryable.
type Deliverer interface {
	Deliver(ctx context.Context, event EventOutbox) error
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	Enqueue(ctx context.Context, eventType, destination string, payload any) (snowflake.ID, error)
	EnqueueTx(ctx context.Context, tx *gorm.DB, eventType, destination string, payload any) (snowflake.ID, error)
	Drain(ctx context.Context, maxBatch int) (DrainStats, error)
	Get(ctx context.Context, id snowflake.ID) (*EventOutbox, error)
}
