package domain

import (
	"context"

	"github.com/smallbiznis/meterguard/pkg/errs"
	"gorm.io/gorm"
)

var (
	ErrInvalidEnvelope  = errs.New(errs.KindValidation, "invalid_event")
	ErrInvalidPayload   = errs.New(errs.KindValidation, "invalid_payload")
	ErrInvalidSignature = errs.New(errs.KindSignature, "invalid_signature")
	ErrHandlerRequired  = errs.New(errs.KindConfiguration, "handler_required")
	ErrEventConflict    = errs.New(errs.KindIntegrity, "event_conflict")
)

// Handler applies an event inside the intake transaction. Returning an error
// rolls back the dedup row along with every write made through tx.
type Handler func(ctx context.Context, tx *gorm.DB) (HandlerOutcome, error)

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	Ingest(ctx context.Context, env Envelope, handler Handler) (Result, error)
	Get(ctx context.Context, provider, externalEventID string) (*ProviderEvent, error)
}
