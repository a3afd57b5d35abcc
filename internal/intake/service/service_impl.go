package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterguard/internal/clock"
	intakedomain "github.com/smallbiznis/meterguard/internal/intake/domain"
	"github.com/smallbiznis/meterguard/internal/intake/repository"
	obslogger "github.com/smallbiznis/meterguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterguard/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       intakedomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) intakedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("intake.service"),
		genID:      p.GenID,
		clock:      clock.OrSystem(p.Clock),
		repo:       repository.Provide(),
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest records env and runs handler exactly once per (provider, external
// event id). A repeat delivery returns the first delivery's result with
// Duplicate set, without calling handler. Reusing an event id for a different
// event type is ErrEventConflict.
func (s *Service) Ingest(ctx context.Context, env intakedomain.Envelope, handler intakedomain.Handler) (intakedomain.Result, error) {
	if handler == nil {
		return intakedomain.Result{}, intakedomain.ErrHandlerRequired
	}
	env.Provider = strings.ToLower(strings.TrimSpace(env.Provider))
	env.ExternalEventID = strings.TrimSpace(env.ExternalEventID)
	env.EventType = strings.TrimSpace(env.EventType)
	if env.Provider == "" || env.ExternalEventID == "" || env.EventType == "" {
		return intakedomain.Result{}, intakedomain.ErrInvalidEnvelope
	}
	payload := env.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return intakedomain.Result{}, intakedomain.ErrInvalidPayload
	}

	result := intakedomain.Result{Provider: env.Provider, EventType: env.EventType}
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("provider", env.Provider),
		zap.String("event_id", env.ExternalEventID),
		zap.String("event_type", env.EventType),
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		event := &intakedomain.ProviderEvent{
			ID:              s.genID.Generate(),
			Provider:        env.Provider,
			ExternalEventID: env.ExternalEventID,
			EventType:       env.EventType,
			Payload:         datatypes.JSON(payload),
			Outcome:         intakedomain.OutcomePending,
			ReceivedAt:      now,
		}
		inserted, err := s.repo.InsertIfAbsent(ctx, tx, event)
		if err != nil {
			return err
		}
		if !inserted {
			prior, err := s.repo.FindByExternalID(ctx, tx, env.Provider, env.ExternalEventID)
			if err != nil {
				return err
			}
			if prior == nil || prior.EventType != env.EventType {
				return intakedomain.ErrEventConflict
			}
			result = priorResult(*prior)
			return nil
		}

		outcome, err := handler(ctx, tx)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		state := intakedomain.OutcomeUnlinked
		if outcome.Linked {
			state = intakedomain.OutcomeHandled
			result.EntityType = outcome.EntityType
			result.EntityID = outcome.EntityID
		}
		result.Status = outcome.Status
		result.Handled = outcome.Linked
		return s.repo.MarkProcessed(ctx, tx, event.ID, state, outcome, s.clock.Now())
	})
	if err != nil {
		log.Warn("intake.failed", zap.Error(err))
		s.recordEvent(ctx, env, "error")
		return intakedomain.Result{}, err
	}

	switch {
	case result.Duplicate:
		log.Info("intake.duplicate")
		s.recordEvent(ctx, env, "duplicate")
	case result.Handled:
		log.Info("intake.handled", zap.String("entity_type", result.EntityType), zap.String("status", result.Status))
		s.recordEvent(ctx, env, string(intakedomain.OutcomeHandled))
	default:
		log.Warn("intake.unlinked")
		s.recordEvent(ctx, env, string(intakedomain.OutcomeUnlinked))
	}
	return result, nil
}

func priorResult(event intakedomain.ProviderEvent) intakedomain.Result {
	result := intakedomain.Result{
		Provider:  event.Provider,
		EventType: event.EventType,
		Duplicate: true,
		Handled:   event.Outcome == intakedomain.OutcomeHandled,
	}
	if event.LinkedEntityType != nil {
		result.EntityType = *event.LinkedEntityType
	}
	if event.LinkedEntityID != nil {
		result.EntityID = *event.LinkedEntityID
	}
	if event.ResultStatus != nil {
		result.Status = *event.ResultStatus
	}
	return result
}

func (s *Service) Get(ctx context.Context, provider, externalEventID string) (*intakedomain.ProviderEvent, error) {
	return s.repo.FindByExternalID(ctx, s.db, strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(externalEventID))
}

func (s *Service) recordEvent(ctx context.Context, env intakedomain.Envelope, outcome string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordProviderEvent(ctx, env.Provider, env.EventType, outcome)
}
