package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	obsmetrics "github.com/smallbiznis/meterguard/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/meterguard/internal/outbox/domain"
	"github.com/smallbiznis/meterguard/internal/outbox/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts = 5
	defaultBackoffCap  = time.Hour
	defaultBatchSize   = 10
	defaultClaimLease  = time.Minute
	claimTimeout       = 2 * time.Second
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Deliverers map[string]outboxdomain.Deliverer
	Clock      clock.Clock               `optional:"true"`
	Metrics    *obsmetrics.OutboxMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        outboxdomain.Repository
	deliverers  map[string]outboxdomain.Deliverer
	metrics     *obsmetrics.OutboxMetrics
	maxAttempts int
	backoffCap  time.Duration
	batchSize   int
	claimLease  time.Duration
}

func NewService(p Params) outboxdomain.Service {
	cfg := p.Cfg.Outbox
	svc := &Service{
		db:          p.DB,
		log:         p.Log.Named("outbox.service"),
		genID:       p.GenID,
		clock:       clock.OrSystem(p.Clock),
		repo:        repository.Provide(),
		deliverers:  p.Deliverers,
		metrics:     p.Metrics,
		maxAttempts: cfg.MaxAttempts,
		backoffCap:  cfg.BackoffCap,
		batchSize:   cfg.BatchSize,
		claimLease:  cfg.ClaimLease,
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxAttempts
	}
	if svc.backoffCap <= 0 {
		svc.backoffCap = defaultBackoffCap
	}
	if svc.batchSize <= 0 {
		svc.batchSize = defaultBatchSize
	}
	if svc.claimLease <= 0 {
		svc.claimLease = defaultClaimLease
	}
	return svc
}

func (s *Service) Enqueue(ctx context.Context, eventType, destination string, payload any) (snowflake.ID, error) {
	return s.EnqueueTx(ctx, s.db, eventType, destination, payload)
}

// EnqueueTx writes a pending row through tx so it commits or rolls back with
// the caller's state change.
func (s *Service) EnqueueTx(ctx context.Context, tx *gorm.DB, eventType, destination string, payload any) (snowflake.ID, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return 0, outboxdomain.ErrInvalidEventType
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return 0, outboxdomain.ErrInvalidDestination
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	event := &outboxdomain.EventOutbox{
		ID:          s.genID.Generate(),
		EventType:   eventType,
		Destination: destination,
		Payload:     raw,
		Status:      outboxdomain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, tx, event); err != nil {
		return 0, err
	}
	s.log.Debug("outbox.enqueued",
		zap.String("outbox_id", event.ID.String()),
		zap.String("event_type", eventType),
		zap.String("destination", destination),
	)
	return event.ID, nil
}

// Drain delivers up to maxBatch due rows. Delivery runs outside any
// transaction; the claim lease keeps concurrent drainers off the same row.
func (s *Service) Drain(ctx context.Context, maxBatch int) (outboxdomain.DrainStats, error) {
	if maxBatch <= 0 {
		maxBatch = s.batchSize
	}
	var stats outboxdomain.DrainStats

	claimed, err := s.claim(ctx, maxBatch)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(claimed)
	if s.metrics != nil {
		s.metrics.SetBatchSize(len(claimed))
	}

	for _, event := range claimed {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		switch s.deliver(ctx, event) {
		case outboxdomain.StatusSent:
			stats.Sent++
		case outboxdomain.StatusFailed:
			stats.Dead++
		default:
			stats.Retried++
		}
	}
	return stats, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*outboxdomain.EventOutbox, error) {
	event, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, outboxdomain.ErrEventNotFound
	}
	return event, nil
}

func (s *Service) claim(ctx context.Context, limit int) ([]outboxdomain.EventOutbox, error) {
	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()

	var claimed []outboxdomain.EventOutbox
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		lockStart := time.Now()
		ids, err := s.repo.ListDueIDs(claimCtx, tx, now, limit)
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceOutboxClaim, time.Since(lockStart))
		if err != nil {
			return err
		}
		for _, id := range ids {
			ok, err := s.repo.Claim(claimCtx, tx, id, now, now.Add(s.claimLease))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			event, err := s.repo.FindByID(claimCtx, tx, id)
			if err != nil {
				return err
			}
			if event != nil {
				claimed = append(claimed, *event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Service) deliver(ctx context.Context, event outboxdomain.EventOutbox) outboxdomain.Status {
	log := s.log.With(
		zap.String("outbox_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("destination", event.Destination),
	)
	attempts := event.Attempts + 1

	deliverer, ok := s.deliverers[event.EventType]
	if !ok || deliverer == nil {
		msg := fmt.Sprintf("unsupported event_type %q", event.EventType)
		if err := s.repo.MarkDead(ctx, s.db, event.ID, attempts, msg, s.clock.Now()); err != nil {
			log.Error("outbox.mark_failed", zap.Error(err))
		}
		log.Warn("outbox.dead_letter", zap.String("reason", msg))
		s.incDead(event.EventType)
		return outboxdomain.StatusFailed
	}

	deliverErr := deliverer.Deliver(ctx, event)
	now := s.clock.Now()
	if deliverErr == nil {
		if err := s.repo.MarkSent(ctx, s.db, event.ID, attempts, now); err != nil {
			log.Error("outbox.mark_failed", zap.Error(err))
			return outboxdomain.StatusPending
		}
		log.Info("outbox.sent", zap.Int("attempts", attempts))
		if s.metrics != nil {
			s.metrics.IncDelivered(event.EventType)
		}
		return outboxdomain.StatusSent
	}

	if attempts >= s.maxAttempts {
		msg := fmt.Sprintf("dead after %d attempts: %s", attempts, deliverErr.Error())
		if err := s.repo.MarkDead(ctx, s.db, event.ID, attempts, msg, now); err != nil {
			log.Error("outbox.mark_failed", zap.Error(err))
			return outboxdomain.StatusPending
		}
		log.Warn("outbox.dead_letter", zap.Int("attempts", attempts), zap.Error(deliverErr))
		s.incDead(event.EventType)
		return outboxdomain.StatusFailed
	}

	next := now.Add(outboxdomain.Backoff(attempts, s.backoffCap))
	if err := s.repo.MarkRetry(ctx, s.db, event.ID, attempts, next, deliverErr.Error(), now); err != nil {
		log.Error("outbox.mark_failed", zap.Error(err))
		return outboxdomain.StatusPending
	}
	log.Info("outbox.retry_scheduled",
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(deliverErr),
	)
	if s.metrics != nil {
		s.metrics.IncRetried(event.EventType)
	}
	return outboxdomain.StatusPending
}

func (s *Service) incDead(eventType string) {
	if s.metrics != nil {
		s.metrics.IncDead(eventType)
	}
}

func encodePayload(payload any) (datatypes.JSON, error) {
	switch v := payload.(type) {
	case nil:
		return datatypes.JSON("{}"), nil
	case []byte:
		if !json.Valid(v) {
			return nil, outboxdomain.ErrInvalidPayload
		}
		return datatypes.JSON(v), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, outboxdomain.ErrInvalidPayload
		}
		return datatypes.JSON(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, outboxdomain.ErrInvalidPayload
		}
		return datatypes.JSON(raw), nil
	}
}
