package lago

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/config"
	outboxdomain "github.com/smallbiznis/meterguard/internal/outbox/domain"
	"github.com/smallbiznis/meterguard/pkg/softresult"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	reasonDisabled      = "lago_events_disabled"
	reasonNotConfigured = "lago_not_configured"
)

type UsageEvent struct {
	Account            accountdomain.Account
	TeamID             *snowflake.ID
	Model              string
	Unit               string
	Tokens             Tokens
	PriceRuleID        *snowflake.ID
	UnitBasePriceCents *int64
	PriceMultiplier    *float64
	AmountCents        int64
	Currency           string
	OccurredAt         time.Time
	RequestID          string
	Success            bool
	Meta               map[string]any
}

type PaymentEvent struct {
	EventType     string
	Provider      string
	ProviderTxnID string
	OrderID       string
	AmountCents   int64
	Currency      string
	Status        string
	RequestID     string
	Account       accountdomain.Account
	Meta          map[string]any
}

type CreditEvent struct {
	Account     accountdomain.Account
	Currency    string
	AmountCents int64
	OrderID     string
}

type Params struct {
	fx.In

	Cfg    config.Config
	Log    *zap.Logger
	Outbox outboxdomain.Service `optional:"true"`
}

// Sink turns usage and payment facts into outbox rows addressed to Lago.
type Sink struct {
	cfg    config.LagoConfig
	log    *zap.Logger
	outbox outboxdomain.Service
}

func NewSink(p Params) *Sink {
	return &Sink{
		cfg:    p.Cfg.Lago,
		log:    p.Log.Named("lago.sink"),
		outbox: p.Outbox,
	}
}

// Enabled reports whether events are forwarded at all.
func (s *Sink) Enabled() bool {
	return s != nil && s.cfg.EventsEnabled && s.outbox != nil
}

// UsageTx enqueues a usage event through tx. The error is non-nil only when
// the outbox write itself failed, which must abort tx.
func (s *Sink) UsageTx(ctx context.Context, tx *gorm.DB, ev UsageEvent) (softresult.Result, error) {
	if res, ok := s.precheck(); !ok {
		return res, nil
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	payload := UsagePayload{
		UsageID: ulid.Make().String(),
		Subject: SubjectOf(ev.Account, ev.TeamID),
		Model:   ev.Model,
		Unit:    ev.Unit,
		Tokens:  ev.Tokens,
		Pricing: Pricing{
			PriceRuleID:         idString(ev.PriceRuleID),
			UnitBasePriceCents:  ev.UnitBasePriceCents,
			PriceMultiplier:     ev.PriceMultiplier,
			ComputedAmountCents: ev.AmountCents,
			Currency:            strings.ToUpper(ev.Currency),
		},
		Timestamp: rfc3339(occurred),
		RequestID: optional(ev.RequestID),
		Success:   ev.Success,
		Meta:      nonNilMeta(ev.Meta),
	}
	return s.enqueue(ctx, tx, s.cfg.UsageEndpoint, payload)
}

func (s *Sink) PaymentTx(ctx context.Context, tx *gorm.DB, ev PaymentEvent) (softresult.Result, error) {
	if res, ok := s.precheck(); !ok {
		return res, nil
	}
	payload := PaymentPayload{
		EventType:     ev.EventType,
		Provider:      ev.Provider,
		ProviderTxnID: ev.ProviderTxnID,
		OrderID:       ev.OrderID,
		AmountCents:   ev.AmountCents,
		Currency:      strings.ToUpper(ev.Currency),
		Status:        ev.Status,
		RequestID:     optional(ev.RequestID),
		Subject:       SubjectOf(ev.Account, nil),
		Meta:          nonNilMeta(ev.Meta),
	}
	return s.enqueue(ctx, tx, s.cfg.PaymentsEndpoint, payload)
}

func (s *Sink) CreditTx(ctx context.Context, tx *gorm.DB, ev CreditEvent) (softresult.Result, error) {
	if res, ok := s.precheck(); !ok {
		return res, nil
	}
	payload := CreditPayload{
		Subject:     SubjectOf(ev.Account, nil),
		Currency:    strings.ToUpper(ev.Currency),
		AmountCents: ev.AmountCents,
		OrderID:     ev.OrderID,
	}
	return s.enqueue(ctx, tx, s.cfg.CreditEndpoint, payload)
}

func (s *Sink) precheck() (softresult.Result, bool) {
	if s == nil || !s.cfg.EventsEnabled {
		return softresult.Skipped(reasonDisabled), false
	}
	if s.outbox == nil || strings.TrimSpace(s.cfg.APIURL) == "" {
		return softresult.Skipped(reasonNotConfigured), false
	}
	return softresult.Result{}, true
}

func (s *Sink) enqueue(ctx context.Context, tx *gorm.DB, endpoint string, payload any) (softresult.Result, error) {
	destination := s.cfg.APIURL + "/" + strings.TrimLeft(endpoint, "/")
	id, err := s.outbox.EnqueueTx(ctx, tx, outboxdomain.EventTypeHTTPPost, destination, payload)
	if err != nil {
		s.log.Warn("lago.enqueue_failed", zap.String("destination", destination), zap.Error(err))
		return softresult.Failed(err), err
	}
	s.log.Debug("lago.enqueued", zap.String("outbox_id", id.String()), zap.String("destination", destination))
	return softresult.OK(), nil
}
