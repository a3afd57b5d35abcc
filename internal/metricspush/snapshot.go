package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/meterguard/internal/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Snapshot holds point-in-time business gauges read from the database.
type Snapshot struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	registry *prometheus.Registry
	pusher   Pusher

	wallets        prometheus.Gauge
	balance        *prometheus.GaugeVec
	outboxByStatus *prometheus.GaugeVec
	events24h      *prometheus.GaugeVec
	pushes         *prometheus.CounterVec
}

func NewSnapshot(db *gorm.DB, pusher Pusher, clk clock.Clock, log *zap.Logger) *Snapshot {
	if log == nil {
		log = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	s := &Snapshot{
		db:       db,
		log:      log.Named("metricspush"),
		clock:    clock.OrSystem(clk),
		registry: registry,
		pusher:   pusher,
		wallets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meterguard",
			Name:      "wallets",
			Help:      "Number of wallets.",
		}),
		balance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meterguard",
			Name:      "wallet_balance_cents",
			Help:      "Sum of wallet balances in minor units.",
		}, []string{"currency"}),
		outboxByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meterguard",
			Name:      "outbox_rows",
			Help:      "Outbox rows by status.",
		}, []string{"status"}),
		events24h: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meterguard",
			Name:      "provider_events_24h",
			Help:      "Provider events received in the last 24 hours.",
		}, []string{"provider", "outcome"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterguard",
			Name:      "metrics_push_total",
			Help:      "Metrics push attempts by result.",
		}, []string{"result"}),
	}
	registry.MustRegister(s.wallets, s.balance, s.outboxByStatus, s.events24h, s.pushes)
	return s
}

func (s *Snapshot) Enabled() bool {
	return s != nil && s.pusher != nil
}

func (s *Snapshot) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

// Collect refreshes every gauge.
func (s *Snapshot) Collect(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	var wallets int64
	if err := db.Table("wallets").Count(&wallets).Error; err != nil {
		return err
	}
	s.wallets.Set(float64(wallets))

	var balances []struct {
		Currency string
		Total    int64
	}
	if err := db.Raw(`SELECT currency, COALESCE(SUM(balance_cents), 0) AS total FROM wallets GROUP BY currency`).
		Scan(&balances).Error; err != nil {
		return err
	}
	s.balance.Reset()
	for _, b := range balances {
		s.balance.WithLabelValues(b.Currency).Set(float64(b.Total))
	}

	var outbox []struct {
		Status string
		Total  int64
	}
	if err := db.Raw(`SELECT status, COUNT(*) AS total FROM event_outbox GROUP BY status`).
		Scan(&outbox).Error; err != nil {
		return err
	}
	s.outboxByStatus.Reset()
	for _, o := range outbox {
		s.outboxByStatus.WithLabelValues(o.Status).Set(float64(o.Total))
	}

	var events []struct {
		Provider string
		Outcome  string
		Total    int64
	}
	since := s.clock.Now().Add(-24 * time.Hour)
	if err := db.Raw(
		`SELECT provider, outcome, COUNT(*) AS total FROM provider_events WHERE received_at >= ? GROUP BY provider, outcome`,
		since,
	).Scan(&events).Error; err != nil {
		return err
	}
	s.events24h.Reset()
	for _, e := range events {
		s.events24h.WithLabelValues(e.Provider, e.Outcome).Set(float64(e.Total))
	}
	return nil
}

// Push collects and ships one snapshot. A disabled pusher is a no-op.
func (s *Snapshot) Push(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.Collect(ctx); err != nil {
		s.pushes.WithLabelValues("collect_error").Inc()
		return err
	}
	if err := s.pusher.Push(ctx, s.registry); err != nil {
		s.pushes.WithLabelValues("error").Inc()
		s.log.Warn("metricspush.push_failed", zap.Error(err))
		return err
	}
	s.pushes.WithLabelValues("ok").Inc()
	return nil
}
