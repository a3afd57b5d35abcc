package metrics

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics tracks delivery outcomes of the event outbox.
type OutboxMetrics struct {
	delivered *prometheus.CounterVec
	retried   *prometheus.CounterVec
	dead      *prometheus.CounterVec
	pending   prometheus.Gauge
}

// NewOutboxMetrics registers outbox collectors on the default registerer.
func NewOutboxMetrics(cfg Config) (*OutboxMetrics, error) {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer, cfg)
}

// NewOutboxMetricsWithRegisterer registers outbox collectors on registerer.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer, cfg Config) (*OutboxMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "meterguard"
	}
	constLabels := prometheus.Labels{"service": serviceName}

	m := &OutboxMetrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meterguard_outbox_delivered_total",
			Help:        "Outbox events delivered successfully.",
			ConstLabels: constLabels,
		}, []string{"event_type"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meterguard_outbox_retried_total",
			Help:        "Outbox deliveries that failed and were rescheduled.",
			ConstLabels: constLabels,
		}, []string{"event_type"}),
		dead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meterguard_outbox_dead_total",
			Help:        "Outbox events moved to failed after exhausting attempts.",
			ConstLabels: constLabels,
		}, []string{"event_type"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "meterguard_outbox_last_batch_size",
			Help:        "Rows claimed by the most recent drain.",
			ConstLabels: constLabels,
		}),
	}

	var err error
	if m.delivered, err = registerOrExisting(registerer, m.delivered); err != nil {
		return nil, err
	}
	if m.retried, err = registerOrExisting(registerer, m.retried); err != nil {
		return nil, err
	}
	if m.dead, err = registerOrExisting(registerer, m.dead); err != nil {
		return nil, err
	}
	if m.pending, err = registerOrExisting(registerer, m.pending); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrExisting returns the already registered collector when one with
// the same descriptor exists, so repeated construction shares series.
func registerOrExisting[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *OutboxMetrics) IncDelivered(eventType string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(eventType).Inc()
}

func (m *OutboxMetrics) IncRetried(eventType string) {
	if m == nil {
		return
	}
	m.retried.WithLabelValues(eventType).Inc()
}

func (m *OutboxMetrics) IncDead(eventType string) {
	if m == nil {
		return
	}
	m.dead.WithLabelValues(eventType).Inc()
}

func (m *OutboxMetrics) SetBatchSize(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
