package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes domain-level instruments.
type Metrics struct {
	usageRecorded  metric.Int64Counter
	usageCost      metric.Int64Counter
	ledgerEntries  metric.Int64Counter
	providerEvents metric.Int64Counter
	quotaDecisions metric.Int64Counter
	overdrafts     metric.Int64Counter
	overdraftCents metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "meterguard"
	}
	meter := provider.Meter(name)

	usageRecorded, err := meter.Int64Counter("meterguard_usage_recorded_total")
	if err != nil {
		return nil, err
	}
	usageCost, err := meter.Int64Counter("meterguard_usage_cost_cents_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("meterguard_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	providerEvents, err := meter.Int64Counter("meterguard_provider_events_total")
	if err != nil {
		return nil, err
	}
	quotaDecisions, err := meter.Int64Counter("meterguard_quota_decisions_total")
	if err != nil {
		return nil, err
	}

	overdrafts, err := meter.Int64Counter("meterguard_overdraft_alerts_total",
		metric.WithDescription("Settlements whose final cost exceeded the remaining daily limit."))
	if err != nil {
		return nil, err
	}
	overdraftCents, err := meter.Int64Counter("meterguard_overdraft_uncharged_cents_total",
		metric.WithDescription("Cost above the daily limit that was not charged."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		overdrafts:     overdrafts,
		overdraftCents: overdraftCents,
		usageRecorded:  usageRecorded,
		usageCost:      usageCost,
		ledgerEntries:  ledgerEntries,
		providerEvents: providerEvents,
		quotaDecisions: quotaDecisions,
	}, nil
}

// RecordUsage counts a settled usage record and its cost.
func (m *Metrics) RecordUsage(ctx context.Context, model string, costCents int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("model", strings.TrimSpace(model)))
	m.usageRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
	if costCents > 0 {
		m.usageCost.Add(ctx, costCents, metric.WithAttributes(attrs...))
	}
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, entryType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("entry_type", strings.TrimSpace(entryType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderEvent counts an inbound provider event by outcome.
func (m *Metrics) RecordProviderEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.providerEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQuotaDecision counts allow/block/degrade decisions.
func (m *Metrics) RecordQuotaDecision(ctx context.Context, decision, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("decision", strings.TrimSpace(decision)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.quotaDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOverdraft counts an overdraft alert. uncharged is final minus charged.
func (m *Metrics) RecordOverdraft(ctx context.Context, policy string, uncharged int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("policy", strings.TrimSpace(policy)))...)
	m.overdrafts.Add(ctx, 1, attrs)
	if uncharged > 0 {
		m.overdraftCents.Add(ctx, uncharged, attrs)
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Account and user identifiers are never labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"model":       {},
	"entry_type":  {},
	"provider":    {},
	"event_type":  {},
	"outcome":     {},
	"decision":    {},
	"reason":      {},
	"policy":      {},
	"status_code": {},
	"route":       {},
	"method":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
