package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsAccountLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("account_id", "123"),
		attribute.String("user_id", "456"),
		attribute.String("model", "gpt-4o"),
		attribute.String("provider", "stripe"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	require.Contains(t, keys, attribute.Key("model"))
	require.Contains(t, keys, attribute.Key("provider"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordUsage(ctx, "gpt-4o", 10)
	m.RecordLedgerEntry(ctx, "usage")
	m.RecordProviderEvent(ctx, "stripe", "payment_succeeded", "processed")
	m.RecordQuotaDecision(ctx, "block", "insufficient_balance")
	m.RecordOverdraft(ctx, "grace", 5)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "meterguard-test"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordUsage(context.Background(), "gpt-4o", 25)
}

func TestRecordOverdraftCountsUnchargedCents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordOverdraft(ctx, "grace", 200)
	m.RecordOverdraft(ctx, "block", 0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	sums := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			data, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range data.DataPoints {
				sums[md.Name] += dp.Value
			}
		}
	}
	require.Equal(t, int64(2), sums["meterguard_overdraft_alerts_total"])
	require.Equal(t, int64(200), sums["meterguard_overdraft_uncharged_cents_total"])
}
