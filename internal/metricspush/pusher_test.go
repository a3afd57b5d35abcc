package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/meterguard/internal/ledger/service"
	"github.com/smallbiznis/meterguard/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

type remoteWriteSink struct {
	mu       sync.Mutex
	requests []prompb.WriteRequest
	headers  []http.Header
	status   int
}

func (s *remoteWriteSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	raw, err := snappy.Decode(nil, body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req prompb.WriteRequest
	if err := proto.Unmarshal(raw, protoadapt.MessageV2Of(&req)); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.headers = append(s.headers, r.Header.Clone())
	status := s.status
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func seriesValue(req prompb.WriteRequest, name string, labels map[string]string) (float64, bool) {
	for _, ts := range req.Timeseries {
		got := map[string]string{}
		for _, l := range ts.Labels {
			got[l.Name] = l.Value
		}
		if got["__name__"] != name {
			continue
		}
		match := true
		for k, v := range labels {
			if got[k] != v {
				match = false
				break
			}
		}
		if match && len(ts.Samples) == 1 {
			return ts.Samples[0].Value, true
		}
	}
	return 0, false
}

func TestSnapshotPushesRemoteWrite(t *testing.T) {
	db := testutil.OpenDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: zap.NewNop(), GenID: testutil.Node(t), Clock: clk})
	ctx := context.Background()

	_, err := ledger.Credit(ctx, ledgerdomain.CreditRequest{Account: accountdomain.UserAccount(1), Currency: "USD", AmountCents: 500})
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, ledgerdomain.DebitRequest{Account: accountdomain.TeamAccount(2), Currency: "USD", AmountCents: 200})
	require.NoError(t, err)

	sink := &remoteWriteSink{}
	srv := httptest.NewServer(sink)
	t.Cleanup(srv.Close)

	pusher := NewPusher(config.Config{Metrics: config.MetricsPushConfig{
		Exporter:  ExporterRemoteWrite,
		Endpoint:  srv.URL + "/api/v1/write",
		AuthToken: "push-token",
	}}, zap.NewNop())
	require.NotNil(t, pusher)

	snapshot := NewSnapshot(db, pusher, clk, zap.NewNop())
	require.True(t, snapshot.Enabled())
	require.NoError(t, snapshot.Push(ctx))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.requests, 1)
	assert.Equal(t, "Bearer push-token", sink.headers[0].Get("Authorization"))
	assert.Equal(t, "snappy", sink.headers[0].Get("Content-Encoding"))

	wallets, ok := seriesValue(sink.requests[0], "meterguard_wallets", nil)
	require.True(t, ok)
	assert.Equal(t, float64(2), wallets)

	balance, ok := seriesValue(sink.requests[0], "meterguard_wallet_balance_cents", map[string]string{"currency": "USD"})
	require.True(t, ok)
	assert.Equal(t, float64(300), balance)
}

func TestSnapshotPushFailure(t *testing.T) {
	db := testutil.OpenDB(t)
	sink := &remoteWriteSink{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(sink)
	t.Cleanup(srv.Close)

	snapshot := NewSnapshot(db, NewRemoteWritePusher(srv.URL, "", nil), nil, zap.NewNop())
	require.NoError(t, snapshot.Collect(context.Background()))
	// Gathered gauges are present even on an empty database.
	err := snapshot.Push(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNewPusherDisabled(t *testing.T) {
	assert.Nil(t, NewPusher(config.Config{}, nil))
	assert.Nil(t, NewPusher(config.Config{Metrics: config.MetricsPushConfig{Exporter: ExporterRemoteWrite}}, nil))
	assert.Nil(t, NewPusher(config.Config{Metrics: config.MetricsPushConfig{Exporter: "statsd", Endpoint: "http://x"}}, nil))
	assert.Nil(t, NewPusher(config.Config{Metrics: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "not a url"}}, nil))

	p := NewPusher(config.Config{AppName: "meterguard", Metrics: config.MetricsPushConfig{Exporter: ExporterPushgateway, Endpoint: "http://gw:9091"}}, nil)
	_, ok := p.(*PushgatewayPusher)
	assert.True(t, ok)

	disabled := NewSnapshot(testutil.OpenDB(t), nil, nil, nil)
	assert.False(t, disabled.Enabled())
	assert.NoError(t, disabled.Push(context.Background()))
}
