package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	outboxdomain "github.com/smallbiznis/meterguard/internal/outbox/domain"
	"github.com/smallbiznis/meterguard/internal/outbox/delivery"
	"github.com/smallbiznis/meterguard/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type receiver struct {
	status atomic.Int32
	hits   atomic.Int32
	last   atomic.Value
	auth   atomic.Value
}

func newReceiver(t *testing.T, status int) (*receiver, *httptest.Server) {
	t.Helper()
	rcv := &receiver{}
	rcv.status.Store(int32(status))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rcv.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		rcv.last.Store(string(body))
		rcv.auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(int(rcv.status.Load()))
	}))
	t.Cleanup(srv.Close)
	return rcv, srv
}

func setupOutbox(t *testing.T, bearers ...delivery.BearerRule) (outboxdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := testutil.OpenDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Cfg: config.Config{Outbox: config.OutboxConfig{
			MaxAttempts: 5,
			BackoffCap:  time.Hour,
			BatchSize:   10,
			ClaimLease:  time.Minute,
		}},
		Deliverers: map[string]outboxdomain.Deliverer{
			outboxdomain.EventTypeHTTPPost: delivery.NewHTTPDeliverer(nil, time.Second, bearers...),
		},
		Clock: clk,
	})
	return svc, db, clk
}

func TestDrainDeliversPendingRow(t *testing.T) {
	rcv, srv := newReceiver(t, http.StatusAccepted)
	svc, _, _ := setupOutbox(t, delivery.BearerRule{Prefix: srv.URL, Token: "lago-key"})
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, outboxdomain.EventTypeHTTPPost, srv.URL+"/events/usage", map[string]any{"model": "gpt-4o"})
	require.NoError(t, err)

	stats, err := svc.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, outboxdomain.DrainStats{Claimed: 1, Sent: 1}, stats)
	assert.Equal(t, int32(1), rcv.hits.Load())
	assert.Equal(t, "Bearer lago-key", rcv.auth.Load())

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(rcv.last.Load().(string)), &body))
	assert.Equal(t, "gpt-4o", body["model"])

	event, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, outboxdomain.StatusSent, event.Status)
	assert.Equal(t, 1, event.Attempts)

	stats, err = svc.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
}

func TestDrainRetriesWithBackoffThenDeadLetters(t *testing.T) {
	rcv, srv := newReceiver(t, http.StatusInternalServerError)
	svc, _, clk := setupOutbox(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, outboxdomain.EventTypeHTTPPost, srv.URL, []byte(`{"n":1}`))
	require.NoError(t, err)

	wantDelays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, delay := range wantDelays {
		start := clk.Now()
		stats, err := svc.Drain(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Retried, "attempt %d", i+1)

		event, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, outboxdomain.StatusPending, event.Status)
		assert.Equal(t, i+1, event.Attempts)
		require.NotNil(t, event.NextAttemptAt)
		assert.True(t, event.NextAttemptAt.Equal(start.Add(delay)), "attempt %d next=%s", i+1, event.NextAttemptAt)
		require.NotNil(t, event.LastError)

		stats, err = svc.Drain(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, stats.Claimed, "row must wait out its backoff")

		clk.Advance(delay)
	}

	stats, err := svc.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dead)
	assert.Equal(t, int32(5), rcv.hits.Load())

	event, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, outboxdomain.StatusFailed, event.Status)
	assert.Equal(t, 5, event.Attempts)

	clk.Advance(time.Hour)
	stats, err = svc.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
}

func TestRecoveredReceiverGetsRetriedRow(t *testing.T) {
	rcv, srv := newReceiver(t, http.StatusBadGateway)
	svc, _, clk := setupOutbox(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, outboxdomain.EventTypeHTTPPost, srv.URL, nil)
	require.NoError(t, err)
	_, err = svc.Drain(ctx, 0)
	require.NoError(t, err)

	rcv.status.Store(http.StatusOK)
	clk.Advance(2 * time.Second)
	stats, err := svc.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)

	event, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, outboxdomain.StatusSent, event.Status)
	assert.Nil(t, event.LastError)
}

func TestUnsupportedEventTypeIsDeadLettered(t *testing.T) {
	svc, _, _ := setupOutbox(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, "smtp", "mailto:ops@example.com", nil)
	require.NoError(t, err)
	stats, err := svc.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dead)

	event, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, outboxdomain.StatusFailed, event.Status)
}

func TestEnqueueTxRollsBackWithCaller(t *testing.T) {
	svc, db, _ := setupOutbox(t)
	ctx := context.Background()

	var id int64
	err := db.Transaction(func(tx *gorm.DB) error {
		got, err := svc.EnqueueTx(ctx, tx, outboxdomain.EventTypeHTTPPost, "http://example.invalid", map[string]int{"a": 1})
		id = int64(got)
		if err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	require.NotZero(t, id)

	var count int64
	require.NoError(t, db.Model(&outboxdomain.EventOutbox{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEnqueueValidation(t *testing.T) {
	svc, _, _ := setupOutbox(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "", "http://x", nil)
	assert.ErrorIs(t, err, outboxdomain.ErrInvalidEventType)
	_, err = svc.Enqueue(ctx, outboxdomain.EventTypeHTTPPost, " ", nil)
	assert.ErrorIs(t, err, outboxdomain.ErrInvalidDestination)
	_, err = svc.Enqueue(ctx, outboxdomain.EventTypeHTTPPost, "http://x", []byte("{"))
	assert.ErrorIs(t, err, outboxdomain.ErrInvalidPayload)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, outboxdomain.Backoff(1, time.Hour))
	assert.Equal(t, 8*time.Second, outboxdomain.Backoff(3, time.Hour))
	assert.Equal(t, 1024*time.Second, outboxdomain.Backoff(15, time.Hour))
	assert.Equal(t, time.Minute, outboxdomain.Backoff(9, time.Minute))
}
