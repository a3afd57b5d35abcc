package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/meterguard/internal/clock"
	intakedomain "github.com/smallbiznis/meterguard/internal/intake/domain"
	"github.com/smallbiznis/meterguard/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type marker struct {
	ID   int64 `gorm:"primaryKey;autoIncrement"`
	Note string
}

func newTestService(t *testing.T) (intakedomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	require.NoError(t, db.AutoMigrate(&marker{}))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
	})
	return svc, db
}

func testEnvelope(id string) intakedomain.Envelope {
	return intakedomain.Envelope{
		Provider:        "Stripe",
		ExternalEventID: id,
		EventType:       "checkout.session.completed",
		Payload:         []byte(`{"id":"` + id + `"}`),
	}
}

func TestIngestRunsHandlerOnce(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	var calls atomic.Int32
	handler := func(ctx context.Context, tx *gorm.DB) (intakedomain.HandlerOutcome, error) {
		calls.Add(1)
		if err := tx.Create(&marker{Note: "applied"}).Error; err != nil {
			return intakedomain.HandlerOutcome{}, err
		}
		return intakedomain.HandlerOutcome{EntityType: "order", EntityID: 77, Status: "paid", Linked: true}, nil
	}

	first, err := svc.Ingest(ctx, testEnvelope("evt_1"), handler)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.True(t, first.Handled)
	assert.Equal(t, "stripe", first.Provider)
	assert.Equal(t, "paid", first.Status)

	second, err := svc.Ingest(ctx, testEnvelope("evt_1"), handler)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	replayed := second
	replayed.Duplicate = false
	assert.Equal(t, first, replayed)
	assert.Equal(t, "order", second.EntityType)
	assert.Equal(t, int64(77), int64(second.EntityID))

	assert.Equal(t, int32(1), calls.Load())
	var count int64
	require.NoError(t, db.Model(&marker{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := svc.Get(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, intakedomain.OutcomeHandled, stored.Outcome)
	require.NotNil(t, stored.ResultStatus)
	assert.Equal(t, "paid", *stored.ResultStatus)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestIngestConcurrentDeliveries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var calls atomic.Int32
	handler := func(ctx context.Context, tx *gorm.DB) (intakedomain.HandlerOutcome, error) {
		calls.Add(1)
		return intakedomain.HandlerOutcome{Linked: true, EntityType: "order", EntityID: 1}, nil
	}

	var wg sync.WaitGroup
	var duplicates atomic.Int32
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Ingest(ctx, testEnvelope("evt_race"), handler)
			if err == nil && res.Duplicate {
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(5), duplicates.Load())
}

func TestIngestHandlerErrorRollsBack(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := svc.Ingest(ctx, testEnvelope("evt_fail"), func(ctx context.Context, tx *gorm.DB) (intakedomain.HandlerOutcome, error) {
		require.NoError(t, tx.Create(&marker{Note: "partial"}).Error)
		return intakedomain.HandlerOutcome{}, boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&marker{}).Count(&count).Error)
	assert.Zero(t, count)

	stored, err := svc.Get(ctx, "stripe", "evt_fail")
	require.NoError(t, err)
	assert.Nil(t, stored)

	res, err := svc.Ingest(ctx, testEnvelope("evt_fail"), func(ctx context.Context, tx *gorm.DB) (intakedomain.HandlerOutcome, error) {
		return intakedomain.HandlerOutcome{Linked: true, EntityType: "order", EntityID: 3}, nil
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.Handled)
}

func TestIngestUnlinkedEventIsRecorded(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, testEnvelope("evt_orphan"), func(ctx context.Context, tx *gorm.DB) (intakedomain.HandlerOutcome, error) {
		return intakedomain.HandlerOutcome{Status: "paid"}, nil
	})
	require.NoError(t, err)
	assert.False(t, res.Handled)
	assert.False(t, res.Duplicate)

	stored, err := svc.Get(ctx, "stripe", "evt_orphan")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, intakedomain.OutcomeUnlinked, stored.Outcome)
}

func TestIngestValidatesEnvelope(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	noop := func(ctx context.Context, tx *gorm.DB) (intakedomain.HandlerOutcome, error) {
		return intakedomain.HandlerOutcome{}, nil
	}

	_, err := svc.Ingest(ctx, intakedomain.Envelope{Provider: "stripe", EventType: "x"}, noop)
	assert.ErrorIs(t, err, intakedomain.ErrInvalidEnvelope)

	env := testEnvelope("evt_bad")
	env.Payload = []byte("{not json")
	_, err = svc.Ingest(ctx, env, noop)
	assert.ErrorIs(t, err, intakedomain.ErrInvalidPayload)

	_, err = svc.Ingest(ctx, testEnvelope("evt_nil"), nil)
	assert.ErrorIs(t, err, intakedomain.ErrHandlerRequired)
}

func TestStatusMappingPrecedence(t *testing.T) {
	m := intakedomain.StatusMapping{
		ByEventType: map[string]string{"invoice.paid": "paid"},
		ByStatus:    map[string]string{"open": "finalized"},
		Default:     "unknown",
	}
	assert.Equal(t, "paid", m.Resolve("invoice.paid", "open"))
	assert.Equal(t, "finalized", m.Resolve("invoice.updated", " OPEN "))
	assert.Equal(t, "unknown", m.Resolve("invoice.updated", "weird"))
}

func TestIngestDuplicateOfUnlinkedEvent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	handler := func(ctx context.Context, tx *gorm.DB) (intakedomain.HandlerOutcome, error) {
		return intakedomain.HandlerOutcome{Status: "failed"}, nil
	}

	first, err := svc.Ingest(ctx, testEnvelope("evt_unlinked"), handler)
	require.NoError(t, err)
	second, err := svc.Ingest(ctx, testEnvelope("evt_unlinked"), handler)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.False(t, second.Handled)
	assert.Equal(t, "failed", second.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Empty(t, second.EntityType)
}

func TestIngestEventIDReusedForOtherType(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	handler := func(ctx context.Context, tx *gorm.DB) (intakedomain.HandlerOutcome, error) {
		return intakedomain.HandlerOutcome{}, nil
	}

	_, err := svc.Ingest(ctx, testEnvelope("evt_reused"), handler)
	require.NoError(t, err)

	env := testEnvelope("evt_reused")
	env.EventType = "charge.refunded"
	_, err = svc.Ingest(ctx, env, handler)
	assert.ErrorIs(t, err, intakedomain.ErrEventConflict)
}
