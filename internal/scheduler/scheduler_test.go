package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	budgetsyncdomain "github.com/smallbiznis/meterguard/internal/budgetsync/domain"
	"github.com/smallbiznis/meterguard/internal/cache"
	"github.com/smallbiznis/meterguard/internal/clock"
	obsmetrics "github.com/smallbiznis/meterguard/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/meterguard/internal/outbox/domain"
	"github.com/smallbiznis/meterguard/pkg/softresult"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fakeOutbox struct {
	drains atomic.Int32
	err    error
	stats  outboxdomain.DrainStats
}

func (f *fakeOutbox) Enqueue(context.Context, string, string, any) (snowflake.ID, error) {
	return 0, nil
}

func (f *fakeOutbox) EnqueueTx(context.Context, *gorm.DB, string, string, any) (snowflake.ID, error) {
	return 0, nil
}

func (f *fakeOutbox) Drain(ctx context.Context, maxBatch int) (outboxdomain.DrainStats, error) {
	f.drains.Add(1)
	return f.stats, f.err
}

func (f *fakeOutbox) Get(context.Context, snowflake.ID) (*outboxdomain.EventOutbox, error) {
	return nil, outboxdomain.ErrEventNotFound
}

type fakeBudgetSync struct {
	calls    atomic.Int32
	currency string
}

func (f *fakeBudgetSync) SyncAccount(context.Context, accountdomain.Account) softresult.Result {
	return softresult.OK()
}

func (f *fakeBudgetSync) SyncAll(ctx context.Context, currency string) (budgetsyncdomain.SyncStats, error) {
	f.calls.Add(1)
	f.currency = currency
	return budgetsyncdomain.SyncStats{Considered: 2, Synced: 2}, nil
}

func newTestScheduler(t *testing.T, p Params) (*Scheduler, *clock.FakeClock) {
	t.Helper()
	registry := prometheus.NewRegistry()
	t.Cleanup(swapPrometheusRegistry(registry))
	obsmetrics.ResetSchedulerMetricsForTest()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p.Log = zap.NewNop()
	p.GenID = node
	p.Clock = clk
	s, err := New(p)
	require.NoError(t, err)
	return s, clk
}

func TestNewRequiresOutbox(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRespectsJobIntervals(t *testing.T) {
	outbox := &fakeOutbox{stats: outboxdomain.DrainStats{Claimed: 2, Sent: 2}}
	budget := &fakeBudgetSync{}
	s, clk := newTestScheduler(t, Params{
		OutboxSvc:  outbox,
		BudgetSync: budget,
		Config: Config{
			OutboxEnabled:      true,
			OutboxInterval:     5 * time.Second,
			BudgetSyncEnabled:  true,
			BudgetSyncInterval: time.Minute,
			BudgetSyncCurrency: "USD",
		},
	})
	ctx := context.Background()

	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, int32(1), outbox.drains.Load())
	assert.Equal(t, int32(1), budget.calls.Load())
	assert.Equal(t, "USD", budget.currency)

	clk.Advance(time.Second)
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, int32(1), outbox.drains.Load())

	clk.Advance(5 * time.Second)
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, int32(2), outbox.drains.Load())
	assert.Equal(t, int32(1), budget.calls.Load())

	clk.Advance(time.Minute)
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, int32(3), outbox.drains.Load())
	assert.Equal(t, int32(2), budget.calls.Load())
}

func TestFailingJobDoesNotBlockOthers(t *testing.T) {
	outbox := &fakeOutbox{err: errors.New("db down")}
	budget := &fakeBudgetSync{}
	s, _ := newTestScheduler(t, Params{
		OutboxSvc:  outbox,
		BudgetSync: budget,
		Config:     Config{OutboxEnabled: true, BudgetSyncEnabled: true},
	})

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobOutboxDrain)
	assert.Equal(t, int32(1), budget.calls.Load())
}

func TestDisabledJobsDoNotRun(t *testing.T) {
	outbox := &fakeOutbox{}
	budget := &fakeBudgetSync{}
	s, _ := newTestScheduler(t, Params{
		OutboxSvc:  outbox,
		BudgetSync: budget,
		Config:     Config{OutboxEnabled: true, EnabledJobs: []string{"BUDGET_SYNC"}},
	})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Zero(t, outbox.drains.Load())
	// BudgetSyncEnabled is false, so the allow-list alone does not run it.
	assert.Zero(t, budget.calls.Load())
}

func TestStateSweepRemovesExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	store := cache.NewMemoryStateStore(func() time.Time { return current })
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "s1", "v1", time.Minute))
	require.NoError(t, store.Put(ctx, "s2", "v2", time.Hour))

	s, _ := newTestScheduler(t, Params{OutboxSvc: &fakeOutbox{}, StateStore: store})
	current = now.Add(2 * time.Minute)

	require.NoError(t, s.RunOnce(ctx))
	_, ok, err := store.Take(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = store.Take(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "meterguard",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "meterguard",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "meterguard_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "meterguard",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "meterguard_scheduler_job_errors_total", errorLabels))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

func TestJobFinishLogsOutcomes(t *testing.T) {
	outbox := &fakeOutbox{stats: outboxdomain.DrainStats{Claimed: 4, Sent: 3, Dead: 1}}
	s, _ := newTestScheduler(t, Params{
		OutboxSvc: outbox,
		Config:    Config{OutboxEnabled: true},
	})
	core, logs := observer.New(zap.DebugLevel)
	s.log = zap.New(core)

	require.NoError(t, s.RunOnce(context.Background()))

	finished := logs.FilterMessage("scheduler.job.finish").All()
	require.Len(t, finished, 1)
	fields := finished[0].ContextMap()
	assert.Equal(t, JobOutboxDrain, fields["job"])
	assert.EqualValues(t, 4, fields["processed"])
	outcomes, ok := fields["outcomes"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, outcomes["sent"])
	assert.EqualValues(t, 1, outcomes["dead"])
	assert.NotContains(t, outcomes, "retried")
	assert.NotEmpty(t, fields["correlation_id"])
}

func TestJobCalledDirectlyWithoutRun(t *testing.T) {
	outbox := &fakeOutbox{stats: outboxdomain.DrainStats{Claimed: 1, Sent: 1}}
	s, _ := newTestScheduler(t, Params{OutboxSvc: outbox})

	require.NoError(t, s.OutboxDrainJob(context.Background()))
	assert.Equal(t, int32(1), outbox.drains.Load())
}
