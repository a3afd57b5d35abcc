package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	budgetsyncdomain "github.com/smallbiznis/meterguard/internal/budgetsync/domain"
	"github.com/smallbiznis/meterguard/internal/cache"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/metricspush"
	obsmetrics "github.com/smallbiznis/meterguard/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/meterguard/internal/outbox/domain"
	"github.com/smallbiznis/meterguard/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	OutboxSvc  outboxdomain.Service
	BudgetSync budgetsyncdomain.Service `optional:"true"`
	StateStore cache.StateStore         `optional:"true"`
	Snapshot   *metricspush.Snapshot    `optional:"true"`
	Locker     *ratelimit.Locker        `optional:"true"`
	Clock      clock.Clock              `optional:"true"`
	Config     Config                   `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	outboxSvc  outboxdomain.Service
	budgetSync budgetsyncdomain.Service
	stateStore cache.StateStore
	snapshot   *metricspush.Snapshot
	locker     *ratelimit.Locker

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.OutboxSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      clock.OrSystem(p.Clock),
		outboxSvc:  p.OutboxSvc,
		budgetSync: p.BudgetSync,
		stateStore: p.StateStore,
		snapshot:   p.Snapshot,
		locker:     p.Locker,
		lastRun:    make(map[string]time.Time),
	}, nil
}

type job struct {
	name     string
	enabled  bool
	interval time.Duration
	batch    int
	run      func(context.Context) error
}

func (s *Scheduler) jobs() []job {
	return []job{
		{
			name:     JobOutboxDrain,
			enabled:  s.cfg.OutboxEnabled,
			interval: s.cfg.OutboxInterval,
			batch:    s.cfg.OutboxBatchSize,
			run:      s.OutboxDrainJob,
		},
		{
			name:     JobBudgetSync,
			enabled:  s.cfg.BudgetSyncEnabled && s.budgetSync != nil,
			interval: s.cfg.BudgetSyncInterval,
			run:      s.BudgetSyncJob,
		},
		{
			name:     JobStateSweep,
			enabled:  s.stateStore != nil,
			interval: s.cfg.StateSweepInterval,
			run:      s.StateSweepJob,
		},
		{
			name:     JobMetricsPush,
			enabled:  s.snapshot.Enabled(),
			interval: s.cfg.MetricsPushInterval,
			run:      s.MetricsPushJob,
		},
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errors == 0 {
			run.Failed(1)
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout; the next tick picks the work up again.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("scheduler.job.timeout",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job whose interval has elapsed. A failing job
// never stops the ones after it.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	now := s.clock.Now()
	for _, j := range s.jobs() {
		if !j.enabled || !s.isJobEnabled(j.name) || !s.due(j.name, j.interval, now) {
			continue
		}
		j := j
		err = errors.Join(err, s.runJob(parent, j.name, j.batch, s.cfg.JobTimeout, func(ctx context.Context) error {
			return s.withJobLock(ctx, j.name, j.run)
		}))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// due records now as the job's last run when it fires.
func (s *Scheduler) due(name string, interval time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[name]
	if ok && now.Sub(last) < interval {
		return false
	}
	s.lastRun[name] = now
	return true
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) OutboxDrainJob(ctx context.Context) error {
	stats, err := s.outboxSvc.Drain(ctx, s.cfg.OutboxBatchSize)
	if err != nil {
		s.logJobError(ctx, JobOutboxDrain, err)
		return err
	}
	run := jobRunFromContext(ctx)
	run.Count("sent", stats.Sent)
	run.Count("retried", stats.Retried)
	run.Count("dead", stats.Dead)
	return nil
}

func (s *Scheduler) BudgetSyncJob(ctx context.Context) error {
	stats, err := s.budgetSync.SyncAll(ctx, s.cfg.BudgetSyncCurrency)
	if err != nil {
		s.logJobError(ctx, JobBudgetSync, err)
		return err
	}
	run := jobRunFromContext(ctx)
	run.Count("synced", stats.Synced)
	run.Count("skipped", stats.Skipped)
	run.Failed(stats.Failed)
	return nil
}

func (s *Scheduler) StateSweepJob(ctx context.Context) error {
	jobRunFromContext(ctx).Count("expired", s.stateStore.Sweep(ctx))
	return nil
}

func (s *Scheduler) MetricsPushJob(ctx context.Context) error {
	if err := s.snapshot.Push(ctx); err != nil {
		s.logJobError(ctx, JobMetricsPush, err)
		return err
	}
	jobRunFromContext(ctx).Count("pushed", 1)
	return nil
}
