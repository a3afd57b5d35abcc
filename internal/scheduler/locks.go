package scheduler

import (
	"context"
	"time"

	obsmetrics "github.com/smallbiznis/meterguard/internal/observability/metrics"
	"go.uber.org/zap"
)

const jobLockPrefix = "scheduler:"

// withJobLock keeps a job to one replica at a time. Without redis the job
// runs locally.
func (s *Scheduler) withJobLock(ctx context.Context, name string, fn func(context.Context) error) error {
	if !s.locker.Enabled() {
		return fn(ctx)
	}
	ttl := s.cfg.LockTTL
	if ttl < s.cfg.JobTimeout {
		ttl = s.cfg.JobTimeout
	}

	lockStart := time.Now()
	ran, err := s.locker.WithLock(ctx, jobLockPrefix+name, ttl, fn)
	if !ran {
		obsmetrics.Scheduler().ObserveDBLockWait(jobLockPrefix+name, time.Since(lockStart))
		if err != nil {
			s.logger(ctx).Warn("scheduler.lock.failed", zap.String("job", name), zap.Error(err))
			return err
		}
		obsmetrics.Scheduler().IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.logger(ctx).Debug("scheduler.lock.held", zap.String("job", name))
		return nil
	}
	return err
}
