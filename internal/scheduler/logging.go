package scheduler

import (
	"context"
	"sort"
	"time"

	obscontext "github.com/smallbiznis/meterguard/internal/observability/context"
	obslogger "github.com/smallbiznis/meterguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterguard/internal/observability/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// jobRun accumulates what one execution of a job did. Every log line inside
// the run carries its run_id as the correlation id.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	outcomes  map[string]int
	errors    int
}

type jobRunKey struct{}

// Count records n items that ended in outcome ("sent", "dead", "synced").
// Nil-safe so jobs can be called directly outside runJob.
func (r *jobRun) Count(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.outcomes[outcome] += n
	obsmetrics.Scheduler().AddBatchProcessed(r.job, outcome, n)
}

func (r *jobRun) Failed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.errors += n
}

func (r *jobRun) processed() int {
	total := 0
	for _, n := range r.outcomes {
		total += n
	}
	return total
}

// outcomeFields is sorted so the log line is stable.
type outcomeFields map[string]int

func (o outcomeFields) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		enc.AddInt(k, o[k])
	}
	return nil
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
		outcomes:  make(map[string]int),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx = obscontext.WithCorrelationID(ctx, run.runID)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.Int("batch_size", run.batchSize),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed", run.processed()),
		zap.Object("outcomes", outcomeFields(run.outcomes)),
		zap.Int("errors", run.errors),
	}
	log := s.logger(ctx)
	switch {
	case run.errors > 0:
		log.Warn("scheduler.job.finish", fields...)
	case run.processed() > 0:
		log.Info("scheduler.job.finish", fields...)
	default:
		log.Debug("scheduler.job.finish", fields...)
	}
}

func (s *Scheduler) logJobError(ctx context.Context, job string, err error) {
	jobRunFromContext(ctx).Failed(1)
	s.logger(ctx).Error("scheduler.job.failed",
		zap.String("job", job),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
}
