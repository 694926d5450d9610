package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/bulkbuy/internal/observability/context"
	obslogger "github.com/smallbiznis/bulkbuy/internal/observability/logger"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, obscontext.ActorTypeSystem, "scheduler")
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logGroupError(ctx context.Context, run *jobRun, job string, groupID snowflake.ID, err error) {
	if err == nil {
		return
	}
	if run != nil {
		run.IncError()
	}
	fields := []zap.Field{
		zap.String("job", job),
		zap.String("group_id", idString(groupID)),
		zap.String("error_kind", string(domain.KindOf(err))),
		zap.Bool("retryable", domain.Retryable(err)),
		zap.Error(err),
	}
	if domain.Retryable(err) {
		s.logger(ctx).Warn("scheduler.group.deferred", fields...)
		return
	}
	s.logger(ctx).Error("scheduler.group.failed", fields...)
}

func (s *Scheduler) logGroupTransitioned(ctx context.Context, job string, before domain.Group, after domain.Group) {
	s.logger(ctx).Info("scheduler.group.transitioned",
		zap.String("job", job),
		zap.String("group_id", idString(after.ID)),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
		zap.String("reason", after.CancelReason),
	)
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
