package sweeper

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/coursemart/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/coursemart/internal/observability/metrics"
	"github.com/smallbiznis/coursemart/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

type sweepRun struct {
	runID     string
	startedAt time.Time
}

type jobRun struct {
	job            string
	runID          string
	startedAt      time.Time
	processedCount int
	deferredCount  int
	errorCount     int
}

func (s *Sweeper) newRun() *sweepRun {
	return &sweepRun{runID: correlation.NewID(), startedAt: s.clock.Now()}
}

func (r *sweepRun) startJob(name string) *jobRun {
	return &jobRun{job: name, runID: r.runID, startedAt: time.Now()}
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncDeferred() {
	if r == nil {
		return
	}
	r.deferredCount++
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Sweeper) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Sweeper) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Debug("sweeper.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
}

func (s *Sweeper) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("deferred_count", run.deferredCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("sweeper.job.finish", fields...)
		return
	}
	log.Info("sweeper.job.finish", fields...)
}

func (s *Sweeper) logSweeperError(ctx context.Context, run *jobRun, msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	baseFields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("error_type", obsmetrics.ClassifySweeperErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSweeperErrorRetryable(err)),
		zap.Error(err),
	}
	s.logger(ctx).Error(msg, append(baseFields, fields...)...)
}
