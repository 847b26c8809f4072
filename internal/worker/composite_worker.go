package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/service"
)

// JobRunner drives one composite job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// CompositeWorker processes composite generation tasks.
type CompositeWorker struct {
	runner JobRunner
	logger *zap.Logger
}

func NewCompositeWorker(runner JobRunner, logger *zap.Logger) *CompositeWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompositeWorker{runner: runner, logger: logger.Named("worker")}
}

// ProcessTask handles composite task processing. Job failures are recorded on
// the job and do not fail the task.
func (w *CompositeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	jobID, err := service.ParseCompositeTask(t)
	if err != nil {
		w.logger.Error("dropping malformed task", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := w.logger.With(zap.String("job_id", jobID))
	log.Info("starting composite job")
	start := time.Now()

	if err := w.runner.Run(ctx, jobID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			log.Warn("job no longer exists")
			return fmt.Errorf("job %s not found: %w", jobID, asynq.SkipRetry)
		}
		log.Error("composite job aborted", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return err
	}

	log.Info("composite job finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}
