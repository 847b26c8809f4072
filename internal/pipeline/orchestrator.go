package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/media"
	"github.com/castreel/api/internal/model"
	"github.com/castreel/api/internal/store"
)

// FrameExtractor returns a still image of a clip.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, videoRef string, pos media.Position) (string, error)
}

type Stitcher interface {
	Stitch(ctx context.Context, refs []string, durations []float64, ratio model.AspectRatio) (*media.StitchResult, error)
}

// Orchestrator runs a composite job from its persisted state to a terminal state.
type Orchestrator struct {
	store     store.JobStore
	processor *ClipProcessor
	frames    FrameExtractor
	stitcher  Stitcher
	notifier  Notifier
	logger    *zap.Logger
}

func NewOrchestrator(jobs store.JobStore, processor *ClipProcessor, frames FrameExtractor, stitcher Stitcher, notifier Notifier, logger *zap.Logger) *Orchestrator {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     jobs,
		processor: processor,
		frames:    frames,
		stitcher:  stitcher,
		notifier:  notifier,
		logger:    logger.Named("orchestrator"),
	}
}

// Run resumes jobID from whatever state was last persisted. Job failures are
// recorded on the job; only store errors are returned.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	log := o.logger.With(zap.String("job_id", job.ID))

	if job.Status.IsTerminal() {
		log.Info("job already finished", zap.String("status", string(job.Status)))
		return nil
	}

	if job.Status == model.CompositePending {
		if err := job.StartGenerating(); err != nil {
			return err
		}
		if err := o.saveJob(ctx, job); err != nil {
			return err
		}
		log.Info("job started", zap.Int("clips", job.TotalClips), zap.String("model", string(job.Model)))
		o.notifier.Progress(job, "generating clips")
	}

	if job.Status == model.CompositeGeneratingClips {
		if err := o.generateClips(ctx, job); err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}
		if err := job.StartStitching(); err != nil {
			return err
		}
		if err := o.saveJob(ctx, job); err != nil {
			return err
		}
		o.notifier.Progress(job, "stitching")
	}

	return o.stitch(ctx, job)
}

// generateClips walks clips in index order. On return the job is either still
// generating with every clip completed, or failed.
func (o *Orchestrator) generateClips(ctx context.Context, job *model.CompositeVideo) error {
	log := o.logger.With(zap.String("job_id", job.ID))
	last := len(job.Clips) - 1

	var continuity string
	continuityBroken := false

	for i := range job.Clips {
		clip := &job.Clips[i]

		if clip.Status != model.ClipCompleted {
			if reason, stop := o.stopReason(ctx, job.ID); stop {
				return o.fail(ctx, job, reason)
			}
			if clip.Status == model.ClipFailed {
				return o.fail(ctx, job, fmt.Sprintf("clip %d failed: %s", clip.Index, clip.ErrorMessage))
			}

			if err := o.processor.Process(ctx, job, clip, continuity); err != nil {
				if apperr.Is(err, apperr.KindPersistence) {
					return err
				}
				if ctx.Err() != nil {
					return o.fail(ctx, job, interruptedMessage(ctx))
				}
				return o.fail(ctx, job, clip.ErrorMessage)
			}

			job.RecordProgress(job.CompletedClips())
			if err := o.saveJob(ctx, job); err != nil {
				return err
			}
			o.notifier.Progress(job, fmt.Sprintf("clip %d of %d completed", clip.Index+1, job.TotalClips))
		}

		if i == last || continuityBroken || job.Clips[i+1].Status == model.ClipCompleted {
			continuity = ""
			continue
		}
		frame, err := o.frames.ExtractFrame(ctx, clip.VideoArtifactRef, media.Last())
		if err != nil {
			continuityBroken = true
			continuity = ""
			log.Warn("continuity frame unavailable, later clips use the actor image",
				zap.Int("clip", clip.Index),
				zap.String("kind", string(apperr.KindOf(err))),
				zap.Error(err),
			)
			continue
		}
		continuity = frame
	}

	// A resumed job may have completed every clip without passing through the loop body.
	job.RecordProgress(job.CompletedClips())
	return nil
}

func (o *Orchestrator) stitch(ctx context.Context, job *model.CompositeVideo) error {
	refs := make([]string, 0, len(job.Clips))
	durations := make([]float64, 0, len(job.Clips))
	var total float64
	for _, clip := range job.Clips {
		if clip.Status != model.ClipCompleted {
			return o.fail(ctx, job, fmt.Sprintf("clip %d is %s, cannot stitch", clip.Index, clip.Status))
		}
		refs = append(refs, clip.VideoArtifactRef)
		durations = append(durations, clip.DurationSeconds)
		total += clip.DurationSeconds
	}

	res, err := o.stitcher.Stitch(ctx, refs, durations, job.AspectRatio)
	if err != nil {
		if ctx.Err() != nil {
			return o.fail(ctx, job, interruptedMessage(ctx))
		}
		o.logger.Error("stitching failed", zap.String("job_id", job.ID), zap.Error(err))
		return o.fail(ctx, job, "stitching failed: "+apperr.Message(err))
	}

	duration := res.MeasuredDuration
	if duration <= 0 {
		duration = total
	}
	if err := job.Complete(res.VideoArtifactRef, duration, res.Degraded); err != nil {
		return o.fail(ctx, job, "stitching failed: "+apperr.Message(err))
	}
	if err := o.saveJob(ctx, job); err != nil {
		return err
	}
	o.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.Float64("duration", duration),
		zap.Bool("degraded", res.Degraded),
		zap.String("final_ref", job.FinalVideoArtifactRef),
	)
	o.notifier.Completed(job)
	return nil
}

// stopReason reports whether the job must stop before its next clip, and the
// message to record. A store read failure is logged and treated as no request.
func (o *Orchestrator) stopReason(ctx context.Context, jobID string) (string, bool) {
	if ctx.Err() != nil {
		return interruptedMessage(ctx), true
	}
	requested, err := o.store.IsCancelRequested(ctx, jobID)
	if err != nil {
		o.logger.Warn("could not read cancel flag", zap.String("job_id", jobID), zap.Error(err))
		return "", false
	}
	return CancelledMessage, requested
}

func (o *Orchestrator) fail(ctx context.Context, job *model.CompositeVideo, message string) error {
	if err := job.Fail(message); err != nil {
		return err
	}
	if err := o.saveJob(context.WithoutCancel(ctx), job); err != nil {
		return err
	}
	o.logger.Warn("job failed", zap.String("job_id", job.ID), zap.String("error", job.ErrorMessage))
	o.notifier.Failed(job)
	return nil
}

func (o *Orchestrator) saveJob(ctx context.Context, job *model.CompositeVideo) error {
	if err := o.store.SaveJob(ctx, job); err != nil {
		if apperr.Is(err, apperr.KindPersistence) {
			return err
		}
		return apperr.Persistence("save job", err)
	}
	return nil
}
