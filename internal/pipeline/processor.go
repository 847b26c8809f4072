package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/generation"
	"github.com/castreel/api/internal/model"
	"github.com/castreel/api/internal/segmenter"
)

const (
	// CancelledMessage is recorded on jobs and clips stopped by their caller.
	CancelledMessage = "cancelled by caller"
	// TimedOutMessage is recorded when the task deadline passes mid-job.
	TimedOutMessage = "generation timed out"
)

// interruptedMessage tells a task deadline apart from a cancellation.
func interruptedMessage(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TimedOutMessage
	}
	return CancelledMessage
}

// speakingDuration is how long the clip's line takes to say, never below the
// shortest clip. Target durations carry planning slack and are not used here.
func speakingDuration(clip *model.Clip) float64 {
	est := clip.EstimatedDuration
	if est <= 0 {
		est = segmenter.EstimateDuration(len(strings.Fields(clip.ScriptContent)))
	}
	return math.Max(est, segmenter.MinSegmentDuration)
}

// ClipStore is the part of the job store the clip processor writes to.
type ClipStore interface {
	SaveClip(ctx context.Context, clip *model.Clip) error
}

// ClipProcessor drives one clip from pending to a terminal state.
type ClipProcessor struct {
	adapters *generation.Registry
	store    ClipStore
	notifier Notifier
	logger   *zap.Logger
}

func NewClipProcessor(adapters *generation.Registry, store ClipStore, notifier Notifier, logger *zap.Logger) *ClipProcessor {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClipProcessor{
		adapters: adapters,
		store:    store,
		notifier: notifier,
		logger:   logger.Named("clip"),
	}
}

// Process generates clip for job. An empty continuityImage means the actor's
// reference image. Every transition is persisted before the next step starts.
//
// A returned persistence error is fatal to the job. Any other error means the
// clip has been recorded as failed.
func (p *ClipProcessor) Process(ctx context.Context, job *model.CompositeVideo, clip *model.Clip, continuityImage string) error {
	if clip.Status.IsTerminal() {
		return nil
	}
	log := p.logger.With(zap.String("job_id", job.ID), zap.Int("clip", clip.Index))

	adapter, err := p.adapters.Get(job.Model)
	if err != nil {
		return p.fail(ctx, job, clip, err)
	}

	actor := job.ActorRef()
	if continuityImage == "" {
		continuityImage = actor.ImageURL
	}
	clip.ContinuityImageRef = continuityImage

	if adapter.RequiresAudio() {
		if err := p.ensureAudio(ctx, job, clip, adapter, actor.Voice); err != nil {
			return err
		}
	}

	if clip.Status != model.ClipGeneratingVideo {
		if err := clip.StartVideo(adapter.RequiresAudio()); err != nil {
			return p.fail(ctx, job, clip, err)
		}
		if err := p.save(ctx, job, clip); err != nil {
			return err
		}
	}

	log.Info("generating clip",
		zap.String("model", string(adapter.Model())),
		zap.String("segment_type", string(clip.SegmentType)),
		zap.Float64("target_duration", clip.TargetDuration),
	)
	res, err := adapter.Generate(ctx, &generation.Request{
		ContinuityImage:  continuityImage,
		PromptText:       clip.ScriptContent,
		SegmentType:      clip.SegmentType,
		Voice:            actor.Voice,
		DurationHint:     speakingDuration(clip),
		AudioArtifactRef: clip.AudioArtifactRef,
		AspectRatio:      job.AspectRatio,
	})
	if err != nil {
		return p.fail(ctx, job, clip, err)
	}

	duration := res.DurationSeconds
	if duration <= 0 {
		duration = clip.TargetDuration
	}
	if clip.AudioArtifactRef == "" {
		clip.AudioArtifactRef = res.AudioArtifactRef
	}
	if err := clip.Complete(res.VideoArtifactRef, duration, res.ProviderRequestID); err != nil {
		return p.fail(ctx, job, clip, apperr.GenerationFailed("provider returned an incomplete clip", err))
	}
	if err := p.save(ctx, job, clip); err != nil {
		return err
	}
	log.Info("clip completed", zap.Float64("duration", duration), zap.String("video_ref", clip.VideoArtifactRef))
	return nil
}

// ensureAudio moves the clip through generating_audio. Audio already on the clip is reused.
func (p *ClipProcessor) ensureAudio(ctx context.Context, job *model.CompositeVideo, clip *model.Clip, adapter generation.Adapter, voice model.VoiceDescriptor) error {
	if clip.Status == model.ClipPending {
		if err := clip.StartAudio(); err != nil {
			return p.fail(ctx, job, clip, err)
		}
		if err := p.save(ctx, job, clip); err != nil {
			return err
		}
	}
	if clip.AudioArtifactRef != "" {
		return nil
	}

	speech, ok := adapter.(generation.SpeechAdapter)
	if !ok {
		return p.fail(ctx, job, clip, apperr.Internal(fmt.Errorf("model %s needs audio but cannot synthesize speech", adapter.Model())))
	}
	audio, err := speech.SynthesizeSpeech(ctx, clip.ScriptContent, voice)
	if err != nil {
		return p.fail(ctx, job, clip, err)
	}
	clip.AudioArtifactRef = audio.AudioArtifactRef
	return p.save(ctx, job, clip)
}

// fail records cause on the clip and returns it. A failed write replaces cause.
func (p *ClipProcessor) fail(ctx context.Context, job *model.CompositeVideo, clip *model.Clip, cause error) error {
	message := apperr.Message(cause)
	if ctx.Err() != nil && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)) {
		message = interruptedMessage(ctx)
	}
	if err := clip.Fail(message); err != nil {
		return apperr.Internal(err)
	}
	p.logger.Warn("clip failed",
		zap.String("job_id", job.ID),
		zap.Int("clip", clip.Index),
		zap.String("kind", string(apperr.KindOf(cause))),
		zap.Error(cause),
	)
	if err := p.save(context.WithoutCancel(ctx), job, clip); err != nil {
		return err
	}
	return cause
}

func (p *ClipProcessor) save(ctx context.Context, job *model.CompositeVideo, clip *model.Clip) error {
	if err := p.store.SaveClip(ctx, clip); err != nil {
		if apperr.Is(err, apperr.KindPersistence) {
			return err
		}
		return apperr.Persistence("save clip", err)
	}
	p.notifier.ClipChanged(job, clip)
	return nil
}
