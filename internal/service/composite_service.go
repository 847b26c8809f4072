package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/config"
	"github.com/castreel/api/internal/generation"
	"github.com/castreel/api/internal/model"
	"github.com/castreel/api/internal/segmenter"
	"github.com/castreel/api/internal/store"
)

// CompositeService accepts composite requests and answers status queries.
// Generation itself runs in the worker.
type CompositeService struct {
	store        store.JobStore
	segmenter    *segmenter.Segmenter
	adapters     *generation.Registry
	queue        Enqueuer
	maxClip      float64
	target       float64
	defaultModel model.GenerationModel
	logger       *zap.Logger
}

func NewCompositeService(
	jobs store.JobStore,
	seg *segmenter.Segmenter,
	adapters *generation.Registry,
	queue Enqueuer,
	segCfg *config.SegmenterConfig,
	genCfg *config.GenerationConfig,
	logger *zap.Logger,
) *CompositeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CompositeService{
		store:        jobs,
		segmenter:    seg,
		adapters:     adapters,
		queue:        queue,
		maxClip:      segCfg.MaxClipSeconds,
		target:       segCfg.DefaultTargetSeconds,
		defaultModel: model.GenerationModel(genCfg.DefaultModel),
		logger:       logger.Named("composite"),
	}
	if s.maxClip <= 0 {
		s.maxClip = segmenter.DefaultMaxClipDuration
	}
	if s.defaultModel == "" {
		s.defaultModel = model.ModelTTSAnimation
	}
	return s
}

// Start segments the script, stores the job with all clips pending and queues it.
// Segmentation errors are returned before anything is stored.
func (s *CompositeService) Start(ctx context.Context, ownerID string, req *model.CompositeStartRequest) (*model.CompositeStartResponse, error) {
	genModel := req.Model
	if genModel == "" {
		genModel = s.defaultModel
	}
	if _, err := s.adapters.Get(genModel); err != nil {
		return nil, err
	}

	target := req.TargetDurationSeconds
	if target <= 0 {
		target = s.target
	}
	plan, err := s.segmenter.Segment(ctx, req.Script, target, s.maxClip)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &model.CompositeVideo{
		ID:      uuid.New().String(),
		OwnerID: ownerID,
		Status:  model.CompositePending,
		Model:   genModel,
		Actor: datatypes.NewJSONType(model.ActorReference{
			ImageURL: req.Actor.ImageURL,
			Voice:    req.Actor.Voice,
		}),
		AspectRatio:    req.AspectRatio.OrDefault(),
		Script:         strings.TrimSpace(req.Script),
		TargetDuration: plan.TotalTarget(),
		TotalClips:     len(plan.Segments),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, seg := range plan.Segments {
		job.Clips = append(job.Clips, model.Clip{
			ID:                uuid.New().String(),
			CompositeID:       job.ID,
			Index:             seg.Order,
			SegmentType:       seg.Type,
			ScriptContent:     seg.Content,
			EstimatedDuration: seg.EstimatedDuration,
			TargetDuration:    seg.TargetDuration,
			Status:            model.ClipPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	if err := s.submit(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("composite queued",
		zap.String("job_id", job.ID),
		zap.String("model", string(genModel)),
		zap.Int("clips", job.TotalClips),
		zap.String("strategy", plan.Strategy),
		zap.Float64("target_duration", job.TargetDuration),
	)
	return &model.CompositeStartResponse{
		JobID:      job.ID,
		Status:     job.Status,
		TotalClips: job.TotalClips,
		Segments:   plan.Segments,
		CreatedAt:  job.CreatedAt,
	}, nil
}

// submit stores job and queues it. A job that cannot be queued is recorded as failed.
func (s *CompositeService) submit(ctx context.Context, job *model.CompositeVideo) error {
	if err := s.store.Create(ctx, job); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		s.logger.Error("failed to queue composite", zap.String("job_id", job.ID), zap.Error(err))
		if job.StartGenerating() == nil && job.Fail("could not be queued: "+apperr.Message(err)) == nil {
			if saveErr := s.store.SaveJob(context.WithoutCancel(ctx), job); saveErr != nil {
				s.logger.Error("failed to record queue failure", zap.String("job_id", job.ID), zap.Error(saveErr))
			}
		}
		return err
	}
	return nil
}

// get loads a job visible to ownerID. Jobs of other owners look missing.
func (s *CompositeService) get(ctx context.Context, ownerID, jobID string) (*model.CompositeVideo, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, apperr.NotFound("job")
	}
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != "" && ownerID != "" && job.OwnerID != ownerID {
		return nil, apperr.NotFound("job")
	}
	return job, nil
}

// GetStatus returns job progress and, when finished, its result.
func (s *CompositeService) GetStatus(ctx context.Context, ownerID, jobID string) (*model.CompositeStatusResponse, error) {
	job, err := s.get(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	return job.StatusView(), nil
}

// Cancel asks the worker to stop before the next clip. The clip in flight is not interrupted.
func (s *CompositeService) Cancel(ctx context.Context, ownerID, jobID string) (*model.CompositeCancelResponse, error) {
	job, err := s.get(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, apperr.Conflict("job has already finished").WithDetail("status", string(job.Status))
	}
	if err := s.store.RequestCancel(ctx, job.ID); err != nil {
		return nil, err
	}
	s.logger.Info("cancel requested", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
	return &model.CompositeCancelResponse{
		Success:         true,
		JobID:           job.ID,
		Status:          job.Status,
		CancelRequested: true,
	}, nil
}

// Retry creates a new job from a failed one. Completed clips are carried over
// and the rest start again as pending.
func (s *CompositeService) Retry(ctx context.Context, ownerID, jobID string) (*model.CompositeStartResponse, error) {
	prev, err := s.get(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if prev.Status != model.CompositeFailed {
		return nil, apperr.Conflict("only failed jobs can be retried").WithDetail("status", string(prev.Status))
	}
	if _, err := s.adapters.Get(prev.Model); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &model.CompositeVideo{
		ID:             uuid.New().String(),
		OwnerID:        prev.OwnerID,
		Status:         model.CompositePending,
		Model:          prev.Model,
		Actor:          prev.Actor,
		AspectRatio:    prev.AspectRatio,
		Script:         prev.Script,
		TargetDuration: prev.TargetDuration,
		TotalClips:     prev.TotalClips,
		RetryOf:        prev.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	segments := make([]model.Segment, 0, len(prev.Clips))
	for _, old := range prev.Clips {
		words := len(strings.Fields(old.ScriptContent))
		clip := model.Clip{
			ID:                uuid.New().String(),
			CompositeID:       job.ID,
			Index:             old.Index,
			SegmentType:       old.SegmentType,
			ScriptContent:     old.ScriptContent,
			EstimatedDuration: segmenter.EstimateDuration(words),
			TargetDuration:    old.TargetDuration,
			Status:            model.ClipPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if old.Status == model.ClipCompleted {
			clip.Status = model.ClipCompleted
			clip.VideoArtifactRef = old.VideoArtifactRef
			clip.AudioArtifactRef = old.AudioArtifactRef
			clip.ContinuityImageRef = old.ContinuityImageRef
			clip.ProviderRequestID = old.ProviderRequestID
			clip.DurationSeconds = old.DurationSeconds
			clip.CompletedAt = old.CompletedAt
		} else if old.AudioArtifactRef != "" {
			// synthesized speech is reused by the next attempt
			clip.AudioArtifactRef = old.AudioArtifactRef
		}
		job.Clips = append(job.Clips, clip)

		segments = append(segments, model.Segment{
			Type:              old.SegmentType,
			Content:           old.ScriptContent,
			Order:             old.Index,
			WordCount:         words,
			EstimatedDuration: clip.EstimatedDuration,
			TargetDuration:    old.TargetDuration,
		})
	}
	job.RecordProgress(job.CompletedClips())

	if err := s.submit(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("composite retried",
		zap.String("job_id", job.ID),
		zap.String("retry_of", prev.ID),
		zap.Int("reused_clips", job.CurrentClipIndex),
	)
	return &model.CompositeStartResponse{
		JobID:      job.ID,
		Status:     job.Status,
		TotalClips: job.TotalClips,
		Segments:   segments,
		RetryOf:    prev.ID,
		CreatedAt:  job.CreatedAt,
	}, nil
}

// Preview segments a script without creating a job.
func (s *CompositeService) Preview(ctx context.Context, req *model.SegmentPreviewRequest) (*model.SegmentPreviewResponse, error) {
	maxClip := req.MaxClipSeconds
	if maxClip <= 0 {
		maxClip = s.maxClip
	}
	target := req.TargetDurationSeconds
	if target <= 0 {
		target = s.target
	}
	plan, err := s.segmenter.Segment(ctx, req.Script, target, maxClip)
	if err != nil {
		return nil, err
	}
	return &model.SegmentPreviewResponse{
		Segments:               plan.Segments,
		TotalEstimatedDuration: plan.TotalEstimated(),
		TotalTargetDuration:    plan.TotalTarget(),
		Strategy:               plan.Strategy,
	}, nil
}

// Ping checks the job store.
func (s *CompositeService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
