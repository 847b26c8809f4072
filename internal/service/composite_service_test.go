package service

import (
	"context"
	"errors"
	"testing"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/config"
	"github.com/castreel/api/internal/generation"
	"github.com/castreel/api/internal/model"
	"github.com/castreel/api/internal/segmenter"
	"github.com/castreel/api/internal/store"
)

const script = "I love this product. It changed my life. Try it today!"

type stubAdapter struct{ m model.GenerationModel }

func (a stubAdapter) Model() model.GenerationModel { return a.m }
func (a stubAdapter) RequiresAudio() bool          { return a.m == model.ModelTTSAnimation }
func (a stubAdapter) Generate(ctx context.Context, req *generation.Request) (*generation.Result, error) {
	return nil, errors.New("not used")
}

type fakeQueue struct {
	jobs []string
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string) error {
	q.jobs = append(q.jobs, jobID)
	return q.err
}

func newService(t *testing.T) (*CompositeService, *store.MemoryStore, *fakeQueue) {
	t.Helper()
	jobs := store.NewMemoryStore()
	queue := &fakeQueue{}
	svc := NewCompositeService(
		jobs,
		segmenter.New(nil, nil),
		generation.NewRegistry(stubAdapter{model.ModelTTSAnimation}, stubAdapter{model.ModelSelfVoicing}),
		queue,
		&config.SegmenterConfig{MaxClipSeconds: 8},
		&config.GenerationConfig{DefaultModel: string(model.ModelTTSAnimation)},
		nil,
	)
	return svc, jobs, queue
}

func startRequest() *model.CompositeStartRequest {
	return &model.CompositeStartRequest{
		Script:                script,
		Actor:                 model.ActorRequest{ImageURL: "https://cdn/actor.jpg"},
		TargetDurationSeconds: 15,
	}
}

func TestStart(t *testing.T) {
	svc, jobs, queue := newService(t)

	resp, err := svc.Start(context.Background(), "user-1", startRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != model.CompositePending || resp.TotalClips != 3 || len(resp.Segments) != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(queue.jobs) != 1 || queue.jobs[0] != resp.JobID {
		t.Errorf("job should be queued once, got %v", queue.jobs)
	}

	job, err := jobs.Get(context.Background(), resp.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Model != model.ModelTTSAnimation || job.AspectRatio != model.AspectPortrait || job.OwnerID != "user-1" {
		t.Errorf("defaults not applied: %+v", job)
	}
	if job.ActorRef().ImageURL != "https://cdn/actor.jpg" {
		t.Errorf("actor not stored: %+v", job.ActorRef())
	}
	for i, c := range job.Clips {
		if c.Status != model.ClipPending || c.Index != i || c.ScriptContent != resp.Segments[i].Content {
			t.Errorf("clip %d not created from its segment: %+v", i, c)
		}
		if c.EstimatedDuration != resp.Segments[i].EstimatedDuration || c.EstimatedDuration > c.TargetDuration {
			t.Errorf("clip %d should keep the speech estimate apart from its target: %+v", i, c)
		}
	}
}

func TestStart_Rejects(t *testing.T) {
	svc, _, queue := newService(t)

	req := startRequest()
	req.Script = "   "
	if _, err := svc.Start(context.Background(), "", req); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for empty script, got %v", err)
	}

	req = startRequest()
	req.Model = "unknown"
	if _, err := svc.Start(context.Background(), "", req); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for unknown model, got %v", err)
	}
	if len(queue.jobs) != 0 {
		t.Errorf("nothing should be queued, got %v", queue.jobs)
	}
}

func TestStart_QueueFailure(t *testing.T) {
	svc, jobs, queue := newService(t)
	queue.err = apperr.Internal(errors.New("redis down"))

	if _, err := svc.Start(context.Background(), "", startRequest()); err == nil {
		t.Fatal("expected error")
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("expected one enqueue attempt, got %d", len(queue.jobs))
	}
	job, err := jobs.Get(context.Background(), queue.jobs[0])
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != model.CompositeFailed {
		t.Errorf("unqueued job should be recorded as failed, got %s", job.Status)
	}
}

func TestGetStatus_Ownership(t *testing.T) {
	svc, _, _ := newService(t)
	resp, err := svc.Start(context.Background(), "user-1", startRequest())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.GetStatus(context.Background(), "user-2", resp.JobID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("other owners must not see the job, got %v", err)
	}
	if _, err := svc.GetStatus(context.Background(), "user-1", "not-a-uuid"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found for malformed id, got %v", err)
	}
	status, err := svc.GetStatus(context.Background(), "user-1", resp.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if status.TotalClips != 3 || len(status.Clips) != 3 || status.CurrentClipIndex != 0 {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestCancel(t *testing.T) {
	svc, jobs, _ := newService(t)
	ctx := context.Background()
	resp, err := svc.Start(ctx, "", startRequest())
	if err != nil {
		t.Fatal(err)
	}

	out, err := svc.Cancel(ctx, "", resp.JobID)
	if err != nil || !out.CancelRequested {
		t.Fatalf("cancel failed: %+v %v", out, err)
	}
	if ok, _ := jobs.IsCancelRequested(ctx, resp.JobID); !ok {
		t.Error("cancel flag not stored")
	}

	failJob(t, jobs, resp.JobID, -1)
	if _, err := svc.Cancel(ctx, "", resp.JobID); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("expected conflict for finished job, got %v", err)
	}
}

// failJob fails the stored job after completing clips up to and including lastCompleted.
func failJob(t *testing.T, jobs *store.MemoryStore, id string, lastCompleted int) {
	t.Helper()
	ctx := context.Background()
	job, err := jobs.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i <= lastCompleted; i++ {
		c := job.Clips[i]
		_ = c.StartAudio()
		c.AudioArtifactRef = "https://cdn/audio.mp3"
		_ = c.StartVideo(true)
		_ = c.Complete("https://cdn/clip.mp4", 5, "req")
		if err := jobs.SaveClip(ctx, &c); err != nil {
			t.Fatal(err)
		}
	}
	if lastCompleted+1 < len(job.Clips) {
		c := job.Clips[lastCompleted+1]
		_ = c.StartAudio()
		c.AudioArtifactRef = "https://cdn/partial.mp3"
		_ = c.Fail("video provider rejected the request")
		if err := jobs.SaveClip(ctx, &c); err != nil {
			t.Fatal(err)
		}
	}
	_ = job.StartGenerating()
	_ = job.Fail("video provider rejected the request")
	if err := jobs.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}
}

func TestRetry(t *testing.T) {
	svc, jobs, queue := newService(t)
	ctx := context.Background()
	resp, err := svc.Start(ctx, "user-1", startRequest())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Retry(ctx, "user-1", resp.JobID); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("only failed jobs can be retried, got %v", err)
	}

	failJob(t, jobs, resp.JobID, 0)
	retried, err := svc.Retry(ctx, "user-1", resp.JobID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried.RetryOf != resp.JobID || retried.JobID == resp.JobID || len(retried.Segments) != 3 {
		t.Errorf("unexpected retry response %+v", retried)
	}
	if queue.jobs[len(queue.jobs)-1] != retried.JobID {
		t.Errorf("retried job not queued: %v", queue.jobs)
	}

	job, err := jobs.Get(ctx, retried.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != model.CompositePending || job.CurrentClipIndex != 1 || job.OwnerID != "user-1" {
		t.Errorf("unexpected retried job %+v", job)
	}
	if job.Clips[0].Status != model.ClipCompleted || job.Clips[0].VideoArtifactRef != "https://cdn/clip.mp4" {
		t.Errorf("completed clip should carry over: %+v", job.Clips[0])
	}
	if job.Clips[1].Status != model.ClipPending || job.Clips[1].ErrorMessage != "" || job.Clips[1].AudioArtifactRef != "https://cdn/partial.mp3" {
		t.Errorf("failed clip should restart pending with its audio: %+v", job.Clips[1])
	}
	if job.Clips[2].Status != model.ClipPending {
		t.Errorf("remaining clips should be pending: %+v", job.Clips[2])
	}
	for i, c := range job.Clips {
		if c.EstimatedDuration != retried.Segments[i].EstimatedDuration || c.EstimatedDuration <= 0 {
			t.Errorf("clip %d lost its speech estimate: %+v", i, c)
		}
	}
}

func TestPreview(t *testing.T) {
	svc, _, queue := newService(t)
	resp, err := svc.Preview(context.Background(), &model.SegmentPreviewRequest{Script: script, TargetDurationSeconds: 15})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Segments) != 3 || resp.TotalTargetDuration != 15 || resp.Strategy != "heuristic" {
		t.Errorf("unexpected preview %+v", resp)
	}
	if len(queue.jobs) != 0 {
		t.Error("preview must not queue anything")
	}
}
