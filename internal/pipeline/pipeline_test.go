package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/client"
	"github.com/castreel/api/internal/generation"
	"github.com/castreel/api/internal/media"
	"github.com/castreel/api/internal/model"
	"github.com/castreel/api/internal/resilience"
	"github.com/castreel/api/internal/store"
)

const actorImage = "https://cdn/actor.jpg"

type fakeAdapter struct {
	mu            sync.Mutex
	requiresAudio bool
	requests      []*generation.Request
	speechCalls   int
	failOn        map[string]error
	duration      float64
}

func (f *fakeAdapter) Model() model.GenerationModel {
	if f.requiresAudio {
		return model.ModelTTSAnimation
	}
	return model.ModelSelfVoicing
}

func (f *fakeAdapter) RequiresAudio() bool { return f.requiresAudio }

func (f *fakeAdapter) Generate(ctx context.Context, req *generation.Request) (*generation.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.failOn[req.PromptText]; err != nil {
		return nil, err
	}
	return &generation.Result{
		VideoArtifactRef:  fmt.Sprintf("https://cdn/video-%d.mp4", len(f.requests)),
		DurationSeconds:   f.duration,
		ProviderRequestID: fmt.Sprintf("req-%d", len(f.requests)),
	}, nil
}

func (f *fakeAdapter) SynthesizeSpeech(ctx context.Context, text string, voice model.VoiceDescriptor) (*generation.AudioResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speechCalls++
	return &generation.AudioResult{AudioArtifactRef: fmt.Sprintf("https://cdn/audio-%d.mp3", f.speechCalls)}, nil
}

func (f *fakeAdapter) continuityImages() []string {
	images := make([]string, len(f.requests))
	for i, r := range f.requests {
		images[i] = r.ContinuityImage
	}
	return images
}

type fakeFrames struct {
	calls []string
	err   error
}

func (f *fakeFrames) ExtractFrame(ctx context.Context, videoRef string, pos media.Position) (string, error) {
	f.calls = append(f.calls, videoRef)
	if f.err != nil {
		return "", f.err
	}
	return "frame:" + videoRef, nil
}

type fakeStitcher struct {
	refs      []string
	durations []float64
	measured  float64
	err       error
}

func (f *fakeStitcher) Stitch(ctx context.Context, refs []string, durations []float64, ratio model.AspectRatio) (*media.StitchResult, error) {
	f.refs = refs
	f.durations = durations
	if f.err != nil {
		return nil, f.err
	}
	return &media.StitchResult{VideoArtifactRef: "https://cdn/final.mp4", MeasuredDuration: f.measured}, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	clips     int
	progress  []int
	completed int
	failed    int
}

func (n *recordingNotifier) ClipChanged(*model.CompositeVideo, *model.Clip) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clips++
}

func (n *recordingNotifier) Progress(job *model.CompositeVideo, step string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, job.CurrentClipIndex)
}

func (n *recordingNotifier) Completed(*model.CompositeVideo) { n.completed++ }
func (n *recordingNotifier) Failed(*model.CompositeVideo)    { n.failed++ }

type harness struct {
	store    *store.MemoryStore
	adapter  *fakeAdapter
	frames   *fakeFrames
	stitcher *fakeStitcher
	notifier *recordingNotifier
	orch     *Orchestrator
}

func newHarness(requiresAudio bool) *harness {
	h := &harness{
		store:    store.NewMemoryStore(),
		adapter:  &fakeAdapter{requiresAudio: requiresAudio, duration: 6, failOn: map[string]error{}},
		frames:   &fakeFrames{},
		stitcher: &fakeStitcher{measured: 17.9},
		notifier: &recordingNotifier{},
	}
	processor := NewClipProcessor(generation.NewRegistry(h.adapter), h.store, h.notifier, nil)
	h.orch = NewOrchestrator(h.store, processor, h.frames, h.stitcher, h.notifier, nil)
	return h
}

func (h *harness) createJob(t *testing.T, contents ...string) *model.CompositeVideo {
	t.Helper()
	id := uuid.New().String()
	now := time.Now().UTC()
	job := &model.CompositeVideo{
		ID:          id,
		Status:      model.CompositePending,
		Model:       h.adapter.Model(),
		Actor:       datatypes.NewJSONType(model.ActorReference{ImageURL: actorImage}),
		AspectRatio: model.AspectPortrait,
		Script:      strings.Join(contents, " "),
		TotalClips:  len(contents),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, c := range contents {
		job.Clips = append(job.Clips, model.Clip{
			ID:             uuid.New().String(),
			CompositeID:    id,
			Index:          i,
			SegmentType:    model.SegmentTestimonial,
			ScriptContent:  c,
			TargetDuration: 5,
			Status:         model.ClipPending,
		})
	}
	if err := h.store.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	return job
}

func (h *harness) get(t *testing.T, id string) *model.CompositeVideo {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func TestRun_ThreeClips(t *testing.T) {
	h := newHarness(true)
	job := h.createJob(t, "Stop scrolling.", "I tried everything.", "Get yours today!")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := h.get(t, job.ID)
	if got.Status != model.CompositeCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.FinalVideoArtifactRef != "https://cdn/final.mp4" || got.ActualDuration != 17.9 {
		t.Errorf("unexpected final artifact %s %v", got.FinalVideoArtifactRef, got.ActualDuration)
	}
	if got.CurrentClipIndex != 3 || got.CompletedAt == nil || got.StartedAt == nil {
		t.Errorf("unexpected progress fields %+v", got)
	}

	want := []string{actorImage, "frame:https://cdn/video-1.mp4", "frame:https://cdn/video-2.mp4"}
	for i, img := range h.adapter.continuityImages() {
		if img != want[i] {
			t.Errorf("clip %d continuity: expected %s, got %s", i, want[i], img)
		}
	}
	if len(h.frames.calls) != 2 {
		t.Errorf("last clip must not be extracted, got %d extractions", len(h.frames.calls))
	}
	if h.adapter.speechCalls != 3 {
		t.Errorf("expected 3 speech calls, got %d", h.adapter.speechCalls)
	}
	for _, c := range got.Clips {
		if c.Status != model.ClipCompleted || c.AudioArtifactRef == "" || c.DurationSeconds != 6 {
			t.Errorf("clip %d not completed correctly: %+v", c.Index, c)
		}
	}
	if len(h.stitcher.refs) != 3 || h.stitcher.refs[0] != "https://cdn/video-1.mp4" {
		t.Errorf("stitcher got %v", h.stitcher.refs)
	}

	for i := 1; i < len(h.notifier.progress); i++ {
		if h.notifier.progress[i] < h.notifier.progress[i-1] {
			t.Errorf("progress moved backwards: %v", h.notifier.progress)
		}
	}
	if h.notifier.completed != 1 || h.notifier.failed != 0 {
		t.Errorf("unexpected notifications %+v", h.notifier)
	}
	// pending->audio, audio ref, ->video, completed for each clip
	if h.notifier.clips != 12 {
		t.Errorf("expected 12 clip notifications, got %d", h.notifier.clips)
	}
}

func TestRun_FirstClipFails(t *testing.T) {
	h := newHarness(false)
	h.adapter.failOn["Stop scrolling."] = apperr.GenerationFailed("video provider is unavailable", errors.New("503"))
	job := h.createJob(t, "Stop scrolling.", "I tried everything.", "Get yours today!")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("job failures must not escape: %v", err)
	}

	got := h.get(t, job.ID)
	if got.Status != model.CompositeFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "video provider is unavailable") {
		t.Errorf("job error should carry the clip's message, got %q", got.ErrorMessage)
	}
	if got.Clips[0].Status != model.ClipFailed || got.Clips[0].ErrorMessage == "" {
		t.Errorf("clip 0 should be failed with a message: %+v", got.Clips[0])
	}
	for _, c := range got.Clips[1:] {
		if c.Status != model.ClipPending {
			t.Errorf("clip %d should stay pending, got %s", c.Index, c.Status)
		}
	}
	if got.CurrentClipIndex != 0 {
		t.Errorf("expected no progress, got %d", got.CurrentClipIndex)
	}
	if h.stitcher.refs != nil {
		t.Error("stitcher must not run for a failed job")
	}
	if h.notifier.failed != 1 {
		t.Errorf("expected one failure notification, got %d", h.notifier.failed)
	}
}

func TestRun_ExtractionFailureBreaksContinuity(t *testing.T) {
	h := newHarness(false)
	h.frames.err = apperr.MediaToolUnavailable("ffmpeg", errors.New("not found"))
	job := h.createJob(t, "one two", "three four", "five six")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}

	if got := h.get(t, job.ID); got.Status != model.CompositeCompleted {
		t.Fatalf("extraction failure must not fail the job, got %s", got.Status)
	}
	for i, img := range h.adapter.continuityImages() {
		if img != actorImage {
			t.Errorf("clip %d should use the actor image, got %s", i, img)
		}
	}
	if len(h.frames.calls) != 1 {
		t.Errorf("no extraction after the first failure, got %d calls", len(h.frames.calls))
	}
}

func TestRun_Resume(t *testing.T) {
	h := newHarness(false)
	job := h.createJob(t, "one two", "three four", "five six")

	// A previous worker finished clip 0 and died while generating clip 1.
	ctx := context.Background()
	stored := h.get(t, job.ID)
	if err := stored.StartGenerating(); err != nil {
		t.Fatal(err)
	}
	stored.RecordProgress(1)
	if err := h.store.SaveJob(ctx, stored); err != nil {
		t.Fatal(err)
	}
	c0 := stored.Clips[0]
	_ = c0.StartVideo(false)
	_ = c0.Complete("https://cdn/earlier.mp4", 4, "req-0")
	if err := h.store.SaveClip(ctx, &c0); err != nil {
		t.Fatal(err)
	}
	c1 := stored.Clips[1]
	_ = c1.StartVideo(false)
	if err := h.store.SaveClip(ctx, &c1); err != nil {
		t.Fatal(err)
	}

	if err := h.orch.Run(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	got := h.get(t, job.ID)
	if got.Status != model.CompositeCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if len(h.adapter.requests) != 2 {
		t.Fatalf("completed clip must not be regenerated, got %d requests", len(h.adapter.requests))
	}
	if h.adapter.requests[0].ContinuityImage != "frame:https://cdn/earlier.mp4" {
		t.Errorf("resumed clip should continue from the completed clip, got %s", h.adapter.requests[0].ContinuityImage)
	}
	if h.stitcher.refs[0] != "https://cdn/earlier.mp4" {
		t.Errorf("stitch order broken: %v", h.stitcher.refs)
	}
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(false)
	job := h.createJob(t, "one two", "three four")
	if err := h.store.RequestCancel(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}

	got := h.get(t, job.ID)
	if got.Status != model.CompositeFailed || got.ErrorMessage != CancelledMessage {
		t.Errorf("expected cancelled failure, got %s %q", got.Status, got.ErrorMessage)
	}
	if len(h.adapter.requests) != 0 {
		t.Errorf("no clip should start after cancellation, got %d", len(h.adapter.requests))
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(false)
	job := h.createJob(t, "one two")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.orch.Run(ctx, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.get(t, job.ID); got.ErrorMessage != CancelledMessage {
		t.Errorf("expected cancelled job, got %s %q", got.Status, got.ErrorMessage)
	}
}

func TestRun_StitchFailure(t *testing.T) {
	h := newHarness(false)
	h.stitcher.err = apperr.MediaToolFailed("ffmpeg", "Invalid data found", errors.New("exit status 1"))
	job := h.createJob(t, "one two", "three four")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}
	got := h.get(t, job.ID)
	if got.Status != model.CompositeFailed || !strings.HasPrefix(got.ErrorMessage, "stitching failed") {
		t.Errorf("expected stitching failure, got %s %q", got.Status, got.ErrorMessage)
	}
	if got.CurrentClipIndex != 2 {
		t.Errorf("clip progress should be kept, got %d", got.CurrentClipIndex)
	}
}

func TestRun_DurationFallsBackToClipSum(t *testing.T) {
	h := newHarness(false)
	h.stitcher.measured = 0
	job := h.createJob(t, "one two", "three four")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}
	if got := h.get(t, job.ID); got.ActualDuration != 12 {
		t.Errorf("expected summed duration 12, got %v", got.ActualDuration)
	}
}

func TestRun_TerminalJobIsNoop(t *testing.T) {
	h := newHarness(false)
	job := h.createJob(t, "one two")
	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}
	before := len(h.adapter.requests)

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}
	if len(h.adapter.requests) != before || h.notifier.completed != 1 {
		t.Error("a finished job must not be processed again")
	}
}

func TestRun_UnknownJob(t *testing.T) {
	h := newHarness(false)
	if err := h.orch.Run(context.Background(), uuid.New().String()); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) SaveClip(ctx context.Context, clip *model.Clip) error {
	return errors.New("connection reset")
}

func TestRun_PersistenceErrorEscapes(t *testing.T) {
	h := newHarness(false)
	job := h.createJob(t, "one two")
	fs := failingStore{h.store}
	processor := NewClipProcessor(generation.NewRegistry(h.adapter), fs, nil, nil)
	orch := NewOrchestrator(fs, processor, h.frames, h.stitcher, nil, nil)

	if err := orch.Run(context.Background(), job.ID); !apperr.Is(err, apperr.KindPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestProcess_ReusesAudio(t *testing.T) {
	h := newHarness(true)
	job := h.createJob(t, "one two")
	clip := &job.Clips[0]
	if err := clip.StartAudio(); err != nil {
		t.Fatal(err)
	}
	clip.AudioArtifactRef = "https://cdn/existing.mp3"

	processor := NewClipProcessor(generation.NewRegistry(h.adapter), h.store, nil, nil)
	if err := processor.Process(context.Background(), job, clip, ""); err != nil {
		t.Fatal(err)
	}
	if h.adapter.speechCalls != 0 {
		t.Errorf("existing audio must be reused, got %d speech calls", h.adapter.speechCalls)
	}
	if h.adapter.requests[0].AudioArtifactRef != "https://cdn/existing.mp3" {
		t.Errorf("generation should receive the existing audio, got %s", h.adapter.requests[0].AudioArtifactRef)
	}
	if clip.Status != model.ClipCompleted || clip.ContinuityImageRef != actorImage {
		t.Errorf("unexpected clip %+v", clip)
	}
}

func TestProcess_UnknownModel(t *testing.T) {
	h := newHarness(false)
	job := h.createJob(t, "one two")
	job.Model = "sora"
	processor := NewClipProcessor(generation.NewRegistry(h.adapter), h.store, nil, nil)

	err := processor.Process(context.Background(), job, &job.Clips[0], "")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if job.Clips[0].Status != model.ClipFailed {
		t.Errorf("clip should be failed, got %s", job.Clips[0].Status)
	}
}

// fakeVideoAPI is a submit/poll provider that completes every job at once
// unless submitErr is set.
type fakeVideoAPI struct {
	mu        sync.Mutex
	submits   []*client.VideoRequest
	submitErr error
}

func (f *fakeVideoAPI) Submit(ctx context.Context, req *client.VideoRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return fmt.Sprintf("vid-%d", len(f.submits)), nil
}

func (f *fakeVideoAPI) GetStatus(ctx context.Context, id string) (*client.GenerationStatus, error) {
	return &client.GenerationStatus{ID: id, Status: "completed", VideoURL: "https://cdn/" + id + ".mp4"}, nil
}

func (f *fakeVideoAPI) PollInterval() time.Duration { return time.Millisecond }
func (f *fakeVideoAPI) MaxWait() time.Duration      { return time.Second }

// withSelfVoicing swaps the harness adapter for a real self-voicing adapter over video.
func (h *harness) withSelfVoicing(video *fakeVideoAPI) {
	policy := resilience.NewPolicy(resilience.PolicyConfig{
		Name: "video",
		Retry: resilience.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			Retryable:       resilience.QuotaLimitedRetryable,
		},
		Breaker: resilience.DefaultBreakerConfig(),
	}, nil, nil)
	adapter := generation.NewSelfVoicingAdapter(video, policy, nil)
	processor := NewClipProcessor(generation.NewRegistry(adapter), h.store, h.notifier, nil)
	h.orch = NewOrchestrator(h.store, processor, h.frames, h.stitcher, h.notifier, nil)
}

func TestRun_ClipLengthFollowsSpeech(t *testing.T) {
	h := newHarness(false)
	video := &fakeVideoAPI{}
	h.withSelfVoicing(video)
	// four words take 1.6s to say; the plan padded the clip to 8s
	job := h.createJob(t, "Stop scrolling right now.", "I tried everything for years and nothing ever worked for me.")
	ctx := context.Background()
	stored := h.get(t, job.ID)
	for i := range stored.Clips {
		stored.Clips[i].TargetDuration = 8
		if err := h.store.SaveClip(ctx, &stored.Clips[i]); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.orch.Run(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if got := h.get(t, job.ID); got.Status != model.CompositeCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if len(video.submits) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(video.submits))
	}
	// eleven words take 4.4s, which rounds up to 6s
	for i, want := range []int{4, 6} {
		if got := video.submits[i].DurationSeconds; got != want {
			t.Errorf("clip %d: expected a %ds clip, got %ds", i, want, got)
		}
	}
}

func TestRun_FirstClipFailsAfterRetries(t *testing.T) {
	h := newHarness(false)
	video := &fakeVideoAPI{submitErr: &client.ProviderError{
		Service:         "video",
		Method:          http.MethodPost,
		HTTPStatus:      http.StatusServiceUnavailable,
		ProviderMessage: "overloaded",
	}}
	h.withSelfVoicing(video)
	job := h.createJob(t, "Stop scrolling.", "I tried everything.", "Get yours today!")

	if err := h.orch.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("job failures must not escape: %v", err)
	}

	if len(video.submits) != 3 {
		t.Errorf("expected 3 attempts at clip 0, got %d", len(video.submits))
	}
	got := h.get(t, job.ID)
	if got.Status != model.CompositeFailed || !strings.Contains(got.ErrorMessage, "overloaded") {
		t.Fatalf("expected failed job carrying the provider reason, got %s %q", got.Status, got.ErrorMessage)
	}
	if got.Clips[0].Status != model.ClipFailed {
		t.Errorf("clip 0 should be failed, got %s", got.Clips[0].Status)
	}
	for _, c := range got.Clips[1:] {
		if c.Status != model.ClipPending {
			t.Errorf("clip %d should stay pending, got %s", c.Index, c.Status)
		}
	}
	if h.stitcher.refs != nil {
		t.Error("stitcher must not run for a failed job")
	}
}

func TestRun_DeadlineIsNotCancellation(t *testing.T) {
	h := newHarness(false)
	job := h.createJob(t, "one two")
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	if err := h.orch.Run(ctx, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := h.get(t, job.ID)
	if got.Status != model.CompositeFailed || got.ErrorMessage != TimedOutMessage {
		t.Errorf("expected timed out job, got %s %q", got.Status, got.ErrorMessage)
	}
}

func TestProcess_DeadlineDuringGeneration(t *testing.T) {
	h := newHarness(false)
	job := h.createJob(t, "one two")
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	h.adapter.failOn["one two"] = ctx.Err()

	processor := NewClipProcessor(generation.NewRegistry(h.adapter), h.store, nil, nil)
	if err := processor.Process(ctx, job, &job.Clips[0], ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if job.Clips[0].ErrorMessage != TimedOutMessage {
		t.Errorf("expected %q on the clip, got %q", TimedOutMessage, job.Clips[0].ErrorMessage)
	}
}
