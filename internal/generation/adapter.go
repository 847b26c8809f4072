package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/client"
	"github.com/castreel/api/internal/model"
	"github.com/castreel/api/internal/resilience"
)

// Request is everything a provider needs to render one clip.
type Request struct {
	ContinuityImage  string
	PromptText       string
	SegmentType      model.SegmentType
	Voice            model.VoiceDescriptor
	// DurationHint is the estimated speaking time of PromptText in seconds.
	DurationHint     float64
	AudioArtifactRef string
	AspectRatio      model.AspectRatio
}

type Result struct {
	VideoArtifactRef  string
	AudioArtifactRef  string
	DurationSeconds   float64
	ProviderRequestID string
}

type AudioResult struct {
	AudioArtifactRef  string
	ProviderRequestID string
}

// Adapter renders a clip with one generation model family.
type Adapter interface {
	Model() model.GenerationModel
	// RequiresAudio reports whether the clip goes through generating_audio first.
	RequiresAudio() bool
	Generate(ctx context.Context, req *Request) (*Result, error)
}

// SpeechAdapter is an Adapter that voices the script separately from the video.
type SpeechAdapter interface {
	Adapter
	SynthesizeSpeech(ctx context.Context, text string, voice model.VoiceDescriptor) (*AudioResult, error)
}

// VideoAPI is the submit/poll surface of an asynchronous video provider.
type VideoAPI interface {
	Submit(ctx context.Context, req *client.VideoRequest) (string, error)
	GetStatus(ctx context.Context, id string) (*client.GenerationStatus, error)
	PollInterval() time.Duration
	MaxWait() time.Duration
}

type AvatarAPI interface {
	Submit(ctx context.Context, req *client.AvatarRequest) (string, error)
	GetStatus(ctx context.Context, id string) (*client.GenerationStatus, error)
	PollInterval() time.Duration
	MaxWait() time.Duration
}

type SpeechAPI interface {
	Synthesize(ctx context.Context, req *client.SpeechRequest) (*client.SpeechResult, error)
}

// Uploader stores generated bytes and returns a reference URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

func run(ctx context.Context, p *resilience.Policy, fn func(context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}
	return p.Do(ctx, fn)
}

func runUnlimited(ctx context.Context, p *resilience.Policy, fn func(context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}
	return p.DoUnlimited(ctx, fn)
}

// classify turns a provider error into QuotaExceeded or GenerationFailed.
func classify(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	switch {
	case apperr.Is(err, apperr.KindGenerationFailed), apperr.Is(err, apperr.KindQuotaExceeded):
		return err
	case resilience.IsQuotaExceeded(err):
		return apperr.QuotaExceeded(service, err)
	case apperr.Is(err, apperr.KindTransientProvider):
		return apperr.GenerationFailed(fmt.Sprintf("%s is unavailable", service), err)
	}
	var pe *client.ProviderError
	if errors.As(err, &pe) {
		return apperr.GenerationFailed(fmt.Sprintf("%s rejected the request", service), err)
	}
	return apperr.GenerationFailed(fmt.Sprintf("%s request failed", service), err)
}

// waitForVideo polls a provider job through p without consuming rate-limit tokens.
func waitForVideo(ctx context.Context, logger *zap.Logger, p *resilience.Policy, service, id string, interval, maxWait time.Duration, get func(context.Context, string) (*client.GenerationStatus, error)) (*client.GenerationStatus, error) {
	return client.Poll(ctx, logger, service, id, interval, maxWait, func(ctx context.Context) (*client.GenerationStatus, error) {
		var status *client.GenerationStatus
		err := runUnlimited(ctx, p, func(ctx context.Context) error {
			var err error
			status, err = get(ctx, id)
			return err
		})
		return status, err
	})
}

// Registry maps generation models to adapters.
type Registry struct {
	adapters map[model.GenerationModel]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.GenerationModel]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Model()] = a
	}
	return r
}

func (r *Registry) Get(m model.GenerationModel) (Adapter, error) {
	a, ok := r.adapters[m]
	if !ok {
		return nil, apperr.Validationf("unsupported generation model %q", m)
	}
	return a, nil
}

func (r *Registry) Models() []model.GenerationModel {
	out := make([]model.GenerationModel, 0, len(r.adapters))
	for m := range r.adapters {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
