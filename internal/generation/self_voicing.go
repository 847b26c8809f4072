package generation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/client"
	"github.com/castreel/api/internal/model"
	"github.com/castreel/api/internal/resilience"
)

// SelfVoicingDurations are the clip lengths the self-voicing model accepts.
var SelfVoicingDurations = []int{4, 6, 8}

// RoundUpDuration returns the smallest accepted duration that fits seconds, capped at the longest.
func RoundUpDuration(seconds float64) int {
	for _, d := range SelfVoicingDurations {
		if seconds <= float64(d) {
			return d
		}
	}
	return SelfVoicingDurations[len(SelfVoicingDurations)-1]
}

// VoiceStyle renders a voice descriptor as an explicit description for the prompt.
func VoiceStyle(v model.VoiceDescriptor) string {
	var parts []string
	if v.Description != "" {
		parts = append(parts, strings.TrimSuffix(strings.TrimSpace(v.Description), "."))
	}
	attrs := []struct{ label, value string }{
		{"gender", v.Gender},
		{"age", v.Age},
		{"accent", v.Accent},
		{"tone", v.Tone},
		{"pace", v.Pace},
	}
	for _, a := range attrs {
		if a.value != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", a.label, a.value))
		}
	}
	if len(parts) == 0 {
		return "natural, friendly, conversational voice at a steady pace"
	}
	return strings.Join(parts, "; ")
}

var segmentDirection = map[model.SegmentType]string{
	model.SegmentHook:        "Open with energy and look straight into the lens to grab attention.",
	model.SegmentTestimonial: "Speak sincerely, like sharing a personal experience with a friend.",
	model.SegmentCTA:         "Finish with a confident, encouraging delivery and a slight smile.",
}

// BuildPrompt describes the shot, the exact voice style and the line to speak.
func BuildPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString("Vertical selfie-style UGC video. The person in the reference image talks directly to the camera with natural head movement and accurate lip sync. ")
	if dir, ok := segmentDirection[req.SegmentType]; ok {
		b.WriteString(dir)
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "Voice: %s. ", VoiceStyle(req.Voice))
	fmt.Fprintf(&b, "They say exactly: %q", strings.TrimSpace(req.PromptText))
	return b.String()
}

// SelfVoicingAdapter renders clips where the video model produces the speech itself.
type SelfVoicingAdapter struct {
	video  VideoAPI
	policy *resilience.Policy
	logger *zap.Logger
}

func NewSelfVoicingAdapter(video VideoAPI, policy *resilience.Policy, logger *zap.Logger) *SelfVoicingAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SelfVoicingAdapter{video: video, policy: policy, logger: logger.Named("self_voicing")}
}

func (a *SelfVoicingAdapter) Model() model.GenerationModel { return model.ModelSelfVoicing }

func (a *SelfVoicingAdapter) RequiresAudio() bool { return false }

func (a *SelfVoicingAdapter) Generate(ctx context.Context, req *Request) (*Result, error) {
	if req.ContinuityImage == "" {
		return nil, apperr.Validation("continuity image is required")
	}
	duration := RoundUpDuration(req.DurationHint)
	videoReq := &client.VideoRequest{
		Prompt:          BuildPrompt(req),
		ImageURL:        req.ContinuityImage,
		DurationSeconds: duration,
		AspectRatio:     string(req.AspectRatio.OrDefault()),
		GenerateAudio:   true,
	}

	var id string
	err := run(ctx, a.policy, func(ctx context.Context) error {
		var err error
		id, err = a.video.Submit(ctx, videoReq)
		return err
	})
	if err != nil {
		return nil, classify("video", err)
	}
	a.logger.Info("video submitted", zap.String("request_id", id), zap.Int("duration", duration))

	status, err := waitForVideo(ctx, a.logger, a.policy, "video", id, a.video.PollInterval(), a.video.MaxWait(), a.video.GetStatus)
	if err != nil {
		return nil, classify("video", err)
	}

	seconds := status.Duration
	if seconds <= 0 {
		seconds = float64(duration)
	}
	return &Result{
		VideoArtifactRef:  status.VideoURL,
		DurationSeconds:   seconds,
		ProviderRequestID: id,
	}, nil
}
