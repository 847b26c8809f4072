package generation

import (
	"context"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/client"
	"github.com/castreel/api/internal/model"
	"github.com/castreel/api/internal/resilience"
)

// TTSAnimationAdapter voices the line with a TTS provider, uploads the audio
// and has an avatar provider animate the continuity image to it.
type TTSAnimationAdapter struct {
	speech       SpeechAPI
	avatar       AvatarAPI
	uploader     Uploader
	speechPolicy *resilience.Policy
	avatarPolicy *resilience.Policy
	logger       *zap.Logger
}

func NewTTSAnimationAdapter(speech SpeechAPI, avatar AvatarAPI, uploader Uploader, speechPolicy, avatarPolicy *resilience.Policy, logger *zap.Logger) *TTSAnimationAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TTSAnimationAdapter{
		speech:       speech,
		avatar:       avatar,
		uploader:     uploader,
		speechPolicy: speechPolicy,
		avatarPolicy: avatarPolicy,
		logger:       logger.Named("tts_animation"),
	}
}

func (a *TTSAnimationAdapter) Model() model.GenerationModel { return model.ModelTTSAnimation }

func (a *TTSAnimationAdapter) RequiresAudio() bool { return true }

// SynthesizeSpeech voices text and stores the audio.
func (a *TTSAnimationAdapter) SynthesizeSpeech(ctx context.Context, text string, voice model.VoiceDescriptor) (*AudioResult, error) {
	speechReq := &client.SpeechRequest{
		Text:             text,
		VoiceID:          voice.VoiceID,
		VoiceDescription: VoiceStyle(voice),
	}

	var res *client.SpeechResult
	err := run(ctx, a.speechPolicy, func(ctx context.Context) error {
		var err error
		res, err = a.speech.Synthesize(ctx, speechReq)
		return err
	})
	if err != nil {
		return nil, classify("speech", err)
	}

	ref, err := a.uploader.Upload(ctx, res.Audio, res.ContentType)
	if err != nil {
		return nil, apperr.GenerationFailed("audio upload failed", err)
	}
	a.logger.Debug("speech stored", zap.String("audio_ref", ref), zap.Int("bytes", len(res.Audio)))
	return &AudioResult{AudioArtifactRef: ref, ProviderRequestID: res.RequestID}, nil
}

func (a *TTSAnimationAdapter) Generate(ctx context.Context, req *Request) (*Result, error) {
	if req.ContinuityImage == "" {
		return nil, apperr.Validation("continuity image is required")
	}
	audioRef := req.AudioArtifactRef
	if audioRef == "" {
		audio, err := a.SynthesizeSpeech(ctx, req.PromptText, req.Voice)
		if err != nil {
			return nil, err
		}
		audioRef = audio.AudioArtifactRef
	}

	avatarReq := &client.AvatarRequest{
		ImageURL:    req.ContinuityImage,
		AudioURL:    audioRef,
		AspectRatio: string(req.AspectRatio.OrDefault()),
	}
	var id string
	err := run(ctx, a.avatarPolicy, func(ctx context.Context) error {
		var err error
		id, err = a.avatar.Submit(ctx, avatarReq)
		return err
	})
	if err != nil {
		return nil, classify("avatar", err)
	}
	a.logger.Info("animation submitted", zap.String("request_id", id))

	status, err := waitForVideo(ctx, a.logger, a.avatarPolicy, "avatar", id, a.avatar.PollInterval(), a.avatar.MaxWait(), a.avatar.GetStatus)
	if err != nil {
		return nil, classify("avatar", err)
	}

	seconds := status.Duration
	if seconds <= 0 {
		seconds = req.DurationHint
	}
	return &Result{
		VideoArtifactRef:  status.VideoURL,
		AudioArtifactRef:  audioRef,
		DurationSeconds:   seconds,
		ProviderRequestID: id,
	}, nil
}
