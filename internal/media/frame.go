package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/apperr"
)

// lastFrameOffset keeps the seek inside the stream; seeking to the exact end yields no frame.
const lastFrameOffset = 0.1

// Position selects which frame to extract.
type Position struct {
	last bool
	at   float64
}

func First() Position { return Position{} }

func Last() Position { return Position{last: true} }

// At seeks to seconds from the start, clamped to the clip.
func At(seconds float64) Position { return Position{at: seconds} }

func (p Position) String() string {
	if p.last {
		return "last"
	}
	return strconv.FormatFloat(p.at, 'f', 2, 64)
}

// FrameExtractor pulls a still image out of a clip and stores it as a JPEG.
type FrameExtractor struct {
	tools     *Tools
	artifacts Artifacts
	logger    *zap.Logger
}

func NewFrameExtractor(tools *Tools, artifacts Artifacts, logger *zap.Logger) *FrameExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FrameExtractor{tools: tools, artifacts: artifacts, logger: logger.Named("frames")}
}

// ExtractFrame returns a reference to the frame of videoRef at pos.
func (f *FrameExtractor) ExtractFrame(ctx context.Context, videoRef string, pos Position) (string, error) {
	if err := f.tools.CheckFFmpeg(); err != nil {
		return "", err
	}

	dir, err := f.tools.ScratchDir("frame-")
	if err != nil {
		return "", apperr.Internal(err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "clip.mp4")
	if err := f.artifacts.Download(ctx, videoRef, input); err != nil {
		if apperr.Is(err, apperr.KindDownloadFailed) {
			return "", err
		}
		return "", apperr.DownloadFailed(videoRef, err)
	}

	seek, err := f.seekTime(ctx, input, pos)
	if err != nil {
		return "", err
	}

	output := filepath.Join(dir, "frame.jpg")
	err = f.tools.ffmpegRun(ctx,
		"-y",
		"-ss", strconv.FormatFloat(seek, 'f', 3, 64),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		output,
	)
	if err != nil {
		return "", err
	}
	if !fileHasData(output) {
		return "", apperr.MediaToolFailed("ffmpeg", fmt.Sprintf("no frame written at %.3fs", seek), errors.New("empty output"))
	}

	ref, err := f.artifacts.UploadFile(ctx, output, "image/jpeg")
	if err != nil {
		return "", err
	}
	f.logger.Debug("frame extracted",
		zap.String("video_ref", videoRef),
		zap.String("position", pos.String()),
		zap.Float64("seek", seek),
		zap.String("frame_ref", ref),
	)
	return ref, nil
}

func (f *FrameExtractor) seekTime(ctx context.Context, input string, pos Position) (float64, error) {
	if !pos.last && pos.at <= 0 {
		return 0, nil
	}
	duration, err := f.tools.ProbeDuration(ctx, input)
	if err != nil {
		return 0, err
	}
	limit := math.Max(duration-lastFrameOffset, 0)
	if pos.last {
		return limit, nil
	}
	return math.Min(pos.at, limit), nil
}
