package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/config"
	"github.com/castreel/api/internal/model"
)

// StitchResult is the final composite.
type StitchResult struct {
	VideoArtifactRef string
	MeasuredDuration float64
	// Degraded is set when ffmpeg was unavailable and only the first clip was returned.
	Degraded bool
}

// Stitcher concatenates clips into one normalized video.
type Stitcher struct {
	tools       *Tools
	artifacts   Artifacts
	concurrency int
	fps         int
	pixFmt      string
	audioRate   int
	logger      *zap.Logger
}

func NewStitcher(tools *Tools, artifacts Artifacts, cfg *config.MediaConfig, logger *zap.Logger) *Stitcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stitcher{
		tools:       tools,
		artifacts:   artifacts,
		concurrency: cfg.DownloadConcurrency,
		fps:         cfg.FPS,
		pixFmt:      cfg.PixFmt,
		audioRate:   cfg.AudioRate,
		logger:      logger.Named("stitcher"),
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if s.fps <= 0 {
		s.fps = 30
	}
	if s.pixFmt == "" {
		s.pixFmt = "yuv420p"
	}
	if s.audioRate <= 0 {
		s.audioRate = 48000
	}
	return s
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// Stitch joins refs in order. durations are the per-clip lengths used when the output cannot be probed.
func (s *Stitcher) Stitch(ctx context.Context, refs []string, durations []float64, ratio model.AspectRatio) (*StitchResult, error) {
	switch len(refs) {
	case 0:
		return nil, apperr.Validation("no clips to stitch")
	case 1:
		return &StitchResult{VideoArtifactRef: refs[0], MeasuredDuration: sum(durations)}, nil
	}

	if err := s.tools.CheckFFmpeg(); err != nil {
		s.logger.Warn("ffmpeg unavailable, returning first clip only", zap.Int("clips", len(refs)), zap.Error(err))
		first := 0.0
		if len(durations) > 0 {
			first = durations[0]
		}
		return &StitchResult{VideoArtifactRef: refs[0], MeasuredDuration: first, Degraded: true}, nil
	}

	dir, err := s.tools.ScratchDir("stitch-")
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer os.RemoveAll(dir)

	inputs, err := s.downloadAll(ctx, dir, refs)
	if err != nil {
		return nil, err
	}

	listPath := filepath.Join(dir, "list.txt")
	if err := writeConcatList(listPath, inputs); err != nil {
		return nil, apperr.Internal(err)
	}

	output := filepath.Join(dir, "composite.mp4")
	if err := s.tools.ffmpegRun(ctx, s.concatArgs(listPath, output, ratio)...); err != nil {
		return nil, err
	}
	if !fileHasData(output) {
		return nil, apperr.MediaToolFailed("ffmpeg", "no output written", fmt.Errorf("empty output"))
	}

	measured, err := s.tools.ProbeDuration(ctx, output)
	if err != nil {
		measured = sum(durations)
		s.logger.Warn("could not probe stitched video, using clip durations", zap.Float64("duration", measured), zap.Error(err))
	}

	ref, err := s.artifacts.UploadFile(ctx, output, "video/mp4")
	if err != nil {
		return nil, err
	}
	s.logger.Info("composite stitched", zap.Int("clips", len(refs)), zap.Float64("duration", measured))
	return &StitchResult{VideoArtifactRef: ref, MeasuredDuration: measured}, nil
}

func (s *Stitcher) downloadAll(ctx context.Context, dir string, refs []string) ([]string, error) {
	inputs := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		inputs[i] = filepath.Join(dir, fmt.Sprintf("clip_%03d.mp4", i))
		g.Go(func() error {
			if err := s.artifacts.Download(gctx, ref, inputs[i]); err != nil {
				if apperr.Is(err, apperr.KindDownloadFailed) {
					return err
				}
				return apperr.DownloadFailed(ref, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

func (s *Stitcher) concatArgs(listPath, output string, ratio model.AspectRatio) []string {
	w, h := ratio.Resolution()
	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d",
		w, h, w, h, s.fps,
	)
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", filter,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "20",
		"-pix_fmt", s.pixFmt,
		"-c:a", "aac",
		"-ar", strconv.Itoa(s.audioRate),
		"-ac", "2",
		"-movflags", "+faststart",
		output,
	}
}

// writeConcatList writes an ffmpeg concat demuxer list with absolute, quoted paths.
func writeConcatList(path string, inputs []string) error {
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
