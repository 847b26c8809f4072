package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/config"
)

// maxToolOutput is how much of a failing tool's output is kept for diagnostics.
const maxToolOutput = 2000

// Artifacts moves media between scratch space and the artifact store.
type Artifacts interface {
	Download(ctx context.Context, ref, dst string) error
	UploadFile(ctx context.Context, path, contentType string) (string, error)
}

// Tools runs ffmpeg and ffprobe.
type Tools struct {
	ffmpeg     string
	ffprobe    string
	scratchDir string
	logger     *zap.Logger
}

func NewTools(cfg *config.MediaConfig, logger *zap.Logger) *Tools {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tools{
		ffmpeg:     cfg.FFmpegPath,
		ffprobe:    cfg.FFprobePath,
		scratchDir: cfg.ScratchDir,
		logger:     logger,
	}
	if t.ffmpeg == "" {
		t.ffmpeg = "ffmpeg"
	}
	if t.ffprobe == "" {
		t.ffprobe = "ffprobe"
	}
	return t
}

// CheckFFmpeg reports MediaToolUnavailable when ffmpeg cannot be found.
func (t *Tools) CheckFFmpeg() error {
	if _, err := exec.LookPath(t.ffmpeg); err != nil {
		return apperr.MediaToolUnavailable("ffmpeg", err)
	}
	return nil
}

func (t *Tools) CheckFFprobe() error {
	if _, err := exec.LookPath(t.ffprobe); err != nil {
		return apperr.MediaToolUnavailable("ffprobe", err)
	}
	return nil
}

// Status reports tool availability for health checks.
func (t *Tools) Status() map[string]bool {
	return map[string]bool{
		"ffmpeg":  t.CheckFFmpeg() == nil,
		"ffprobe": t.CheckFFprobe() == nil,
	}
}

// ScratchDir creates a private working directory. The caller removes it.
func (t *Tools) ScratchDir(prefix string) (string, error) {
	if t.scratchDir != "" {
		if err := os.MkdirAll(t.scratchDir, 0o755); err != nil {
			return "", fmt.Errorf("creating scratch directory: %w", err)
		}
	}
	return os.MkdirTemp(t.scratchDir, prefix)
}

// ffprobeOutput holds the fields of `ffprobe -print_format json -show_format` we read.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the container duration of path in seconds.
func (t *Tools) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if err := t.CheckFFprobe(); err != nil {
		return 0, err
	}
	cmd := exec.CommandContext(ctx, t.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, apperr.MediaToolFailed("ffprobe", tail(stderr.String()), err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probe); err != nil {
		return 0, apperr.MediaToolFailed("ffprobe", tail(out.String()), err)
	}
	if probe.Format.Duration == "" {
		return 0, apperr.MediaToolFailed("ffprobe", tail(out.String()), errors.New("no duration in output"))
	}
	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, apperr.MediaToolFailed("ffprobe", probe.Format.Duration, err)
	}
	return d, nil
}

// ffmpegRun executes ffmpeg with args and captures combined output.
func (t *Tools) ffmpegRun(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, t.ffmpeg, args...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	t.logger.Debug("running ffmpeg", zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return apperr.MediaToolUnavailable("ffmpeg", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.MediaToolFailed("ffmpeg", tail(output.String()), err)
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxToolOutput {
		return s
	}
	return s[len(s)-maxToolOutput:]
}

func fileHasData(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
