package e2e

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/castreel/api/internal/client"
	"github.com/castreel/api/internal/config"
	"github.com/castreel/api/internal/generation"
	"github.com/castreel/api/internal/media"
	"github.com/castreel/api/internal/model"
	"github.com/castreel/api/internal/resilience"
)

// loadEnvFile reads a .env file and sets environment variables.
func loadEnvFile(t *testing.T) {
	t.Helper()
	_, filename, _, _ := runtime.Caller(0)
	envPath := filepath.Join(filepath.Dir(filename), "..", ".env")

	f, err := os.Open(envPath)
	if err != nil {
		t.Skipf("skipping: .env file not found at %s", envPath)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			os.Setenv(parts[0], parts[1])
		}
	}
}

// setupRealApp wires real providers, object storage and ffmpeg behind the test app.
func setupRealApp(t *testing.T) *testApp {
	t.Helper()
	loadEnvFile(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Video.APIKey == "" {
		t.Skip("skipping: VIDEO_API_KEY not configured")
	}

	// providers fetch continuity frames by URL, so artifacts must be publicly reachable
	var storage client.StorageClient
	switch cfg.Storage.Driver {
	case "r2":
		storage, err = client.NewR2Client(&cfg.Storage.R2)
	case "minio":
		storage, err = client.NewMinIOClient(context.Background(), &cfg.Storage.MinIO)
	default:
		t.Skipf("skipping: storage driver %q is not reachable by providers", cfg.Storage.Driver)
	}
	if err != nil {
		t.Fatalf("failed to create storage client: %v", err)
	}

	tools := media.NewTools(&cfg.Media, nil)
	if err := tools.CheckFFmpeg(); err != nil {
		t.Skipf("skipping: %v", err)
	}

	artifacts := client.NewArtifactStore(storage, resilience.NewPolicy(resilience.PolicyConfig{Name: "artifact"}, nil, nil), nil)
	videoPolicy := resilience.NewPolicy(resilience.PolicyConfig{
		Name:  "video",
		Retry: resilience.RetryConfig{MaxAttempts: 2, Retryable: resilience.QuotaLimitedRetryable},
	}, nil, nil)

	cfg.Server.LogLevel = "error"
	cfg.Worker.Queue = "composite-e2e-" + uuid.NewString()[:8]
	cfg.Generation.DefaultModel = string(model.ModelSelfVoicing)

	return setupApp(t, pipelineDeps{
		adapters: generation.NewRegistry(generation.NewSelfVoicingAdapter(client.NewVideoClient(&cfg.Video, nil), videoPolicy, nil)),
		frames:   media.NewFrameExtractor(tools, artifacts, nil),
		stitcher: media.NewStitcher(tools, artifacts, &cfg.Media, nil),
		cfg:      cfg,
	})
}

func TestComposite_RealProvider(t *testing.T) {
	ta := setupRealApp(t)

	actor := os.Getenv("E2E_ACTOR_IMAGE_URL")
	if actor == "" {
		t.Skip("skipping: E2E_ACTOR_IMAGE_URL not set")
	}
	body := `{
		"script": "Okay, I was skeptical. Three weeks in, my skin has never looked better. Grab yours with the link in my bio!",
		"actor": {"imageUrl": "` + actor + `", "voice": {"tone": "excited", "gender": "female"}},
		"targetDurationSeconds": 15
	}`

	status, resp := ta.doAuthRequest(t, http.MethodPost, "/api/composites", body)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %v", status, resp)
	}
	jobID := resp["jobId"].(string)
	t.Logf("job %s started with %v clips", jobID, resp["totalClips"])

	result := ta.waitForTerminal(t, jobID, 30*time.Minute)
	if result["status"] != "completed" {
		t.Fatalf("expected completed, got %v: %v", result["status"], result["errorMessage"])
	}
	t.Logf("final video: %v (%vs, degraded=%v)", result["finalVideoUrl"], result["actualDuration"], result["degraded"])
}
