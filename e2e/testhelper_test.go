package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/castreel/api/internal/auth"
	"github.com/castreel/api/internal/config"
	"github.com/castreel/api/internal/generation"
	"github.com/castreel/api/internal/handler"
	"github.com/castreel/api/internal/media"
	"github.com/castreel/api/internal/middleware"
	"github.com/castreel/api/internal/model"
	"github.com/castreel/api/internal/pipeline"
	"github.com/castreel/api/internal/resilience"
	"github.com/castreel/api/internal/segmenter"
	"github.com/castreel/api/internal/service"
	"github.com/castreel/api/internal/store"
	"github.com/castreel/api/internal/websocket"
	"github.com/castreel/api/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	redisAddr     = "localhost:6379"
	redisDB       = 15 // use DB 15 for tests to avoid collision
)

// fakeVideoAdapter renders clips instantly. A prompt listed in failOnce fails its first attempt.
type fakeVideoAdapter struct {
	mu       sync.Mutex
	calls    []*generation.Request
	failOnce map[string]bool
	// gate, when set, holds every call until it is closed.
	gate chan struct{}
}

func (f *fakeVideoAdapter) Model() model.GenerationModel { return model.ModelSelfVoicing }
func (f *fakeVideoAdapter) RequiresAudio() bool          { return false }

func (f *fakeVideoAdapter) Generate(ctx context.Context, req *generation.Request) (*generation.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	fail := f.failOnce[req.PromptText]
	delete(f.failOnce, req.PromptText)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, fmt.Errorf("provider rejected %q", req.PromptText)
	}
	return &generation.Result{
		VideoArtifactRef:  fmt.Sprintf("https://cdn.test/clip-%d.mp4", n),
		DurationSeconds:   req.DurationHint,
		ProviderRequestID: fmt.Sprintf("req-%d", n),
	}, nil
}

func (f *fakeVideoAdapter) Calls() []*generation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*generation.Request(nil), f.calls...)
}

type fakeFrames struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeFrames) ExtractFrame(ctx context.Context, videoRef string, pos media.Position) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return strings.TrimSuffix(videoRef, ".mp4") + "-last.jpg", nil
}

func (f *fakeFrames) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStitcher struct{}

func (fakeStitcher) Stitch(ctx context.Context, refs []string, durations []float64, ratio model.AspectRatio) (*media.StitchResult, error) {
	var total float64
	for _, d := range durations {
		total += d
	}
	return &media.StitchResult{VideoArtifactRef: "https://cdn.test/final.mp4", MeasuredDuration: total}, nil
}

// pipelineDeps are the generation side of the app under test.
type pipelineDeps struct {
	adapters *generation.Registry
	frames   pipeline.FrameExtractor
	stitcher pipeline.Stitcher
	cfg      *config.Config
}

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	jobs  store.JobStore
	token string
}

func testConfig() *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{LogLevel: "error", ShutdownTimeout: 5 * time.Second},
		Segmenter:  config.SegmenterConfig{MaxClipSeconds: 8, DefaultTargetSeconds: 15},
		Generation: config.GenerationConfig{DefaultModel: string(model.ModelSelfVoicing)},
		// each test gets its own queue so workers never pick up another test's tasks
		Worker: config.WorkerConfig{Concurrency: 2, Queue: "composite-e2e-" + uuid.NewString()[:8]},
	}
}

// setupApp wires the app like main.go, backed by a real Redis and asynq worker.
// Redis must be running on localhost; the test is skipped otherwise.
func setupApp(t *testing.T, deps pipelineDeps) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr, DB: redisDB})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: redis not available at %s: %v", redisAddr, err)
	}
	t.Cleanup(func() { redisClient.Close() })

	cfg := deps.cfg
	if cfg == nil {
		cfg = testConfig()
	}
	lg := zap.NewNop()

	jobs := store.NewRedisStore(redisClient, time.Hour)

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub(lg)
	go hub.Run(hubCtx)
	t.Cleanup(stopHub)

	processor := pipeline.NewClipProcessor(deps.adapters, jobs, hub, lg)
	orchestrator := pipeline.NewOrchestrator(jobs, processor, deps.frames, deps.stitcher, hub, lg)

	redisOpt := asynq.RedisClientOpt{Addr: redisAddr, DB: redisDB}
	asynqClient := asynq.NewClient(redisOpt)
	t.Cleanup(func() { asynqClient.Close() })

	workerServer := worker.NewServer(redisOpt, cfg, worker.NewCompositeWorker(orchestrator, lg), lg)
	if err := workerServer.Start(); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(workerServer.Shutdown)

	svc := service.NewCompositeService(
		jobs,
		segmenter.New(nil, lg),
		deps.adapters,
		service.NewAsynqQueue(asynqClient, cfg.Worker.Queue),
		&cfg.Segmenter,
		&cfg.Generation,
		lg,
	)

	verifier := auth.NewHMACVerifier(testJWTSecret)
	token, err := verifier.Issue("test-user-123", "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler(lg)})
	handler.RegisterRoutes(app, handler.Routes{
		Composite: handler.NewCompositeHandler(svc, validator.New()),
		Health: handler.NewHealthHandler(handler.HealthDeps{
			Services: map[string]bool{"video": true},
			Breakers: resilience.NewRegistry(),
			Store:    jobs,
		}),
		Auth:        handler.NewAuthHandler(verifier),
		Hub:         hub,
		APIAuth:     middleware.NewAuthMiddleware(verifier).Authenticate(),
		RateLimiter: middleware.NewRateLimiter(redisClient, lg),
		// Use very high rate limits so tests don't get blocked
		CompositesPerHour: 10000,
		PreviewPerMin:     10000,
	})

	return &testApp{app: app, jobs: jobs, token: token}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request and decodes the JSON response.
func (ta *testApp) doAuthRequest(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := doRequest(ta.app, method, path, body, map[string]string{
		"Authorization": "Bearer " + ta.token,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp.StatusCode, parseJSON(t, resp)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// waitForTerminal polls the status endpoint until the job is completed or failed.
func (ta *testApp) waitForTerminal(t *testing.T, jobID string, timeout time.Duration) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		status, body := ta.doAuthRequest(t, http.MethodGet, "/api/composites/"+jobID, "")
		if status != http.StatusOK {
			t.Fatalf("status query returned %d: %v", status, body)
		}
		switch body["status"] {
		case string(model.CompositeCompleted), string(model.CompositeFailed):
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s still %v after %s", jobID, body["status"], timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// waitFor polls cond until it holds or a few seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
