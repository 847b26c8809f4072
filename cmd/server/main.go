package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/castreel/api/internal/auth"
	"github.com/castreel/api/internal/client"
	"github.com/castreel/api/internal/config"
	"github.com/castreel/api/internal/generation"
	"github.com/castreel/api/internal/handler"
	"github.com/castreel/api/internal/logger"
	"github.com/castreel/api/internal/media"
	"github.com/castreel/api/internal/middleware"
	"github.com/castreel/api/internal/pipeline"
	"github.com/castreel/api/internal/resilience"
	"github.com/castreel/api/internal/segmenter"
	"github.com/castreel/api/internal/service"
	"github.com/castreel/api/internal/store"
	ws "github.com/castreel/api/internal/websocket"
	"github.com/castreel/api/internal/worker"
)

// @title          Castreel API
// @version        1.0
// @description    Composite vertical video generation from a script and an actor image.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync()

	ctx := context.Background()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		lg.Warn("redis not available", zap.Error(err))
	}

	jobs, closeStore, err := buildStore(cfg, redisClient, lg)
	if err != nil {
		lg.Fatal("failed to initialize job store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}

	policies := buildPolicies(cfg, lg)
	policy := func(name string) *resilience.Policy {
		p, _ := policies.Get(name)
		return p
	}

	storage, artifactDir, err := buildStorage(ctx, &cfg.Storage)
	if err != nil {
		lg.Fatal("failed to initialize artifact storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	artifacts := client.NewArtifactStore(storage, policy("artifact"), lg)
	if signedURLs(&cfg.Storage) {
		artifacts.WithSignedURLs(cfg.Storage.SignedURLExpiry)
	}
	lg.Info("artifact storage ready", zap.String("backend", artifacts.Backend()))

	// External clients
	llmClient := client.NewLLMClient(&cfg.LLM, policy("llm"), lg)
	speechClient := client.NewSpeechClient(&cfg.Speech, lg)
	avatarClient := client.NewAvatarClient(&cfg.Avatar, lg)
	videoClient := client.NewVideoClient(&cfg.Video, lg)

	adapters := generation.NewRegistry(
		generation.NewSelfVoicingAdapter(videoClient, policy("video"), lg),
		generation.NewTTSAnimationAdapter(speechClient, avatarClient, artifacts, policy("speech"), policy("avatar"), lg),
	)

	var strategy segmenter.Strategy
	switch strings.ToLower(cfg.Segmenter.Strategy) {
	case "llm":
		strategy = segmenter.NewLLMStrategy(llmClient, lg)
	case "even":
		strategy = segmenter.EvenStrategy{}
	}
	seg := segmenter.New(strategy, lg)

	tools := media.NewTools(&cfg.Media, lg)
	if err := tools.CheckFFmpeg(); err != nil {
		lg.Warn("ffmpeg unavailable, frame extraction and stitching will fail", zap.Error(err))
	}
	if err := tools.CheckFFprobe(); err != nil {
		lg.Warn("ffprobe unavailable", zap.Error(err))
	}
	frames := media.NewFrameExtractor(tools, artifacts, lg)
	stitcher := media.NewStitcher(tools, artifacts, &cfg.Media, lg)

	hubCtx, stopHub := context.WithCancel(ctx)
	hub := ws.NewHub(lg)
	go hub.Run(hubCtx)

	processor := pipeline.NewClipProcessor(adapters, jobs, hub, lg)
	orchestrator := pipeline.NewOrchestrator(jobs, processor, frames, stitcher, hub, lg)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	queue := service.NewAsynqQueue(asynqClient, cfg.Worker.Queue)

	compositeService := service.NewCompositeService(jobs, seg, adapters, queue, &cfg.Segmenter, &cfg.Generation, lg)

	workerServer := worker.NewServer(redisOpt, cfg, worker.NewCompositeWorker(orchestrator, lg), lg)
	if err := workerServer.Start(); err != nil {
		lg.Fatal("failed to start worker server", zap.Error(err))
	}

	verifier := auth.NewHMACVerifier(cfg.JWT.Secret)
	var apiAuth fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		lg.Info("gateway mode enabled, using header-based auth")
		apiAuth = middleware.GatewayAuthMiddleware()
	} else {
		apiAuth = middleware.NewAuthMiddleware(verifier).Authenticate()
	}

	services := map[string]bool{
		"llm":                llmClient.IsConfigured(),
		"speech":             speechClient.IsConfigured(),
		"avatar":             avatarClient.IsConfigured(),
		"video":              videoClient.IsConfigured(),
		"auth":               cfg.Gateway.Enabled || cfg.JWT.Secret != "",
		"storage:" + storage.Name(): true,
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler(lg),
		BodyLimit:    1024 * 1024,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	handler.RegisterRoutes(app, handler.Routes{
		Composite: handler.NewCompositeHandler(compositeService, validator.New()),
		Health: handler.NewHealthHandler(handler.HealthDeps{
			Services: services,
			Tools:    tools,
			Breakers: policies,
			Store:    jobs,
		}),
		Auth:              handler.NewAuthHandler(verifier),
		Hub:               hub,
		APIAuth:           apiAuth,
		RateLimiter:       middleware.NewRateLimiter(redisClient, lg),
		CompositesPerHour: cfg.RateLimit.CompositesPerHour,
		PreviewPerMin:     cfg.RateLimit.PreviewPerMin,
		ArtifactDir:       artifactDir,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		lg.Info("shutting down server")
		if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
			lg.Error("server shutdown error", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Server.Port
	lg.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Server.Env))
	if err := app.Listen(addr); err != nil {
		lg.Error("server error", zap.Error(err))
	}

	// Running jobs stop at their next cancellation point and resume on the next start.
	workerServer.Shutdown()
	stopHub()
	if err := asynqClient.Close(); err != nil {
		lg.Warn("asynq client close failed", zap.Error(err))
	}
	closeStore()
	if err := redisClient.Close(); err != nil {
		lg.Warn("redis close failed", zap.Error(err))
	}
}

// buildStore opens the configured job store and returns a function that releases it.
func buildStore(cfg *config.Config, redisClient *redis.Client, lg *zap.Logger) (store.JobStore, func(), error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "memory":
		lg.Warn("using in-memory job store, state is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	case "postgres":
		db, err := store.NewPostgresDB(&cfg.Store, cfg.Server.Env, lg)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgresStore(db), func() {
			if err := store.CloseDB(db); err != nil {
				lg.Warn("database close failed", zap.Error(err))
			}
		}, nil
	case "", "redis":
		return store.NewRedisStore(redisClient, store.DefaultJobTTL), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildStorage returns the artifact backend and, for local disk, the directory to serve.
func buildStorage(ctx context.Context, cfg *config.StorageConfig) (client.StorageClient, string, error) {
	switch strings.ToLower(cfg.Driver) {
	case "r2":
		c, err := client.NewR2Client(&cfg.R2)
		return c, "", err
	case "minio":
		c, err := client.NewMinIOClient(ctx, &cfg.MinIO)
		return c, "", err
	case "", "local":
		c, err := client.NewLocalStorage(&cfg.Local)
		if err != nil {
			return nil, "", err
		}
		return c, c.Dir(), nil
	default:
		return nil, "", fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func signedURLs(cfg *config.StorageConfig) bool {
	if cfg.SignedURLExpiry <= 0 {
		return false
	}
	switch strings.ToLower(cfg.Driver) {
	case "r2":
		return cfg.R2.PublicURL == ""
	case "minio":
		return cfg.MinIO.PublicURL == ""
	}
	return false
}

// buildPolicies creates one shared resilience policy per integration.
func buildPolicies(cfg *config.Config, lg *zap.Logger) *resilience.Registry {
	registry := resilience.NewRegistry()
	observer := resilience.LogObserver(lg)

	for _, name := range config.Integrations {
		rc := cfg.Resilience[name]

		retry := resilience.DefaultRetryConfig()
		if rc.Attempts > 0 {
			retry.MaxAttempts = rc.Attempts
		}
		if rc.InitialBackoff > 0 {
			retry.InitialInterval = rc.InitialBackoff
		}
		if rc.MaxBackoff > 0 {
			retry.MaxInterval = rc.MaxBackoff
		}
		switch name {
		case "video", "avatar":
			retry.Retryable = resilience.QuotaLimitedRetryable
		}

		breaker := resilience.DefaultBreakerConfig()
		if rc.BreakerWindow > 0 {
			breaker.Window = rc.BreakerWindow
		}
		if rc.BreakerCooldown > 0 {
			breaker.Cooldown = rc.BreakerCooldown
		}
		if rc.BreakerRatio > 0 {
			breaker.FailureRatio = rc.BreakerRatio
		}
		if rc.BreakerMinRequests > 0 {
			breaker.MinRequests = uint32(rc.BreakerMinRequests)
		}

		registry.Register(resilience.NewPolicy(resilience.PolicyConfig{
			Name:  name,
			Retry: retry,
			Limiter: resilience.LimiterConfig{
				PerMinute:     rc.PerMinute,
				Burst:         rc.Burst,
				MaxConcurrent: rc.MaxConcurrent,
			},
			Breaker: breaker,
			Timeout: rc.Timeout,
		}, lg, observer))
	}
	return registry
}
