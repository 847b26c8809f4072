package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Store      StoreConfig
	JWT        JWTConfig
	Gateway    GatewayConfig
	RateLimit  RateLimitConfig
	Storage    StorageConfig
	LLM        LLMConfig
	Speech     ProviderConfig
	Avatar     ProviderConfig
	Video      ProviderConfig
	Media      MediaConfig
	Segmenter  SegmenterConfig
	Generation GenerationConfig
	Worker     WorkerConfig
	Resilience map[string]ResilienceConfig
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	ApiDomain       string
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StoreConfig selects where job state lives: redis, postgres or memory.
type StoreConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type JWTConfig struct {
	Secret string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	CompositesPerHour int
	PreviewPerMin     int
}

// StorageConfig selects the artifact store: r2, minio or local.
type StorageConfig struct {
	Driver string
	// SignedURLExpiry applies to r2 and minio buckets without a public URL.
	SignedURLExpiry time.Duration
	R2              R2Config
	MinIO           MinIOConfig
	Local           LocalStorageConfig
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	PublicURL       string
}

type LocalStorageConfig struct {
	Dir       string
	PublicURL string
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ProviderConfig describes one HTTP generation provider.
type ProviderConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxWait      time.Duration
}

type MediaConfig struct {
	FFmpegPath          string
	FFprobePath         string
	ScratchDir          string
	FPS                 int
	PixFmt              string
	AudioRate           int
	DownloadConcurrency int
}

type SegmenterConfig struct {
	Strategy             string
	MaxClipSeconds       float64
	DefaultTargetSeconds float64
}

type GenerationConfig struct {
	DefaultModel string
}

type WorkerConfig struct {
	Concurrency int
	Queue       string
}

// ResilienceConfig tunes retry, rate limit, timeout and circuit breaker for one integration.
type ResilienceConfig struct {
	Attempts           int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	PerMinute          int
	Burst              int
	MaxConcurrent      int
	Timeout            time.Duration
	BreakerWindow      time.Duration
	BreakerCooldown    time.Duration
	BreakerRatio       float64
	BreakerMinRequests int
}

// Integrations with their own resilience section.
var Integrations = []string{"llm", "speech", "avatar", "video", "artifact"}

var resilienceKeys = []string{
	"attempts", "initial_backoff", "max_backoff", "per_minute", "burst", "max_concurrent",
	"timeout", "breaker_window", "breaker_cooldown", "breaker_ratio", "breaker_min_requests",
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("STORE_DSN")
	readSecret("JWT_SECRET")
	readSecret("GROQ_API_KEY")
	readSecret("SPEECH_API_KEY")
	readSecret("AVATAR_API_KEY")
	readSecret("VIDEO_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("MINIO_ACCESS_KEY_ID")
	readSecret("MINIO_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("server.shutdown_timeout", "SHUTDOWN_TIMEOUT")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("store.driver", "STORE_DRIVER")
	_ = viper.BindEnv("store.dsn", "STORE_DSN")
	_ = viper.BindEnv("store.max_open_conns", "STORE_MAX_OPEN_CONNS")
	_ = viper.BindEnv("store.max_idle_conns", "STORE_MAX_IDLE_CONNS")
	_ = viper.BindEnv("store.auto_migrate", "STORE_AUTO_MIGRATE")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("ratelimit.composites_per_hour", "RATELIMIT_COMPOSITES_PER_HOUR")
	_ = viper.BindEnv("ratelimit.preview_per_min", "RATELIMIT_PREVIEW_PER_MIN")
	_ = viper.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = viper.BindEnv("storage.signed_url_expiry", "STORAGE_SIGNED_URL_EXPIRY")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	_ = viper.BindEnv("minio.access_key_id", "MINIO_ACCESS_KEY_ID")
	_ = viper.BindEnv("minio.secret_access_key", "MINIO_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("minio.bucket_name", "MINIO_BUCKET_NAME")
	_ = viper.BindEnv("minio.use_ssl", "MINIO_USE_SSL")
	_ = viper.BindEnv("minio.public_url", "MINIO_PUBLIC_URL")
	_ = viper.BindEnv("local_storage.dir", "LOCAL_STORAGE_DIR")
	_ = viper.BindEnv("local_storage.public_url", "LOCAL_STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("llm.api_key", "GROQ_API_KEY")
	_ = viper.BindEnv("llm.base_url", "GROQ_BASE_URL")
	_ = viper.BindEnv("llm.model", "GROQ_MODEL")
	for _, p := range []string{"speech", "avatar", "video"} {
		env := strings.ToUpper(p)
		_ = viper.BindEnv(p+".api_key", env+"_API_KEY")
		_ = viper.BindEnv(p+".base_url", env+"_BASE_URL")
		_ = viper.BindEnv(p+".model", env+"_MODEL")
		_ = viper.BindEnv(p+".timeout", env+"_TIMEOUT")
		_ = viper.BindEnv(p+".poll_interval", env+"_POLL_INTERVAL")
		_ = viper.BindEnv(p+".max_wait", env+"_MAX_WAIT")
	}
	_ = viper.BindEnv("media.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("media.ffprobe_path", "FFPROBE_PATH")
	_ = viper.BindEnv("media.scratch_dir", "MEDIA_SCRATCH_DIR")
	_ = viper.BindEnv("media.download_concurrency", "MEDIA_DOWNLOAD_CONCURRENCY")
	_ = viper.BindEnv("segmenter.strategy", "SEGMENTER_STRATEGY")
	_ = viper.BindEnv("segmenter.max_clip_seconds", "SEGMENTER_MAX_CLIP_SECONDS")
	_ = viper.BindEnv("segmenter.default_target_seconds", "SEGMENTER_DEFAULT_TARGET_SECONDS")
	_ = viper.BindEnv("generation.default_model", "GENERATION_DEFAULT_MODEL")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.queue", "WORKER_QUEUE")
	for _, name := range Integrations {
		for _, key := range resilienceKeys {
			_ = viper.BindEnv("resilience."+name+"."+key, strings.ToUpper("RESILIENCE_"+name+"_"+key))
		}
	}

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("store.driver", "redis")
	viper.SetDefault("store.max_open_conns", 10)
	viper.SetDefault("store.max_idle_conns", 2)
	viper.SetDefault("store.conn_max_lifetime", "1h")
	viper.SetDefault("store.auto_migrate", true)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("gateway.enabled", false)
	viper.SetDefault("ratelimit.composites_per_hour", 10)
	viper.SetDefault("ratelimit.preview_per_min", 30)

	// Storage defaults
	viper.SetDefault("storage.driver", "local")
	viper.SetDefault("storage.signed_url_expiry", "1h")
	viper.SetDefault("minio.bucket_name", "castreel")
	viper.SetDefault("local_storage.dir", "./data/artifacts")
	viper.SetDefault("local_storage.public_url", "http://localhost:8000/artifacts")

	// Groq defaults
	viper.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("llm.model", "llama-3.3-70b-versatile")

	// Provider defaults
	viper.SetDefault("speech.timeout", "60s")
	viper.SetDefault("avatar.timeout", "60s")
	viper.SetDefault("avatar.poll_interval", "5s")
	viper.SetDefault("avatar.max_wait", "10m")
	viper.SetDefault("video.timeout", "60s")
	viper.SetDefault("video.poll_interval", "10s")
	viper.SetDefault("video.max_wait", "10m")

	// Media defaults
	viper.SetDefault("media.ffmpeg_path", "ffmpeg")
	viper.SetDefault("media.ffprobe_path", "ffprobe")
	viper.SetDefault("media.scratch_dir", "")
	viper.SetDefault("media.fps", 30)
	viper.SetDefault("media.pix_fmt", "yuv420p")
	viper.SetDefault("media.audio_rate", 48000)
	viper.SetDefault("media.download_concurrency", 4)

	viper.SetDefault("segmenter.strategy", "heuristic")
	viper.SetDefault("segmenter.max_clip_seconds", 8)
	viper.SetDefault("segmenter.default_target_seconds", 30)
	viper.SetDefault("generation.default_model", "tts_animation")
	viper.SetDefault("worker.concurrency", 4)
	viper.SetDefault("worker.queue", "composite")

	setResilienceDefaults()

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:            viper.GetString("server.port"),
			Env:             viper.GetString("server.env"),
			LogLevel:        viper.GetString("server.log_level"),
			ApiDomain:       viper.GetString("server.api_domain"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Store: StoreConfig{
			Driver:          viper.GetString("store.driver"),
			DSN:             viper.GetString("store.dsn"),
			MaxOpenConns:    viper.GetInt("store.max_open_conns"),
			MaxIdleConns:    viper.GetInt("store.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("store.conn_max_lifetime"),
			AutoMigrate:     viper.GetBool("store.auto_migrate"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			CompositesPerHour: viper.GetInt("ratelimit.composites_per_hour"),
			PreviewPerMin:     viper.GetInt("ratelimit.preview_per_min"),
		},
		Storage: StorageConfig{
			Driver:          viper.GetString("storage.driver"),
			SignedURLExpiry: viper.GetDuration("storage.signed_url_expiry"),
			R2: R2Config{
				AccountID:       viper.GetString("r2.account_id"),
				AccessKeyID:     viper.GetString("r2.access_key_id"),
				SecretAccessKey: viper.GetString("r2.secret_access_key"),
				BucketName:      viper.GetString("r2.bucket_name"),
				PublicURL:       viper.GetString("r2.public_url"),
			},
			MinIO: MinIOConfig{
				Endpoint:        viper.GetString("minio.endpoint"),
				AccessKeyID:     viper.GetString("minio.access_key_id"),
				SecretAccessKey: viper.GetString("minio.secret_access_key"),
				BucketName:      viper.GetString("minio.bucket_name"),
				UseSSL:          viper.GetBool("minio.use_ssl"),
				PublicURL:       viper.GetString("minio.public_url"),
			},
			Local: LocalStorageConfig{
				Dir:       viper.GetString("local_storage.dir"),
				PublicURL: viper.GetString("local_storage.public_url"),
			},
		},
		LLM: LLMConfig{
			APIKey:  viper.GetString("llm.api_key"),
			BaseURL: viper.GetString("llm.base_url"),
			Model:   viper.GetString("llm.model"),
		},
		Speech: loadProvider("speech"),
		Avatar: loadProvider("avatar"),
		Video:  loadProvider("video"),
		Media: MediaConfig{
			FFmpegPath:          viper.GetString("media.ffmpeg_path"),
			FFprobePath:         viper.GetString("media.ffprobe_path"),
			ScratchDir:          viper.GetString("media.scratch_dir"),
			FPS:                 viper.GetInt("media.fps"),
			PixFmt:              viper.GetString("media.pix_fmt"),
			AudioRate:           viper.GetInt("media.audio_rate"),
			DownloadConcurrency: viper.GetInt("media.download_concurrency"),
		},
		Segmenter: SegmenterConfig{
			Strategy:             viper.GetString("segmenter.strategy"),
			MaxClipSeconds:       viper.GetFloat64("segmenter.max_clip_seconds"),
			DefaultTargetSeconds: viper.GetFloat64("segmenter.default_target_seconds"),
		},
		Generation: GenerationConfig{
			DefaultModel: viper.GetString("generation.default_model"),
		},
		Worker: WorkerConfig{
			Concurrency: viper.GetInt("worker.concurrency"),
			Queue:       viper.GetString("worker.queue"),
		},
		Resilience: make(map[string]ResilienceConfig, len(Integrations)),
	}
	for _, name := range Integrations {
		cfg.Resilience[name] = loadResilience(name)
	}

	return cfg, nil
}

func loadProvider(name string) ProviderConfig {
	return ProviderConfig{
		APIKey:       viper.GetString(name + ".api_key"),
		BaseURL:      viper.GetString(name + ".base_url"),
		Model:        viper.GetString(name + ".model"),
		Timeout:      viper.GetDuration(name + ".timeout"),
		PollInterval: viper.GetDuration(name + ".poll_interval"),
		MaxWait:      viper.GetDuration(name + ".max_wait"),
	}
}

func setResilienceDefaults() {
	for _, name := range Integrations {
		prefix := "resilience." + name + "."
		viper.SetDefault(prefix+"attempts", 3)
		viper.SetDefault(prefix+"initial_backoff", "1s")
		viper.SetDefault(prefix+"max_backoff", "10s")
		viper.SetDefault(prefix+"burst", 1)
		viper.SetDefault(prefix+"timeout", "60s")
		viper.SetDefault(prefix+"breaker_window", "1m")
		viper.SetDefault(prefix+"breaker_cooldown", "30s")
		viper.SetDefault(prefix+"breaker_ratio", 0.5)
		viper.SetDefault(prefix+"breaker_min_requests", 5)
	}
	// video providers enforce low per-minute quotas
	viper.SetDefault("resilience.video.per_minute", 10)
	viper.SetDefault("resilience.video.max_concurrent", 2)
	viper.SetDefault("resilience.avatar.per_minute", 20)
	viper.SetDefault("resilience.avatar.max_concurrent", 4)
	viper.SetDefault("resilience.speech.per_minute", 60)
	viper.SetDefault("resilience.llm.per_minute", 30)
	viper.SetDefault("resilience.llm.timeout", "30s")
	viper.SetDefault("resilience.artifact.timeout", "5m")
	viper.SetDefault("resilience.artifact.max_concurrent", 8)
}

func loadResilience(name string) ResilienceConfig {
	prefix := "resilience." + name + "."
	return ResilienceConfig{
		Attempts:           viper.GetInt(prefix + "attempts"),
		InitialBackoff:     viper.GetDuration(prefix + "initial_backoff"),
		MaxBackoff:         viper.GetDuration(prefix + "max_backoff"),
		PerMinute:          viper.GetInt(prefix + "per_minute"),
		Burst:              viper.GetInt(prefix + "burst"),
		MaxConcurrent:      viper.GetInt(prefix + "max_concurrent"),
		Timeout:            viper.GetDuration(prefix + "timeout"),
		BreakerWindow:      viper.GetDuration(prefix + "breaker_window"),
		BreakerCooldown:    viper.GetDuration(prefix + "breaker_cooldown"),
		BreakerRatio:       viper.GetFloat64(prefix + "breaker_ratio"),
		BreakerMinRequests: viper.GetInt(prefix + "breaker_min_requests"),
	}
}
