package worker

import (
	"context"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/castreel/api/internal/config"
	"github.com/castreel/api/internal/service"
)

// Server runs the asynq worker pool that processes composite tasks.
type Server struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch {
	case strings.EqualFold(level, "debug"):
		return asynq.DebugLevel
	case strings.EqualFold(level, "warn"):
		return asynq.WarnLevel
	case strings.EqualFold(level, "error"):
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

func NewServer(redisOpt asynq.RedisClientOpt, cfg *config.Config, composite *CompositeWorker, logger *zap.Logger) *Server {
	queue := cfg.Worker.Queue
	if queue == "" {
		queue = service.DefaultQueue
	}
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	shutdown := cfg.Server.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}

	named := logger.Named("asynq")
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{queue: 1},
		LogLevel:        asynqLogLevel(cfg.Server.LogLevel),
		Logger:          named.Sugar(),
		ShutdownTimeout: shutdown,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			named.Error("task failed", zap.String("type", task.Type()), zap.ByteString("payload", task.Payload()), zap.Error(err))
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeComposite, composite.ProcessTask)

	return &Server{srv: srv, mux: mux, logger: logger}
}

// Start begins processing in the background.
func (s *Server) Start() error {
	s.logger.Info("worker server starting")
	return s.srv.Start(s.mux)
}

// Shutdown stops fetching new tasks and waits for active ones up to the shutdown timeout.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
	s.logger.Info("worker server stopped")
}
