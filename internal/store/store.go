package store

import (
	"context"

	"github.com/castreel/api/internal/model"
)

// JobStore persists composite jobs and their clips. Every write is durable
// before it returns so a restarted worker can resume from the last transition.
type JobStore interface {
	// Create stores a new job together with its clips.
	Create(ctx context.Context, job *model.CompositeVideo) error
	// Get returns a copy of the job with clips ordered by index.
	Get(ctx context.Context, id string) (*model.CompositeVideo, error)
	// SaveJob writes the job's own fields. Clips are written with SaveClip.
	SaveJob(ctx context.Context, job *model.CompositeVideo) error
	SaveClip(ctx context.Context, clip *model.Clip) error
	// RequestCancel raises the cancel flag read by the worker before each clip.
	RequestCancel(ctx context.Context, id string) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
}
