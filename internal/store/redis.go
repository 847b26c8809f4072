package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/model"
)

// DefaultJobTTL is how long finished and unfinished jobs are kept in redis.
const DefaultJobTTL = 7 * 24 * time.Hour

const maxWatchRetries = 5

// RedisStore keeps each job, clips included, as one JSON document. The cancel
// flag lives under its own key so worker writes never overwrite it.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &RedisStore{redis: redisClient, ttl: ttl}
}

func jobKey(id string) string {
	return fmt.Sprintf("composite:%s", id)
}

func cancelKey(id string) string {
	return fmt.Sprintf("composite:%s:cancel", id)
}

func (s *RedisStore) Create(ctx context.Context, job *model.CompositeVideo) error {
	data, err := json.Marshal(job)
	if err != nil {
		return apperr.Persistence("create job", err)
	}
	ok, err := s.redis.SetNX(ctx, jobKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return apperr.Persistence("create job", err)
	}
	if !ok {
		return apperr.Conflict("job already exists")
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.CompositeVideo, error) {
	job, err := s.load(ctx, s.redis, id)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.IsCancelRequested(ctx, id)
	if err != nil {
		return nil, err
	}
	job.CancelRequested = job.CancelRequested || cancelled
	return job, nil
}

func (s *RedisStore) load(ctx context.Context, cmd redis.Cmdable, id string) (*model.CompositeVideo, error) {
	data, err := cmd.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.NotFound("job")
		}
		return nil, apperr.Persistence("get job", err)
	}

	var job model.CompositeVideo
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, apperr.Persistence("decode job", err)
	}
	sort.Slice(job.Clips, func(i, j int) bool { return job.Clips[i].Index < job.Clips[j].Index })
	return &job, nil
}

// update runs a read-modify-write on the job document under WATCH.
func (s *RedisStore) update(ctx context.Context, op, id string, mutate func(*model.CompositeVideo) error) error {
	key := jobKey(id)
	txf := func(tx *redis.Tx) error {
		job, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mutate(job); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Persistence(op, err)
	}
	return apperr.Persistence(op, fmt.Errorf("concurrent updates to %s", key))
}

func (s *RedisStore) SaveJob(ctx context.Context, job *model.CompositeVideo) error {
	return s.update(ctx, "save job", job.ID, func(existing *model.CompositeVideo) error {
		clips := existing.Clips
		*existing = *job.Clone()
		existing.Clips = clips
		return nil
	})
}

func (s *RedisStore) SaveClip(ctx context.Context, clip *model.Clip) error {
	return s.update(ctx, "save clip", clip.CompositeID, func(existing *model.CompositeVideo) error {
		for i := range existing.Clips {
			if existing.Clips[i].Index == clip.Index {
				existing.Clips[i] = *clip.Clone()
				return nil
			}
		}
		return apperr.Persistence("save clip", apperr.NotFound("clip"))
	})
}

func (s *RedisStore) RequestCancel(ctx context.Context, id string) error {
	n, err := s.redis.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return apperr.Persistence("request cancel", err)
	}
	if n == 0 {
		return apperr.NotFound("job")
	}
	if err := s.redis.Set(ctx, cancelKey(id), "1", s.ttl).Err(); err != nil {
		return apperr.Persistence("request cancel", err)
	}
	return nil
}

func (s *RedisStore) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Exists(ctx, cancelKey(id)).Result()
	if err != nil {
		return false, apperr.Persistence("read cancel flag", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return apperr.Persistence("ping", err)
	}
	return nil
}
