package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/castreel/api/internal/apperr"
)

const (
	TaskTypeComposite = "composite:generate"
	DefaultQueue      = "composite"
)

// CompositeTaskPayload is the body of a composite task. The job itself lives in the store.
type CompositeTaskPayload struct {
	JobID string `json:"jobId"`
}

// Enqueuer dispatches a job to the background worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// AsynqQueue dispatches composite jobs through asynq.
type AsynqQueue struct {
	client *asynq.Client
	queue  string
}

func NewAsynqQueue(client *asynq.Client, queue string) *AsynqQueue {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AsynqQueue{client: client, queue: queue}
}

// Enqueue submits jobID once. Failed jobs are never retried by asynq; a retry is a new job.
func (q *AsynqQueue) Enqueue(ctx context.Context, jobID string) error {
	task, err := NewCompositeTask(jobID)
	if err != nil {
		return apperr.Internal(err)
	}

	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.MaxRetry(0),
		asynq.TaskID(jobID),
		asynq.Timeout(2*time.Hour),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return apperr.Conflict("job is already queued")
		}
		return apperr.Internal(fmt.Errorf("failed to enqueue task: %w", err))
	}
	return nil
}

func NewCompositeTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(CompositeTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeComposite, data), nil
}

// ParseCompositeTask returns the job ID carried by t.
func ParseCompositeTask(t *asynq.Task) (string, error) {
	var payload CompositeTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return "", fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if payload.JobID == "" {
		return "", errors.New("task payload has no job id")
	}
	return payload.JobID, nil
}
