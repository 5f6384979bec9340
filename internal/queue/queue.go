package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recommender/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	// TaskTypeWarm fills a category's embedding cache ahead of requests.
	TaskTypeWarm TaskType = "warm"
)

// Task is a unit of background work.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

// WarmPayload is the Payload of a TaskTypeWarm task.
type WarmPayload struct {
	Category string `json:"category"`
}

// NewWarmTask builds a warm-up task for category.
func NewWarmTask(category string) (Task, error) {
	body, err := json.Marshal(WarmPayload{Category: category})
	if err != nil {
		return Task{}, err
	}
	return Task{ID: uuid.New(), Type: TaskTypeWarm, Payload: body, MaxAttempts: 3}, nil
}

// DecodeWarm extracts the payload of a warm-up task.
func DecodeWarm(task Task) (WarmPayload, error) {
	var p WarmPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return WarmPayload{}, fmt.Errorf("decode warm payload: %w", err)
	}
	if p.Category == "" {
		return WarmPayload{}, fmt.Errorf("decode warm payload: category required")
	}
	return p, nil
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := q.Enqueue(ctx, task); err == nil {
			return nil
		} else if attempt == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.ExponentialBackoff(attempt, base)):
		}
	}
	return nil
}
