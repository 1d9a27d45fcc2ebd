package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisc "github.com/contentforge/core/internal/pkg/redis"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is a unit of background work stored in Redis.
type Task struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Status    TaskStatus      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	DedupKey  string          `json:"dedup_key,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

const (
	keyPrefix   = "cf:task:"
	keyPending  = "cf:tasks:pending" // list: task ids awaiting a consumer
	keyIndex    = "cf:tasks:index"   // sorted set: score=created_at, member=task_id
	keyDedupSet = "cf:tasks:dedup:"  // hash: dedup_key -> task_id
	taskTTL     = 7 * 24 * time.Hour
)

// Handler consumes one dequeued task.
type Handler func(ctx context.Context, task *Task) error

// Service manages the Redis-backed task queue.
type Service struct {
	rc       *redisc.Client
	logger   *zap.Logger
	handlers map[string]Handler
}

func NewService(rc *redisc.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		rc:       rc,
		logger:   logger.Named("TaskQueue"),
		handlers: make(map[string]Handler),
	}
}

func (s *Service) taskKey(id string) string { return keyPrefix + id }

// Register binds a handler to a task type. Must be called before Run.
func (s *Service) Register(taskType string, h Handler) {
	s.handlers[taskType] = h
}

// Enqueue creates a new task and hands it to the consumer lane, respecting
// deduplication: while a task with the same dedup key is still in flight the
// existing task is returned instead of a new one.
func (s *Service) Enqueue(ctx context.Context, taskType string, payload interface{}, dedupKey string) (*Task, error) {
	if dedupKey != "" {
		existing, err := s.rc.Raw().HGet(ctx, keyDedupSet+taskType, dedupKey).Result()
		if err == nil && existing != "" {
			if task, err := s.GetByID(ctx, existing); err == nil && task != nil {
				return task, nil
			}
		}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Payload:   payloadBytes,
		Status:    TaskPending,
		DedupKey:  dedupKey,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	data, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}

	pipe := s.rc.Raw().TxPipeline()
	pipe.Set(ctx, s.taskKey(task.ID), data, taskTTL)
	pipe.ZAdd(ctx, keyIndex, redis.Z{
		Score:  float64(task.CreatedAt.UnixMilli()),
		Member: task.ID,
	})
	pipe.LPush(ctx, keyPending, task.ID)
	if dedupKey != "" {
		pipe.HSet(ctx, keyDedupSet+taskType, dedupKey, task.ID)
		pipe.Expire(ctx, keyDedupSet+taskType, taskTTL)
	}
	_, err = pipe.Exec(ctx)
	return task, err
}

// GetByID retrieves a task by its ID. Returns (nil, nil) when unknown.
func (s *Service) GetByID(ctx context.Context, id string) (*Task, error) {
	data, err := s.rc.Raw().Get(ctx, s.taskKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task Task
	return &task, json.Unmarshal(data, &task)
}

// UpdateStatus sets a task's status and optional result/error.
func (s *Service) UpdateStatus(ctx context.Context, id string, status TaskStatus, result interface{}, errMsg string) error {
	task, err := s.GetByID(ctx, id)
	if err != nil || task == nil {
		return fmt.Errorf("task not found")
	}

	task.Status = status
	task.UpdatedAt = time.Now()
	task.Error = errMsg

	if result != nil {
		task.Result, _ = json.Marshal(result)
	}

	if (status == TaskCompleted || status == TaskFailed) && task.DedupKey != "" {
		s.rc.Raw().HDel(ctx, keyDedupSet+task.Type, task.DedupKey)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.rc.Raw().Set(ctx, s.taskKey(id), data, taskTTL).Err()
}

// Run consumes pending tasks until the context is cancelled. Each task is
// dispatched to its registered handler; handler failures mark the task failed
// and are logged, never propagated.
func (s *Service) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := s.rc.Raw().BRPop(ctx, time.Second, keyPending).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		s.dispatch(ctx, res[1])
	}
}

// RunOnce drains and processes a single pending task if one is queued.
// Used by tests and by synchronous admin triggers.
func (s *Service) RunOnce(ctx context.Context) (bool, error) {
	id, err := s.rc.Raw().RPop(ctx, keyPending).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.dispatch(ctx, id)
	return true, nil
}

func (s *Service) dispatch(ctx context.Context, id string) {
	task, err := s.GetByID(ctx, id)
	if err != nil || task == nil {
		s.logger.Warn("pending task vanished", zap.String("id", id), zap.Error(err))
		return
	}

	handler, ok := s.handlers[task.Type]
	if !ok {
		s.logger.Warn("no handler registered", zap.String("type", task.Type), zap.String("id", id))
		_ = s.UpdateStatus(ctx, id, TaskFailed, nil, "no handler registered for "+task.Type)
		return
	}

	_ = s.UpdateStatus(ctx, id, TaskRunning, nil, "")
	if err := handler(ctx, task); err != nil {
		s.logger.Warn("task failed", zap.String("type", task.Type), zap.String("id", id), zap.Error(err))
		_ = s.UpdateStatus(ctx, id, TaskFailed, nil, err.Error())
		return
	}
	_ = s.UpdateStatus(ctx, id, TaskCompleted, nil, "")
}

// List returns tasks matching optional filters, newest first.
func (s *Service) List(ctx context.Context, taskType *string, status *TaskStatus) ([]*Task, error) {
	ids, err := s.rc.Raw().ZRevRange(ctx, keyIndex, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var tasks []*Task
	for _, id := range ids {
		task, err := s.GetByID(ctx, id)
		if err != nil || task == nil {
			continue
		}
		if taskType != nil && task.Type != *taskType {
			continue
		}
		if status != nil && task.Status != *status {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// DeleteCompleted removes completed/failed tasks created before the cutoff
// (0 = all of them).
func (s *Service) DeleteCompleted(ctx context.Context, beforeMS int64) error {
	ids, _ := s.rc.Raw().ZRange(ctx, keyIndex, 0, -1).Result()
	pipe := s.rc.Raw().TxPipeline()
	for _, id := range ids {
		task, err := s.GetByID(ctx, id)
		if err != nil || task == nil {
			continue
		}
		if task.Status != TaskCompleted && task.Status != TaskFailed {
			continue
		}
		if beforeMS > 0 && task.CreatedAt.UnixMilli() >= beforeMS {
			continue
		}
		pipe.Del(ctx, s.taskKey(id))
		pipe.ZRem(ctx, keyIndex, id)
		if task.DedupKey != "" {
			pipe.HDel(ctx, keyDedupSet+task.Type, task.DedupKey)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}
