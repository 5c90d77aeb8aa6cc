package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lklkevin/pear/internal/model"
)

const (
	DefaultExamTTL = time.Hour
	DefaultTaskTTL = 24 * time.Hour
)

// ErrNoExam means the browsing session has no generated exam.
var ErrNoExam = errors.New("no generated exam in browsing session")

// Redis key helpers
func taskKey(sid string) string { return "task:" + sid }
func examKey(sid string) string { return "exam:" + sid }

// Browsing is the per-browser session that remembers the last unsaved
// generation: its task id and a cached copy of the result.
type Browsing struct {
	rdb     *redis.Client
	id      string
	examTTL time.Duration
	taskTTL time.Duration
}

// NewBrowsing opens a browsing session. An empty id starts a fresh one.
func NewBrowsing(rdb *redis.Client, id string, examTTL, taskTTL time.Duration) *Browsing {
	if id == "" {
		id = uuid.NewString()
	}
	if examTTL <= 0 {
		examTTL = DefaultExamTTL
	}
	if taskTTL <= 0 {
		taskTTL = DefaultTaskTTL
	}
	return &Browsing{rdb: rdb, id: id, examTTL: examTTL, taskTTL: taskTTL}
}

// ID returns the browsing session id.
func (b *Browsing) ID() string { return b.id }

// SaveTask remembers the task that produced the latest unsaved exam.
func (b *Browsing) SaveTask(ctx context.Context, taskID string) error {
	if err := b.rdb.Set(ctx, taskKey(b.id), taskID, b.taskTTL).Err(); err != nil {
		return fmt.Errorf("save task id: %w", err)
	}
	return nil
}

// TaskID returns the remembered task id, or "" when there is none.
func (b *Browsing) TaskID(ctx context.Context) (string, error) {
	id, err := b.rdb.Get(ctx, taskKey(b.id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get task id: %w", err)
	}
	return id, nil
}

// CacheExam stores the parsed exam for the exam TTL.
func (b *Browsing) CacheExam(ctx context.Context, exam *model.Exam) error {
	data, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal exam: %w", err)
	}
	if err := b.rdb.SetEx(ctx, examKey(b.id), data, b.examTTL).Err(); err != nil {
		return fmt.Errorf("cache exam: %w", err)
	}
	return nil
}

// CachedExam returns the cached exam, or ErrNoExam on a miss.
func (b *Browsing) CachedExam(ctx context.Context) (*model.Exam, error) {
	data, err := b.rdb.Get(ctx, examKey(b.id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoExam
	}
	if err != nil {
		return nil, fmt.Errorf("get cached exam: %w", err)
	}
	var exam model.Exam
	if err := json.Unmarshal(data, &exam); err != nil {
		return nil, fmt.Errorf("decode cached exam: %w", err)
	}
	return &exam, nil
}

// Clear forgets the task id and the cached exam.
func (b *Browsing) Clear(ctx context.Context) error {
	if err := b.rdb.Del(ctx, taskKey(b.id), examKey(b.id)).Err(); err != nil {
		return fmt.Errorf("clear browsing session: %w", err)
	}
	return nil
}
