// Package history keeps a record of exam submissions and how they ended.
package history

import (
	"context"
	"fmt"
	"time"
)

// Outcome is how a submission ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
)

// Entry is one finished submission.
type Entry struct {
	ID            int64         `json:"id"`
	Title         string        `json:"title"`
	Visibility    string        `json:"visibility"`
	QuestionCount int           `json:"questionCount"`
	FileCount     int           `json:"fileCount"`
	Authenticated bool          `json:"authenticated"`
	TaskID        string        `json:"taskId,omitempty"`
	ExamID        string        `json:"examId,omitempty"`
	Outcome       Outcome       `json:"outcome"`
	Message       string        `json:"message,omitempty"`
	Duration      time.Duration `json:"duration"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Stats aggregates all recorded submissions.
type Stats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timedOut"`
	Today     int `json:"today"`
}

// Recorder persists submission history.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Open selects a recorder by driver name ("sqlite" or "postgres").
func Open(driver, dsn string) (Recorder, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown history driver %q", driver)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

const defaultRecent = 20

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultRecent
	}
	return limit
}
