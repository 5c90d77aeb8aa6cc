package history

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// submission is the GORM model for a history entry.
type submission struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	Title         string    `gorm:"type:text;not null"`
	Visibility    string    `gorm:"type:varchar(16);not null"`
	QuestionCount int       `gorm:"not null"`
	FileCount     int       `gorm:"not null"`
	Authenticated bool      `gorm:"not null"`
	TaskID        string    `gorm:"type:varchar(128)"`
	ExamID        string    `gorm:"type:varchar(64)"`
	Outcome       string    `gorm:"type:varchar(16);not null;index"`
	Message       string    `gorm:"type:text"`
	DurationMS    int64     `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

func (submission) TableName() string { return "submissions" }

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("history store closed")

// Postgres records history through GORM. Writes are queued and applied by a
// background worker so callers never wait on the database.
type Postgres struct {
	db    *gorm.DB
	logCh chan func()
	wg    sync.WaitGroup

	// mu guards closed and the send on logCh against close.
	mu     sync.RWMutex
	closed bool
}

// NewPostgres opens the database, auto-migrates the schema, and starts the
// write worker.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return newGormRecorder(db)
}

func newGormRecorder(db *gorm.DB) (*Postgres, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&submission{}); err != nil {
		return nil, fmt.Errorf("auto-migrate history: %w", err)
	}

	p := &Postgres{
		db:    db,
		logCh: make(chan func(), 256),
	}
	p.wg.Add(1)
	go p.writeWorker()
	return p, nil
}

func (p *Postgres) writeWorker() {
	defer p.wg.Done()
	for fn := range p.logCh {
		fn()
	}
}

// Record queues e for insertion. It returns ErrClosed after Close, or the
// context error if the queue stays full until ctx is done. Write failures are
// logged by the worker.
func (p *Postgres) Record(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	row := submission{
		Title:         e.Title,
		Visibility:    e.Visibility,
		QuestionCount: e.QuestionCount,
		FileCount:     e.FileCount,
		Authenticated: e.Authenticated,
		TaskID:        e.TaskID,
		ExamID:        e.ExamID,
		Outcome:       string(e.Outcome),
		Message:       e.Message,
		DurationMS:    e.Duration.Milliseconds(),
		CreatedAt:     e.CreatedAt,
	}
	write := func() {
		if err := p.db.Create(&row).Error; err != nil {
			log.Printf("[history] record submission error: %v", err)
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.logCh <- write:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recent returns the newest entries first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var rows []submission
	if err := p.db.WithContext(ctx).Order("id DESC").Limit(clampLimit(limit)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{
			ID:            r.ID,
			Title:         r.Title,
			Visibility:    r.Visibility,
			QuestionCount: r.QuestionCount,
			FileCount:     r.FileCount,
			Authenticated: r.Authenticated,
			TaskID:        r.TaskID,
			ExamID:        r.ExamID,
			Outcome:       Outcome(r.Outcome),
			Message:       r.Message,
			Duration:      time.Duration(r.DurationMS) * time.Millisecond,
			CreatedAt:     r.CreatedAt,
		})
	}
	return entries, nil
}

// Stats returns aggregate counts over all submissions.
func (p *Postgres) Stats(ctx context.Context) (*Stats, error) {
	var agg struct {
		Total     int
		Succeeded int
		Failed    int
		TimedOut  int
	}
	err := p.db.WithContext(ctx).Model(&submission{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS succeeded,
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS timed_out`,
			string(OutcomeSucceeded), string(OutcomeFailed), string(OutcomeTimedOut)).
		Scan(&agg).Error
	if err != nil {
		return nil, fmt.Errorf("query total stats: %w", err)
	}

	var today int64
	if err := p.db.WithContext(ctx).Model(&submission{}).
		Where("created_at >= ?", startOfDay(time.Now())).
		Count(&today).Error; err != nil {
		return nil, fmt.Errorf("query today stats: %w", err)
	}

	return &Stats{
		Total:     agg.Total,
		Succeeded: agg.Succeeded,
		Failed:    agg.Failed,
		TimedOut:  agg.TimedOut,
		Today:     int(today),
	}, nil
}

// Close drains pending writes and closes the pool.
func (p *Postgres) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.logCh)
	}
	p.mu.Unlock()
	p.wg.Wait()

	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
