package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite records history in a local database file.
type SQLite struct {
	conn *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath and initializes the
// schema.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory failed: %w", err)
	}

	// WAL for concurrent readers
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &SQLite{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema failed: %w", err)
	}
	return db, nil
}

func (db *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		visibility TEXT NOT NULL,
		question_count INTEGER NOT NULL,
		file_count INTEGER NOT NULL,
		authenticated INTEGER NOT NULL,
		task_id TEXT,
		exam_id TEXT,
		outcome TEXT NOT NULL,
		message TEXT,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_outcome ON submissions(outcome);
	CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON submissions(created_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Record inserts e and fills in its ID.
func (db *SQLite) Record(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO submissions (title, visibility, question_count, file_count, authenticated,
			task_id, exam_id, outcome, message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.conn.ExecContext(ctx, query,
		e.Title, e.Visibility, e.QuestionCount, e.FileCount, e.Authenticated,
		e.TaskID, e.ExamID, string(e.Outcome), e.Message,
		e.Duration.Milliseconds(), e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// Recent returns the newest entries first.
func (db *SQLite) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, visibility, question_count, file_count, authenticated,
			COALESCE(task_id, ''), COALESCE(exam_id, ''), outcome, COALESCE(message, ''),
			duration_ms, created_at
		FROM submissions
		ORDER BY id DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			outcome    string
			durationMS int64
			createdMS  int64
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Visibility, &e.QuestionCount, &e.FileCount, &e.Authenticated,
			&e.TaskID, &e.ExamID, &outcome, &e.Message, &durationMS, &createdMS); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		e.Outcome = Outcome(outcome)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(createdMS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts over all submissions.
func (db *SQLite) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0)
		FROM submissions
	`, string(OutcomeSucceeded), string(OutcomeFailed), string(OutcomeTimedOut)).
		Scan(&stats.Total, &stats.Succeeded, &stats.Failed, &stats.TimedOut)
	if err != nil {
		return nil, fmt.Errorf("query total stats: %w", err)
	}

	err = db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM submissions WHERE created_at >= ?
	`, startOfDay(time.Now()).UnixMilli()).Scan(&stats.Today)
	if err != nil {
		return nil, fmt.Errorf("query today stats: %w", err)
	}

	return stats, nil
}

// Close closes the database connection.
func (db *SQLite) Close() error {
	return db.conn.Close()
}
