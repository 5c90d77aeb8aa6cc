// Package exam loads exams for viewing and exports them.
package exam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/lklkevin/pear/internal/backend"
	"github.com/lklkevin/pear/internal/model"
	"github.com/lklkevin/pear/internal/session"
	"github.com/lklkevin/pear/internal/state"
)

const (
	FetchFailed  = "Cannot fetch exam"
	NotGenerated = "You have not generated an exam yet!"

	homePath     = "/"
	generatePath = "/generate"
)

// ErrNotGenerated means the browsing session has nothing to show.
var ErrNotGenerated = errors.New(NotGenerated)

// Backend is the slice of the backend API used here.
type Backend interface {
	GetExam(ctx context.Context, token, examID string) (*model.RawExam, error)
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
}

// Cache is where the latest unsaved exam lives.
type Cache interface {
	TaskID(ctx context.Context) (string, error)
	CachedExam(ctx context.Context) (*model.Exam, error)
}

// Viewer fetches exams and tracks which answers are revealed for the exam
// currently on screen.
type Viewer struct {
	client Backend
	cache  Cache
	store  *state.Store

	reveal *Reveal
}

// NewViewer creates a viewer.
func NewViewer(client Backend, cache Cache, store *state.Store) *Viewer {
	return &Viewer{client: client, cache: cache, store: store, reveal: NewReveal(0)}
}

// Reveal returns the reveal state of the last loaded exam.
func (v *Viewer) Reveal() *Reveal { return v.reveal }

// Saved loads a stored exam. token may be empty for public exams. On
// failure the user is sent home.
func (v *Viewer) Saved(ctx context.Context, token, examID string) (*model.Exam, error) {
	v.store.SetLoading(true)
	defer v.store.SetLoading(false)

	raw, err := v.client.GetExam(ctx, token, examID)
	if err != nil {
		log.Printf("[exam] get exam %s: %v", examID, err)
		msg := FetchFailed
		// A 2xx reply that only carries a message is shown as is.
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusMultipleChoices && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return nil, v.fail(msg, homePath, err)
	}

	exam, err := model.ParseExam(raw)
	if err != nil {
		log.Printf("[exam] exam %s: %v", examID, err)
		return nil, v.fail(FetchFailed, homePath, err)
	}
	if exam.ID == "" {
		exam.ID = examID
	}
	v.reveal.Reset(len(exam.Questions))
	return exam, nil
}

// Unsaved loads the latest exam generated in this browsing session, from the
// cache when possible and otherwise from its finished task.
func (v *Viewer) Unsaved(ctx context.Context) (*model.Exam, error) {
	v.store.SetLoading(true)
	defer v.store.SetLoading(false)

	exam, err := v.cache.CachedExam(ctx)
	switch {
	case err == nil:
		v.reveal.Reset(len(exam.Questions))
		return exam, nil
	case !errors.Is(err, session.ErrNoExam):
		log.Printf("[exam] cached exam: %v", err)
	}

	taskID, err := v.cache.TaskID(ctx)
	if err != nil {
		log.Printf("[exam] browsing session: %v", err)
	}
	if taskID == "" {
		return nil, v.fail(NotGenerated, generatePath, ErrNotGenerated)
	}

	task, err := v.client.GetTask(ctx, taskID)
	if err != nil {
		log.Printf("[exam] get task %s: %v", taskID, err)
		return nil, v.fail(FetchFailed, generatePath, err)
	}
	if task.State != model.TaskStateSuccess {
		return nil, v.fail(FetchFailed, generatePath, fmt.Errorf("task %s is %s", taskID, task.State))
	}

	var raw model.RawExam
	if err := json.Unmarshal(task.Result, &raw); err != nil {
		return nil, v.fail(FetchFailed, generatePath, fmt.Errorf("decode task result: %w", err))
	}
	exam, err = model.ParseExam(&raw)
	if err != nil {
		return nil, v.fail(FetchFailed, generatePath, err)
	}
	v.reveal.Reset(len(exam.Questions))
	return exam, nil
}

// ViewError is a failed load. Error() is the user-facing message.
type ViewError struct {
	Message  string
	Redirect string
	Err      error
}

func (e *ViewError) Error() string { return e.Message }
func (e *ViewError) Unwrap() error { return e.Err }

func (v *Viewer) fail(msg, redirect string, err error) error {
	v.store.SetError(msg)
	v.store.Navigate(redirect)
	return &ViewError{Message: msg, Redirect: redirect, Err: err}
}
