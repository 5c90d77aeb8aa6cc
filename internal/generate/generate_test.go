package generate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lklkevin/pear/internal/backend"
	"github.com/lklkevin/pear/internal/history"
	"github.com/lklkevin/pear/internal/model"
	"github.com/lklkevin/pear/internal/poller"
	"github.com/lklkevin/pear/internal/session"
	"github.com/lklkevin/pear/internal/state"
)

type fakeBackend struct {
	mu sync.Mutex

	generateResp *model.GenerateResponse
	generateErr  error
	saveResp     *model.SaveResponse
	saveErr      error
	block        chan struct{} // when set, calls wait for it or ctx
	onGenerate   func()        // runs inside GenerateExam before it returns

	generated []*backend.GenerateForm
	saved     []*backend.GenerateForm
	tokens    []string
}

func (f *fakeBackend) wait(ctx context.Context) error {
	if f.block == nil {
		return nil
	}
	select {
	case <-f.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) GenerateExam(ctx context.Context, form *backend.GenerateForm) (*model.GenerateResponse, error) {
	f.mu.Lock()
	f.generated = append(f.generated, form)
	hook := f.onGenerate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.generateResp, f.generateErr
}

func (f *fakeBackend) GenerateAndSave(ctx context.Context, token string, form *backend.GenerateForm) (*model.SaveResponse, error) {
	f.mu.Lock()
	f.saved = append(f.saved, form)
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.saveResp, f.saveErr
}

type taskFetcher struct {
	mu    sync.Mutex
	tasks []*model.Task
	calls int

	// When gate is set, each call signals entered and then waits for gate
	// to close, ignoring ctx.
	gate    chan struct{}
	entered chan struct{}
}

func (f *taskFetcher) GetTask(ctx context.Context, id string) (*model.Task, error) {
	if f.gate != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.tasks) {
		i = len(f.tasks) - 1
	}
	f.calls++
	return f.tasks[i], nil
}

func (f *taskFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memCache struct {
	mu     sync.Mutex
	taskID string
	exam   *model.Exam
}

func (c *memCache) SaveTask(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskID = id
	return nil
}

func (c *memCache) CacheExam(ctx context.Context, exam *model.Exam) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exam = exam
	return nil
}

type memRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (r *memRecorder) Record(ctx context.Context, e *history.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}
func (r *memRecorder) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	return nil, nil
}
func (r *memRecorder) Stats(ctx context.Context) (*history.Stats, error) { return &history.Stats{}, nil }
func (r *memRecorder) Close() error                                      { return nil }

type fixture struct {
	orch    *Orchestrator
	client  *fakeBackend
	fetcher *taskFetcher
	store   *state.Store
	cache   *memCache
	rec     *memRecorder
}

func setupOrchestrator(t *testing.T, tasks ...*model.Task) *fixture {
	t.Helper()
	return setupOrchestratorWith(t, poller.Config{Interval: 5 * time.Millisecond, Timeout: time.Second}, tasks...)
}

func setupOrchestratorWith(t *testing.T, cfg poller.Config, tasks ...*model.Task) *fixture {
	t.Helper()
	if len(tasks) == 0 {
		tasks = []*model.Task{{State: model.TaskStatePending}}
	}
	f := &fixture{
		client:  &fakeBackend{},
		fetcher: &taskFetcher{tasks: tasks},
		store:   state.NewStore(0),
		cache:   &memCache{},
		rec:     &memRecorder{},
	}
	p := poller.New(f.fetcher, f.store, cfg)
	f.orch = New(f.client, p, f.store, f.cache, f.rec)
	return f
}

func wait(t *testing.T, s *Submission) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := s.Wait(ctx)
	require.NoError(t, err)
	return res
}

const examJSON = `{"title":"Calc","description":"d","questions":[{"question":"1+1","answers":{"2":0.9,"3":0.1}}]}`

var anonymous = session.AuthState{}
var signedIn = session.AuthState{Authenticated: true, AccessToken: "tok"}

func TestSubmitEmptyDraftUsesDefaults(t *testing.T) {
	f := setupOrchestrator(t, &model.Task{State: model.TaskStateSuccess, Result: json.RawMessage(examJSON)})
	f.client.generateResp = &model.GenerateResponse{TaskID: "t-1"}

	res := wait(t, f.orch.Submit(context.Background(), model.ExamDraft{
		QuestionCount: 5,
		Visibility:    model.VisibilityUnsaved,
	}, anonymous))

	require.Len(t, f.client.generated, 1)
	form := f.client.generated[0]
	assert.Equal(t, "Untitled Exam", form.Title)
	assert.Equal(t, "No description was provided", form.Description)
	assert.Equal(t, 5, form.NumQuestions)
	assert.Empty(t, form.Privacy)
	assert.Empty(t, form.Color)
	assert.Empty(t, f.client.saved)

	assert.Equal(t, poller.PhaseSucceeded, res.Phase)
	assert.Equal(t, GeneratedPath, res.Redirect)
}

func TestSubmitAnonymousPollsAndCaches(t *testing.T) {
	meta, _ := json.Marshal(model.TaskMeta{Status: "Generating", Current: 1, Total: 2})
	f := setupOrchestrator(t,
		&model.Task{State: model.TaskStateProgress, Result: meta},
		&model.Task{State: model.TaskStateSuccess, Result: json.RawMessage(examJSON)},
	)
	f.client.generateResp = &model.GenerateResponse{TaskID: "t-7"}

	// Public visibility is ignored without a session.
	res := wait(t, f.orch.Submit(context.Background(), model.ExamDraft{Title: "Mine", Visibility: model.VisibilityPublic}, anonymous))

	assert.Equal(t, poller.PhaseSucceeded, res.Phase)
	assert.Equal(t, "t-7", res.TaskID)
	assert.Empty(t, f.client.saved)
	assert.Equal(t, 2, f.fetcher.calls)

	assert.Equal(t, "t-7", f.cache.taskID)
	require.NotNil(t, f.cache.exam)
	assert.Equal(t, "2", f.cache.exam.Questions[0].MainAnswer)

	snap := f.store.Snapshot()
	assert.False(t, snap.Loading)
	assert.Zero(t, snap.Progress)
	assert.Equal(t, GeneratedMessage, snap.Success)
	assert.Equal(t, GeneratedPath, snap.Redirect)
	assert.Empty(t, snap.Error)

	require.Len(t, f.rec.entries, 1)
	assert.Equal(t, history.OutcomeSucceeded, f.rec.entries[0].Outcome)
	assert.Equal(t, "t-7", f.rec.entries[0].TaskID)
}

func TestSubmitAuthenticatedPublicSaves(t *testing.T) {
	f := setupOrchestrator(t)
	f.client.saveResp = &model.SaveResponse{ExamID: "42"}

	res := wait(t, f.orch.Submit(context.Background(), model.ExamDraft{
		Title:      "Final",
		Visibility: model.VisibilityPublic,
		Color:      model.ColorIndigo,
	}, signedIn))

	require.Len(t, f.client.saved, 1)
	assert.Empty(t, f.client.generated)
	assert.Equal(t, []string{"tok"}, f.client.tokens)
	assert.Equal(t, "public", f.client.saved[0].Privacy)
	assert.Equal(t, model.ColorIndigo.Hex(), f.client.saved[0].Color)
	assert.Zero(t, f.fetcher.calls)

	assert.Equal(t, poller.PhaseSucceeded, res.Phase)
	assert.Equal(t, "/exam/42", res.Redirect)
	snap := f.store.Snapshot()
	assert.Equal(t, "/exam/42", snap.Redirect)
	assert.Equal(t, SavedMessage, snap.Success)
	assert.False(t, snap.Loading)
}

func TestSubmitAuthenticatedUnsavedPolls(t *testing.T) {
	f := setupOrchestrator(t, &model.Task{State: model.TaskStateSuccess, Result: json.RawMessage(examJSON)})
	f.client.generateResp = &model.GenerateResponse{TaskID: "t-2"}

	res := wait(t, f.orch.Submit(context.Background(), model.ExamDraft{Visibility: model.VisibilityUnsaved, Color: model.ColorSky}, signedIn))

	assert.Equal(t, poller.PhaseSucceeded, res.Phase)
	require.Len(t, f.client.generated, 1)
	assert.Empty(t, f.client.generated[0].Privacy)
	assert.Empty(t, f.client.saved)
}

func TestSubmitSaveFailureUsesServerMessage(t *testing.T) {
	f := setupOrchestrator(t)
	f.client.saveErr = &backend.APIError{Status: 400, Message: "No files uploaded"}

	res := wait(t, f.orch.Submit(context.Background(), model.ExamDraft{Visibility: model.VisibilityPrivate}, signedIn))

	assert.Equal(t, poller.PhaseFailed, res.Phase)
	snap := f.store.Snapshot()
	assert.Equal(t, "No files uploaded", snap.Error)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Redirect)
}

func TestSubmitNetworkErrorClearsLoading(t *testing.T) {
	f := setupOrchestrator(t)
	f.client.generateErr = errors.New("dial tcp: connection refused")

	f.store.SetSuccess("")
	res := wait(t, f.orch.Submit(context.Background(), model.ExamDraft{}, anonymous))

	assert.Equal(t, poller.PhaseFailed, res.Phase)
	snap := f.store.Snapshot()
	assert.False(t, snap.Loading)
	assert.Equal(t, FailedMessage, snap.Error)
	assert.Empty(t, snap.Success)
	assert.Empty(t, snap.Redirect)
}

func TestSubmitTaskFailureSurfacesDetail(t *testing.T) {
	f := setupOrchestrator(t, &model.Task{State: model.TaskStateFailure, Result: json.RawMessage(`{"error":"Could not read PDF"}`)})
	f.client.generateResp = &model.GenerateResponse{TaskID: "t-3"}

	res := wait(t, f.orch.Submit(context.Background(), model.ExamDraft{}, anonymous))

	assert.Equal(t, poller.PhaseFailed, res.Phase)
	assert.Equal(t, "Could not read PDF", f.store.Snapshot().Error)
	assert.Equal(t, history.OutcomeFailed, f.rec.entries[0].Outcome)
}

func TestSubmitInlineExamFallback(t *testing.T) {
	f := setupOrchestrator(t)
	f.client.generateResp = &model.GenerateResponse{Raw: json.RawMessage(examJSON)}

	res := wait(t, f.orch.Submit(context.Background(), model.ExamDraft{}, anonymous))

	assert.Equal(t, poller.PhaseSucceeded, res.Phase)
	assert.Zero(t, f.fetcher.calls)
	require.NotNil(t, f.cache.exam)
	assert.Equal(t, "Calc", f.cache.exam.Title)
	assert.Empty(t, f.cache.taskID)
}

func TestNewSubmissionSupersedesOld(t *testing.T) {
	f := setupOrchestrator(t)
	f.client.block = make(chan struct{})
	f.client.generateResp = &model.GenerateResponse{TaskID: "t-old"}

	first := f.orch.Submit(context.Background(), model.ExamDraft{Title: "first"}, anonymous)
	require.Eventually(t, func() bool {
		f.client.mu.Lock()
		defer f.client.mu.Unlock()
		return len(f.client.generated) == 1
	}, time.Second, time.Millisecond)

	f.client.saveResp = &model.SaveResponse{ExamID: "9"}
	second := f.orch.Submit(context.Background(), model.ExamDraft{Title: "second", Visibility: model.VisibilityPublic}, signedIn)
	close(f.client.block)

	res := wait(t, first)
	assert.Equal(t, poller.PhaseSuperseded, res.Phase)

	res = wait(t, second)
	assert.Equal(t, poller.PhaseSucceeded, res.Phase)
	snap := f.store.Snapshot()
	assert.Equal(t, "/exam/9", snap.Redirect)
	assert.Empty(t, snap.Error)
	assert.Zero(t, f.fetcher.calls)
}

func TestCancelSubmission(t *testing.T) {
	f := setupOrchestrator(t, &model.Task{State: model.TaskStatePending})
	f.client.generateResp = &model.GenerateResponse{TaskID: "t-slow"}

	s := f.orch.Submit(context.Background(), model.ExamDraft{}, anonymous)
	require.Eventually(t, func() bool { return s.State() == poller.PhasePolling }, time.Second, time.Millisecond)

	f.orch.Cancel()
	res := wait(t, s)

	assert.Equal(t, poller.PhaseSuperseded, res.Phase)
	snap := f.store.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)
	assert.Empty(t, snap.Success)
	assert.Equal(t, history.OutcomeCancelled, f.rec.entries[0].Outcome)
}

func TestSubmitTimeoutSurfacesMessage(t *testing.T) {
	meta, _ := json.Marshal(model.TaskMeta{Status: "Generating"})
	f := setupOrchestratorWith(t,
		poller.Config{Interval: 5 * time.Millisecond, Timeout: 50 * time.Millisecond},
		&model.Task{State: model.TaskStateProgress, Result: meta},
	)
	f.client.generateResp = &model.GenerateResponse{TaskID: "t-slow"}

	res := wait(t, f.orch.Submit(context.Background(), model.ExamDraft{}, anonymous))

	assert.Equal(t, poller.PhaseTimedOut, res.Phase)
	assert.Equal(t, poller.TimeoutMessage, res.Message)
	assert.Equal(t, "t-slow", res.TaskID)

	snap := f.store.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.LoadingMessage)
	assert.Equal(t, poller.TimeoutMessage, snap.Error)
	assert.Empty(t, snap.Success)
	assert.Empty(t, snap.Redirect)
	assert.Nil(t, f.cache.exam)

	require.Len(t, f.rec.entries, 1)
	assert.Equal(t, history.OutcomeTimedOut, f.rec.entries[0].Outcome)
	assert.Equal(t, poller.TimeoutMessage, f.rec.entries[0].Message)
}

func TestNewSubmissionSupersedesPolling(t *testing.T) {
	meta, _ := json.Marshal(model.TaskMeta{Status: "Generating", Current: 1, Total: 4})
	f := setupOrchestrator(t, &model.Task{State: model.TaskStateProgress, Result: meta})
	f.client.generateResp = &model.GenerateResponse{TaskID: "t-first"}

	first := f.orch.Submit(context.Background(), model.ExamDraft{Title: "first"}, anonymous)
	require.Eventually(t, func() bool {
		return f.store.Snapshot().LoadingMessage == "Generating"
	}, time.Second, time.Millisecond)

	// The second upload hangs so nothing of its own reaches the store.
	f.client.block = make(chan struct{})
	second := f.orch.Submit(context.Background(), model.ExamDraft{Title: "second"}, anonymous)

	res := wait(t, first)
	assert.Equal(t, poller.PhaseSuperseded, res.Phase)
	calls := f.fetcher.count()

	time.Sleep(30 * time.Millisecond)
	snap := f.store.Snapshot()
	assert.True(t, snap.Loading)
	assert.Equal(t, submittingMessage, snap.LoadingMessage)
	assert.Zero(t, snap.Progress)
	assert.Empty(t, snap.Error)
	assert.Empty(t, snap.Redirect)
	assert.Equal(t, calls, f.fetcher.count())
	assert.Equal(t, poller.PhaseSubmitting, second.State())

	f.orch.Cancel()
	res = wait(t, second)
	assert.Equal(t, poller.PhaseSuperseded, res.Phase)
	assert.False(t, f.store.Snapshot().Loading)
}

func TestCancelDuringStatusCheckHidesProgress(t *testing.T) {
	meta, _ := json.Marshal(model.TaskMeta{Status: "Generating", Current: 2, Total: 4})
	f := setupOrchestrator(t, &model.Task{State: model.TaskStateProgress, Result: meta})
	f.fetcher.gate = make(chan struct{})
	f.fetcher.entered = make(chan struct{}, 1)
	f.client.generateResp = &model.GenerateResponse{TaskID: "t-9"}

	s := f.orch.Submit(context.Background(), model.ExamDraft{}, anonymous)
	select {
	case <-f.fetcher.entered:
	case <-time.After(time.Second):
		t.Fatal("status check never started")
	}

	s.Cancel()
	close(f.fetcher.gate)
	res := wait(t, s)

	assert.Equal(t, poller.PhaseSuperseded, res.Phase)
	snap := f.store.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.LoadingMessage)
	assert.Zero(t, snap.Progress)

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	require.NotNil(t, h)
	assert.Equal(t, poller.PhaseSuperseded, h.State())
}

func TestSupersededResultLeavesCacheAlone(t *testing.T) {
	f := setupOrchestrator(t)
	f.client.generateResp = &model.GenerateResponse{Raw: json.RawMessage(examJSON)}
	f.client.saveResp = &model.SaveResponse{ExamID: "5"}

	// A newer submission arrives after the backend answered the first one
	// but before the first one delivers.
	var second *Submission
	f.client.onGenerate = func() {
		second = f.orch.Submit(context.Background(), model.ExamDraft{Visibility: model.VisibilityPublic}, signedIn)
	}

	first := f.orch.Submit(context.Background(), model.ExamDraft{Title: "first"}, anonymous)
	res := wait(t, first)
	assert.Equal(t, poller.PhaseSuperseded, res.Phase)

	require.NotNil(t, second)
	res = wait(t, second)
	assert.Equal(t, poller.PhaseSucceeded, res.Phase)

	assert.Nil(t, f.cache.exam)
	assert.Empty(t, f.cache.taskID)
	snap := f.store.Snapshot()
	assert.Equal(t, "/exam/5", snap.Redirect)
	assert.Equal(t, SavedMessage, snap.Success)
}
