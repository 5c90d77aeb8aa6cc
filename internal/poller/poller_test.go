package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lklkevin/pear/internal/model"
)

// scriptedFetcher replays responses in order and repeats the last one.
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	task *model.Task
	err  error
}

func (f *scriptedFetcher) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	s := f.steps[i]
	if s.err != nil {
		return nil, s.err
	}
	t := *s.task
	t.ID = taskID
	return &t, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingReporter struct {
	mu       sync.Mutex
	messages []string
	progress []int
}

func (r *recordingReporter) SetLoadingMessage(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingReporter) SetProgress(pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, pct)
}

func (r *recordingReporter) snapshot() ([]string, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...), append([]int(nil), r.progress...)
}

func progressTask(status string, current, total int) step {
	meta, _ := json.Marshal(model.TaskMeta{Status: status, Current: current, Total: total})
	return step{task: &model.Task{State: model.TaskStateProgress, Result: meta}}
}

func waitOutcome(t *testing.T, h *Handle) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := h.Wait(ctx)
	require.NoError(t, err)
	return out
}

var fastConfig = Config{Interval: 5 * time.Millisecond, Timeout: time.Second}

func TestPollerProgressThenSuccess(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		progressTask("Scanning PDF files", 1, 4),
		progressTask("Generating questions", 3, 4),
		{task: &model.Task{State: model.TaskStateSuccess, Result: json.RawMessage(`{"title":"T"}`)}},
	}}
	r := &recordingReporter{}
	p := New(f, r, fastConfig)

	h := p.Start(context.Background(), "t1", time.Now())
	out := waitOutcome(t, h)

	assert.Equal(t, PhaseSucceeded, out.Phase)
	assert.JSONEq(t, `{"title":"T"}`, string(out.Result))
	assert.Equal(t, PhaseSucceeded, h.State())

	msgs, pcts := r.snapshot()
	assert.Equal(t, []string{"Scanning PDF files", "Generating questions"}, msgs)
	assert.Equal(t, []int{25, 75}, pcts)

	// No further requests after SUCCESS.
	calls := f.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, calls)
	assert.Equal(t, calls, f.Calls())
}

func TestPollerFailureMessage(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{task: &model.Task{State: model.TaskStateFailure, Result: json.RawMessage(`{"error":"X"}`)}},
	}}
	out := waitOutcome(t, New(f, nil, fastConfig).Start(context.Background(), "t", time.Now()))
	assert.Equal(t, PhaseFailed, out.Phase)
	assert.Equal(t, "X", out.Message)
}

func TestPollerFailureFallbackMessage(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{task: &model.Task{State: model.TaskStateFailure}},
	}}
	out := waitOutcome(t, New(f, nil, fastConfig).Start(context.Background(), "t", time.Now()))
	assert.Equal(t, PhaseFailed, out.Phase)
	assert.Equal(t, FailedMessage, out.Message)
}

func TestPollerKeepsPollingThroughErrors(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{err: errors.New("connection reset")},
		{task: &model.Task{State: "RETRY"}},
		{task: &model.Task{State: model.TaskStatePending}},
		{task: &model.Task{State: model.TaskStateSuccess}},
	}}
	out := waitOutcome(t, New(f, nil, fastConfig).Start(context.Background(), "t", time.Now()))
	assert.Equal(t, PhaseSucceeded, out.Phase)
	assert.Equal(t, 4, f.Calls())
}

func TestPollerTimesOut(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{task: &model.Task{State: model.TaskStatePending}},
	}}
	p := New(f, nil, Config{Interval: 5 * time.Millisecond, Timeout: 40 * time.Millisecond})

	out := waitOutcome(t, p.Start(context.Background(), "t", time.Now()))
	assert.Equal(t, PhaseTimedOut, out.Phase)
	assert.Equal(t, TimeoutMessage, out.Message)
}

func TestPollerBudgetCountsFromSubmission(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{task: &model.Task{State: model.TaskStateSuccess}},
	}}
	p := New(f, nil, Config{Interval: 5 * time.Millisecond, Timeout: time.Minute})

	out := waitOutcome(t, p.Start(context.Background(), "t", time.Now().Add(-2*time.Minute)))
	assert.Equal(t, PhaseTimedOut, out.Phase)
}

func TestPollerNewCycleSupersedesOld(t *testing.T) {
	slow := &scriptedFetcher{steps: []step{progressTask("old progress", 1, 2)}}
	r := &recordingReporter{}
	p := New(slow, r, Config{Interval: 200 * time.Millisecond, Timeout: 5 * time.Second})

	first := p.Start(context.Background(), "old", time.Now())
	require.Eventually(t, func() bool {
		msgs, _ := r.snapshot()
		return len(msgs) > 0
	}, time.Second, time.Millisecond)

	slow.mu.Lock()
	slow.steps = []step{{task: &model.Task{State: model.TaskStateSuccess}}}
	slow.mu.Unlock()
	second := p.Start(context.Background(), "new", time.Now())

	out := waitOutcome(t, first)
	assert.Equal(t, PhaseSuperseded, out.Phase)

	out = waitOutcome(t, second)
	assert.Equal(t, PhaseSucceeded, out.Phase)

	msgs, _ := r.snapshot()
	assert.Equal(t, []string{"old progress"}, msgs)
}

func TestHandleCancel(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{task: &model.Task{State: model.TaskStatePending}}}}
	p := New(f, nil, fastConfig)

	h := p.Start(context.Background(), "t", time.Now())
	h.Cancel()

	out := waitOutcome(t, h)
	assert.Equal(t, PhaseSuperseded, out.Phase)

	calls := f.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, f.Calls())
}

func TestHandleCancelAfterFinishKeepsOutcome(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{task: &model.Task{State: model.TaskStateSuccess}}}}
	h := New(f, nil, fastConfig).Start(context.Background(), "t", time.Now())
	waitOutcome(t, h)

	h.Cancel()
	out, err := h.Outcome()
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, out.Phase)
}
