package exam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lklkevin/pear/internal/backend"
	"github.com/lklkevin/pear/internal/model"
	"github.com/lklkevin/pear/internal/session"
	"github.com/lklkevin/pear/internal/state"
)

type fakeBackend struct {
	exam    *model.RawExam
	examErr error
	task    *model.Task
	taskErr error
	tasks   []string
}

func (b *fakeBackend) GetExam(ctx context.Context, token, examID string) (*model.RawExam, error) {
	return b.exam, b.examErr
}

func (b *fakeBackend) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	b.tasks = append(b.tasks, taskID)
	return b.task, b.taskErr
}

type fakeCache struct {
	taskID string
	exam   *model.Exam
}

func (c *fakeCache) TaskID(ctx context.Context) (string, error) { return c.taskID, nil }

func (c *fakeCache) CachedExam(ctx context.Context) (*model.Exam, error) {
	if c.exam == nil {
		return nil, session.ErrNoExam
	}
	return c.exam, nil
}

func sampleRaw() *model.RawExam {
	return &model.RawExam{
		ID:          "7",
		Title:       "Algebra",
		Description: "Linear equations",
		Privacy:     "Public",
		Questions: []model.RawQuestion{
			{Question: "2x = 4", Answers: map[string]float64{"2": 90, "4": 5, "1": 3, "0": 2}},
			{Question: "x + 1 = 3", Answers: map[string]float64{"2": 100}},
		},
	}
}

func TestSavedExam(t *testing.T) {
	store := state.NewStore(0)
	v := NewViewer(&fakeBackend{exam: sampleRaw()}, &fakeCache{}, store)

	exam, err := v.Saved(context.Background(), "", "7")
	require.NoError(t, err)
	assert.Equal(t, "Algebra", exam.Title)
	assert.Equal(t, "2", exam.Questions[0].MainAnswer)
	assert.Len(t, v.Reveal().Flags(), 2)
	assert.False(t, store.Snapshot().Loading)
}

func TestSavedExamErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not found", &backend.APIError{Status: 404, Message: "Exam not found"}, FetchFailed},
		{"message body", &backend.APIError{Status: 200, Message: "This exam is private"}, "This exam is private"},
		{"network", errors.New("dial tcp: refused"), FetchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := state.NewStore(0)
			v := NewViewer(&fakeBackend{examErr: tt.err}, &fakeCache{}, store)

			_, err := v.Saved(context.Background(), "tok", "7")
			require.Error(t, err)

			var ve *ViewError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.want, ve.Message)
			assert.Equal(t, "/", ve.Redirect)

			snap := store.Snapshot()
			assert.Equal(t, tt.want, snap.Error)
			assert.Equal(t, "/", snap.Redirect)
			assert.False(t, snap.Loading)
		})
	}
}

func TestUnsavedPrefersCache(t *testing.T) {
	cached := &model.Exam{Title: "Cached", Questions: []model.Question{{Question: "q"}}}
	b := &fakeBackend{}
	v := NewViewer(b, &fakeCache{taskID: "t1", exam: cached}, state.NewStore(0))

	exam, err := v.Unsaved(context.Background())
	require.NoError(t, err)
	assert.Same(t, cached, exam)
	assert.Empty(t, b.tasks)
}

func TestUnsavedFromTask(t *testing.T) {
	result, err := json.Marshal(sampleRaw())
	require.NoError(t, err)
	b := &fakeBackend{task: &model.Task{State: model.TaskStateSuccess, Result: result}}
	v := NewViewer(b, &fakeCache{taskID: "t1"}, state.NewStore(0))

	exam, err := v.Unsaved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Algebra", exam.Title)
	assert.Equal(t, []string{"t1"}, b.tasks)
}

func TestUnsavedNothingGenerated(t *testing.T) {
	store := state.NewStore(0)
	v := NewViewer(&fakeBackend{}, &fakeCache{}, store)

	_, err := v.Unsaved(context.Background())
	assert.ErrorIs(t, err, ErrNotGenerated)
	assert.Equal(t, NotGenerated, store.Snapshot().Error)
	assert.Equal(t, "/generate", store.Snapshot().Redirect)
}

func TestUnsavedTaskNotFinished(t *testing.T) {
	store := state.NewStore(0)
	b := &fakeBackend{task: &model.Task{State: model.TaskStateProgress}}
	v := NewViewer(b, &fakeCache{taskID: "t1"}, store)

	_, err := v.Unsaved(context.Background())
	require.Error(t, err)
	assert.Equal(t, FetchFailed, store.Snapshot().Error)
	assert.Equal(t, "/generate", store.Snapshot().Redirect)
	assert.False(t, store.Snapshot().Loading)
}

func TestReveal(t *testing.T) {
	r := NewReveal(3)
	assert.False(t, r.AllRevealed())

	assert.True(t, r.Toggle(1))
	assert.False(t, r.Toggle(1))
	assert.False(t, r.Toggle(5))

	r.SetAll(true)
	assert.True(t, r.AllRevealed())
	r.Toggle(0)
	assert.False(t, r.AllRevealed())
	assert.Equal(t, []bool{false, true, true}, r.Flags())

	r.Reset(0)
	assert.False(t, r.AllRevealed())
}

func TestWritePDF(t *testing.T) {
	exam, err := model.ParseExam(sampleRaw())
	require.NoError(t, err)
	exam.Title = "Algèbra"

	var plain, answers bytes.Buffer
	require.NoError(t, WritePDF(&plain, exam, false))
	require.NoError(t, WritePDF(&answers, exam, true))

	assert.True(t, bytes.HasPrefix(plain.Bytes(), []byte("%PDF-")))
	assert.True(t, bytes.HasPrefix(answers.Bytes(), []byte("%PDF-")))
	assert.Greater(t, answers.Len(), plain.Len())
	assert.Equal(t, "Algèbra.pdf", FileName(exam))
	assert.Equal(t, "exam.pdf", FileName(&model.Exam{}))
}
