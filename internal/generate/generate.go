// Package generate turns an exam draft into a generated exam: it builds the
// upload, picks the save or generate-then-poll path, and drives the UI state
// through loading to success or error.
package generate

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/lklkevin/pear/internal/backend"
	"github.com/lklkevin/pear/internal/history"
	"github.com/lklkevin/pear/internal/model"
	"github.com/lklkevin/pear/internal/poller"
	"github.com/lklkevin/pear/internal/sequencer"
	"github.com/lklkevin/pear/internal/session"
	"github.com/lklkevin/pear/internal/state"
)

const (
	DefaultTitle         = "Untitled Exam"
	DefaultDescription   = "No description was provided"
	DefaultQuestionCount = 5

	FailedMessage    = "Failed to generate exam"
	GeneratedMessage = "Exam generated successfully!"
	SavedMessage     = "Exam saved successfully!"

	submittingMessage = "Uploading files..."

	// GeneratedPath shows the latest unsaved exam.
	GeneratedPath = "/generated"
)

// Backend is the slice of the backend API used for generation.
type Backend interface {
	GenerateExam(ctx context.Context, form *backend.GenerateForm) (*model.GenerateResponse, error)
	GenerateAndSave(ctx context.Context, token string, form *backend.GenerateForm) (*model.SaveResponse, error)
}

// ResultCache keeps the latest unsaved result for the exam view.
type ResultCache interface {
	SaveTask(ctx context.Context, taskID string) error
	CacheExam(ctx context.Context, exam *model.Exam) error
}

// Orchestrator runs exam submissions. Only the latest submission may touch
// the UI state.
type Orchestrator struct {
	client  Backend
	poller  *poller.Poller
	store   *state.Store
	cache   ResultCache
	history history.Recorder

	seq sequencer.Canceler

	// mu serializes "is this submission current" checks with the writes
	// that depend on them.
	mu      sync.Mutex
	current *Submission
}

// New creates an orchestrator. rec may be nil.
func New(client Backend, p *poller.Poller, store *state.Store, cache ResultCache, rec history.Recorder) *Orchestrator {
	return &Orchestrator{
		client:  client,
		poller:  p,
		store:   store,
		cache:   cache,
		history: rec,
	}
}

// Result is the final outcome of a submission.
type Result struct {
	Phase    poller.Phase `json:"phase"`
	TaskID   string       `json:"taskId,omitempty"`
	ExamID   string       `json:"examId,omitempty"`
	Redirect string       `json:"redirect,omitempty"`
	Message  string       `json:"message,omitempty"`
	Exam     *model.Exam  `json:"-"`
}

// Submission observes one Submit call.
type Submission struct {
	o    *Orchestrator
	tok  sequencer.Token
	done chan struct{}

	mu     sync.Mutex
	phase  poller.Phase
	result Result
	handle *poller.Handle
}

// Submit starts generating draft in the background and returns at once.
// Any earlier submission is cancelled; its poll cycle can no longer write.
func (o *Orchestrator) Submit(ctx context.Context, draft model.ExamDraft, auth session.AuthState) *Submission {
	o.mu.Lock()
	if prev := o.current; prev != nil {
		prev.stopPolling()
	}
	runCtx, tok := o.seq.Begin(context.WithoutCancel(ctx))
	s := &Submission{
		o:     o,
		tok:   tok,
		done:  make(chan struct{}),
		phase: poller.PhaseSubmitting,
	}
	o.current = s
	o.store.SetLoading(true)
	o.store.SetLoadingMessage(submittingMessage)
	o.mu.Unlock()

	go o.run(runCtx, s, draft, auth)
	return s
}

// Current returns the latest submission, or nil.
func (o *Orchestrator) Current() *Submission {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Cancel stops the latest submission, if it is still running.
func (o *Orchestrator) Cancel() {
	if s := o.Current(); s != nil {
		s.Cancel()
	}
}

func (o *Orchestrator) run(ctx context.Context, s *Submission, draft model.ExamDraft, auth session.AuthState) {
	started := time.Now()
	applyDefaults(&draft)
	saving := auth.Authenticated && draft.Visibility != model.VisibilityUnsaved

	var res Result
	defer func() {
		o.finish(s, res)
		o.record(draft, auth.Authenticated, res, time.Since(started))
		o.seq.Done(s.tok)
		close(s.done)
	}()

	form := buildForm(&draft, saving)
	if saving {
		res = o.save(ctx, s, auth.AccessToken, form)
	} else {
		res = o.generate(ctx, s, form, started)
	}
}

// save is the authenticated path: one synchronous call, then navigate to the
// stored exam.
func (o *Orchestrator) save(ctx context.Context, s *Submission, token string, form *backend.GenerateForm) Result {
	resp, err := o.client.GenerateAndSave(ctx, token, form)
	if err != nil {
		if sequencer.IsAbort(err) {
			return Result{Phase: poller.PhaseSuperseded}
		}
		log.Printf("[generate] save failed: %v", err)
		return o.fail(s, backend.Message(err, FailedMessage))
	}

	res := Result{
		Phase:    poller.PhaseSucceeded,
		ExamID:   resp.ExamID.String(),
		Redirect: "/exam/" + resp.ExamID.String(),
		Message:  SavedMessage,
	}
	if !o.apply(s, func() {
		o.store.SetSuccess(SavedMessage)
		o.store.Navigate(res.Redirect)
	}) {
		return Result{Phase: poller.PhaseSuperseded}
	}
	log.Printf("[generate] saved exam %s", res.ExamID)
	return res
}

// generate is the anonymous or unsaved path: submit, then poll the task.
func (o *Orchestrator) generate(ctx context.Context, s *Submission, form *backend.GenerateForm, started time.Time) Result {
	resp, err := o.client.GenerateExam(ctx, form)
	if err != nil {
		if sequencer.IsAbort(err) {
			return Result{Phase: poller.PhaseSuperseded}
		}
		log.Printf("[generate] submit failed: %v", err)
		return o.fail(s, backend.Message(err, FailedMessage))
	}

	if resp.TaskID == "" {
		return o.inline(ctx, s, resp.Raw)
	}

	var h *poller.Handle
	if !o.apply(s, func() {
		s.setPhase(poller.PhasePolling)
		h = o.poller.Start(ctx, resp.TaskID, started)
		s.setHandle(h)
	}) {
		return Result{Phase: poller.PhaseSuperseded, TaskID: resp.TaskID}
	}
	out, err := h.Wait(context.Background())
	if err != nil {
		return Result{Phase: poller.PhaseSuperseded, TaskID: resp.TaskID}
	}

	switch out.Phase {
	case poller.PhaseSucceeded:
		var raw model.RawExam
		if err := json.Unmarshal(out.Result, &raw); err != nil {
			log.Printf("[generate] task %s: bad result: %v", resp.TaskID, err)
			return o.fail(s, FailedMessage)
		}
		return o.deliver(ctx, s, resp.TaskID, &raw)
	case poller.PhaseFailed, poller.PhaseTimedOut:
		res := o.fail(s, out.Message)
		res.TaskID = resp.TaskID
		if res.Phase == poller.PhaseFailed {
			res.Phase = out.Phase
		}
		return res
	default:
		return Result{Phase: poller.PhaseSuperseded, TaskID: resp.TaskID}
	}
}

// inline handles a generate reply that carries the finished exam instead of
// a task id.
func (o *Orchestrator) inline(ctx context.Context, s *Submission, body json.RawMessage) Result {
	var raw model.RawExam
	if err := json.Unmarshal(body, &raw); err != nil || !raw.IsExam() {
		log.Printf("[generate] reply has neither task id nor exam")
		return o.fail(s, FailedMessage)
	}
	log.Printf("[generate] WARNING: backend returned the exam inline instead of a task id")
	return o.deliver(ctx, s, "", &raw)
}

// deliver caches a finished unsaved exam and sends the user to it.
func (o *Orchestrator) deliver(ctx context.Context, s *Submission, taskID string, raw *model.RawExam) Result {
	exam, err := model.ParseExam(raw)
	if err != nil {
		log.Printf("[generate] %v", err)
		return o.fail(s, FailedMessage)
	}

	res := Result{
		Phase:    poller.PhaseSucceeded,
		TaskID:   taskID,
		Redirect: GeneratedPath,
		Message:  GeneratedMessage,
		Exam:     exam,
	}
	// Only the current submission may overwrite the cached result.
	if !o.apply(s, func() {
		o.cacheResult(ctx, taskID, exam)
		o.store.SetSuccess(GeneratedMessage)
		o.store.Navigate(GeneratedPath)
	}) {
		return Result{Phase: poller.PhaseSuperseded, TaskID: taskID}
	}
	log.Printf("[generate] exam ready (task %s, %d questions)", taskID, len(exam.Questions))
	return res
}

func (o *Orchestrator) cacheResult(ctx context.Context, taskID string, exam *model.Exam) {
	if o.cache == nil {
		return
	}
	if taskID != "" {
		if err := o.cache.SaveTask(ctx, taskID); err != nil {
			log.Printf("[generate] %v", err)
		}
	}
	if err := o.cache.CacheExam(ctx, exam); err != nil {
		log.Printf("[generate] %v", err)
	}
}

// fail surfaces msg if s is still current.
func (o *Orchestrator) fail(s *Submission, msg string) Result {
	if !o.apply(s, func() { o.store.SetError(msg) }) {
		return Result{Phase: poller.PhaseSuperseded}
	}
	return Result{Phase: poller.PhaseFailed, Message: msg}
}

// apply runs fn only while s is the current submission.
func (o *Orchestrator) apply(s *Submission, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.seq.IsCurrent(s.tok) {
		return false
	}
	fn()
	return true
}

// finish publishes the result and clears loading if s still owns it.
func (o *Orchestrator) finish(s *Submission, res Result) {
	if res.Phase == "" {
		res.Phase = poller.PhaseFailed
	}
	o.apply(s, func() { o.store.SetLoading(false) })

	s.mu.Lock()
	s.phase = res.Phase
	s.result = res
	s.mu.Unlock()
}

func (o *Orchestrator) record(draft model.ExamDraft, authenticated bool, res Result, took time.Duration) {
	if o.history == nil {
		return
	}
	outcome := history.OutcomeCancelled
	switch res.Phase {
	case poller.PhaseSucceeded:
		outcome = history.OutcomeSucceeded
	case poller.PhaseFailed:
		outcome = history.OutcomeFailed
	case poller.PhaseTimedOut:
		outcome = history.OutcomeTimedOut
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := o.history.Record(ctx, &history.Entry{
		Title:         draft.Title,
		Visibility:    string(draft.Visibility),
		QuestionCount: draft.QuestionCount,
		FileCount:     len(draft.Files),
		Authenticated: authenticated,
		TaskID:        res.TaskID,
		ExamID:        res.ExamID,
		Outcome:       outcome,
		Message:       res.Message,
		Duration:      took,
	})
	if err != nil {
		log.Printf("[generate] record history: %v", err)
	}
}

// ─────────────────────────────────────────────
// Payload
// ─────────────────────────────────────────────

func applyDefaults(d *model.ExamDraft) {
	if d.Title == "" {
		d.Title = DefaultTitle
	}
	if d.Description == "" {
		d.Description = DefaultDescription
	}
	if d.QuestionCount <= 0 {
		d.QuestionCount = DefaultQuestionCount
	}
	if d.Visibility == "" {
		d.Visibility = model.VisibilityUnsaved
	}
	if d.Color == "" {
		d.Color = model.DefaultColor
	}
}

// buildForm maps a draft onto the multipart payload. Privacy and color are
// only meaningful to the save endpoint.
func buildForm(d *model.ExamDraft, saving bool) *backend.GenerateForm {
	form := &backend.GenerateForm{
		Title:        d.Title,
		Description:  d.Description,
		NumQuestions: d.QuestionCount,
		Files:        d.Files,
	}
	if saving {
		form.Privacy = string(d.Visibility)
		form.Color = d.Color.Hex()
	}
	return form
}

// ─────────────────────────────────────────────
// Submission
// ─────────────────────────────────────────────

func (s *Submission) setPhase(p poller.Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Submission) setHandle(h *poller.Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// stopPolling supersedes the submission's poll cycle so no further progress
// reaches the store.
func (s *Submission) stopPolling() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// State returns the submission's current phase.
func (s *Submission) State() poller.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Done is closed once the submission has finished.
func (s *Submission) Done() <-chan struct{} { return s.done }

// Result returns the final result, or false while still running.
func (s *Submission) Result() (Result, bool) {
	select {
	case <-s.done:
	default:
		return Result{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, true
}

// Wait blocks until the submission finishes or ctx is done.
func (s *Submission) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		res, _ := s.Result()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel aborts the submission. The loading indicator is cleared at once;
// nothing else becomes visible.
func (s *Submission) Cancel() {
	o := s.o
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.seq.IsCurrent(s.tok) {
		return
	}
	s.stopPolling()
	o.seq.Stop()
	o.store.SetLoading(false)
	log.Printf("[generate] submission cancelled")
}

