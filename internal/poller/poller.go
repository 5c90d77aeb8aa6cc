// Package poller follows a backend generation job until it succeeds, fails,
// or runs out of time.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lklkevin/pear/internal/model"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 10 * time.Minute

	FailedMessage  = "Task failed"
	TimeoutMessage = "Exam generation timed out. Please try again."
)

// Phase is the lifecycle state of one poll cycle.
type Phase string

const (
	PhaseSubmitting Phase = "SUBMITTING"
	PhasePolling    Phase = "POLLING"
	PhaseSucceeded  Phase = "SUCCEEDED"
	PhaseFailed     Phase = "FAILED"
	PhaseTimedOut   Phase = "TIMED_OUT"
	// PhaseSuperseded ends a cycle that was replaced or cancelled. It never
	// produces visible state.
	PhaseSuperseded Phase = "SUPERSEDED"
)

// Terminal reports whether p is absorbing.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseTimedOut, PhaseSuperseded:
		return true
	}
	return false
}

// StatusFetcher queries the backend for a job's state.
type StatusFetcher interface {
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
}

// Reporter receives progress while a job runs.
type Reporter interface {
	SetLoadingMessage(msg string)
	SetProgress(pct int)
}

// Outcome is how a poll cycle ended.
type Outcome struct {
	Phase   Phase
	Result  json.RawMessage // SUCCEEDED only
	Message string          // FAILED and TIMED_OUT only
}

// Config tunes the polling cadence. Zero values select the defaults.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Poller runs at most one poll cycle at a time. Starting a cycle supersedes
// the previous one.
type Poller struct {
	fetcher  StatusFetcher
	reporter Reporter
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	gen     uint64
	current *Handle
}

// New creates a poller. reporter may be nil.
func New(fetcher StatusFetcher, reporter Reporter, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Poller{
		fetcher:  fetcher,
		reporter: reporter,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}
}

// Handle controls and observes one poll cycle.
type Handle struct {
	p        *Poller
	gen      uint64
	taskID   string
	deadline time.Time
	cancel   context.CancelFunc
	done     chan struct{}

	// guarded by p.mu
	phase   Phase
	outcome Outcome
}

// Start begins polling taskID. The timeout budget is measured from
// startedAt, the moment the job was submitted.
func (p *Poller) Start(ctx context.Context, taskID string, startedAt time.Time) *Handle {
	deadline := startedAt.Add(p.timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)

	p.mu.Lock()
	if prev := p.current; prev != nil {
		prev.cancel()
	}
	p.gen++
	h := &Handle{
		p:        p,
		gen:      p.gen,
		taskID:   taskID,
		deadline: deadline,
		cancel:   cancel,
		done:     make(chan struct{}),
		phase:    PhasePolling,
	}
	p.current = h
	p.mu.Unlock()

	log.Printf("[poller] polling task %s (interval %v, deadline %s)", taskID, p.interval, deadline.Format(time.RFC3339))
	go p.run(ctx, h)
	return h
}

// Stop supersedes the running cycle, if any.
func (p *Poller) Stop() {
	p.mu.Lock()
	h := p.current
	p.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

func (p *Poller) run(ctx context.Context, h *Handle) {
	defer close(h.done)
	defer h.cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.stopped(h)
			return
		case <-timer.C:
		}

		task, err := p.fetcher.GetTask(ctx, h.taskID)
		if ctx.Err() != nil {
			p.stopped(h)
			return
		}
		if err != nil {
			log.Printf("[poller] task %s: status check failed: %v", h.taskID, err)
		} else if p.apply(h, task) {
			return
		}

		timer.Reset(p.interval)
	}
}

// apply handles one status response and reports whether the cycle ended.
func (p *Poller) apply(h *Handle, task *model.Task) bool {
	switch task.State {
	case model.TaskStateProgress:
		p.progress(h, task)
		return false
	case model.TaskStateSuccess:
		return p.finish(h, Outcome{Phase: PhaseSucceeded, Result: task.Result})
	case model.TaskStateFailure:
		msg := task.ErrorDetail()
		if msg == "" {
			msg = FailedMessage
		}
		return p.finish(h, Outcome{Phase: PhaseFailed, Message: msg})
	case model.TaskStatePending:
		return false
	default:
		log.Printf("[poller] task %s: unexpected state %q", h.taskID, task.State)
		return false
	}
}

// stopped ends a cycle whose context is done: either the budget ran out or
// the cycle was cancelled.
func (p *Poller) stopped(h *Handle) {
	if !time.Now().Before(h.deadline) {
		p.finish(h, Outcome{Phase: PhaseTimedOut, Message: TimeoutMessage})
		return
	}
	p.finish(h, Outcome{Phase: PhaseSuperseded})
}

func (p *Poller) progress(h *Handle, task *model.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.gen != p.gen || h.phase.Terminal() || p.reporter == nil {
		return
	}
	if msg := task.ProgressMessage(); msg != "" {
		p.reporter.SetLoadingMessage(msg)
	}
	if pct, ok := task.ProgressPercent(); ok {
		p.reporter.SetProgress(pct)
	}
}

// finish moves h into a terminal phase. A superseded cycle always ends as
// PhaseSuperseded whatever it observed.
func (p *Poller) finish(h *Handle, out Outcome) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.phase.Terminal() {
		return true
	}
	if h.gen != p.gen {
		out = Outcome{Phase: PhaseSuperseded}
	}
	h.phase = out.Phase
	h.outcome = out
	if p.current == h {
		p.current = nil
	}

	if out.Phase != PhaseSuperseded {
		log.Printf("[poller] task %s: %s", h.taskID, out.Phase)
	}
	return true
}

// ─────────────────────────────────────────────
// Handle
// ─────────────────────────────────────────────

// ErrNotFinished is returned by Outcome while the cycle is still running.
var ErrNotFinished = errors.New("poll cycle still running")

// TaskID returns the polled job id.
func (h *Handle) TaskID() string { return h.taskID }

// Cancel supersedes this cycle. It has no effect once the cycle has ended.
func (h *Handle) Cancel() {
	h.p.mu.Lock()
	if h.gen == h.p.gen && !h.phase.Terminal() {
		h.p.gen++
	}
	h.p.mu.Unlock()
	h.cancel()
}

// Done is closed when the cycle reaches a terminal phase.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State returns the current phase.
func (h *Handle) State() Phase {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	return h.phase
}

// Outcome returns the terminal outcome, or ErrNotFinished.
func (h *Handle) Outcome() (Outcome, error) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if !h.phase.Terminal() {
		return Outcome{}, ErrNotFinished
	}
	return h.outcome, nil
}

// Wait blocks until the cycle ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.Outcome()
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
