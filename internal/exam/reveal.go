package exam

import "sync"

// Reveal tracks which answers are shown.
type Reveal struct {
	mu    sync.Mutex
	shown []bool
}

// NewReveal hides all n answers.
func NewReveal(n int) *Reveal {
	return &Reveal{shown: make([]bool, n)}
}

// Reset hides everything and resizes to n questions.
func (r *Reveal) Reset(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = make([]bool, n)
}

// Toggle flips question i and returns its new state. Out of range indexes
// are ignored.
func (r *Reveal) Toggle(i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.shown) {
		return false
	}
	r.shown[i] = !r.shown[i]
	return r.shown[i]
}

// SetAll shows or hides every answer.
func (r *Reveal) SetAll(shown bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.shown {
		r.shown[i] = shown
	}
}

// AllRevealed reports whether every answer is shown. An empty exam counts
// as not revealed.
func (r *Reveal) AllRevealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.shown) == 0 {
		return false
	}
	for _, s := range r.shown {
		if !s {
			return false
		}
	}
	return true
}

// Flags returns a copy of the per-question state.
func (r *Reveal) Flags() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.shown...)
}
