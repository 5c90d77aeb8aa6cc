// Package sequencer implements last-request-wins bookkeeping for repeated
// fetches from one logical source (a search box, a tab strip).
package sequencer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Token identifies one request of a source. Only equality with the source's
// current token is meaningful.
type Token uint64

// Sequencer hands out monotonically increasing tokens.
type Sequencer struct {
	current atomic.Uint64
}

// Begin starts a new logical request and returns its token.
func (s *Sequencer) Begin() Token {
	return Token(s.current.Add(1))
}

// IsCurrent reports whether tok belongs to the latest request.
func (s *Sequencer) IsCurrent(tok Token) bool {
	return s.current.Load() == uint64(tok)
}

// Canceler pairs a Sequencer with context cancellation so that at most one
// underlying operation per source is outstanding.
type Canceler struct {
	seq Sequencer

	mu     sync.Mutex
	tok    Token
	cancel context.CancelFunc
}

// Begin aborts the previous operation (if any) and returns a context for the
// new one together with its token.
func (c *Canceler) Begin(parent context.Context) (context.Context, Token) {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	tok := c.seq.Begin()
	c.tok = tok
	c.cancel = cancel
	c.mu.Unlock()

	return ctx, tok
}

// IsCurrent reports whether tok is still the latest operation.
func (c *Canceler) IsCurrent(tok Token) bool {
	return c.seq.IsCurrent(tok)
}

// Done releases the context of tok once its result has been handled. It is a
// no-op for superseded tokens, whose contexts were already cancelled.
func (c *Canceler) Done(tok Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tok == tok && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Stop aborts the outstanding operation and invalidates its token.
func (c *Canceler) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.tok = c.seq.Begin()
}

// IsAbort reports whether err is the result of an intentional cancellation.
// Aborts are not failures and must not be surfaced to the user.
func IsAbort(err error) bool {
	return errors.Is(err, context.Canceled)
}
