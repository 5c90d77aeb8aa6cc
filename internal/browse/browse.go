// Package browse serves the exam gallery: sequenced searches per source and
// favourite toggling.
package browse

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/lklkevin/pear/internal/backend"
	"github.com/lklkevin/pear/internal/model"
	"github.com/lklkevin/pear/internal/sequencer"
	"github.com/lklkevin/pear/internal/state"
)

const (
	LoadFailed      = "Failed to load exams"
	FavouriteFailed = "Failed to update favorite status"

	DefaultLimit = 12
)

var (
	// ErrSuperseded marks a result that a newer request of the same source
	// replaced. It is never shown to the user.
	ErrSuperseded     = errors.New("browse request superseded")
	ErrTokenRequired  = errors.New("sign in to view your exams")
	ErrToggleInFlight = errors.New("favourite toggle already in flight")
)

// Backend is the slice of the backend API used here.
type Backend interface {
	Browse(ctx context.Context, token string, q *backend.BrowseQuery) (*model.BrowsePage, error)
	Favourite(ctx context.Context, token string, req *model.FavouriteRequest) error
	CheckFavourite(ctx context.Context, token, examID string) (bool, error)
}

// ─────────────────────────────────────────────
// Search
// ─────────────────────────────────────────────

// Searcher issues gallery requests for one source (a search box or a tab).
// A new search aborts the one before it.
type Searcher struct {
	client Backend
	store  *state.Store
	c      sequencer.Canceler
}

// NewSearcher creates a searcher for one source.
func NewSearcher(client Backend, store *state.Store) *Searcher {
	return &Searcher{client: client, store: store}
}

// Search fetches a page. It returns ErrSuperseded when a newer search of
// this source started meanwhile, including when this one was aborted.
func (s *Searcher) Search(ctx context.Context, token string, q backend.BrowseQuery) (*model.BrowsePage, error) {
	if q.Personal && token == "" {
		return nil, ErrTokenRequired
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	ctx, tok := s.c.Begin(ctx)
	defer s.c.Done(tok)

	page, err := s.client.Browse(ctx, token, &q)
	if !s.c.IsCurrent(tok) {
		return nil, ErrSuperseded
	}
	if err != nil {
		if sequencer.IsAbort(err) {
			return nil, ErrSuperseded
		}
		log.Printf("[browse] search failed: %v", err)
		msg := backend.Message(err, LoadFailed)
		s.store.SetError(msg)
		return nil, errors.New(msg)
	}
	return page, nil
}

// Stop aborts the outstanding search.
func (s *Searcher) Stop() { s.c.Stop() }

// Searchers keeps one Searcher per named source.
type Searchers struct {
	client Backend
	store  *state.Store

	mu sync.Mutex
	m  map[string]*Searcher
}

// NewSearchers creates an empty set.
func NewSearchers(client Backend, store *state.Store) *Searchers {
	return &Searchers{client: client, store: store, m: make(map[string]*Searcher)}
}

// For returns the searcher of source, creating it on first use.
func (ss *Searchers) For(source string) *Searcher {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.m[source]
	if !ok {
		s = NewSearcher(ss.client, ss.store)
		ss.m[source] = s
	}
	return s
}

// ─────────────────────────────────────────────
// Favourites
// ─────────────────────────────────────────────

// Favourites toggles favourite status, one request per exam at a time.
type Favourites struct {
	client Backend
	store  *state.Store

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewFavourites creates the favourites service.
func NewFavourites(client Backend, store *state.Store) *Favourites {
	return &Favourites{client: client, store: store, inflight: make(map[string]struct{})}
}

// Toggle flips examID's favourite status from current and returns the new
// status. On failure the status rolls back to current.
func (f *Favourites) Toggle(ctx context.Context, token, examID string, current bool) (bool, error) {
	f.mu.Lock()
	if _, busy := f.inflight[examID]; busy {
		f.mu.Unlock()
		return current, ErrToggleInFlight
	}
	f.inflight[examID] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.inflight, examID)
		f.mu.Unlock()
	}()

	next := !current
	action := model.FavouriteAdd
	if !next {
		action = model.FavouriteRemove
	}

	err := f.client.Favourite(ctx, token, &model.FavouriteRequest{ExamID: examID, Action: action})
	if err != nil {
		log.Printf("[browse] favourite %s %s: %v", action, examID, err)
		msg := FavouriteFailed
		// Only an error carried in a successful reply is shown verbatim.
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusMultipleChoices && apiErr.Message != "" {
			msg = apiErr.Message
		}
		f.store.SetError(msg)
		return current, errors.New(msg)
	}
	return next, nil
}

// Check reports whether examID is a favourite.
func (f *Favourites) Check(ctx context.Context, token, examID string) (bool, error) {
	return f.client.CheckFavourite(ctx, token, examID)
}
