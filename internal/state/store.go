package state

import (
	"sync"
	"time"
)

// DefaultToastTTL is how long an error or success message stays visible.
const DefaultToastTTL = 3 * time.Second

// Snapshot is the caller-visible UI state (pure data, no mutex).
type Snapshot struct {
	// Toast
	Error   string `json:"error,omitempty"`
	Success string `json:"success,omitempty"`

	// Loading overlay
	Loading        bool   `json:"loading"`
	LoadingMessage string `json:"loadingMessage,omitempty"`
	Progress       int    `json:"progress"`

	// Current user
	Username string `json:"username,omitempty"`

	// Where the presentation layer should navigate next
	Redirect string `json:"redirect,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Store owns all mutable UI state. Writes are last-write-wins; every write
// is pushed to subscribers.
type Store struct {
	mu       sync.RWMutex
	snap     Snapshot
	toastTTL time.Duration

	errorGen   uint64
	successGen uint64

	subs map[chan Snapshot]struct{}
}

// NewStore creates a store whose toasts auto-dismiss after toastTTL.
// A zero TTL keeps toasts until they are overwritten or cleared.
func NewStore(toastTTL time.Duration) *Store {
	return &Store{
		toastTTL: toastTTL,
		snap:     Snapshot{UpdatedAt: time.Now()},
		subs:     make(map[chan Snapshot]struct{}),
	}
}

// SetError shows msg in the toast; an empty msg clears it.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.errorGen++
	gen := s.errorGen
	s.snap.Error = msg
	s.changedLocked()
	s.mu.Unlock()

	if msg != "" {
		s.dismissLater(func() bool {
			if s.errorGen != gen {
				return false
			}
			s.snap.Error = ""
			return true
		})
	}
}

// SetSuccess shows msg in the toast; an empty msg clears it.
func (s *Store) SetSuccess(msg string) {
	s.mu.Lock()
	s.successGen++
	gen := s.successGen
	s.snap.Success = msg
	s.changedLocked()
	s.mu.Unlock()

	if msg != "" {
		s.dismissLater(func() bool {
			if s.successGen != gen {
				return false
			}
			s.snap.Success = ""
			return true
		})
	}
}

// SetLoading toggles the loading overlay. Turning it off also resets the
// progress message and percentage.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Loading = loading
	if !loading {
		s.snap.LoadingMessage = ""
		s.snap.Progress = 0
	}
	s.changedLocked()
}

// SetLoadingMessage updates the progress text shown under the overlay.
func (s *Store) SetLoadingMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LoadingMessage = msg
	s.changedLocked()
}

// SetProgress updates the progress percentage, clamped to 0..100.
func (s *Store) SetProgress(pct int) {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Progress = pct
	s.changedLocked()
}

// SetUsername records the signed-in user's name.
func (s *Store) SetUsername(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Username = name
	s.changedLocked()
}

// ResetUser clears all user data after sign-out.
func (s *Store) ResetUser() {
	s.SetUsername("")
}

// Navigate asks the presentation layer to move to path.
func (s *Store) Navigate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Redirect = path
	s.changedLocked()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Subscribe returns a channel that always holds the latest snapshot after
// each change, and a function to stop the subscription. Slow readers skip
// intermediate snapshots.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.snap
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
}

// changedLocked stamps the snapshot and fans it out. Caller holds s.mu.
func (s *Store) changedLocked() {
	s.snap.UpdatedAt = time.Now()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.snap:
		default:
		}
	}
}

// dismissLater runs clear under the lock after the toast TTL. clear reports
// whether it changed anything.
func (s *Store) dismissLater(clear func() bool) {
	if s.toastTTL <= 0 {
		return
	}
	time.AfterFunc(s.toastTTL, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if clear() {
			s.changedLocked()
		}
	})
}
