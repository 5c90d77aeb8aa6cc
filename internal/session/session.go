// Package session keeps the signed-in user's tokens and the anonymous
// browsing session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lklkevin/pear/internal/model"
)

// DefaultAccessTTL is how long an access token is trusted before refresh.
const DefaultAccessTTL = 10 * time.Minute

var (
	ErrNotSignedIn        = errors.New("not signed in")
	ErrMissingCredentials = errors.New("email and password are required")
)

// Backend is the slice of the backend API the session needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (*model.Tokens, error)
	Signup(ctx context.Context, username, email, password string) (*model.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (*model.Tokens, error)
	Logout(ctx context.Context, refreshToken string) error
	Profile(ctx context.Context, token string) (*model.Profile, error)
}

// UserSink receives user changes for display.
type UserSink interface {
	SetUsername(name string)
	ResetUser()
}

// AuthState is a copy of the current authentication.
type AuthState struct {
	Authenticated bool      `json:"authenticated"`
	UserID        string    `json:"userId,omitempty"`
	Email         string    `json:"email,omitempty"`
	Username      string    `json:"username,omitempty"`
	AuthProvider  string    `json:"authProvider,omitempty"`
	AccessToken   string    `json:"-"`
	RefreshToken  string    `json:"-"`
	ExpiresAt     time.Time `json:"expiresAt,omitempty"`
}

// Manager owns the auth session. Safe for concurrent use.
type Manager struct {
	client    Backend
	user      UserSink
	accessTTL time.Duration
	now       func() time.Time

	mu   sync.Mutex
	auth AuthState
}

// NewManager creates a signed-out manager.
func NewManager(client Backend, user UserSink, accessTTL time.Duration) *Manager {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	return &Manager{
		client:    client,
		user:      user,
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// Login signs in with email and password.
func (m *Manager) Login(ctx context.Context, email, password string) (AuthState, error) {
	if email == "" || password == "" {
		return AuthState{}, ErrMissingCredentials
	}
	tokens, err := m.client.Login(ctx, email, password)
	if err != nil {
		return AuthState{}, fmt.Errorf("login: %w", err)
	}
	return m.adopt(tokens, "local"), nil
}

// Signup creates a local account and signs it in.
func (m *Manager) Signup(ctx context.Context, username, email, password string) (AuthState, error) {
	if username == "" || email == "" || password == "" {
		return AuthState{}, ErrMissingCredentials
	}
	tokens, err := m.client.Signup(ctx, username, email, password)
	if err != nil {
		return AuthState{}, fmt.Errorf("signup: %w", err)
	}
	return m.adopt(tokens, "local"), nil
}

func (m *Manager) adopt(tokens *model.Tokens, provider string) AuthState {
	m.mu.Lock()
	m.auth = AuthState{
		Authenticated: true,
		UserID:        tokens.ID.String(),
		Email:         tokens.Email,
		Username:      tokens.Username,
		AuthProvider:  provider,
		AccessToken:   tokens.AccessToken,
		RefreshToken:  tokens.RefreshToken,
		ExpiresAt:     m.now().Add(m.accessTTL),
	}
	auth := m.auth
	m.mu.Unlock()

	log.Printf("[session] signed in as %s", auth.Username)
	m.user.SetUsername(auth.Username)
	return auth
}

// Current returns the auth state, refreshing the access token when it has
// expired. A failed refresh signs the user out.
func (m *Manager) Current(ctx context.Context) AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.auth.Authenticated || m.now().Before(m.auth.ExpiresAt) {
		return m.auth
	}

	tokens, err := m.client.Refresh(ctx, m.auth.RefreshToken)
	if err != nil {
		log.Printf("[session] refresh failed, signing out: %v", err)
		m.auth = AuthState{}
		m.user.ResetUser()
		return m.auth
	}

	m.auth.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		m.auth.RefreshToken = tokens.RefreshToken
	}
	m.auth.ExpiresAt = m.now().Add(m.accessTTL)

	if profile, err := m.client.Profile(ctx, m.auth.AccessToken); err != nil {
		log.Printf("[session] profile after refresh: %v", err)
	} else if profile.Username != "" {
		m.auth.Username = profile.Username
		m.user.SetUsername(profile.Username)
	}
	return m.auth
}

// Token returns a usable access token or ErrNotSignedIn.
func (m *Manager) Token(ctx context.Context) (string, error) {
	auth := m.Current(ctx)
	if !auth.Authenticated {
		return "", ErrNotSignedIn
	}
	return auth.AccessToken, nil
}

// SetUsername records a rename done elsewhere.
func (m *Manager) SetUsername(name string) {
	m.mu.Lock()
	if m.auth.Authenticated {
		m.auth.Username = name
	}
	m.mu.Unlock()
}

// Logout revokes the refresh token (best effort) and clears local state.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	refresh := m.auth.RefreshToken
	m.auth = AuthState{}
	m.mu.Unlock()

	if refresh != "" {
		if err := m.client.Logout(ctx, refresh); err != nil {
			log.Printf("[session] failed to revoke refresh token: %v", err)
		}
	}
	m.user.ResetUser()
}
