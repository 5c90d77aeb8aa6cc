// Package account implements the signed-in user's account operations.
package account

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"github.com/lklkevin/pear/internal/backend"
	"github.com/lklkevin/pear/internal/model"
	"github.com/lklkevin/pear/internal/state"
)

// Fallback messages when the server gives none.
const (
	UsernameFailed = "Failed to update username"
	PasswordFailed = "Failed to update password."
	DeleteFailed   = "Failed to delete account"

	UsernameUpdated = "Username updated successfully"
	PasswordUpdated = "Password updated successfully"
	AccountDeleted  = "Account deleted"
)

var (
	ErrBusy             = errors.New("another account operation is in progress")
	ErrEmptyPassword    = errors.New("New password cannot be empty.")
	ErrPasswordMismatch = errors.New("New passwords do not match.")
	ErrEmptyUsername    = errors.New("Username cannot be empty.")
)

// Error is a failed account operation. Error() is the user-facing message.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// Backend is the slice of the backend API used here.
type Backend interface {
	Profile(ctx context.Context, token string) (*model.Profile, error)
	UpdateUsername(ctx context.Context, token, username string) (string, error)
	UpdatePassword(ctx context.Context, token, oldPassword, newPassword string) error
	DeleteAccount(ctx context.Context, token string) error
}

// Session is torn down after the account is deleted.
type Session interface {
	SetUsername(name string)
	Logout(ctx context.Context)
}

// Service runs one account operation at a time.
type Service struct {
	client Backend
	store  *state.Store
	sess   Session
	busy   atomic.Bool
}

// NewService creates the account service.
func NewService(client Backend, store *state.Store, sess Session) *Service {
	return &Service{client: client, store: store, sess: sess}
}

// Busy reports whether an operation is running.
func (s *Service) Busy() bool { return s.busy.Load() }

func (s *Service) begin() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (s *Service) end() { s.busy.Store(false) }

// fail surfaces the server message (or fallback) and returns it as an Error.
func (s *Service) fail(err error, fallback string) error {
	msg := backend.Message(err, fallback)
	s.store.SetError(msg)
	return &Error{Message: msg, Err: err}
}

// LoadProfile refreshes the displayed user from the backend.
func (s *Service) LoadProfile(ctx context.Context, token string) (*model.Profile, error) {
	profile, err := s.client.Profile(ctx, token)
	if err != nil {
		return nil, err
	}
	s.sess.SetUsername(profile.Username)
	s.store.SetUsername(profile.Username)
	return profile, nil
}

// UpdateUsername renames the account and returns the confirmed username. The
// profile is re-read afterwards and preferred over the mutation's echo.
func (s *Service) UpdateUsername(ctx context.Context, token, username string) (string, error) {
	if err := s.begin(); err != nil {
		return "", err
	}
	defer s.end()

	if username == "" {
		s.store.SetError(ErrEmptyUsername.Error())
		return "", ErrEmptyUsername
	}

	echoed, err := s.client.UpdateUsername(ctx, token, username)
	if err != nil {
		log.Printf("[account] update username: %v", err)
		return "", s.fail(err, UsernameFailed)
	}

	confirmed := echoed
	if profile, err := s.client.Profile(ctx, token); err != nil {
		log.Printf("[account] profile after rename: %v", err)
	} else if profile.Username != "" {
		confirmed = profile.Username
	}
	if confirmed == "" {
		confirmed = username
	}

	s.sess.SetUsername(confirmed)
	s.store.SetUsername(confirmed)
	s.store.SetSuccess(UsernameUpdated)
	return confirmed, nil
}

// UpdatePassword changes the password after local checks.
func (s *Service) UpdatePassword(ctx context.Context, token, oldPassword, newPassword, confirm string) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	if newPassword == "" {
		s.store.SetError(ErrEmptyPassword.Error())
		return ErrEmptyPassword
	}
	if newPassword != confirm {
		s.store.SetError(ErrPasswordMismatch.Error())
		return ErrPasswordMismatch
	}

	if err := s.client.UpdatePassword(ctx, token, oldPassword, newPassword); err != nil {
		log.Printf("[account] update password: %v", err)
		return s.fail(err, PasswordFailed)
	}
	s.store.SetSuccess(PasswordUpdated)
	return nil
}

// DeleteAccount removes the account and, only on success, ends the session
// both remotely and locally.
func (s *Service) DeleteAccount(ctx context.Context, token string) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	if err := s.client.DeleteAccount(ctx, token); err != nil {
		log.Printf("[account] delete account: %v", err)
		return s.fail(err, DeleteFailed)
	}

	s.sess.Logout(ctx)
	s.store.SetSuccess(AccountDeleted)
	s.store.Navigate("/")
	log.Printf("[account] account deleted")
	return nil
}
