package backend

import (
	"context"
	"net/http"

	"github.com/lklkevin/pear/internal/model"
)

// ─────────────────────────────────────────────
// Auth
// ─────────────────────────────────────────────

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*model.Tokens, error) {
	in := map[string]string{"email": email, "password": password}
	var out model.Tokens
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", nil, "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Signup creates a local account and signs it in.
func (c *Client) Signup(ctx context.Context, username, email, password string) (*model.Tokens, error) {
	in := map[string]string{"username": username, "email": email, "password": password}
	var out model.Tokens
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/signup", nil, "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh trades a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*model.Tokens, error) {
	in := map[string]string{"refresh_token": refreshToken}
	var out model.Tokens
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/refresh", nil, "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes a refresh token.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	in := map[string]string{"refresh_token": refreshToken}
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, "", in, nil)
}

// ─────────────────────────────────────────────
// Account
// ─────────────────────────────────────────────

// Profile returns the signed-in user's profile.
func (c *Client) Profile(ctx context.Context, token string) (*model.Profile, error) {
	var out model.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/api/user/profile", nil, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUsername renames the account. It returns the username echoed by the
// server, which may be empty.
func (c *Client) UpdateUsername(ctx context.Context, token, username string) (string, error) {
	in := map[string]string{"username": username}
	var out struct {
		Username string `json:"username"`
	}
	if err := c.doJSON(ctx, http.MethodPatch, "/api/user/username", nil, token, in, &out); err != nil {
		return "", err
	}
	return out.Username, nil
}

// UpdatePassword changes the account password.
func (c *Client) UpdatePassword(ctx context.Context, token, oldPassword, newPassword string) error {
	in := map[string]string{"oldPassword": oldPassword, "password": newPassword}
	return c.doJSON(ctx, http.MethodPatch, "/api/user/password", nil, token, in, nil)
}

// DeleteAccount permanently removes the account.
func (c *Client) DeleteAccount(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/user/account", nil, token, nil, nil)
}
