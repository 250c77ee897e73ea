package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SignupRequest registers a new account.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// User is the account returned by signup.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// TokenResponse is returned by the token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Signup creates an account. It does not log in.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	var user User
	if err := c.doJSON(ctx, http.MethodPost, "/auth/signup", req, &user, Anonymous()); err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}
	return &user, nil
}

// Login exchanges credentials for a token and stores it.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	resp, err := c.Do(ctx, http.MethodPost, "/auth/token", strings.NewReader(form.Encode()),
		Anonymous(), WithContentType("application/x-www-form-urlencoded"))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	var tok TokenResponse
	if err := DecodeJSON(resp, &tok); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("login: backend returned an empty token")
	}
	if err := c.creds.SetToken(ctx, tok.AccessToken); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// Logout forgets the stored token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.creds.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
