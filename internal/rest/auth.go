package rest

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// UserProfile is the /users/me and /users/register response shape.
type UserProfile struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Register creates an account. The caller still has to log in afterwards to
// obtain a token; the session store chains the two.
func (c *Client) Register(ctx context.Context, username, password string) (UserProfile, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/users/register", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return UserProfile{}, err
	}
	var profile UserProfile
	if err := c.do(req, &profile); err != nil {
		return UserProfile{}, asAuthError(err)
	}
	return profile, nil
}

// Login exchanges credentials for a bearer token. The endpoint is OAuth2
// form-encoded, not JSON.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp loginResponse
	if err := c.do(req, &resp); err != nil {
		return "", asAuthError(err)
	}
	return resp.AccessToken, nil
}

// CheckToken validates the stored token against the server. An AuthError
// means expired or revoked; the session store clears local state on it.
func (c *Client) CheckToken(ctx context.Context) error {
	req, err := c.newBearerRequest(ctx, http.MethodGet, "/auth/check-token", nil)
	if err != nil {
		return err
	}
	return asAuthError(c.do(req, nil))
}

// Me fetches the profile of the token's owner.
func (c *Client) Me(ctx context.Context) (UserProfile, error) {
	req, err := c.newBearerRequest(ctx, http.MethodGet, "/users/me", nil)
	if err != nil {
		return UserProfile{}, err
	}
	var profile UserProfile
	if err := c.do(req, &profile); err != nil {
		return UserProfile{}, asAuthError(err)
	}
	return profile, nil
}

// Logout invalidates the token server-side. Best effort; the caller clears
// local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	req, err := c.newBearerRequest(ctx, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return err
	}
	return asAuthError(c.do(req, nil))
}

// asAuthError maps server rejections on auth endpoints to AuthError with the
// server's own message. Transport failures pass through as FetchError.
func asAuthError(err error) error {
	var se *statusError
	if errors.As(err, &se) {
		return &AuthError{Message: se.detail}
	}
	return err
}
