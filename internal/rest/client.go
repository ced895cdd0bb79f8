package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TokenSource hands out the current bearer token, or "" when logged out.
// The session store is the only implementation; nothing else may read the
// token from storage directly.
type TokenSource interface {
	Token() string
}

// Client issues the one-shot HTTPS requests of the chess backend: auth,
// lobby management and game start. Live updates go over the channel manager
// instead.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *zap.Logger
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     log,
	}
}

// BaseURL returns the configured http(s) base, for deriving the ws base.
func (c *Client) BaseURL() string { return c.baseURL }

// detailBody is FastAPI's error envelope.
type detailBody struct {
	Detail string `json:"detail"`
}

// do runs a request and decodes a 2xx JSON body into out (out may be nil).
// Non-2xx responses come back as *statusError with the server's detail
// message; transport failures come back as *FetchError.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &FetchError{URL: req.URL.String(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var d detailBody
		_ = json.Unmarshal(body, &d)
		if d.Detail == "" {
			d.Detail = fmt.Sprintf("server returned %s", resp.Status)
		}
		return &statusError{code: resp.StatusCode, detail: d.Detail}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &FetchError{URL: req.URL.String(), Err: err}
		}
	}
	return nil
}

// statusError is internal; endpoint wrappers map it onto the error taxonomy
// (AuthError for auth endpoints, LobbyError for lobby actions).
type statusError struct {
	code   int
	detail string
}

func (e *statusError) Error() string { return e.detail }

func (c *Client) newJSONRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// newBearerRequest builds an authenticated request. A missing token stops
// the call before it is attempted; it never reaches the server just to fail.
func (c *Client) newBearerRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	token := c.tokens.Token()
	if token == "" {
		return nil, &AuthError{Message: "not logged in"}
	}
	req, err := c.newJSONRequest(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}
