// Package client is the consumer side of pulse: a push stream consumer that
// keeps a local feed current, and the visibility tracking and batching
// pipeline that reports impressions and profile views.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rubiojr/pulse/pkg/core"
)

var (
	// ErrUnauthenticated is returned when no token is available or the
	// server rejects it.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrAlreadyStreaming is returned by Consumer.Run while a stream is open.
	ErrAlreadyStreaming = errors.New("stream already open")
)

// TokenSource returns the current session token, or "" when signed out.
type TokenSource func() string

// StaticToken returns a TokenSource for a fixed token.
func StaticToken(tok string) TokenSource {
	return func() string { return tok }
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

// Unwrap maps 401 responses to ErrUnauthenticated.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	return nil
}

// APIClient calls the pulse HTTP API.
type APIClient struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

// NewAPIClient returns a client for baseURL. A nil httpClient uses a client
// with a 10 second timeout.
func NewAPIClient(baseURL string, httpClient *http.Client, token TokenSource) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		token:   token,
	}
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	tok := ""
	if c.token != nil {
		tok = c.token()
	}
	if tok == "" {
		return ErrUnauthenticated
	}

	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// SendImpressions implements ImpressionSender.
func (c *APIClient) SendImpressions(ctx context.Context, ids []string) ([]core.PostImpression, error) {
	var out struct {
		Impressions []core.PostImpression `json:"impressions"`
	}
	err := c.do(ctx, http.MethodPost, "/analytics/post-impressions", map[string][]string{"postIds": ids}, &out)
	return out.Impressions, err
}

// SendProfileView implements ProfileViewSender.
func (c *APIClient) SendProfileView(ctx context.Context, profileUserID string) (ProfileViewResult, error) {
	var out ProfileViewResult
	err := c.do(ctx, http.MethodPost, "/analytics/profile-view", map[string]string{"profileUserId": profileUserID}, &out)
	return out, err
}

// ListPosts fetches the newest posts.
func (c *APIClient) ListPosts(ctx context.Context, limit int) ([]core.Post, error) {
	path := "/posts"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out struct {
		Posts []core.Post `json:"posts"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Posts, err
}
