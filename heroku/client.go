package heroku

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Versioned accept header required by the platform API
	acceptHeader = "application/vnd.heroku+json; version=3"

	// Range header for release listings: newest first, at most 10
	releaseRangeHeader = "version ..; order=desc,max=10;"

	defaultTimeout  = 30 * time.Second
	maxResponseBody = 2 * 1024 * 1024 // 2 MB
)

// Client is a purpose-built client for the handful of platform API
// endpoints the deploy sequence touches. It is not a general Heroku client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a platform API client authenticated with the given
// bearer credential
func NewClient(baseURL string, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// APIError is a non-2xx response from the platform API. The body's
// id/message pair is Heroku's own error shape.
type APIError struct {
	StatusCode int
	ID         string `json:"id"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("heroku API error %d (%s): %s", e.StatusCode, e.ID, e.Message)
	}
	return fmt.Sprintf("heroku API error %d", e.StatusCode)
}

// IsUnauthorized reports whether err is a platform rejection of the
// credential. Never retried.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// IsTransient reports whether err is worth retrying: a 5xx response or a
// network-level failure
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	// Anything that never produced a response (DNS, reset, timeout)
	return err != nil
}

// CreateBuild submits a build of the given source archive for app
func (c *Client) CreateBuild(ctx context.Context, app string, blob SourceBlob) (*Build, error) {
	payload := map[string]any{"source_blob": blob}
	var build Build
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/apps/%s/builds", app), payload, &build); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("app", app).
		Str("build_id", build.ID).
		Str("status", string(build.Status)).
		Msg("Build submitted")
	return &build, nil
}

// GetBuild fetches a build by identifier
func (c *Client) GetBuild(ctx context.Context, app string, id string) (*Build, error) {
	var build Build
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/apps/%s/builds/%s", app, id), nil, &build); err != nil {
		return nil, err
	}
	return &build, nil
}

// ListReleases fetches the app's most recent releases, newest first
func (c *Client) ListReleases(ctx context.Context, app string) ([]Release, error) {
	var releases []Release
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/apps/%s/releases", app), nil, &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// GetRelease fetches a release. The platform accepts either a version
// number or a release UUID as the identity.
func (c *Client) GetRelease(ctx context.Context, app string, identity string) (*Release, error) {
	var release Release
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/apps/%s/releases/%s", app, identity), nil, &release); err != nil {
		return nil, err
	}
	return &release, nil
}

// CreateRelease activates an existing slug as a new release. This is how
// the platform expresses both rollbacks and release retries.
func (c *Client) CreateRelease(ctx context.Context, app string, slugID string, description string) (*Release, error) {
	payload := map[string]any{"slug": slugID, "description": description}
	var release Release
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/apps/%s/releases", app), payload, &release); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("app", app).
		Int("version", release.Version).
		Str("description", description).
		Msg("Release created")
	return &release, nil
}

// GetSlug fetches a slug by identifier
func (c *Client) GetSlug(ctx context.Context, app string, id string) (*Slug, error) {
	var slug Slug
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/apps/%s/slugs/%s", app, id), nil, &slug); err != nil {
		return nil, err
	}
	return &slug, nil
}

// do issues one authenticated request and decodes the response into out
func (c *Client) do(ctx context.Context, method string, path string, payload any, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodGet && strings.HasSuffix(path, "/releases") {
		req.Header.Set("Range", releaseRangeHeader)
	}

	c.logger.Debug().Str("method", method).Str("path", path).Msg("Calling platform API")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if !acceptedStatus(method, resp.StatusCode) {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// Best effort: the platform's error body carries id/message
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}

// acceptedStatus returns whether the platform answered a request of this
// method with its documented success code. Range'd GETs answer 206.
func acceptedStatus(method string, code int) bool {
	switch method {
	case http.MethodGet:
		return code == http.StatusOK || code == http.StatusPartialContent
	case http.MethodPost:
		return code == http.StatusCreated
	default:
		return code >= 200 && code < 300
	}
}
