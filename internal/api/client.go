// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trailog/recorder/pkg/core"
)

// ErrUnauthorized is returned when the server rejects the credential (401/403).
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx response other than an auth failure. These are
// treated as transient and retried on the next sync pass.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// TrailPayload is the body of PUT /trails/{trailId}.
type TrailPayload struct {
	StartedAt  int64  `json:"started_at"`
	EndedAt    int64  `json:"ended_at"`
	DistanceM  int64  `json:"distance_m"`
	DurationS  int64  `json:"duration_s"`
	PointsJSON string `json:"points_json"`
}

// Trail is a hike as returned by GET /trails.
type Trail struct {
	TrailID    string `json:"trail_id"`
	UserID     string `json:"user_id"`
	StartedAt  int64  `json:"started_at"`
	EndedAt    int64  `json:"ended_at"`
	DistanceM  int64  `json:"distance_m"`
	DurationS  int64  `json:"duration_s"`
	PointsJSON string `json:"points_json"`
}

// Points decodes the trail's points_json.
func (t Trail) Points() ([]core.TrackPoint, error) {
	return core.DecodePoints(t.PointsJSON)
}

// PayloadFromSummary builds the upload body for s.
func PayloadFromSummary(s core.StopSummary) (TrailPayload, error) {
	points, err := core.EncodePoints(s.Points)
	if err != nil {
		return TrailPayload{}, err
	}
	return TrailPayload{
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		DistanceM:  s.DistanceM,
		DurationS:  s.DurationS,
		PointsJSON: points,
	}, nil
}

// Client talks to the remote hike store.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a new API client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Healthcheck checks if the hike store is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// SaveTrail uploads s with an idempotent PUT keyed by its trail id.
func (c *Client) SaveTrail(ctx context.Context, token string, s core.StopSummary) error {
	payload, err := PayloadFromSummary(s)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode trail: %w", err)
	}

	endpoint := c.baseURL + "/trails/" + url.PathEscape(s.TrailID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("save trail request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ListTrails returns the caller's stored hikes.
func (c *Client) ListTrails(ctx context.Context, token string) ([]Trail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/trails", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list trails request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var trails []Trail
	if err := json.NewDecoder(resp.Body).Decode(&trails); err != nil {
		return nil, fmt.Errorf("failed to decode trails: %w", err)
	}
	return trails, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
}
