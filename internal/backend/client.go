// Package backend talks to the external review service that stores reviews
// and watchlists.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/metrics"
)

const maxResponseBytes = 4 << 20

var (
	// ErrNotFound is returned when the service has no such review or entry.
	ErrNotFound = errors.New("not found")
	// ErrNotOwner is returned when the acting user did not author the record.
	ErrNotOwner = errors.New("not the owner")
)

// Client is a REST client for the review service. It is safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the traced default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New returns a client for the service at baseURL. Requests time out after
// timeout unless the caller's context ends first.
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}

	c := &Client{
		base: u,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ListReviews(ctx context.Context) ([]Review, error) {
	var out []Review
	if err := c.do(ctx, "list_reviews", http.MethodGet, "/reviews", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetReview(ctx context.Context, id string) (*Review, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var out Review
	if err := c.do(ctx, "get_review", http.MethodGet, "/reviews/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	// The service answers 200 with null for unknown ids.
	if out.ID == "" {
		return nil, ErrNotFound
	}
	return &out, nil
}

// CreateReview publishes in as a review by attr and returns the new id.
func (c *Client) CreateReview(ctx context.Context, attr identity.Attribution, in ReviewInput) (string, error) {
	if attr.IsZero() {
		return "", identity.ErrNotSignedIn
	}
	body := Review{
		Title:          in.Title,
		ImageURL:       in.ImageURL,
		Review:         in.Review,
		Rating:         Number(in.Rating),
		PublishingYear: Number(in.PublishingYear),
		Genre:          in.Genre,
		ReviewerName:   attr.DisplayName,
		ReviewerEmail:  attr.Email,
	}
	var res writeResult
	if err := c.do(ctx, "create_review", http.MethodPost, "/addReview", body, &res); err != nil {
		return "", err
	}
	return res.InsertedID, nil
}

// UpdateReview changes a review authored by attr.
func (c *Client) UpdateReview(ctx context.Context, attr identity.Attribution, id string, upd ReviewUpdate) error {
	if attr.IsZero() {
		return identity.ErrNotSignedIn
	}
	if err := c.checkReviewOwner(ctx, attr, id); err != nil {
		return err
	}
	var res writeResult
	if err := c.do(ctx, "update_review", http.MethodPatch, "/reviews/"+url.PathEscape(id), upd, &res); err != nil {
		return err
	}
	if res.MatchedCount != nil && *res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReview removes a review authored by attr.
func (c *Client) DeleteReview(ctx context.Context, attr identity.Attribution, id string) error {
	if attr.IsZero() {
		return identity.ErrNotSignedIn
	}
	if err := c.checkReviewOwner(ctx, attr, id); err != nil {
		return err
	}
	var res writeResult
	if err := c.do(ctx, "delete_review", http.MethodDelete, "/deleteReview/"+url.PathEscape(id), nil, &res); err != nil {
		return err
	}
	if res.DeletedCount != nil && *res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWatchlist returns the entries saved by attr.
func (c *Client) ListWatchlist(ctx context.Context, attr identity.Attribution) ([]WatchlistEntry, error) {
	if attr.IsZero() {
		return nil, identity.ErrNotSignedIn
	}
	var all []WatchlistEntry
	if err := c.do(ctx, "list_watchlist", http.MethodGet, "/watchList", nil, &all); err != nil {
		return nil, err
	}
	return WatchlistOf(all, attr.Email), nil
}

// AddToWatchlist saves a copy of r to attr's watchlist.
func (c *Client) AddToWatchlist(ctx context.Context, attr identity.Attribution, r Review) (string, error) {
	if attr.IsZero() {
		return "", identity.ErrNotSignedIn
	}
	entry := WatchlistEntry{
		ReviewID:       r.ID,
		ImageURL:       r.ImageURL,
		Title:          r.Title,
		Review:         r.Review,
		Rating:         r.Rating,
		PublishingYear: r.PublishingYear,
		Genre:          r.Genre,
		ReviewerName:   r.ReviewerName,
		ReviewerEmail:  r.ReviewerEmail,
		AddedByName:    attr.DisplayName,
		AddedByEmail:   attr.Email,
	}
	var res writeResult
	if err := c.do(ctx, "add_watchlist", http.MethodPost, "/watchlist", entry, &res); err != nil {
		return "", err
	}
	return res.InsertedID, nil
}

// RemoveFromWatchlist deletes one of attr's watchlist entries.
func (c *Client) RemoveFromWatchlist(ctx context.Context, attr identity.Attribution, id string) error {
	entries, err := c.ListWatchlist(ctx, attr)
	if err != nil {
		return err
	}
	found := false
	for _, e := range entries {
		if e.ID == id {
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	var res writeResult
	if err := c.do(ctx, "remove_watchlist", http.MethodDelete, "/watchlist/"+url.PathEscape(id), nil, &res); err != nil {
		return err
	}
	if res.DeletedCount != nil && *res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) checkReviewOwner(ctx context.Context, attr identity.Attribution, id string) error {
	r, err := c.GetReview(ctx, id)
	if err != nil {
		return err
	}
	if !strings.EqualFold(r.ReviewerEmail, attr.Email) {
		return ErrNotOwner
	}
	return nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", operation, err)
		}
		reader = bytes.NewReader(buf)
	}

	u := *c.base
	u.Path = c.base.Path + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := metrics.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveBackendLatency(operation, "error", start)
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()
	metrics.ObserveBackendLatency(operation, strconv.Itoa(resp.StatusCode), start)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", operation, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &msg) == nil {
			apiErr.Message = msg.Message
		}
		c.logger.Warn().
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Str("message", apiErr.Message).
			Msg("review service error")
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return nil
}
