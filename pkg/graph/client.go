package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

const (
	// BaseV1 is the stable Graph API endpoint.
	BaseV1 = "https://graph.microsoft.com/v1.0"
	// BaseBeta is the beta endpoint, required for service principal sign-in
	// activity.
	BaseBeta = "https://graph.microsoft.com/beta"

	// DefaultScope requests whatever Graph permissions the credential holds.
	DefaultScope = "https://graph.microsoft.com/.default"
)

const maxRetries = 3

// outcome classifies one HTTP exchange so retry handling stays explicit.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeThrottled
	outcomeFatal
)

// APIError is a non-retryable Graph error response.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsForbidden reports a 401/403, the signature of a missing scope.
func (e *APIError) IsForbidden() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// page is the envelope Graph wraps collection responses in.
type page struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// Client is a thin Graph REST client. It owns pagination and throttling
// retries; callers own response decoding.
type Client struct {
	broker     TokenBroker
	scopes     []string
	httpClient *http.Client
	logger     *slog.Logger

	baseV1   string
	baseBeta string

	// sleep is swappable for tests.
	sleep func(context.Context, time.Duration) error
}

// ClientOption mutates a Client during construction.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURLs overrides the Graph endpoints, for tests.
func WithBaseURLs(v1, beta string) ClientOption {
	return func(c *Client) {
		c.baseV1 = strings.TrimSuffix(v1, "/")
		c.baseBeta = strings.TrimSuffix(beta, "/")
	}
}

// WithScopes overrides the scopes requested per token acquisition.
func WithScopes(scopes ...string) ClientOption {
	return func(c *Client) { c.scopes = scopes }
}

// NewClient builds a Graph client over a token broker.
func NewClient(broker TokenBroker, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		broker:     broker,
		scopes:     []string{DefaultScope},
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		baseV1:     BaseV1,
		baseBeta:   BaseBeta,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// buildURL joins a relative path and query onto a base. Paths that are
// already absolute (continuation links) pass through untouched.
func buildURL(base, path string, query url.Values) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	full := base + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}

// Get performs a GET against the v1.0 endpoint and returns the raw body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.get(ctx, buildURL(c.baseV1, path, query))
}

// GetBeta performs a GET against the beta endpoint and returns the raw body.
func (c *Client) GetBeta(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.get(ctx, buildURL(c.baseBeta, path, query))
}

// GetAllPages fetches a collection, following @odata.nextLink continuation
// links until exhausted, invoking fn for every item in order.
func (c *Client) GetAllPages(ctx context.Context, path string, query url.Values, fn func(json.RawMessage) error) error {
	next := buildURL(c.baseV1, path, query)
	for next != "" {
		body, err := c.get(ctx, next)
		if err != nil {
			return err
		}

		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("decode collection page from %s: %w", next, err)
		}
		for _, item := range p.Value {
			if err := fn(item); err != nil {
				return err
			}
		}
		next = p.NextLink
	}
	return nil
}

// get runs one authenticated GET with throttling retries. 429 and 503 are
// retried up to maxRetries times, honoring Retry-After when present and
// otherwise backing off 2s/4s/8s.
func (c *Client) get(ctx context.Context, fullURL string) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		body, result, retryAfter, err := c.doOnce(ctx, fullURL)
		switch {
		case err != nil:
			return nil, err
		case result == outcomeSuccess:
			return body, nil
		case result == outcomeThrottled && attempt < maxRetries:
			delay := retryAfter
			if delay <= 0 {
				delay = time.Duration(2<<attempt) * time.Second
			}
			c.logger.Debug("throttled by graph api, backing off",
				"url", fullURL, "attempt", attempt+1, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		case result == outcomeThrottled:
			return nil, fmt.Errorf("graph api GET %s: still throttled after %d retries", fullURL, maxRetries)
		default:
			// outcomeFatal: body carries the APIError via err above, so this
			// branch is unreachable; kept for exhaustiveness.
			return nil, fmt.Errorf("graph api GET %s: unexpected outcome", fullURL)
		}
	}
}

func (c *Client) doOnce(ctx context.Context, fullURL string) (json.RawMessage, outcome, time.Duration, error) {
	tok, err := c.broker.Acquire(ctx, c.scopes)
	if err != nil {
		return nil, outcomeFatal, 0, fmt.Errorf("acquire token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, outcomeFatal, 0, fmt.Errorf("build request for %s: %w", fullURL, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, outcomeFatal, 0, fmt.Errorf("graph api GET %s: %w", fullURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, outcomeFatal, 0, fmt.Errorf("read response from %s: %w", fullURL, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, outcomeSuccess, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, outcomeThrottled, parseRetryAfter(resp.Header.Get("Retry-After")), nil
	default:
		return nil, outcomeFatal, 0, &APIError{
			StatusCode: resp.StatusCode,
			Method:     http.MethodGet,
			URL:        fullURL,
			Body:       truncate(string(body), 512),
		}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// DetectCapabilities probes the sign-in activity endpoint to decide whether
// the scan can run in full mode. A permission failure downgrades to limited
// mode instead of failing the scan.
func (c *Client) DetectCapabilities(ctx context.Context) types.ScanMode {
	query := url.Values{}
	query.Set("$select", "id,signInActivity")
	query.Set("$top", "1")

	if _, err := c.GetBeta(ctx, "/servicePrincipals", query); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsForbidden() {
			c.logger.Info("sign-in activity not readable with current permissions, running in limited mode")
		} else {
			c.logger.Warn("capability probe failed, running in limited mode", "error", err)
		}
		return types.ModeLimited
	}
	return types.ModeFull
}
