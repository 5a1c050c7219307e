// pkg/graph/client.go
package graph

import (
	"bytes"
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

	"golang.org/x/oauth2"
)

const (
	// DefaultBaseV1 is the production v1.0 Graph endpoint.
	DefaultBaseV1 = "https://graph.microsoft.com/v1.0"
	// DefaultBaseBeta is the production beta Graph endpoint. Most of the
	// device management reporting surface only exists here.
	DefaultBaseBeta = "https://graph.microsoft.com/beta"

	defaultTimeout = 60 * time.Second
)

// Error is a Graph API failure with enough structure for callers to decide
// whether to retry, skip the record, or abort.
type Error struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("graph: %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a Graph 404.
func IsNotFound(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Status == http.StatusNotFound
}

// IsThrottled reports whether err is a throttling or transient-availability
// response that Graph documents as safe to retry.
func IsThrottled(err error) bool {
	var ge *Error
	return errors.As(err, &ge) &&
		(ge.Status == http.StatusTooManyRequests || ge.Status == http.StatusServiceUnavailable)
}

// Client is a thin Graph REST client. The generated SDK covers the stable
// v1.0 directory surface well, but the reporting and Intune endpoints this
// tool leans on live on beta and need raw request control, so those calls
// go through here.
type Client struct {
	httpClient *http.Client
	source     oauth2.TokenSource
	baseV1     string
	baseBeta   string
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURLs overrides the v1.0 and beta endpoint roots, primarily for
// tests running against httptest servers.
func WithBaseURLs(v1, beta string) Option {
	return func(c *Client) {
		c.baseV1 = strings.TrimSuffix(v1, "/")
		c.baseBeta = strings.TrimSuffix(beta, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a Graph client around a token source.
func NewClient(source oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		source:     source,
		baseV1:     DefaultBaseV1,
		baseBeta:   DefaultBaseBeta,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// V1 resolves a path or absolute URL against the v1.0 endpoint. Absolute
// URLs (nextLink continuations) pass through unchanged.
func (c *Client) V1(path string) string { return resolve(c.baseV1, path) }

// Beta resolves a path or absolute URL against the beta endpoint.
func (c *Client) Beta(path string) string { return resolve(c.baseBeta, path) }

func resolve(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// EscapeQuery encodes a value for use inside a $filter or $search clause.
// Graph rejects "+" as a space inside query options, so spaces must be
// percent-encoded.
func EscapeQuery(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// GetJSON performs a GET and decodes the response body into out. Passing a
// nil out discards the body. Extra headers (for example ConsistencyLevel)
// are applied verbatim.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any, headers ...Header) error {
	return c.doJSON(ctx, http.MethodGet, rawURL, nil, out, headers...)
}

// PostJSON performs a POST with a JSON body and decodes the response into
// out when non-nil.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body, out any, headers ...Header) error {
	return c.doJSON(ctx, http.MethodPost, rawURL, body, out, headers...)
}

// Delete performs a DELETE. Graph returns 204 with an empty body on
// success for $ref unlinks.
func (c *Client) Delete(ctx context.Context, rawURL string, headers ...Header) error {
	return c.doJSON(ctx, http.MethodDelete, rawURL, nil, nil, headers...)
}

// Header is an extra request header.
type Header struct {
	Key   string
	Value string
}

// ConsistencyEventual is required for advanced directory queries ($count,
// $search, filter on member collections).
var ConsistencyEventual = Header{Key: "ConsistencyLevel", Value: "eventual"}

func (c *Client) doJSON(ctx context.Context, method, rawURL string, body, out any, headers ...Header) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	tok, err := c.source.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain token: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range headers {
		req.Header.Set(h.Key, h.Value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("graph request",
		"method", method,
		"url", redactQuery(rawURL),
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode >= 400 {
		return parseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// redactQuery trims query strings out of debug logs. $filter clauses can
// carry user and device identifiers.
func redactQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

type odataError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseError(resp *http.Response) error {
	ge := &Error{Status: resp.StatusCode}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			ge.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var oe odataError
	if err := json.Unmarshal(body, &oe); err == nil && oe.Error.Code != "" {
		ge.Code = oe.Error.Code
		ge.Message = oe.Error.Message
	} else {
		ge.Message = strings.TrimSpace(string(body))
	}
	if ge.Message == "" {
		ge.Message = http.StatusText(resp.StatusCode)
	}
	return ge
}
