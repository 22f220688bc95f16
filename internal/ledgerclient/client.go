// Package ledgerclient talks to the ledger HTTP API.
//
// Do never turns an HTTP status into an error: a 4xx or 5xx comes back as a
// Result with that status and body, and only transport failures set Err.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is where a locally started ledger listens.
	DefaultBaseURL = "http://127.0.0.1:8080"
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 5 * time.Second

	maxLoggedBody = 2048
)

// Request describes one call relative to the client's base URL.
type Request struct {
	Method  string
	Path    string
	Body    any               // nil means no body
	Headers map[string]string // extra headers, e.g. Authorization
	Timeout time.Duration     // zero means the client default
}

// Result is the outcome of Do. StatusCode is 0 when no response arrived;
// Body then holds the error text.
type Result struct {
	StatusCode int
	Body       string
	Err        error
}

// Failed reports whether the request never produced an HTTP response.
func (r Result) Failed() bool {
	return r.Err != nil
}

// StatusText renders the status for transcripts, "None" when there was none.
func (r Result) StatusText() string {
	if r.StatusCode == 0 {
		return "None"
	}
	return fmt.Sprint(r.StatusCode)
}

// Client is the ledger API client.
type Client struct {
	baseURL    string
	timeout    time.Duration
	runID      string
	seq        atomic.Int64
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a client for baseURL. A zero timeout means DefaultTimeout.
// runID, when set, prefixes the X-Request-ID of every request.
func NewClient(baseURL string, timeout time.Duration, runID string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		runID:      runID,
		httpClient: &http.Client{},
		log:        log.With().Str("component", "ledgerclient").Logger(),
	}
}

// BaseURL returns the URL requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs req and returns the status and raw body text.
func (c *Client) Do(ctx context.Context, req Request) Result {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return c.failed(req, fmt.Errorf("encode request body: %w", err))
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return c.failed(req, fmt.Errorf("build request: %w", err))
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.runID != "" {
		httpReq.Header.Set("X-Request-ID", fmt.Sprintf("%s-%d", c.runID, c.seq.Add(1)))
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.failed(req, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.failed(req, fmt.Errorf("read response body: %w", err))
	}

	res := Result{StatusCode: resp.StatusCode, Body: string(raw)}
	c.log.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", res.StatusCode).
		Dur("duration", time.Since(start)).
		Str("body", truncate(res.Body)).
		Msg("HTTP exchange")
	return res
}

func (c *Client) failed(req Request, err error) Result {
	c.log.Error().
		Err(err).
		Str("method", req.Method).
		Str("path", req.Path).
		Msg("Request error")
	return Result{Body: err.Error(), Err: err}
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "..."
}
