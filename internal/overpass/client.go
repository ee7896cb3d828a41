// Package overpass implements the HTTP Query Client: a stateful client
// that rotates across a fixed list of Overpass API endpoints, retries
// transparently on throttling and other non-200 responses, and hands back
// either a live response stream or a seekable spooled temp file.
package overpass

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// Config configures a Client. At least two Endpoints are required so that
// two successive RunQuery calls always land on different hosts.
type Config struct {
	Endpoints  []string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *Metrics
}

// DefaultEndpoints mirrors the two public mirrors the original engine
// rotated across.
var DefaultEndpoints = []string{
	"https://z.overpass-api.de/api",
	"https://lz4.overpass-api.de/api",
}

// Client is the HTTP Query Client. A single instance is meant to be
// shared by one engine (spec.md §5), but RunQuery itself is safe to call
// concurrently: the resolver dispatches batches from a worker pool
// against one shared Client, so the endpoint cursor is guarded by
// cursorMu rather than assumed single-goroutine.
type Client struct {
	endpoints []string
	cursorMu  sync.Mutex
	cursor    int
	http      *http.Client
	log       *slog.Logger
	metrics   *Metrics

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

// New creates a Client from cfg, applying defaults for any zero fields.
func New(cfg Config) *Client {
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// spec.md §4.1: dispatched with no timeout at the transport layer.
		httpClient = &http.Client{Timeout: 0}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoints: endpoints,
		http:      httpClient,
		log:       logger,
		metrics:   cfg.Metrics,
		breakers:  make(map[string]*gobreaker.CircuitBreaker, len(endpoints)),
	}
}

func (c *Client) breakerFor(endpoint string) *gobreaker.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	cb, ok := c.breakers[endpoint]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: endpoint,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
		c.breakers[endpoint] = cb
	}
	return cb
}

// nextEndpoint advances the cursor and returns the endpoint it now points
// at, skipping endpoints whose circuit breaker is open when a healthy
// alternative exists (spec.md §4.1: the cursor is advanced before use).
// cursorMu serializes this against concurrent RunQuery calls so the
// rotation stays well-defined when the resolver fans batches out across
// a worker pool.
func (c *Client) nextEndpoint() string {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	for i := 0; i < len(c.endpoints); i++ {
		c.cursor = (c.cursor + 1) % len(c.endpoints)
		endpoint := c.endpoints[c.cursor]
		if c.breakerFor(endpoint).State() != gobreaker.StateOpen {
			return endpoint
		}
	}
	// Every endpoint is open; advance once more and return that endpoint
	// anyway. Its breaker rejects the request, and RunQuery returns that
	// rejection as an error.
	c.cursor = (c.cursor + 1) % len(c.endpoints)
	return c.endpoints[c.cursor]
}

// RunQuery dispatches query to the next endpoint in rotation and returns
// either the live response body (toTempFile=false) or a seekable temp
// file holding the full, already-downloaded body positioned at offset 0
// (toTempFile=true). HTTP 429 triggers a best-effort kill_my_queries call
// on the same endpoint before recursively retrying (which lands on a
// different endpoint); any other non-200 status is logged and retried.
// Only transport/IO failures are returned as errors.
func (c *Client) RunQuery(ctx context.Context, query string, toTempFile bool) (io.ReadCloser, error) {
	endpoint := c.nextEndpoint()
	reqID := uuid.NewString()
	finalURL := endpoint + "/interpreter?data=" + url.QueryEscape(query)

	log := c.log.With("request_id", reqID, "endpoint", endpoint)
	log.Debug("requesting overpass resource")

	cb := c.breakerFor(endpoint)
	resp, err := cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
		if err != nil {
			return nil, err
		}
		return c.http.Do(req)
	})
	if err != nil {
		c.metrics.observeRequest(endpoint, "transport_error")
		return nil, fmt.Errorf("overpass: request to %s failed: %w", endpoint, err)
	}
	httpResp := resp.(*http.Response)

	switch httpResp.StatusCode {
	case http.StatusOK:
		c.metrics.observeRequest(endpoint, "200")
		log.Debug("overpass request succeeded")
		if !toTempFile {
			return httpResp.Body, nil
		}
		return spoolToTempFile(httpResp.Body)

	case http.StatusTooManyRequests:
		c.metrics.observeRequest(endpoint, "429")
		c.metrics.observeRetry("throttled")
		log.Warn("overpass endpoint throttled us, killing queries and rotating")
		httpResp.Body.Close()
		c.killMyQueries(ctx, endpoint)
		return c.RunQuery(ctx, query, toTempFile)

	default:
		c.metrics.observeRequest(endpoint, fmt.Sprintf("%d", httpResp.StatusCode))
		c.metrics.observeRetry("http_error")
		log.Warn("unexpected overpass status, retrying", "status", httpResp.StatusCode)
		httpResp.Body.Close()
		return c.RunQuery(ctx, query, toTempFile)
	}
}

// killMyQueries issues a best-effort GET to the throttling endpoint's
// kill_my_queries side channel. Its result is deliberately ignored: this
// is advisory cleanup, not something the caller can act on.
func (c *Client) killMyQueries(ctx context.Context, endpoint string) {
	c.metrics.observeKillMyQueries(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/kill_my_queries", nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("kill_my_queries request failed", "endpoint", endpoint, "error", err)
		return
	}
	resp.Body.Close()
}

// tempFile wraps an *os.File so Close both closes and removes it, since
// callers treat it as a disposable spooled copy of the response body.
type tempFile struct {
	*os.File
}

func (t tempFile) Close() error {
	name := t.File.Name()
	err := t.File.Close()
	os.Remove(name)
	return err
}

func spoolToTempFile(body io.ReadCloser) (io.ReadCloser, error) {
	defer body.Close()
	f, err := os.CreateTemp("", "overpass-response-*")
	if err != nil {
		return nil, fmt.Errorf("overpass: creating temp file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("overpass: spooling response: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("overpass: seeking spooled response: %w", err)
	}
	return tempFile{f}, nil
}
