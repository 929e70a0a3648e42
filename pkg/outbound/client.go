package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// ClientConfig configures a Client for one logical service (LLM, TTS,
// MCP-over-HTTP, vision — spec.md §4.4).
type ClientConfig struct {
	Service string
	BaseURL string
	APIKey  string

	// Referer and Title are attached as optional headers when set
	// (mirrors OpenRouter-style attribution headers some LLM providers
	// expect).
	Referer string
	Title   string

	RequestTimeout time.Duration
	MaxRetries     int

	Queue   QueueConfig
	Breaker *Breaker

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c *ClientConfig) setDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.RequestTimeout}
	}
	if c.Breaker == nil {
		c.Breaker = NewBreaker()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is the shared rate-limited, resilient HTTP client every
// outbound call to an external service goes through (spec.md §4.4).
type Client struct {
	cfg   ClientConfig
	queue *Queue
	log   *slog.Logger
}

// NewClient builds a Client for one service.
func NewClient(cfg ClientConfig) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:   cfg,
		queue: NewQueue(cfg.Queue),
		log:   cfg.Logger.With("outbound_service", cfg.Service),
	}
}

// Request describes one outbound call.
type Request struct {
	Method   string
	Path     string
	Body     any
	Priority int // higher dequeues first
}

// Do executes req through the queue, circuit breaker, and retry/backoff
// pipeline, returning the decoded JSON response body.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if err := c.cfg.Breaker.Allow(); err != nil {
		return err
	}

	release, err := c.queue.Acquire(ctx, req.Priority)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		statusCode, retryAfter, err := c.attempt(ctx, req, out)
		if err == nil {
			release(true)
			c.cfg.Breaker.RecordSuccess()
			return nil
		}
		lastErr = err

		if !isRetryableStatus(statusCode) {
			release(false)
			c.cfg.Breaker.RecordFailure()
			return err
		}

		if attempt >= c.cfg.MaxRetries {
			break
		}

		delay := c.backoffDelay(attempt, retryAfter)
		c.log.Warn("retrying outbound request", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			release(false)
			c.cfg.Breaker.RecordFailure()
			return ctx.Err()
		}
	}

	release(false)
	c.cfg.Breaker.RecordFailure()
	return fmt.Errorf("outbound request to %s failed after %d retries: %w", c.cfg.Service, c.cfg.MaxRetries, lastErr)
}

func (c *Client) attempt(ctx context.Context, req Request, out any) (statusCode int, retryAfter time.Duration, err error) {
	var bodyReader io.Reader
	if req.Body != nil {
		b, merr := json.Marshal(req.Body)
		if merr != nil {
			return 0, 0, fmt.Errorf("marshal request body: %w", merr)
		}
		bodyReader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.cfg.BaseURL+req.Path, bodyReader)
	if err != nil {
		return 0, 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		httpReq.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if derr := json.NewDecoder(resp.Body).Decode(out); derr != nil {
				return resp.StatusCode, 0, fmt.Errorf("decode response: %w", derr)
			}
		}
		return resp.StatusCode, 0, nil
	}

	retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, retryAfter, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

// parseRetryAfter reads a Retry-After header (seconds or HTTP date)
// and clamps it to [1s, 60s] per spec.md §4.4.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return clamp(time.Duration(secs)*time.Second, time.Second, 60*time.Second)
	}
	if t, err := http.ParseTime(header); err == nil {
		return clamp(time.Until(t), time.Second, 60*time.Second)
	}
	return 0
}

func clamp(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// backoffDelay honors Retry-After when present; otherwise exponential
// backoff base*2^attempt + jitter in [0, 100ms], capped at 30s
// (spec.md §4.4).
func (c *Client) backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	const base = time.Second
	const maxDelay = 30 * time.Second

	delay := time.Duration(math.Pow(2, float64(attempt))) * base
	jitter := time.Duration(rand.Float64() * float64(100*time.Millisecond))
	return clamp(delay+jitter, base, maxDelay)
}
