// Package clearinghouse submits 837P batches to a clearinghouse REST API and
// retrieves the resulting acknowledgments and 835 remittance files.
package clearinghouse

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
	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultRateLimitRPS = 5
	defaultBurst        = 10
	maxErrorBody        = 512
)

// Config carries the trading partner credentials and transport limits.
type Config struct {
	BaseURL     string
	APIKey      string
	SubmitterID string

	// Timeout bounds every call, including time spent waiting on the rate
	// limiter.
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// Configured reports whether network operations may be attempted.
func (c Config) Configured() bool {
	return c.BaseURL != "" && c.APIKey != "" && c.SubmitterID != ""
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = defaultRateLimitRPS
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = defaultBurst
	}
	return c
}

// client is the HTTP transport shared by every Service operation.
type client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func newClient(cfg Config, httpClient *http.Client, logger zerolog.Logger) *client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		logger:  logger,
	}
}

// do performs one request. A non-nil in is sent as JSON. The response body is
// returned raw; callers decode it.
func (c *client) do(ctx context.Context, op, method, path string, in any) ([]byte, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(op, 0, fmt.Errorf("rate limit wait: %w", err))
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("clearinghouse: %s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("clearinghouse: %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(op, 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(op, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, c.fail(op, resp.StatusCode, errors.New(msg))
	}

	c.logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("clearinghouse call")
	return respBody, nil
}

// fail logs and wraps a transport failure.
func (c *client) fail(op string, status int, err error) error {
	c.logger.Error().
		Err(err).
		Str("op", op).
		Int("status", status).
		Msg("clearinghouse call failed")
	return &TransportError{Op: op, StatusCode: status, Err: err}
}

func (c *client) getJSON(ctx context.Context, op, path string, out any) error {
	body, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return decode(op, body, out)
}

func decode(op string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
