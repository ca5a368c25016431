package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/config"
	"github.com/crajarshi/SwingTrading/pkg/logger"
	"github.com/crajarshi/SwingTrading/pkg/redis"
	"github.com/crajarshi/SwingTrading/pkg/retry"
)

// Waiter admits one outbound request at a time
type Waiter interface {
	Wait(ctx context.Context) error
}

// Client is an HTTP client wrapper with retry, circuit breaking, admission and logging
// ⭐ SSOT: every outbound HTTP request goes through this client
type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
	policy     *retry.Policy
	breaker    *gobreaker.CircuitBreaker
	limiter    Waiter
	headers    http.Header
}

// New creates a new HTTP client from config
// ⭐ SSOT: http.Client instances are created here only
func New(cfg *config.Config, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  log,
		policy:  retry.Default(log),
		headers: make(http.Header),
	}
}

// NewWithTimeout creates a client with custom timeout
func NewWithTimeout(cfg *config.Config, log *logger.Logger, timeout time.Duration) *Client {
	client := New(cfg, log)
	client.httpClient.Timeout = timeout
	return client
}

// WithRetry replaces the retry policy
func (c *Client) WithRetry(p *retry.Policy) *Client {
	c.policy = p.WithLogger(c.logger)
	return c
}

// DisableRetry disables automatic retry
func (c *Client) DisableRetry() *Client {
	c.policy = retry.None()
	return c
}

// WithCircuitBreaker guards the upstream with a named breaker
// Only network-class failures count toward tripping it.
func (c *Client) WithCircuitBreaker(name string) *Client {
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !apperr.Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return c
}

// WithLimiter sets the admission gate consulted before every attempt
func (c *Client) WithLimiter(w Waiter) *Client {
	c.limiter = w
	return c
}

// WithRateLimiter sets a redis sliding-window limiter for this client
func (c *Client) WithRateLimiter(limiter *redis.RateLimiter, cfg redis.RateLimitConfig) *Client {
	return c.WithLimiter(limiter.For(cfg))
}

// WithHeader sets a header sent with every request
func (c *Client) WithHeader(key, value string) *Client {
	c.headers.Set(key, value)
	return c
}

// BreakerState returns the breaker state, or "none" when no breaker is set
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "none"
	}
	return c.breaker.State().String()
}

// GetJSON performs a GET request and decodes the JSON response into out
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	return c.DoJSON(ctx, http.MethodGet, url, nil, out)
}

// PostJSON performs a POST request with a JSON body
func (c *Client) PostJSON(ctx context.Context, url string, in, out interface{}) error {
	return c.DoJSON(ctx, http.MethodPost, url, in, out)
}

// Delete performs a DELETE request
func (c *Client) Delete(ctx context.Context, url string) error {
	return c.DoJSON(ctx, http.MethodDelete, url, nil, nil)
}

// DoJSON executes a request with retry and decodes a JSON response
// Non-2xx responses are classified through apperr.FromStatus.
func (c *Client) DoJSON(ctx context.Context, method, url string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		payload = data
	}

	op := method + " " + url
	return c.policy.Do(ctx, op, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait failed: %w", err)
			}
		}

		body, err := c.execute(ctx, op, func() ([]byte, error) {
			return c.do(ctx, method, url, payload)
		})
		if err != nil {
			return err
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return apperr.Data(op, fmt.Errorf("malformed response: %w", err))
			}
		}
		return nil
	})
}

func (c *Client) execute(ctx context.Context, op string, fn func() ([]byte, error)) ([]byte, error) {
	if c.breaker == nil {
		return fn()
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperr.Network(op, err)
	}
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// do executes a single attempt with logging
func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	op := method + " " + req.URL.Path
	startTime := time.Now()

	c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    url,
	}).Debug("HTTP request started")

	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"method":   method,
			"url":      url,
			"duration": duration,
			"error":    err.Error(),
		}).Error("HTTP request failed")
		return nil, apperr.FromTransport(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Network(op, fmt.Errorf("read body: %w", err))
	}

	c.logger.WithFields(map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": resp.StatusCode,
		"duration":    duration,
	}).Debug("HTTP request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.FromStatus(op, resp.StatusCode, string(body))
	}
	return body, nil
}

// IsRetryableError checks if a status code should be retried
func IsRetryableError(statusCode int) bool {
	return apperr.Retryable(apperr.FromStatus("", statusCode, ""))
}
