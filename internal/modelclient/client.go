// Package modelclient is the HTTP client to the external fraud model's
// prediction endpoint (§4.4, §6.3). It never surfaces an error outward:
// every failure mode (timeout, transport error, malformed response,
// disabled-by-config) degrades to a neutral probability of 0.0, the
// same placeholder extension point this codebase's ExternalMLScorer left
// unfinished, now wired to a real net/http.Client and guarded by a
// circuit breaker so a sustained model outage fails fast instead of
// burning the full per-call timeout on every transaction.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Config carries the Model Client's tunables from §6.5.
type Config struct {
	Endpoint        string
	APIKey          string
	Enabled         bool
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerOpenTime time.Duration
}

// DefaultConfig returns the default 2000ms deadline, enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Timeout:         2000 * time.Millisecond,
		BreakerFailures: 5,
		BreakerOpenTime: 30 * time.Second,
	}
}

// Client is the bounded-deadline prediction client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New builds a Client. A nil-able *http.Client override is accepted only
// through NewWithHTTPClient for tests.
func New(cfg Config) *Client {
	return NewWithHTTPClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

// NewWithHTTPClient allows tests to inject a client pointed at an
// httptest.Server.
func NewWithHTTPClient(cfg Config, httpClient *http.Client) *Client {
	settings := gobreaker.Settings{
		Name:    "model-client",
		Timeout: cfg.BreakerOpenTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	FraudProbability float64 `json:"fraud_probability"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Predict returns a fraud probability in [0,1] for the given feature
// vector. Every failure mode — disabled, open breaker, timeout,
// transport error, malformed response — degrades to 0.0; this method
// never returns a non-nil error to the caller (§4.4).
func (c *Client) Predict(ctx context.Context, features []float64) float64 {
	if !c.cfg.Enabled {
		return 0.0
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.predict(ctx, features)
	})
	if err != nil {
		log.Warn().Err(err).Msg("model client: predict degraded to neutral")
		return 0.0
	}

	prob, ok := result.(float64)
	if !ok {
		return 0.0
	}
	return prob
}

func (c *Client) predict(ctx context.Context, features []float64) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return 0, fmt.Errorf("marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("predict returned status %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode predict response: %w", err)
	}

	if out.FraudProbability < 0 || out.FraudProbability > 1 {
		return 0, fmt.Errorf("predict returned out-of-range probability %f", out.FraudProbability)
	}

	return out.FraudProbability, nil
}

// IsHealthy GETs the model's health endpoint and expects status "UP".
// Any failure returns false; this method never returns an error.
func (c *Client) IsHealthy(ctx context.Context) bool {
	if !c.cfg.Enabled {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("model client: health check failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var out healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}

	return out.Status == "UP"
}
