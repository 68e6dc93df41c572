package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// predictRequest mirrors the inbound body of the predict route.
type predictRequest struct {
	RevID          int64  `json:"rev_id"`
	Lang           string `json:"lang"`
	ExtendedOutput bool   `json:"extended_output,omitempty"`
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeRejected
	outcomeFailed
)

type result struct {
	outcome outcome
	latency time.Duration
}

// client posts predict requests to one service.
type client struct {
	http       *http.Client
	predictURL string
	healthURL  string
}

func newClient(cfg *Config) *client {
	return &client{
		http:       &http.Client{Timeout: cfg.Timeout},
		predictURL: fmt.Sprintf("%s/v1/models/%s:predict", cfg.BaseURL, cfg.Model),
		healthURL:  cfg.BaseURL + "/healthz",
	}
}

func (c *client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

// predict sends one request and classifies the response by status.
func (c *client) predict(ctx context.Context, body predictRequest) result {
	start := time.Now()
	data, err := json.Marshal(body)
	if err != nil {
		return result{outcome: outcomeFailed}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.predictURL, bytes.NewReader(data))
	if err != nil {
		return result{outcome: outcomeFailed}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return result{outcome: outcomeFailed, latency: time.Since(start)}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	r := result{latency: time.Since(start)}
	switch {
	case resp.StatusCode == http.StatusOK:
		r.outcome = outcomeOK
	case resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError:
		r.outcome = outcomeRejected
	default:
		r.outcome = outcomeFailed
	}
	return r
}
