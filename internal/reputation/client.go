package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/tradeguard/internal/policy"
)

// maxResponseBytes caps how much of a reputation response is buffered.
const maxResponseBytes = 1 << 20

type ClientConfig struct {
	BaseURL    string        `yaml:"base_url" env:"URL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
}

// Client queries the reputation service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger
}

func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: cfg.MaxRetries,
		retryDelay: delay,
		logger:     logger,
	}
}

func (c *Client) Signals(ctx context.Context, buyerID, sellerID string) (policy.TrustSignals, error) {
	q := url.Values{}
	q.Set("buyer_id", buyerID)
	q.Set("seller_id", sellerID)

	var out policy.TrustSignals
	if err := c.get(ctx, "/v1/trust?"+q.Encode(), &out); err != nil {
		return policy.TrustSignals{}, fmt.Errorf("fetch trust signals for buyer %s: %w", buyerID, err)
	}
	return out, nil
}

// get issues a GET with exponential backoff on transport errors and 5xx.
// 4xx responses are returned immediately.
func (c *Client) get(ctx context.Context, endpoint string, response any) error {
	fullURL := c.baseURL + endpoint

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(1<<(attempt-1))):
			}
		}

		retry, err := c.do(ctx, fullURL, response)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Str("url", fullURL).Msg("reputation request failed, retrying")
	}

	c.logger.Error().Err(lastErr).Str("url", fullURL).Int("max_retries", c.maxRetries).Msg("reputation request failed after all retries")
	return fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, fullURL string, response any) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return true, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxResponseBytes {
		return false, fmt.Errorf("response body exceeds %d bytes (status %d)", maxResponseBytes, resp.StatusCode)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(body, response); err != nil {
			return false, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("server error (status %d): %s", resp.StatusCode, string(body))
	default:
		return false, fmt.Errorf("client error (status %d): %s", resp.StatusCode, string(body))
	}
}
