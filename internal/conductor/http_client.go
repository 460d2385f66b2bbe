package conductor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/chorus-net/chorus-bridge/internal/circuitbreaker"
)

// HTTPClientConfig configures a single HTTP Conductor backend.
type HTTPClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	Breaker        circuitbreaker.Config
}

// DefaultHTTPClientConfig returns sensible defaults for a backend URL.
func DefaultHTTPClientConfig(baseURL string) HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL:        baseURL,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		RetryBackoff:   500 * time.Millisecond,
		Breaker:        circuitbreaker.DefaultConfig("conductor-http"),
	}
}

// HTTPClient talks to a Conductor backend over its REST surface.
type HTTPClient struct {
	baseURL      string
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
	breaker      *circuitbreaker.CircuitBreaker
	logger       *log.Logger
}

// NewHTTPClient creates an HTTP Conductor client with a circuit breaker.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = circuitbreaker.DefaultConfig("conductor-http")
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		breaker:      circuitbreaker.New(cfg.Breaker),
		logger:       log.New(log.Writer(), "[ConductorHTTP] ", log.LstdFlags),
	}
}

// BaseURL returns the backend base URL, used by the pool for logging.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

func (c *HTTPClient) SubmitEvent(ctx context.Context, event Event) (Receipt, error) {
	var receipt Receipt
	err := c.executeWithRetry(ctx, "submit_event", func(ctx context.Context) error {
		return c.postJSON(ctx, "/events", event, &receipt)
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func (c *HTTPClient) SubmitEventsBatch(ctx context.Context, events []Event) ([]Receipt, error) {
	body := struct {
		Events []Event `json:"events"`
	}{Events: events}
	var out struct {
		Receipts []Receipt `json:"receipts"`
	}
	err := c.executeWithRetry(ctx, "submit_events_batch", func(ctx context.Context) error {
		return c.postJSON(ctx, "/events/batch", body, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Receipts, nil
}

func (c *HTTPClient) GetDayProof(ctx context.Context, dayNumber int64) (*DayProof, error) {
	var proof *DayProof
	err := c.executeWithRetry(ctx, "get_day_proof", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/day-proof/%d", c.baseURL, dayNumber), nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			proof = nil
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return httpStatusError(resp)
		}
		proof = &DayProof{}
		return json.NewDecoder(resp.Body).Decode(proof)
	})
	if err != nil {
		return nil, err
	}
	return proof, nil
}

func (c *HTTPClient) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// postJSON issues a POST with a JSON body and decodes a JSON response.
func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpStatusError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// executeWithRetry gates the operation through the circuit breaker, then
// retries transient failures with exponential backoff. The whole attempt
// sequence is a single breaker observation: one OnSuccess or OnFailure.
func (c *HTTPClient) executeWithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := c.breaker.Allow(); err != nil {
		return fmt.Errorf("%w: %s rejected: %v", ErrBackendUnavailable, op, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.breaker.OnFailure()
				return ctx.Err()
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			c.breaker.OnSuccess()
			return nil
		}
		c.logger.Printf("⚠️  %s attempt %d/%d failed: %v", op, attempt+1, c.maxRetries, lastErr)
	}
	c.breaker.OnFailure()
	return fmt.Errorf("%w: %s failed after %d attempts: %v", ErrBackendUnavailable, op, c.maxRetries, lastErr)
}

func httpStatusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("conductor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}
