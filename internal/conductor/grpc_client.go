package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/chorus-net/chorus-bridge/internal/circuitbreaker"
)

// The Conductor gRPC surface carries JSON-encoded messages; registering a
// JSON codec lets the client invoke methods without generated stubs.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const conductorService = "/chorus.conductor.v1.ConductorService/"

// GRPCClientConfig configures a single gRPC Conductor backend.
type GRPCClientConfig struct {
	Target         string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	Breaker        circuitbreaker.Config
}

// DefaultGRPCClientConfig returns sensible defaults for a backend target.
func DefaultGRPCClientConfig(target string) GRPCClientConfig {
	return GRPCClientConfig{
		Target:         target,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		RetryBackoff:   500 * time.Millisecond,
		Breaker:        circuitbreaker.DefaultConfig("conductor-grpc"),
	}
}

// GRPCClient talks to a Conductor backend over gRPC.
type GRPCClient struct {
	target         string
	conn           *grpc.ClientConn
	requestTimeout time.Duration
	maxRetries     int
	retryBackoff   time.Duration
	breaker        *circuitbreaker.CircuitBreaker
	logger         *log.Logger
}

// NewGRPCClient dials a Conductor gRPC backend. The connection is lazy;
// dial errors surface on first use.
func NewGRPCClient(cfg GRPCClientConfig) (*GRPCClient, error) {
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
		cfg.Breaker = circuitbreaker.DefaultConfig("conductor-grpc")
	}
	conn, err := grpc.NewClient(cfg.Target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial conductor %s: %w", cfg.Target, err)
	}
	return &GRPCClient{
		target:         cfg.Target,
		conn:           conn,
		requestTimeout: cfg.RequestTimeout,
		maxRetries:     cfg.MaxRetries,
		retryBackoff:   cfg.RetryBackoff,
		breaker:        circuitbreaker.New(cfg.Breaker),
		logger:         log.New(log.Writer(), "[ConductorGRPC] ", log.LstdFlags),
	}, nil
}

// Target returns the backend address.
func (c *GRPCClient) Target() string {
	return c.target
}

func (c *GRPCClient) SubmitEvent(ctx context.Context, event Event) (Receipt, error) {
	var receipt Receipt
	err := c.executeWithRetry(ctx, "SubmitEvent", func(ctx context.Context) error {
		return c.invoke(ctx, "SubmitEvent", event, &receipt)
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func (c *GRPCClient) SubmitEventsBatch(ctx context.Context, events []Event) ([]Receipt, error) {
	req := struct {
		Events []Event `json:"events"`
	}{Events: events}
	var resp struct {
		Receipts []Receipt `json:"receipts"`
	}
	err := c.executeWithRetry(ctx, "SubmitEventsBatch", func(ctx context.Context) error {
		return c.invoke(ctx, "SubmitEventsBatch", req, &resp)
	})
	if err != nil {
		return nil, err
	}
	return resp.Receipts, nil
}

func (c *GRPCClient) GetDayProof(ctx context.Context, dayNumber int64) (*DayProof, error) {
	req := struct {
		DayNumber int64 `json:"day_number"`
	}{DayNumber: dayNumber}
	var resp struct {
		Found bool      `json:"found"`
		Proof *DayProof `json:"proof,omitempty"`
	}
	err := c.executeWithRetry(ctx, "GetDayProof", func(ctx context.Context) error {
		return c.invoke(ctx, "GetDayProof", req, &resp)
	})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return resp.Proof, nil
}

func (c *GRPCClient) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.invoke(ctx, "HealthCheck", struct{}{}, &resp); err != nil {
		return false
	}
	return resp.Status == "ok"
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, conductorService+method, req, resp)
}

// executeWithRetry mirrors the HTTP client: one breaker observation per
// operation, exponential backoff between attempts.
func (c *GRPCClient) executeWithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
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
		attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		lastErr = fn(attemptCtx)
		cancel()
		if lastErr == nil {
			c.breaker.OnSuccess()
			return nil
		}
		c.logger.Printf("⚠️  %s attempt %d/%d failed: %v", op, attempt+1, c.maxRetries, lastErr)
	}
	c.breaker.OnFailure()
	return fmt.Errorf("%w: %s failed after %d attempts: %v", ErrBackendUnavailable, op, c.maxRetries, lastErr)
}
