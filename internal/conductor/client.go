// Package conductor provides the polymorphic client layer for the Conductor
// ordering backend: HTTP, gRPC and in-memory transports behind one
// interface, composed with caching and pooling decorators.
package conductor

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"

	"lukechampine.com/blake3"
)

// Event is a single submission to Conductor. Epoch is always the inner
// message's day field, never wall-clock time.
type Event struct {
	EventType string            `json:"event_type"`
	Epoch     int64             `json:"epoch"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Receipt acknowledges an accepted event.
type Receipt struct {
	EventType string `json:"event_type"`
	Epoch     int64  `json:"epoch"`
	EventHash string `json:"event_hash"`
}

// DayProof is the canonical per-day artifact served by Conductor.
type DayProof struct {
	DayNumber int64  `json:"day_number"`
	Proof     string `json:"proof"`
	ProofHash string `json:"proof_hash"`
	Canonical bool   `json:"canonical"`
}

// Client is the polymorphic Conductor interface. GetDayProof returns
// (nil, nil) when the proof does not exist yet.
type Client interface {
	SubmitEvent(ctx context.Context, event Event) (Receipt, error)
	SubmitEventsBatch(ctx context.Context, events []Event) ([]Receipt, error)
	GetDayProof(ctx context.Context, dayNumber int64) (*DayProof, error)
	HealthCheck(ctx context.Context) bool
	Close() error
}

var (
	// ErrNoHealthyBackend is returned by the pool when every member is
	// marked unhealthy.
	ErrNoHealthyBackend = errors.New("no healthy conductor backend available")

	// ErrBackendUnavailable wraps transport failures after retries and
	// circuit-breaker rejections; the edge maps it to 503.
	ErrBackendUnavailable = errors.New("conductor backend unavailable")
)

// ============================================================================
// IN-MEMORY CLIENT
// ============================================================================

// InMemoryClient is a lightweight Conductor implementation for development
// and tests. It records submitted events and serves stored day proofs.
type InMemoryClient struct {
	mu        sync.Mutex
	events    []Event
	dayProofs map[int64]DayProof
	closed    bool
}

// NewInMemoryClient creates an empty in-memory Conductor.
func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{dayProofs: make(map[int64]DayProof)}
}

func (c *InMemoryClient) SubmitEvent(ctx context.Context, event Event) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	sum := blake3.Sum256(event.Payload)
	return Receipt{
		EventType: event.EventType,
		Epoch:     event.Epoch,
		EventHash: hex.EncodeToString(sum[:]),
	}, nil
}

func (c *InMemoryClient) SubmitEventsBatch(ctx context.Context, events []Event) ([]Receipt, error) {
	receipts := make([]Receipt, 0, len(events))
	for _, event := range events {
		receipt, err := c.SubmitEvent(ctx, event)
		if err != nil {
			return receipts, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

func (c *InMemoryClient) GetDayProof(ctx context.Context, dayNumber int64) (*DayProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	proof, ok := c.dayProofs[dayNumber]
	if !ok {
		return nil, nil
	}
	return &proof, nil
}

func (c *InMemoryClient) HealthCheck(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *InMemoryClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// PutDayProof seeds a proof, for tests and the memory conductor mode.
func (c *InMemoryClient) PutDayProof(proof DayProof) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dayProofs[proof.DayNumber] = proof
}

// Events returns a copy of everything submitted so far.
func (c *InMemoryClient) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
