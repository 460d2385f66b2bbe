package conductor

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedClient decorates a Client with a bounded, expiring LRU cache over
// GetDayProof. Only canonical proofs are cached so a later canonical proof
// is never shadowed by a provisional one. Submissions pass straight through.
type CachedClient struct {
	inner  Client
	proofs *expirable.LRU[int64, DayProof]
}

// NewCachedClient wraps inner with an LRU day-proof cache. maxSize <= 0
// defaults to 128 entries, ttl <= 0 to one hour.
func NewCachedClient(inner Client, maxSize int, ttl time.Duration) *CachedClient {
	if maxSize <= 0 {
		maxSize = 128
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedClient{
		inner:  inner,
		proofs: expirable.NewLRU[int64, DayProof](maxSize, nil, ttl),
	}
}

func (c *CachedClient) SubmitEvent(ctx context.Context, event Event) (Receipt, error) {
	return c.inner.SubmitEvent(ctx, event)
}

func (c *CachedClient) SubmitEventsBatch(ctx context.Context, events []Event) ([]Receipt, error) {
	return c.inner.SubmitEventsBatch(ctx, events)
}

func (c *CachedClient) GetDayProof(ctx context.Context, dayNumber int64) (*DayProof, error) {
	if proof, ok := c.proofs.Get(dayNumber); ok {
		return &proof, nil
	}
	proof, err := c.inner.GetDayProof(ctx, dayNumber)
	if err != nil {
		return nil, err
	}
	if proof != nil && proof.Canonical {
		c.proofs.Add(dayNumber, *proof)
	}
	return proof, nil
}

func (c *CachedClient) HealthCheck(ctx context.Context) bool {
	return c.inner.HealthCheck(ctx)
}

func (c *CachedClient) Close() error {
	return c.inner.Close()
}

// Len returns the number of live cache entries.
func (c *CachedClient) Len() int {
	return c.proofs.Len()
}
