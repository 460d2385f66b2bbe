package conductor

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

// PoolConfig configures the backend pool.
type PoolConfig struct {
	// HealthInterval is the background health probe period.
	HealthInterval time.Duration

	// RetryBackoff is the base pause before failing over to the next
	// healthy backend; it doubles per failover attempt.
	RetryBackoff time.Duration

	// MaxRetries caps failover attempts per request. Zero or negative
	// means one attempt per member.
	MaxRetries int

	// OnHealthChange, when set, is called with the healthy member count
	// whenever it changes.
	OnHealthChange func(healthy int)
}

// DefaultPoolConfig returns the standard pool settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		HealthInterval: 30 * time.Second,
		RetryBackoff:   200 * time.Millisecond,
	}
}

// Pool fans requests across multiple Conductor backends. Each request is
// routed to the next healthy member round-robin; a failed call marks the
// member unhealthy and fails over to another until the healthy set is
// exhausted. A background loop re-probes members so recovered backends
// rejoin rotation.
type Pool struct {
	cfg     PoolConfig
	members []Client
	logger  *log.Logger

	mu      sync.Mutex
	healthy []bool
	next    int

	stop chan struct{}
	done chan struct{}
}

// NewPool builds a pool over the given backends. All members start healthy;
// the first probe cycle corrects optimism.
func NewPool(members []Client, cfg PoolConfig) (*Pool, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("conductor pool requires at least one backend")
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	p := &Pool{
		cfg:     cfg,
		members: members,
		healthy: make([]bool, len(members)),
		logger:  log.New(log.Writer(), "[ConductorPool] ", log.LstdFlags),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := range p.healthy {
		p.healthy[i] = true
	}
	go p.healthLoop()
	return p, nil
}

func (p *Pool) SubmitEvent(ctx context.Context, event Event) (Receipt, error) {
	var receipt Receipt
	err := p.execute(ctx, func(ctx context.Context, member Client) error {
		var err error
		receipt, err = member.SubmitEvent(ctx, event)
		return err
	})
	return receipt, err
}

func (p *Pool) SubmitEventsBatch(ctx context.Context, events []Event) ([]Receipt, error) {
	var receipts []Receipt
	err := p.execute(ctx, func(ctx context.Context, member Client) error {
		var err error
		receipts, err = member.SubmitEventsBatch(ctx, events)
		return err
	})
	return receipts, err
}

func (p *Pool) GetDayProof(ctx context.Context, dayNumber int64) (*DayProof, error) {
	var proof *DayProof
	err := p.execute(ctx, func(ctx context.Context, member Client) error {
		var err error
		proof, err = member.GetDayProof(ctx, dayNumber)
		return err
	})
	return proof, err
}

// HealthCheck reports whether any member is currently healthy.
func (p *Pool) HealthCheck(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ok := range p.healthy {
		if ok {
			return true
		}
	}
	return false
}

// Close stops the health loop and closes every member.
func (p *Pool) Close() error {
	close(p.stop)
	<-p.done
	var firstErr error
	for _, member := range p.members {
		if err := member.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HealthyCount returns how many members are currently in rotation.
func (p *Pool) HealthyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthyCountLocked()
}

// execute runs fn against healthy members until one succeeds or the attempt
// cap is reached. Each failover marks the failing member unhealthy and waits
// an exponentially growing backoff before the next candidate.
func (p *Pool) execute(ctx context.Context, fn func(ctx context.Context, member Client) error) error {
	maxAttempts := p.cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = len(p.members)
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		idx, member, ok := p.pick()
		if !ok {
			if lastErr != nil {
				return fmt.Errorf("%w: last error: %v", ErrNoHealthyBackend, lastErr)
			}
			return ErrNoHealthyBackend
		}
		if attempt > 0 {
			backoff := p.cfg.RetryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = fn(ctx, member)
		if lastErr == nil {
			return nil
		}
		p.markUnhealthy(idx)
		p.logger.Printf("⚠️  backend %d failed, failing over: %v", idx, lastErr)
	}
	return fmt.Errorf("%w: last error: %v", ErrNoHealthyBackend, lastErr)
}

// pick returns the next healthy member round-robin.
func (p *Pool) pick() (int, Client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < len(p.members); i++ {
		idx := (p.next + i) % len(p.members)
		if p.healthy[idx] {
			p.next = (idx + 1) % len(p.members)
			return idx, p.members[idx], true
		}
	}
	return 0, nil, false
}

func (p *Pool) markUnhealthy(idx int) {
	p.mu.Lock()
	changed := p.healthy[idx]
	p.healthy[idx] = false
	count := p.healthyCountLocked()
	p.mu.Unlock()
	if changed && p.cfg.OnHealthChange != nil {
		p.cfg.OnHealthChange(count)
	}
}

// healthyCountLocked counts members in rotation. Callers must hold p.mu.
func (p *Pool) healthyCountLocked() int {
	n := 0
	for _, ok := range p.healthy {
		if ok {
			n++
		}
	}
	return n
}

// healthLoop re-probes every member each interval, with a small jitter so
// multiple bridge replicas don't probe in lockstep.
func (p *Pool) healthLoop() {
	defer close(p.done)
	for {
		jitter := time.Duration(rand.Int63n(int64(p.cfg.HealthInterval) / 10))
		select {
		case <-p.stop:
			return
		case <-time.After(p.cfg.HealthInterval + jitter):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		changed := false
		for i, member := range p.members {
			alive := member.HealthCheck(ctx)
			p.mu.Lock()
			was := p.healthy[i]
			p.healthy[i] = alive
			p.mu.Unlock()
			if alive && !was {
				changed = true
				p.logger.Printf("✅ backend %d recovered, rejoining rotation", i)
			} else if !alive && was {
				changed = true
				p.logger.Printf("⚠️  backend %d failed health probe", i)
			}
		}
		cancel()
		if changed && p.cfg.OnHealthChange != nil {
			p.mu.Lock()
			count := p.healthyCountLocked()
			p.mu.Unlock()
			p.cfg.OnHealthChange(count)
		}
	}
}
