package resilience

import (
	"errors"
	"sync"
	"time"
)

// RateLimitError marks a failure caused by a provider rate limit response.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

// IsRateLimit reports whether err wraps a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// CircuitBreaker holds off new connection attempts after repeated rate
// limit failures, so a reconnect loop does not hammer a 429ing endpoint.
type CircuitBreaker struct {
	mu        sync.Mutex
	strikes   int
	threshold int
	openUntil time.Time
	cooldown  time.Duration
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a new attempt may proceed.
func (c *CircuitBreaker) Allow() bool {
	return c.Remaining() <= 0
}

// Remaining returns how long the circuit stays open, zero when closed.
func (c *CircuitBreaker) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openUntil.IsZero() {
		return 0
	}
	return time.Until(c.openUntil)
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.strikes = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

// OnError counts rate-limit failures only; other errors are the retry and
// reconnect policies' problem.
func (c *CircuitBreaker) OnError(err error) {
	if !IsRateLimit(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strikes++
	if c.strikes >= c.threshold {
		c.openUntil = time.Now().Add(c.cooldown)
	}
}
