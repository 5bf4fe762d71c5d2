package rpc

import (
	"sync"

	"golang.org/x/time/rate"
)

// clientLimiter caps request rates per client address.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func newClientLimiter(perMinute float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		visitors: make(map[string]*rate.Limiter),
	}
}

func (c *clientLimiter) allow(client string) bool {
	c.mu.Lock()
	limiter, ok := c.visitors[client]
	if !ok {
		limiter = rate.NewLimiter(c.limit, c.burst)
		c.visitors[client] = limiter
	}
	c.mu.Unlock()
	return limiter.Allow()
}
