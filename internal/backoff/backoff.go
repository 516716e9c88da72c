// Package backoff decides when and how to retry a broken session.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Controller computes reconnection delays: exponential doubling from a base
// value up to a cap, with random jitter, over a bounded number of
// consecutive failures. Reset on a successful reconnect.
type Controller struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int

	mu      sync.Mutex
	attempt int
	rng     *rand.Rand
}

// jitterFraction is the share of each delay randomized away.
const jitterFraction = 0.25

// New creates a controller. maxAttempts <= 0 means retry forever.
func New(base, max time.Duration, maxAttempts int) *Controller {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}

	return &Controller{
		base:        base,
		max:         max,
		maxAttempts: maxAttempts,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay before the next reconnection attempt. ok is false
// once the attempt budget is exhausted; the session must then stop retrying
// and surface a fatal condition.
func (c *Controller) Next() (delay time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxAttempts > 0 && c.attempt >= c.maxAttempts {
		return 0, false
	}

	d := c.base << c.attempt
	if d > c.max || d <= 0 { // d <= 0 guards shift overflow
		d = c.max
	}
	c.attempt++

	// Jitter: keep (1-jitterFraction) of the delay, randomize the rest.
	jitter := time.Duration(c.rng.Int63n(int64(float64(d)*jitterFraction) + 1))
	return d - jitter, true
}

// Reset restores the base delay after a successful reconnect.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()
}

// Attempts returns the number of consecutive failed attempts so far.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}
