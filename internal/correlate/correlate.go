// Package correlate matches outbound requests to their asynchronous
// responses by correlation id and enforces per-request deadlines.
package correlate

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/wire"
)

// Errors
var (
	// ErrTimeout fails a request that received no response within its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrConnectionLost fails every pending request when the session drops.
	ErrConnectionLost = errors.New("connection lost")
)

// Result resolves one tracked request: either the matching response frame or
// the error that failed it.
type Result struct {
	Frame wire.Frame
	Err   error
}

// pending is one in-flight request.
type pending struct {
	kind     int32 // Request payload type, for logging
	issuedAt time.Time
	deadline time.Time
	ch       chan Result
}

// Correlator tracks in-flight requests. A background timer sweeps entries
// past their deadline; late responses that match nothing are dropped.
type Correlator struct {
	logger *slog.Logger
	sweep  time.Duration

	mu      sync.Mutex
	pending map[string]*pending

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a correlator and starts its sweep timer.
func New(sweepInterval time.Duration, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}

	c := &Correlator{
		logger:  logger,
		sweep:   sweepInterval,
		pending: make(map[string]*pending),
		done:    make(chan struct{}),
	}

	go c.sweepLoop()

	return c
}

// Close stops the sweep timer and fails everything still pending.
func (c *Correlator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.FailAll(ErrConnectionLost)
}

// Track registers a new request and returns its correlation id together with
// the channel its result will arrive on. The channel receives exactly one
// Result.
func (c *Correlator) Track(kind int32, timeout time.Duration) (string, <-chan Result) {
	id := uuid.NewString()
	now := time.Now()

	p := &pending{
		kind:     kind,
		issuedAt: now,
		deadline: now.Add(timeout),
		ch:       make(chan Result, 1),
	}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	return id, p.ch
}

// Resolve delivers a response frame to the request it answers. Returns false
// when nothing matches (late or duplicated response); such frames are
// dropped without error.
func (c *Correlator) Resolve(id string, f wire.Frame) bool {
	p := c.take(id)
	if p == nil {
		c.logger.Debug("dropping unmatched response", "msg_id", id, "payload_type", f.PayloadType)
		return false
	}

	p.ch <- Result{Frame: f}
	return true
}

// Fail resolves one pending request with an error.
func (c *Correlator) Fail(id string, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}

	p.ch <- Result{Err: err}
	return true
}

// FailAll resolves every pending request with the given error. Called on
// session loss.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	taken := c.pending
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	for id, p := range taken {
		c.logger.Debug("failing pending request", "msg_id", id, "payload_type", p.kind, "error", err)
		p.ch <- Result{Err: err}
	}
}

// PendingCount returns the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns a pending entry, or nil.
func (c *Correlator) take(id string) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

// sweepLoop periodically fails requests past their deadline.
func (c *Correlator) sweepLoop() {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.sweepExpired(now)
		}
	}
}

func (c *Correlator) sweepExpired(now time.Time) {
	c.mu.Lock()
	var expired []*pending
	var ids []string
	for id, p := range c.pending {
		if now.After(p.deadline) {
			expired = append(expired, p)
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for i, p := range expired {
		c.logger.Warn("request deadline exceeded",
			"msg_id", ids[i],
			"payload_type", p.kind,
			"waited", now.Sub(p.issuedAt),
		)
		p.ch <- Result{Err: ErrTimeout}
	}
}
