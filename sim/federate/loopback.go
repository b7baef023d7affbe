package federate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LoopbackCore is an in-process core: grants are immediate, published
// values are retained per topic, and Collect returns whatever a test (or a
// co-located peer model) seeded. It backs the `loopback` core type and the
// federation tests.
type LoopbackCore struct {
	mu         sync.Mutex
	registered map[string]bool
	published  map[string]float64
	inbound    map[string]float64
	finalized  bool

	// GrantFunc overrides the default grant (= requested). Tests use it to
	// model lagging or misbehaving coordinators.
	GrantFunc func(requested float64) (float64, error)
	// GrantDelay holds every grant for the given duration, honoring the
	// caller's context. Tests use it to model a stalled federation.
	GrantDelay time.Duration
	// RejectRegistration simulates a coordinator refusing the federate.
	RejectRegistration string
	// OnPublish observes every publish, e.g. to drive a scripted peer.
	OnPublish func(values map[string]float64)
}

// NewLoopbackCore returns an empty loopback core.
func NewLoopbackCore() *LoopbackCore {
	return &LoopbackCore{
		registered: make(map[string]bool),
		published:  make(map[string]float64),
		inbound:    make(map[string]float64),
	}
}

// SeedInbound sets the value the next Collect returns for a topic.
func (c *LoopbackCore) SeedInbound(topic string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound[topic] = value
}

// Published returns the last published value for a topic.
func (c *LoopbackCore) Published(topic string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.published[topic]
	return v, ok
}

// Finalized reports whether Finalize has run.
func (c *LoopbackCore) Finalized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized
}

// Register implements Core.
func (c *LoopbackCore) Register(_ context.Context, reg Registration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RejectRegistration != "" {
		return fmt.Errorf("registration rejected: %s", c.RejectRegistration)
	}
	if c.registered[reg.Name] {
		return fmt.Errorf("registration rejected: duplicate federate name %q", reg.Name)
	}
	c.registered[reg.Name] = true
	return nil
}

// RequestTime implements Core. Without a GrantFunc the grant equals the
// request; the context is still honored so timeout tests work.
func (c *LoopbackCore) RequestTime(ctx context.Context, requested float64) (float64, error) {
	if c.GrantDelay > 0 {
		select {
		case <-time.After(c.GrantDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if c.GrantFunc != nil {
		return c.GrantFunc(requested)
	}
	return requested, nil
}

// Publish implements Core.
func (c *LoopbackCore) Publish(_ context.Context, values map[string]float64) error {
	c.mu.Lock()
	for topic, v := range values {
		c.published[topic] = v
	}
	observe := c.OnPublish
	c.mu.Unlock()
	if observe != nil {
		observe(values)
	}
	return nil
}

// Collect implements Core.
func (c *LoopbackCore) Collect(context.Context, float64) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.inbound))
	for topic, v := range c.inbound {
		out[topic] = v
	}
	return out, nil
}

// Finalize implements Core.
func (c *LoopbackCore) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = true
	return nil
}
