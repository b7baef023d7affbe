package federate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"
)

// Subject layout used by the message-queue core. The coordinator service
// answers register and time requests; value subjects fan out between
// federates.
const (
	subjectRegister   = "distsim.federation.register"
	subjectResign     = "distsim.federation.resign"
	subjectTimePrefix = "distsim.federation.time."
	subjectValPrefix  = "distsim.federation.values."
)

const registerTimeout = 10 * time.Second

// NATSCore is the message-queue-based co-simulation core transport. Time
// grants are request/reply against the coordinator; values are plain
// publish/subscribe per topic. The latest value per subscribed topic is
// retained, so Collect is a snapshot rather than a queue drain.
type NATSCore struct {
	nc   *nats.Conn
	name string

	mu       sync.Mutex
	inbound  map[string]float64
	subs     []*nats.Subscription
	resigned bool
}

type registerRequest struct {
	Registration
}

type registerReply struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type timeRequest struct {
	Name      string  `json:"name"`
	Requested float64 `json:"requested"`
}

type timeReply struct {
	Granted float64 `json:"granted"`
}

type valueMessage struct {
	Topic string  `json:"topic"`
	Value float64 `json:"value"`
	From  string  `json:"from"`
}

// NewNATSCore connects to the broker. The URL is built by the caller from
// the helics broker address and port settings.
func NewNATSCore(url string) (*NATSCore, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", url, err)
	}
	return &NATSCore{
		nc:      nc,
		inbound: make(map[string]float64),
	}, nil
}

// Register implements Core.
func (c *NATSCore) Register(ctx context.Context, reg Registration) error {
	c.name = reg.Name

	payload, err := json.Marshal(registerRequest{Registration: reg})
	if err != nil {
		return err
	}
	regCtx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()
	msg, err := c.nc.RequestWithContext(regCtx, subjectRegister, payload)
	if err != nil {
		return fmt.Errorf("registration request: %w", err)
	}
	var reply registerReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("malformed registration reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("registration rejected: %s", reply.Reason)
	}

	for _, topic := range reg.Subscriptions {
		topic := topic
		sub, err := c.nc.Subscribe(subjectValPrefix+topic, func(m *nats.Msg) {
			var vm valueMessage
			if err := json.Unmarshal(m.Data, &vm); err != nil {
				return
			}
			if vm.From == c.name {
				return // own publication echoed back
			}
			c.mu.Lock()
			c.inbound[topic] = vm.Value
			c.mu.Unlock()
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		c.subs = append(c.subs, sub)
	}
	return c.nc.Flush()
}

// RequestTime implements Core. The blocking wait happens inside the NATS
// request; the context carries the caller's wait ceiling.
func (c *NATSCore) RequestTime(ctx context.Context, requested float64) (float64, error) {
	payload, err := json.Marshal(timeRequest{Name: c.name, Requested: requested})
	if err != nil {
		return 0, err
	}
	msg, err := c.nc.RequestWithContext(ctx, subjectTimePrefix+c.name, payload)
	if err != nil {
		return 0, fmt.Errorf("time grant request: %w", err)
	}
	var reply timeReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return 0, fmt.Errorf("malformed grant reply: %w", err)
	}
	return reply.Granted, nil
}

// Publish implements Core.
func (c *NATSCore) Publish(_ context.Context, values map[string]float64) error {
	for topic, value := range values {
		payload, err := json.Marshal(valueMessage{Topic: topic, Value: value, From: c.name})
		if err != nil {
			return err
		}
		if err := c.nc.Publish(subjectValPrefix+topic, payload); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return c.nc.Flush()
}

// Collect implements Core: a snapshot of the latest value per subscribed
// topic.
func (c *NATSCore) Collect(context.Context, float64) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.inbound))
	for topic, v := range c.inbound {
		out[topic] = v
	}
	return out, nil
}

// Finalize implements Core: announces resignation and closes the
// connection. Safe to call more than once and after transport failure.
func (c *NATSCore) Finalize() error {
	c.mu.Lock()
	if c.resigned {
		c.mu.Unlock()
		return nil
	}
	c.resigned = true
	c.mu.Unlock()

	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	if c.nc.IsConnected() {
		if payload, err := json.Marshal(map[string]string{"name": c.name}); err == nil {
			_ = c.nc.Publish(subjectResign, payload)
		}
		_ = c.nc.Flush()
	}
	c.nc.Close()
	return nil
}
