package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Strob0t/tideway/internal/domain"
	"github.com/Strob0t/tideway/internal/domain/event"
)

// OverflowPolicy decides what a full subscriber queue does with a new envelope.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest queued envelope to make room.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	// OverflowReject refuses the envelope and drains the channel so its
	// connection is closed with an error.
	OverflowReject OverflowPolicy = "reject"
)

// ParseOverflowPolicy converts a config value to an OverflowPolicy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case OverflowDropOldest, OverflowReject:
		return OverflowPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q: %w", s, domain.ErrValidation)
	}
}

// ChannelState is the connection state of a subscriber channel.
type ChannelState int

const (
	StateOpen ChannelState = iota
	StateDraining
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelStats is a point-in-time view of one subscriber channel.
type ChannelStats struct {
	ConnectionID string    `json:"connectionId"`
	Topic        string    `json:"topic"`
	State        string    `json:"state"`
	Queued       int       `json:"queued"`
	Capacity     int       `json:"capacity"`
	Delivered    uint64    `json:"delivered"`
	Dropped      uint64    `json:"dropped"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// Channel is the bounded FIFO between the broker and one subscriber
// connection. Only the broker enqueues and only the connection's send loop
// dequeues.
type Channel struct {
	id          string
	topic       string
	capacity    int
	policy      OverflowPolicy
	connectedAt time.Time

	mu        sync.Mutex
	queue     []event.Envelope // ring buffer of len capacity
	head      int
	size      int
	state     ChannelState
	delivered uint64
	dropped   uint64

	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewChannel creates an open channel. A capacity below 1 is raised to 1.
func NewChannel(topic, subscriberID string, capacity int, policy OverflowPolicy) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	if policy == "" {
		policy = OverflowDropOldest
	}
	return &Channel{
		id:          subscriberID,
		topic:       topic,
		capacity:    capacity,
		policy:      policy,
		connectedAt: time.Now().UTC(),
		queue:       make([]event.Envelope, capacity),
		ready:       make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

// ID returns the subscriber id.
func (c *Channel) ID() string { return c.id }

// Topic returns the subscribed topic.
func (c *Channel) Topic() string { return c.topic }

// Done is closed once the channel reaches StateClosed.
func (c *Channel) Done() <-chan struct{} { return c.closed }

// State returns the current connection state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Enqueue appends env. evicted reports whether an older envelope was dropped
// under OverflowDropOldest. Under OverflowReject a full queue returns
// ErrSubscriberOverflow and moves the channel to StateDraining.
func (c *Channel) Enqueue(env event.Envelope) (evicted bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return false, domain.ErrConnectionClosed
	case StateDraining:
		c.dropped++
		return false, fmt.Errorf("subscriber %s draining: %w", c.id, domain.ErrSubscriberOverflow)
	}

	if c.size == c.capacity {
		if c.policy == OverflowReject {
			c.dropped++
			c.state = StateDraining
			c.signal()
			return false, fmt.Errorf("subscriber %s queue full (%d): %w", c.id, c.capacity, domain.ErrSubscriberOverflow)
		}
		c.queue[c.head] = event.Envelope{}
		c.head = (c.head + 1) % c.capacity
		c.size--
		c.dropped++
		evicted = true
	}

	c.queue[(c.head+c.size)%c.capacity] = env
	c.size++
	c.signal()
	return evicted, nil
}

// Dequeue blocks until an envelope is available and returns it in FIFO
// order. It returns ErrConnectionClosed once the channel is closed,
// ErrSubscriberOverflow once a draining channel has handed out everything
// it accepted, or the context error.
func (c *Channel) Dequeue(ctx context.Context) (event.Envelope, error) {
	for {
		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			return event.Envelope{}, domain.ErrConnectionClosed
		}
		if c.state == StateDraining && c.size == 0 {
			c.mu.Unlock()
			return event.Envelope{}, fmt.Errorf("subscriber %s: %w", c.id, domain.ErrSubscriberOverflow)
		}
		if c.size > 0 {
			env := c.queue[c.head]
			c.queue[c.head] = event.Envelope{}
			c.head = (c.head + 1) % c.capacity
			c.size--
			c.delivered++
			c.mu.Unlock()
			return env, nil
		}
		c.mu.Unlock()

		select {
		case <-c.ready:
		case <-c.closed:
		case <-ctx.Done():
			return event.Envelope{}, ctx.Err()
		}
	}
}

// Close moves the channel to StateClosed, releases the queue and wakes a
// pending Dequeue. It is safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	c.state = StateClosed
	c.queue = nil
	c.head, c.size = 0, 0
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.closed) })
}

// Stats returns counters and queue depth.
func (c *Channel) Stats() ChannelStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChannelStats{
		ConnectionID: c.id,
		Topic:        c.topic,
		State:        c.state.String(),
		Queued:       c.size,
		Capacity:     c.capacity,
		Delivered:    c.delivered,
		Dropped:      c.dropped,
		ConnectedAt:  c.connectedAt,
	}
}

// signal wakes the send loop without blocking. Callers hold c.mu.
func (c *Channel) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}
