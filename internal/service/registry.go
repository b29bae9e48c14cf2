package service

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/tideway/internal/domain"
	"github.com/Strob0t/tideway/internal/domain/event"
)

// RegistryConfig sets the channel parameters applied to every subscription.
type RegistryConfig struct {
	QueueCapacity  int
	OverflowPolicy OverflowPolicy
	TailSize       int
}

// TopicInfo summarizes one live topic.
type TopicInfo struct {
	Topic           string `json:"topic"`
	ConnectionCount int    `json:"connectionCount"`
}

// Registry maps topics to their live subscriber channels. Each topic entry
// carries its own locks, so operations on different topics never contend;
// the registry-wide lock only guards the map itself.
type Registry struct {
	cfg RegistryConfig

	mu     sync.RWMutex
	topics map[string]*topicEntry
	closed bool

	active atomic.Int64
}

type topicEntry struct {
	name string

	// subMu guards subs and removed. Subscribe and unsubscribe take it;
	// fan-out never does.
	subMu   sync.Mutex
	subs    map[string]*Channel
	removed bool

	// targets is the copy-on-write fan-out snapshot. A stored slice is
	// never modified.
	targets atomic.Pointer[[]*Channel]

	// pubMu serializes fan-out so every subscriber of the topic observes
	// the same relative order.
	pubMu sync.Mutex
	tail  *tailRing
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = 1
	}
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = OverflowDropOldest
	}
	return &Registry{
		cfg:    cfg,
		topics: make(map[string]*topicEntry),
	}
}

// Subscribe creates a channel for subscriberID on topic and registers it.
// An existing channel with the same subscriber id on the same topic is
// replaced and closed.
func (r *Registry) Subscribe(topic, subscriberID string) (*Channel, error) {
	if err := event.ValidateTopic(topic); err != nil {
		return nil, err
	}
	if subscriberID == "" {
		return nil, fmt.Errorf("subscriber id is required: %w", domain.ErrValidation)
	}

	ch := NewChannel(topic, subscriberID, r.cfg.QueueCapacity, r.cfg.OverflowPolicy)

	for {
		entry, err := r.entry(topic)
		if err != nil {
			return nil, err
		}

		entry.subMu.Lock()
		if entry.removed {
			// Lost a race with the last unsubscribe; the map slot is
			// being cleared, so fetch a fresh entry.
			entry.subMu.Unlock()
			continue
		}
		replaced := entry.subs[subscriberID]
		entry.subs[subscriberID] = ch
		entry.publishTargets()
		entry.subMu.Unlock()

		if replaced != nil {
			replaced.Close()
			slog.Info("subscriber replaced", "topic", topic, "subscriber_id", subscriberID)
		} else {
			r.active.Add(1)
		}
		return ch, nil
	}
}

// Unsubscribe removes and closes the channel registered for subscriberID on
// topic. It is a no-op when none is registered.
func (r *Registry) Unsubscribe(topic, subscriberID string) {
	entry := r.lookup(topic)
	if entry == nil {
		return
	}
	r.remove(entry, subscriberID, nil)
}

// Release removes ch from its topic if it is still the registered channel
// for its subscriber id, then closes it. Connection handlers call this on
// exit so that a replaced connection never unregisters its successor.
func (r *Registry) Release(ch *Channel) {
	if entry := r.lookup(ch.Topic()); entry != nil {
		r.remove(entry, ch.ID(), ch)
	}
	ch.Close()
}

// FanoutTargets returns the current subscriber snapshot for topic. The
// returned slice must not be modified.
func (r *Registry) FanoutTargets(topic string) []*Channel {
	entry := r.lookup(topic)
	if entry == nil {
		return nil
	}
	return entry.snapshot()
}

// CloseAll closes every channel and refuses further subscriptions. Used on
// server shutdown so blocked send loops return.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	entries := r.topics
	r.topics = make(map[string]*topicEntry)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.subMu.Lock()
		entry.removed = true
		for id, ch := range entry.subs {
			ch.Close()
			delete(entry.subs, id)
			r.active.Add(-1)
		}
		entry.publishTargets()
		entry.subMu.Unlock()
	}
}

// ActiveSubscribers returns the number of registered channels.
func (r *Registry) ActiveSubscribers() int {
	return int(r.active.Load())
}

// TopicCount returns the number of topics with at least one subscriber.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// Topics lists live topics sorted by name.
func (r *Registry) Topics() []TopicInfo {
	entries := r.entries()
	out := make([]TopicInfo, 0, len(entries))
	for _, entry := range entries {
		n := len(entry.snapshot())
		if n == 0 {
			continue
		}
		out = append(out, TopicInfo{Topic: entry.name, ConnectionCount: n})
	}
	slices.SortFunc(out, func(a, b TopicInfo) int { return cmp.Compare(a.Topic, b.Topic) })
	return out
}

// Connections lists every registered channel sorted by connection id, then
// topic.
func (r *Registry) Connections() []ChannelStats {
	var out []ChannelStats
	for _, entry := range r.entries() {
		for _, ch := range entry.snapshot() {
			out = append(out, ch.Stats())
		}
	}
	slices.SortFunc(out, func(a, b ChannelStats) int {
		if c := cmp.Compare(a.ConnectionID, b.ConnectionID); c != 0 {
			return c
		}
		return cmp.Compare(a.Topic, b.Topic)
	})
	return out
}

// Tail returns up to limit of the most recent events published to topic
// while it had subscribers.
func (r *Registry) Tail(topic string, limit int) []TailEvent {
	entry := r.lookup(topic)
	if entry == nil || entry.tail == nil {
		return []TailEvent{}
	}
	return entry.tail.last(limit)
}

func (r *Registry) lookup(topic string) *topicEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topics[topic]
}

func (r *Registry) entries() []*topicEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*topicEntry, 0, len(r.topics))
	for _, entry := range r.topics {
		out = append(out, entry)
	}
	return out
}

// entry returns the live entry for topic, creating it on first use.
func (r *Registry) entry(topic string) (*topicEntry, error) {
	r.mu.RLock()
	entry, ok := r.topics[topic]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("registry closed: %w", domain.ErrConnectionClosed)
	}
	if ok {
		return entry, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("registry closed: %w", domain.ErrConnectionClosed)
	}
	if entry, ok := r.topics[topic]; ok {
		return entry, nil
	}
	entry = &topicEntry{
		name: topic,
		subs: make(map[string]*Channel),
		tail: newTailRing(r.cfg.TailSize),
	}
	entry.publishTargets()
	r.topics[topic] = entry
	return entry, nil
}

// remove deletes subscriberID from entry. When only is non-nil the removal
// happens only if the registered channel is only. Empty entries are dropped
// from the map together with their tail.
func (r *Registry) remove(entry *topicEntry, subscriberID string, only *Channel) {
	entry.subMu.Lock()
	ch, ok := entry.subs[subscriberID]
	if !ok || (only != nil && ch != only) {
		entry.subMu.Unlock()
		return
	}
	delete(entry.subs, subscriberID)
	entry.publishTargets()
	empty := len(entry.subs) == 0
	if empty {
		entry.removed = true
	}
	entry.subMu.Unlock()

	ch.Close()
	r.active.Add(-1)

	if empty {
		r.mu.Lock()
		if r.topics[entry.name] == entry {
			delete(r.topics, entry.name)
		}
		r.mu.Unlock()
	}
}

// publishTargets rebuilds the fan-out snapshot. Callers hold subMu.
func (e *topicEntry) publishTargets() {
	targets := make([]*Channel, 0, len(e.subs))
	for _, ch := range e.subs {
		targets = append(targets, ch)
	}
	e.targets.Store(&targets)
}

func (e *topicEntry) snapshot() []*Channel {
	if p := e.targets.Load(); p != nil {
		return *p
	}
	return nil
}
