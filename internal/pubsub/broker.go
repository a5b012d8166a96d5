package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Broker is an in-process Transport. Every published envelope is kept as
// topic history and fanned out to matching subscriptions.
//
// Subscribers that fall behind lose envelopes rather than stall
// publishers; the loss is logged and the history still has them.
type Broker struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	history map[string][]Envelope
	closed  bool

	buffer int
	logger *slog.Logger
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBuffer sets the per-subscription channel size. Default: 256.
func WithBuffer(n int) BrokerOption {
	return func(b *Broker) {
		b.buffer = n
	}
}

// WithBrokerLogger sets the broker logger.
func WithBrokerLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) {
		b.logger = l
	}
}

// NewBroker returns an empty Broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		subs:    make(map[*Subscription]struct{}),
		history: make(map[string][]Envelope),
		buffer:  256,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscription on topics.
func (b *Broker) Subscribe(_ context.Context, topics ...string) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("subscribe: no topics")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := newSubscription(topics, b.buffer)
	sub.unsub = func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Publish records env in its topic's history and delivers it.
func (b *Broker) Publish(_ context.Context, env Envelope) error {
	if env.Topic == "" {
		return fmt.Errorf("publish: envelope has no topic")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.history[env.Topic] = append(b.history[env.Topic], env)
	var targets []*Subscription
	for sub := range b.subs {
		if sub.matches(env.Topic) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if !sub.offer(env) {
			b.logger.Warn("subscriber lagging, envelope not delivered", "topic", env.Topic)
		}
	}
	return nil
}

// History implements HistorySource.
func (b *Broker) History(_ context.Context, topic string, since time.Time) ([]Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return filterSince(b.history[topic], since), nil
}

// Close ends every subscription. Later calls return ErrClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

// filterSince returns the envelopes at or after since, in their original
// order. A zero since returns everything.
func filterSince(envs []Envelope, since time.Time) []Envelope {
	out := make([]Envelope, 0, len(envs))
	for _, env := range envs {
		if since.IsZero() || env.Timestamp >= since.UnixMilli() {
			out = append(out, env)
		}
	}
	return out
}
