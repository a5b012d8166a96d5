package pubsub

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a closed Broker or RelayClient.
var ErrClosed = errors.New("pubsub: closed")

// Transport is the boundary the Syncer talks to. Implemented by Broker
// (in-process) and RelayClient (WebSocket).
type Transport interface {
	HistorySource
	Subscribe(ctx context.Context, topics ...string) (*Subscription, error)
	Publish(ctx context.Context, env Envelope) error
}

// HistorySource returns the envelopes stored for a topic with a timestamp
// at or after since. Implemented by Broker, RelayClient and FileHistory.
type HistorySource interface {
	History(ctx context.Context, topic string, since time.Time) ([]Envelope, error)
}

// Subscription delivers envelopes published on its topics until closed.
// C is closed when the subscription ends.
type Subscription struct {
	C <-chan Envelope

	ch     chan Envelope
	topics []string
	unsub  func()

	mu     sync.Mutex
	closed bool
}

func newSubscription(topics []string, buffer int) *Subscription {
	ch := make(chan Envelope, buffer)
	return &Subscription{C: ch, ch: ch, topics: slices.Clone(topics)}
}

// Topics returns the subscribed topics.
func (s *Subscription) Topics() []string {
	return slices.Clone(s.topics)
}

func (s *Subscription) matches(topic string) bool {
	return slices.Contains(s.topics, topic)
}

// offer delivers env without blocking. It reports false if the buffer is
// full or the subscription is closed.
func (s *Subscription) offer(env Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- env:
		return true
	default:
		return false
	}
}

// Close ends the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	unsub := s.unsub
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
