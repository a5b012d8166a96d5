package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Relay wire protocol. Every frame is one JSON text message. Requests carry
// an id that the relay echoes in its result or error frame; message frames
// are pushed for subscribed topics and carry no id.
const (
	opSubscribe = "subscribe"
	opPublish   = "publish"
	opHistory   = "history"
	opMessage   = "message"
	opResult    = "result"
	opError     = "error"
)

type frame struct {
	Op        string     `json:"op"`
	ID        uint64     `json:"id,omitempty"`
	Topics    []string   `json:"topics,omitempty"`
	Topic     string     `json:"topic,omitempty"`
	Since     int64      `json:"since,omitempty"`
	Envelope  *Envelope  `json:"envelope,omitempty"`
	Envelopes []Envelope `json:"envelopes,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type relayConfig struct {
	rps          rate.Limit
	burst        int
	buffer       int
	writeTimeout time.Duration
	logger       *slog.Logger
}

func newRelayConfig(opts []RelayOption) relayConfig {
	cfg := relayConfig{
		rps:          5,
		burst:        10,
		buffer:       256,
		writeTimeout: 10 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RelayOption configures a RelayClient or RelayHandler.
type RelayOption func(*relayConfig)

// WithPublishRate limits publishes per connection. rps <= 0 disables the
// limit. Default: 5 per second, burst 10.
func WithPublishRate(rps float64, burst int) RelayOption {
	return func(c *relayConfig) {
		if rps <= 0 {
			c.rps = rate.Inf
		} else {
			c.rps = rate.Limit(rps)
		}
		if burst > 0 {
			c.burst = burst
		}
	}
}

// WithWriteTimeout bounds each frame write. Default: 10s.
func WithWriteTimeout(d time.Duration) RelayOption {
	return func(c *relayConfig) {
		c.writeTimeout = d
	}
}

// WithRelayLogger sets the logger.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(c *relayConfig) {
		c.logger = l
	}
}

// RelayClient is a Transport over one WebSocket connection to a relay.
// Publishes wait on a local rate limiter before they are sent.
type RelayClient struct {
	conn    *websocket.Conn
	cfg     relayConfig
	limiter *rate.Limiter

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan frame
	subs    map[*Subscription]struct{}
	closed  bool
	err     error

	done chan struct{}
}

// DialRelay connects to the relay at url (ws:// or wss://).
func DialRelay(ctx context.Context, url string, opts ...RelayOption) (*RelayClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	cfg := newRelayConfig(opts)
	c := &RelayClient{
		conn:    conn,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.rps, cfg.burst),
		pending: make(map[uint64]chan frame),
		subs:    make(map[*Subscription]struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done is closed when the connection ends.
func (c *RelayClient) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open or after
// a clean Close.
func (c *RelayClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *RelayClient) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	return c.conn.WriteJSON(f)
}

// call sends a request frame and waits for the matching result.
func (c *RelayClient) call(ctx context.Context, f frame) (frame, error) {
	reply := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, ErrClosed
	}
	c.nextID++
	f.ID = c.nextID
	c.pending[f.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return frame{}, fmt.Errorf("relay %s: %w", f.Op, err)
	}

	select {
	case r := <-reply:
		if r.Op == opError {
			return frame{}, fmt.Errorf("relay %s: %s", f.Op, r.Error)
		}
		return r, nil
	case <-c.done:
		return frame{}, ErrClosed
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
}

func (c *RelayClient) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.shutdown(err)
			return
		}
		switch f.Op {
		case opMessage:
			if f.Envelope != nil {
				c.dispatch(*f.Envelope)
			}
		case opResult, opError:
			c.mu.Lock()
			reply, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				reply <- f
			}
		default:
			c.cfg.logger.Debug("relay frame ignored", "op", f.Op)
		}
	}
}

func (c *RelayClient) dispatch(env Envelope) {
	c.mu.Lock()
	var targets []*Subscription
	for sub := range c.subs {
		if sub.matches(env.Topic) {
			targets = append(targets, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range targets {
		if !sub.offer(env) {
			c.cfg.logger.Warn("subscriber lagging, envelope not delivered", "topic", env.Topic)
		}
	}
}

// shutdown ends every subscription and fails pending calls.
func (c *RelayClient) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
		c.err = err
	}
	subs := make([]*Subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	close(c.done)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// Subscribe asks the relay for topics and returns a local subscription.
func (c *RelayClient) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("subscribe: no topics")
	}
	if _, err := c.call(ctx, frame{Op: opSubscribe, Topics: topics}); err != nil {
		return nil, err
	}

	sub := newSubscription(topics, c.cfg.buffer)
	sub.unsub = func() {
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.subs[sub] = struct{}{}
	return sub, nil
}

// Publish sends env once the rate limiter allows it.
func (c *RelayClient) Publish(ctx context.Context, env Envelope) error {
	if env.Topic == "" {
		return fmt.Errorf("publish: envelope has no topic")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.call(ctx, frame{Op: opPublish, Envelope: &env})
	return err
}

// History implements HistorySource.
func (c *RelayClient) History(ctx context.Context, topic string, since time.Time) ([]Envelope, error) {
	f := frame{Op: opHistory, Topic: topic}
	if !since.IsZero() {
		f.Since = since.UnixMilli()
	}
	r, err := c.call(ctx, f)
	if err != nil {
		return nil, err
	}
	return r.Envelopes, nil
}

// Close sends a close frame and tears the connection down.
func (c *RelayClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	c.shutdown(nil)
	return err
}

// RelayHandler serves the relay protocol over WebSocket, bridging every
// peer to a Broker. Each peer has its own publish limiter; publishes over
// the limit are answered with an error frame.
type RelayHandler struct {
	broker   *Broker
	cfg      relayConfig
	upgrader websocket.Upgrader
}

// NewRelayHandler returns a handler over b.
func NewRelayHandler(b *Broker, opts ...RelayOption) *RelayHandler {
	return &RelayHandler{
		broker: b,
		cfg:    newRelayConfig(opts),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (h *RelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.cfg.logger.Warn("relay upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	p := &peer{
		conn:    conn,
		handler: h,
		limiter: rate.NewLimiter(h.cfg.rps, h.cfg.burst),
	}
	p.serve(r.Context())
}

type peer struct {
	conn    *websocket.Conn
	handler *RelayHandler
	limiter *rate.Limiter

	writeMu sync.Mutex
	topics  []string
	sub     *Subscription
}

func (p *peer) write(f frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.handler.cfg.writeTimeout))
	return p.conn.WriteJSON(f)
}

func (p *peer) serve(ctx context.Context) {
	logger := p.handler.cfg.logger
	defer func() {
		if p.sub != nil {
			p.sub.Close()
		}
		p.conn.Close()
	}()

	for {
		var f frame
		if err := p.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("relay peer disconnected", "error", err)
			}
			return
		}
		reply := p.handle(ctx, f)
		reply.ID = f.ID
		if err := p.write(reply); err != nil {
			logger.Debug("relay write failed", "error", err)
			return
		}
	}
}

func (p *peer) handle(ctx context.Context, f frame) frame {
	fail := func(err error) frame {
		return frame{Op: opError, Error: err.Error()}
	}

	switch f.Op {
	case opSubscribe:
		if err := p.subscribe(ctx, f.Topics); err != nil {
			return fail(err)
		}
		return frame{Op: opResult}

	case opPublish:
		if f.Envelope == nil {
			return fail(fmt.Errorf("publish without envelope"))
		}
		if !p.limiter.Allow() {
			return fail(fmt.Errorf("rate limited"))
		}
		if err := p.handler.broker.Publish(ctx, *f.Envelope); err != nil {
			return fail(err)
		}
		return frame{Op: opResult}

	case opHistory:
		var since time.Time
		if f.Since > 0 {
			since = time.UnixMilli(f.Since)
		}
		envs, err := p.handler.broker.History(ctx, f.Topic, since)
		if err != nil {
			return fail(err)
		}
		return frame{Op: opResult, Envelopes: envs}
	}
	return fail(fmt.Errorf("unknown op %q", f.Op))
}

// subscribe replaces the peer's broker subscription with one covering the
// union of every topic requested so far.
func (p *peer) subscribe(ctx context.Context, topics []string) error {
	if len(topics) == 0 {
		return fmt.Errorf("subscribe: no topics")
	}
	union := slices.Clone(p.topics)
	for _, t := range topics {
		if !slices.Contains(union, t) {
			union = append(union, t)
		}
	}

	sub, err := p.handler.broker.Subscribe(ctx, union...)
	if err != nil {
		return err
	}
	if p.sub != nil {
		p.sub.Close()
	}
	p.sub = sub
	p.topics = union

	go func() {
		for env := range sub.C {
			e := env
			if err := p.write(frame{Op: opMessage, Envelope: &e}); err != nil {
				return
			}
		}
	}()
	return nil
}
