package engine

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
)

// GroupResolver maps a Merkle root to the group whose tree has it.
// Implemented by registry.Groups.
type GroupResolver interface {
	ResolveRoot(ctx context.Context, root, hint string) (group string, ok bool, err error)
}

// Engine folds messages into the store.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - InsertMessage(), Rebuild(): callers must serialize them; Run does
//     this for Submit
type Engine struct {
	store    *store.Store
	groups   GroupResolver
	queue    *requestQueue
	observer Observer
	logger   *slog.Logger

	// pending holds reverted messages Rebuild has not yet replayed. It is
	// nil outside Rebuild.
	pending map[message.Hash]store.StoredMessage
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver sets the observer notified of outcomes.
// Default: NopObserver.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithLogger sets the engine logger.
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over s. groups may be nil, in which case anonymous
// group posts are routed to the unnamed group.
func New(s *store.Store, groups GroupResolver, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		groups:   groups,
		queue:    newRequestQueue(),
		observer: NopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// InsertMessage applies msg to the store.
//
// Messages that cannot be routed (nil, unknown variant, or a required
// reference that does not parse) are Dropped without touching the store.
// An error is returned only when the store fails; the message may then be
// stored without its effect, see Rebuild.
func (e *Engine) InsertMessage(ctx context.Context, msg message.Message, proof message.Proof) (Outcome, error) {
	if reason := dropReason(msg, proof); reason != "" {
		return e.drop(msg, reason), nil
	}

	hash, err := message.HashOf(msg)
	if err != nil {
		return e.drop(msg, err.Error()), nil
	}

	exists, err := e.store.HasMessage(ctx, hash)
	if err != nil {
		return 0, newStoreError(hash, "check message", err)
	}
	if exists {
		e.logger.Debug("message already exists", "hash", hash, "type", msg.MessageType())
		e.observer.OnAlreadyExisted(msg)
		return AlreadyExisted, nil
	}

	if err := e.store.PutMessage(ctx, msg, proof); err != nil {
		return 0, newStoreError(hash, "put message", err)
	}

	target, err := e.apply(ctx, hash, msg, proof)
	if err != nil {
		return 0, newStoreError(hash, "apply "+string(msg.MessageType()), err)
	}

	if rv, ok := msg.(*message.Revert); ok {
		if target == nil {
			e.logger.Debug("revert ignored", "hash", hash, "reference", rv.Payload.Reference)
			return Inserted, nil
		}
		e.logger.Info("message reverted",
			"hash", hash,
			"target", rv.Payload.Reference,
			"type", target.MessageType(),
		)
		e.observer.OnInserted(msg, proof)
		e.observer.OnReverted(rv, target)
		return Inserted, nil
	}

	e.logger.Debug("message inserted",
		"hash", hash,
		"type", msg.MessageType(),
		"subtype", msg.MessageSubtype(),
		"creator", msg.MessageHeader().Creator,
	)
	e.observer.OnInserted(msg, proof)
	return Inserted, nil
}

func (e *Engine) drop(msg message.Message, reason string) Outcome {
	e.logger.Warn("message dropped", "reason", reason)
	e.observer.OnDropped(msg, reason)
	return Dropped
}

// apply runs the effect of an already stored message. For a Revert it
// returns the removed target, or nil if the revert was a no-op.
func (e *Engine) apply(ctx context.Context, hash message.Hash, msg message.Message, proof message.Proof) (message.Message, error) {
	if err := e.logUserMessage(ctx, msg, proof); err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case *message.Post:
		return nil, e.insertPost(ctx, hash, m, proof)
	case *message.Moderation:
		return nil, e.insertModeration(ctx, hash, m)
	case *message.Connection:
		return nil, e.insertConnection(ctx, hash, m)
	case *message.Profile:
		return nil, e.insertProfile(ctx, hash, m)
	case *message.Chat:
		return nil, e.insertChat(ctx, m)
	case *message.Revert:
		return e.revert(ctx, m)
	}
	return nil, nil
}

// lookup finds hash in the store, then among the reverted messages a
// running Rebuild still has to replay.
func (e *Engine) lookup(ctx context.Context, hash message.Hash) (message.Message, error) {
	m, err := e.store.Message(ctx, hash)
	if m != nil || err != nil {
		return m, err
	}
	if sm, ok := e.pending[hash]; ok {
		return sm.Message, nil
	}
	return nil, nil
}

// logUserMessage appends signed messages to their creator's log.
func (e *Engine) logUserMessage(ctx context.Context, msg message.Message, proof message.Proof) error {
	if _, ok := proof.(*message.SignatureProof); !ok || msg.MessageHeader().Anonymous() {
		return nil
	}
	return e.store.AppendUserMessage(ctx, msg)
}

// dropReason returns why msg cannot be routed, or "".
func dropReason(msg message.Message, proof message.Proof) string {
	if isNil(msg) {
		return "missing message"
	}
	if isNil(proof) {
		return "missing proof"
	}

	needsRef := false
	switch m := msg.(type) {
	case *message.Post:
		switch m.Subtype {
		case message.PostReply, message.PostMirrorReply, message.PostRepost:
			needsRef = true
		}
	case *message.Moderation, *message.Revert:
		needsRef = true
	case *message.Connection, *message.Profile, *message.Chat:
	default:
		return "unknown message variant"
	}

	if needsRef {
		ref, _ := message.Reference(msg)
		if _, _, err := message.ParseID(ref); err != nil {
			return "unresolvable reference"
		}
	}
	return ""
}

// isNil catches both untyped nil and typed nil pointers.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// referenceHash returns the hash half of a reference that dropReason
// already accepted.
func referenceHash(ref string) message.Hash {
	_, h, _ := message.ParseID(ref)
	return h
}

// Submit enqueues msg for the Run loop and waits for its outcome.
// Safe to call from any goroutine.
//
// Returns a queue-closed RuntimeError if the engine has been closed, or
// ctx.Err() if ctx ends first. In the latter case the request may still be
// applied.
func (e *Engine) Submit(ctx context.Context, msg message.Message, proof message.Proof) (Outcome, error) {
	r := &request{ctx: ctx, msg: msg, proof: proof, done: make(chan result, 1)}
	if !e.queue.Enqueue(r) {
		return 0, newQueueClosedError()
	}
	select {
	case res := <-r.done:
		return res.outcome, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Run starts the single-writer loop.
// Blocks until ctx is cancelled or Close is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// A store failure is logged and handed back to the submitter; the loop
// continues with the next request.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		r, ok := e.queue.TryDequeue()
		if ok {
			e.process(r)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue, so this fires
			// immediately once closed. Otherwise loop back to TryDequeue.
			if e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// process applies one request and replies to its submitter.
// CRITICAL: Called only from Run() goroutine.
func (e *Engine) process(r *request) {
	ctx := r.ctx
	if ctx.Err() != nil {
		r.done <- result{err: ctx.Err()}
		return
	}
	outcome, err := e.InsertMessage(ctx, r.msg, r.proof)
	if err != nil {
		e.logger.Error("message apply failed", "error", err)
	}
	r.done <- result{outcome: outcome, err: err}
}

// Close stops accepting work. Requests still queued are rejected with a
// queue-closed error; a request already being applied completes.
// Safe to call more than once.
func (e *Engine) Close() {
	for _, r := range e.queue.Close() {
		r.done <- result{err: newQueueClosedError()}
	}
}
