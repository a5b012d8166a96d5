package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/zkfold/internal/engine"
	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
	"github.com/roach88/zkfold/internal/validate"
)

// Submitter folds one message. Implemented by engine.Engine.
type Submitter interface {
	Submit(ctx context.Context, msg message.Message, proof message.Proof) (engine.Outcome, error)
}

// Checkpoints persists last-sync times and history flags. Implemented by
// store.Store.
type Checkpoints interface {
	LastSync(ctx context.Context, scope store.Scope, id string) (time.Time, error)
	SetLastSync(ctx context.Context, scope store.Scope, id string, t time.Time) error
	HistoryDownloaded(ctx context.Context, scope string) (bool, error)
	SetHistoryDownloaded(ctx context.Context, scope string, downloaded bool) error
}

// SyncResult counts what happened to the envelopes of one run.
type SyncResult struct {
	RunID string
	Topic string

	Fetched   int
	Malformed int
	Rejected  int
	Inserted  int
	Existing  int
	Dropped   int

	// Newest is the latest envelope timestamp seen, or the zero time.
	Newest time.Time
}

func (r *SyncResult) count(o engine.Outcome) {
	switch o {
	case engine.Inserted:
		r.Inserted++
	case engine.AlreadyExisted:
		r.Existing++
	case engine.Dropped:
		r.Dropped++
	}
}

// Syncer moves envelopes from a HistorySource or a live Subscription
// through validation into the engine. A scope's checkpoint advances only
// after every envelope of the run has been handled.
type Syncer struct {
	source      HistorySource
	validator   validate.Validator
	engine      Submitter
	checkpoints Checkpoints
	topics      Topics
	ids         IDGenerator
	logger      *slog.Logger
}

// SyncOption configures a Syncer.
type SyncOption func(*Syncer)

// WithTopics sets the topic namespace. Default: NewTopics("").
func WithTopics(t Topics) SyncOption {
	return func(s *Syncer) {
		s.topics = t
	}
}

// WithIDGenerator sets the run id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) SyncOption {
	return func(s *Syncer) {
		s.ids = g
	}
}

// WithSyncLogger sets the logger.
func WithSyncLogger(l *slog.Logger) SyncOption {
	return func(s *Syncer) {
		s.logger = l
	}
}

// NewSyncer returns a Syncer. source may be nil when only Ingest and Live
// are used.
func NewSyncer(source HistorySource, v validate.Validator, e Submitter, cp Checkpoints, opts ...SyncOption) *Syncer {
	s := &Syncer{
		source:      source,
		validator:   v,
		engine:      e,
		checkpoints: cp,
		topics:      NewTopics(""),
		ids:         UUIDv7Generator{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Topics returns the namespace the Syncer reads from.
func (s *Syncer) Topics() Topics {
	return s.topics
}

// SyncAll fetches the global topic since its checkpoint.
func (s *Syncer) SyncAll(ctx context.Context) (SyncResult, error) {
	return s.sync(ctx, store.ScopeGlobal, "", s.topics.Global())
}

// SyncUser fetches addr's user topic since its checkpoint.
func (s *Syncer) SyncUser(ctx context.Context, addr string) (SyncResult, error) {
	return s.sync(ctx, store.ScopeAddress, addr, s.topics.User(addr))
}

// SyncGroup fetches a group's topic since its checkpoint.
func (s *Syncer) SyncGroup(ctx context.Context, group string) (SyncResult, error) {
	return s.sync(ctx, store.ScopeGroup, group, s.topics.Group(group))
}

// SyncThread fetches a thread's topic since its checkpoint.
func (s *Syncer) SyncThread(ctx context.Context, hash message.Hash) (SyncResult, error) {
	return s.sync(ctx, store.ScopeThread, string(hash), s.topics.Thread(hash))
}

// SyncChat fetches an ECDH key's chat topic since its checkpoint.
func (s *Syncer) SyncChat(ctx context.Context, ecdh string) (SyncResult, error) {
	return s.sync(ctx, store.ScopeECDH, ecdh, s.topics.Chat(ecdh))
}

func (s *Syncer) sync(ctx context.Context, scope store.Scope, id, topic string) (SyncResult, error) {
	if s.source == nil {
		return SyncResult{}, fmt.Errorf("sync %s: no history source", topic)
	}
	since, err := s.checkpoints.LastSync(ctx, scope, id)
	if err != nil {
		return SyncResult{}, err
	}
	envs, err := s.source.History(ctx, topic, since)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync %s: %w", topic, err)
	}

	res, err := s.Ingest(ctx, envs)
	res.Topic = topic
	if err != nil {
		return res, err
	}
	if res.Newest.After(since) {
		if err := s.checkpoints.SetLastSync(ctx, scope, id, res.Newest); err != nil {
			return res, err
		}
	}
	s.logger.Info("sync complete",
		"run_id", res.RunID,
		"topic", topic,
		"fetched", res.Fetched,
		"inserted", res.Inserted,
		"rejected", res.Rejected,
	)
	return res, nil
}

// HistoryScope selects what DownloadHistory fetches: a user's topic, a
// group's topic, or, when both are empty, the global topic.
type HistoryScope struct {
	User  string
	Group string
}

func (h HistoryScope) key() string {
	switch {
	case h.User != "":
		return h.User
	case h.Group != "":
		return "group/" + h.Group
	}
	return ""
}

// DownloadHistory syncs a scope once. It reports false without fetching if
// the scope, or the global history, was already downloaded.
func (s *Syncer) DownloadHistory(ctx context.Context, scope HistoryScope) (SyncResult, bool, error) {
	if scope.User != "" && scope.Group != "" {
		return SyncResult{}, false, errors.New("download history: set either user or group")
	}
	key := scope.key()
	done, err := s.checkpoints.HistoryDownloaded(ctx, key)
	if err != nil || done {
		return SyncResult{}, false, err
	}

	var res SyncResult
	switch {
	case scope.User != "":
		res, err = s.SyncUser(ctx, scope.User)
	case scope.Group != "":
		res, err = s.SyncGroup(ctx, scope.Group)
	default:
		res, err = s.SyncAll(ctx)
	}
	if err != nil {
		return res, false, err
	}
	if err := s.checkpoints.SetHistoryDownloaded(ctx, key, true); err != nil {
		return res, false, err
	}
	return res, true, nil
}

// Ingest validates and submits envs in order. Envelopes that do not open
// or do not validate are counted and skipped. Any other failure stops the
// run.
func (s *Syncer) Ingest(ctx context.Context, envs []Envelope) (SyncResult, error) {
	res := SyncResult{RunID: s.ids.Generate(), Fetched: len(envs)}
	logger := s.logger.With("run_id", res.RunID)

	for _, env := range envs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if t := env.Time(); t.After(res.Newest) {
			res.Newest = t
		}
		outcome, accepted, err := s.handle(ctx, logger, env)
		if err != nil {
			return res, err
		}
		switch accepted {
		case acceptMalformed:
			res.Malformed++
		case acceptRejected:
			res.Rejected++
		default:
			res.count(outcome)
		}
	}
	return res, nil
}

type acceptance int

const (
	acceptOK acceptance = iota
	acceptMalformed
	acceptRejected
)

func (s *Syncer) handle(ctx context.Context, logger *slog.Logger, env Envelope) (engine.Outcome, acceptance, error) {
	msg, proof, err := env.Open()
	if err != nil {
		logger.Warn("envelope skipped", "topic", env.Topic, "error", err)
		return 0, acceptMalformed, nil
	}
	ok, err := s.validator.Validate(ctx, msg, proof)
	if err != nil {
		return 0, acceptOK, fmt.Errorf("validate: %w", err)
	}
	if !ok {
		return 0, acceptRejected, nil
	}
	outcome, err := s.engine.Submit(ctx, msg, proof)
	if err != nil {
		return 0, acceptOK, err
	}
	return outcome, acceptOK, nil
}

// Live folds envelopes from sub until ctx ends or sub closes. Live
// envelopes do not move checkpoints.
func (s *Syncer) Live(ctx context.Context, sub *Subscription) error {
	runID := s.ids.Generate()
	logger := s.logger.With("run_id", runID)
	logger.Info("live sync starting", "topics", len(sub.Topics()))

	for {
		select {
		case <-ctx.Done():
			logger.Info("live sync stopping: context cancelled")
			return ctx.Err()
		case env, ok := <-sub.C:
			if !ok {
				logger.Info("live sync stopping: subscription closed")
				return nil
			}
			if _, _, err := s.handle(ctx, logger, env); err != nil {
				if engine.IsQueueClosedError(err) || errors.Is(err, context.Canceled) {
					return err
				}
				logger.Error("live envelope failed", "topic", env.Topic, "error", err)
			}
		}
	}
}

// Publisher sends local messages to every topic they route to, after
// folding them into the local store.
type Publisher struct {
	transport Transport
	validator validate.Validator
	engine    Submitter
	groups    engine.GroupResolver
	topics    Topics
	now       func() time.Time
}

// NewPublisher returns a Publisher. groups may be nil, in which case group
// posts are routed by the proof's group hint.
func NewPublisher(t Transport, v validate.Validator, e Submitter, groups engine.GroupResolver, topics Topics) *Publisher {
	return &Publisher{
		transport: t,
		validator: v,
		engine:    e,
		groups:    groups,
		topics:    topics,
		now:       time.Now,
	}
}

// Publish validates msg, folds it locally and publishes it. It returns the
// topics the envelope was sent to.
func (p *Publisher) Publish(ctx context.Context, msg message.Message, proof message.Proof) ([]string, error) {
	ok, err := p.validator.Validate(ctx, msg, proof)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("publish: message failed validation")
	}
	if _, err := p.engine.Submit(ctx, msg, proof); err != nil {
		return nil, err
	}

	group := ""
	if gp, isGroup := proof.(*message.GroupProof); isGroup && p.groups != nil {
		if g, found, err := p.groups.ResolveRoot(ctx, gp.MerkleRoot, gp.GroupID); err == nil && found {
			group = g
		}
	}
	routes, err := p.topics.Routes(msg, proof, group)
	if err != nil {
		return nil, err
	}

	at := p.now()
	for _, topic := range routes {
		env, err := Seal(topic, msg, proof, at)
		if err != nil {
			return nil, err
		}
		if err := p.transport.Publish(ctx, env); err != nil {
			return nil, fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return routes, nil
}
