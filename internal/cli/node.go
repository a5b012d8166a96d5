package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/zkfold/internal/config"
	"github.com/roach88/zkfold/internal/engine"
	"github.com/roach88/zkfold/internal/kv"
	"github.com/roach88/zkfold/internal/kv/leveldbkv"
	"github.com/roach88/zkfold/internal/kv/pebblekv"
	"github.com/roach88/zkfold/internal/kv/sqlitekv"
	"github.com/roach88/zkfold/internal/metrics"
	"github.com/roach88/zkfold/internal/pubsub"
	"github.com/roach88/zkfold/internal/registry"
	"github.com/roach88/zkfold/internal/store"
	"github.com/roach88/zkfold/internal/validate"
)

// node wires the store, registries, validator and engine for one command.
type node struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *store.Store
	users     *registry.Users
	groups    *registry.Groups
	validator validate.Validator
	metrics   *metrics.Metrics
	engine    *engine.Engine
	topics    pubsub.Topics

	cancel context.CancelFunc
	done   chan error
}

// openBackend opens the kv.Store named by cfg.Backend.
func openBackend(cfg config.Config) (kv.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return leveldbkv.NewMem(), nil
	case config.BackendLevelDB:
		return leveldbkv.Open("zkfold", cfg.StorePath())
	case config.BackendPebble:
		return pebblekv.Open(cfg.StorePath())
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.Dir(), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return sqlitekv.Open(cfg.StorePath())
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// openNode opens the store and builds the components over it. The engine
// loop is not started; call start before submitting.
func openNode(cfg config.Config, logger *slog.Logger) (*node, error) {
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	st := store.New(backend)

	n := &node{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		users:   registry.NewUsers(st, registry.WithLogger(logger)),
		groups:  registry.NewGroups(st, registry.WithLogger(logger)),
		metrics: metrics.New(),
		topics:  pubsub.NewTopics(cfg.TopicPrefix),
	}

	var zk validate.ZKVerifier = validate.RejectGroupProofs{}
	if cfg.TrustGroupProofs {
		zk = validate.MembershipOnly{}
	}
	n.validator = validate.NewComposite(n.users, n.groups, st,
		validate.WithZKVerifier(zk),
		validate.WithLogger(logger),
	)
	n.engine = engine.New(st, n.groups,
		engine.WithObserver(n.metrics),
		engine.WithLogger(logger),
	)
	return n, nil
}

// importRegistry applies cfg.Registry, if set.
func (n *node) importRegistry(ctx context.Context) error {
	if n.cfg.Registry == "" {
		return nil
	}
	snap, err := registry.LoadSnapshot(n.cfg.Registry)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load registry", err)
	}
	res, err := registry.Import(ctx, snap, n.users, n.groups)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to import registry", err)
	}
	n.logger.Info("registry imported",
		"users", res.UsersSeen,
		"created", res.UsersCreated,
		"members", res.MembersAdded,
	)
	return nil
}

// start runs the engine loop until close.
func (n *node) start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan error, 1)
	go func() {
		n.done <- n.engine.Run(ctx)
	}()
}

func (n *node) syncer(source pubsub.HistorySource) *pubsub.Syncer {
	return pubsub.NewSyncer(source, n.validator, n.engine, n.store,
		pubsub.WithTopics(n.topics),
		pubsub.WithSyncLogger(n.logger),
	)
}

// close stops the engine, waits for its loop and closes the store.
func (n *node) close() error {
	if n.done != nil {
		n.engine.Close()
		err := <-n.done
		n.cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			n.logger.Error("engine stopped with error", "error", err)
		}
	}
	return n.store.Close()
}
