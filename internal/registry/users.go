package registry

import (
	"context"
	"log/slog"

	"github.com/roach88/zkfold/internal/store"
)

// Option configures a registry.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Users is the registry of known identities.
type Users struct {
	store  *store.Store
	logger *slog.Logger
}

// NewUsers returns a user registry over s.
func NewUsers(s *store.Store, opts ...Option) *Users {
	o := buildOptions(opts)
	return &Users{store: s, logger: o.logger}
}

// UpsertUser stores u when no record exists for its address or when the
// existing record's JoinedAt is strictly before u.JoinedAt. Otherwise the
// store is left alone. u is returned either way; created reports whether
// no record existed before.
//
// The comparator is deliberate and must not be flipped: a registration seen
// later but carrying an older JoinedAt does not replace the stored one, and
// ties keep whichever call ran first.
func (r *Users) UpsertUser(ctx context.Context, u store.User) (store.User, bool, error) {
	existing, err := r.store.User(ctx, u.Address)
	if err != nil {
		return u, false, err
	}

	if existing == nil || existing.JoinedAt.Before(u.JoinedAt) {
		if err := r.store.PutUser(ctx, u); err != nil {
			return u, false, err
		}
	}

	if existing == nil {
		r.logger.Debug("user registered",
			"address", u.Address,
			"joined_at", u.JoinedAt,
			"origin", u.OriginType,
		)
	}
	return u, existing == nil, nil
}

// LookupUser returns the user at addr, or nil if unknown.
func (r *Users) LookupUser(ctx context.Context, addr string) (*store.User, error) {
	return r.store.User(ctx, addr)
}

// List returns up to limit users in address order after gt.
func (r *Users) List(ctx context.Context, limit int, gt string) ([]store.User, error) {
	return r.store.Users(ctx, limit, gt)
}
