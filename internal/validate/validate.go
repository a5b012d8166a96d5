// Package validate decides whether a (message, proof) pair may reach the
// engine. Rejected pairs are never stored.
package validate

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
)

// Validator accepts or rejects a message before insertion. An error means
// the check itself could not run, not that the proof is bad.
type Validator interface {
	Validate(ctx context.Context, msg message.Message, proof message.Proof) (bool, error)
}

// UserLookup finds registered users. Implemented by registry.Users.
type UserLookup interface {
	LookupUser(ctx context.Context, addr string) (*store.User, error)
}

// RootResolver maps Merkle roots to groups. Implemented by registry.Groups.
type RootResolver interface {
	ResolveRoot(ctx context.Context, root, hint string) (string, bool, error)
}

// NullifierStore records the (epoch, nullifier) pairs already spent.
// Implemented by store.Store.
type NullifierStore interface {
	Nullifier(ctx context.Context, epoch, nullifier string) (message.Hash, bool, error)
	PutNullifier(ctx context.Context, epoch, nullifier string, hash message.Hash) error
}

// Composite runs the full check chain:
//  1. thread-scoped moderations must come from the thread's author
//  2. signature proofs must verify against the creator's registered key
//  3. group proofs must bind the message hash, resolve to a known group,
//     pass the ZKVerifier and not reuse a nullifier for another message
type Composite struct {
	users      UserLookup
	groups     RootResolver
	nullifiers NullifierStore
	zk         ZKVerifier
	logger     *slog.Logger
}

// Option configures a Composite.
type Option func(*Composite)

// WithZKVerifier sets the group proof verifier.
// Default: RejectGroupProofs.
func WithZKVerifier(v ZKVerifier) Option {
	return func(c *Composite) {
		c.zk = v
	}
}

// WithLogger sets the logger rejections are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(c *Composite) {
		c.logger = l
	}
}

// NewComposite returns a Composite over the given registries.
func NewComposite(users UserLookup, groups RootResolver, nullifiers NullifierStore, opts ...Option) *Composite {
	c := &Composite{
		users:      users,
		groups:     groups,
		nullifiers: nullifiers,
		zk:         RejectGroupProofs{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate implements Validator.
func (c *Composite) Validate(ctx context.Context, msg message.Message, proof message.Proof) (bool, error) {
	reason, err := c.check(ctx, msg, proof)
	if err != nil {
		return false, err
	}
	if reason != "" {
		c.logger.Debug("message rejected", "reason", reason)
		return false, nil
	}
	return true, nil
}

// check returns a rejection reason, or "" if the pair is valid.
func (c *Composite) check(ctx context.Context, msg message.Message, proof message.Proof) (string, error) {
	if isNil(msg) || isNil(proof) {
		return "missing message or proof", nil
	}
	if !authorOnlyOK(msg) {
		return "thread moderation from non-author", nil
	}

	hash, err := message.HashOf(msg)
	if err != nil {
		return "unhashable message", nil
	}

	switch p := proof.(type) {
	case *message.SignatureProof:
		return c.checkSignature(ctx, msg, hash, p)
	case *message.GroupProof:
		return c.checkGroup(ctx, hash, p)
	}
	return "unknown proof type", nil
}

// authorOnlyOK rejects thread-scoped moderations whose creator is not the
// creator named in the reference.
func authorOnlyOK(msg message.Message) bool {
	mod, ok := msg.(*message.Moderation)
	if !ok || mod == nil {
		return true
	}
	switch mod.Subtype {
	case message.ModerationThreadMention, message.ModerationThreadBlock,
		message.ModerationThreadFollow, message.ModerationGlobal:
	default:
		return true
	}
	op, _, err := message.ParseID(mod.Payload.Reference)
	return err == nil && op == mod.Creator
}

func (c *Composite) checkSignature(ctx context.Context, msg message.Message, hash message.Hash, p *message.SignatureProof) (string, error) {
	creator := msg.MessageHeader().Creator
	if creator == "" {
		return "signature proof on anonymous message", nil
	}
	u, err := c.users.LookupUser(ctx, creator)
	if err != nil {
		return "", err
	}
	if u == nil || u.Pubkey == "" {
		return "unknown creator", nil
	}
	if !VerifySignature(u.Pubkey, hash, p.Signature) {
		return "bad signature", nil
	}
	return "", nil
}

func (c *Composite) checkGroup(ctx context.Context, hash message.Hash, p *message.GroupProof) (string, error) {
	if p.SignalHash != string(hash) {
		return "signal hash does not bind message", nil
	}
	group, ok, err := c.groups.ResolveRoot(ctx, p.MerkleRoot, p.GroupID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "unknown merkle root", nil
	}
	verified, err := c.zk.VerifyProof(ctx, group, p)
	if err != nil {
		return "", err
	}
	if !verified {
		return "group proof rejected", nil
	}

	spent, seen, err := c.nullifiers.Nullifier(ctx, p.Epoch, p.Nullifier)
	if err != nil {
		return "", err
	}
	if seen && spent != hash {
		return "nullifier reused", nil
	}
	if !seen {
		if err := c.nullifiers.PutNullifier(ctx, p.Epoch, p.Nullifier, hash); err != nil {
			return "", err
		}
	}
	return "", nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
