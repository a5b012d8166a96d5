package engine

import (
	"context"

	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
)

// revert undoes the effect of the message rv references and archives it.
//
// Nothing happens, and nil is returned, when:
//   - the target is not stored
//   - rv is anonymous or its creator did not write the target
//   - the target is itself a Revert
//
// Profile and Chat targets have no inverse: they are archived and the
// pointers or chat logs that mention them are left as they are.
func (e *Engine) revert(ctx context.Context, rv *message.Revert) (message.Message, error) {
	hash := referenceHash(rv.Payload.Reference)
	target, err := e.lookup(ctx, hash)
	if err != nil || target == nil {
		return nil, err
	}
	if rv.Anonymous() || target.MessageHeader().Creator != rv.Creator {
		return nil, nil
	}

	switch t := target.(type) {
	case *message.Revert:
		return nil, nil
	case *message.Post:
		err = e.revertPost(ctx, t)
	case *message.Moderation:
		err = e.revertModeration(ctx, t)
	case *message.Connection:
		err = e.revertConnection(ctx, t)
	}
	if err != nil {
		return nil, err
	}

	if err := e.store.ArchiveMessage(ctx, hash); err != nil {
		return nil, err
	}
	delete(e.pending, hash)
	return target, nil
}

// revertPost mirrors insertPost. Only named creators can revert, so the
// anonymous group-post path has no inverse here.
func (e *Engine) revertPost(ctx context.Context, p *message.Post) error {
	switch p.Subtype {
	case message.PostDefault, message.PostMirrorPost:
		if err := e.store.RemovePostlist(ctx, p); err != nil {
			return err
		}
		if err := e.store.RemoveUserPosts(ctx, p); err != nil {
			return err
		}
		return e.store.UpdateUserMeta(ctx, p.Creator, func(m *store.UserMeta) { m.Posts = bump(m.Posts, -1) })

	case message.PostReply, message.PostMirrorReply:
		parent := referenceHash(p.Payload.Reference)
		if err := e.store.RemoveReply(ctx, parent, p); err != nil {
			return err
		}
		return e.store.UpdatePostMeta(ctx, parent, func(m *store.PostMeta) { m.Reply = bump(m.Reply, -1) })

	case message.PostRepost:
		target := referenceHash(p.Payload.Reference)
		if err := e.store.RemovePostlist(ctx, p); err != nil {
			return err
		}
		if err := e.store.RemoveUserPosts(ctx, p); err != nil {
			return err
		}
		if err := e.store.RemoveRepost(ctx, target, p); err != nil {
			return err
		}
		return e.store.UpdatePostMeta(ctx, target, func(m *store.PostMeta) { m.Repost = bump(m.Repost, -1) })
	}
	return nil
}

// revertModeration decrements Like and Block counters whether or not the
// dedup entry still points at m, then drops the entry.
func (e *Engine) revertModeration(ctx context.Context, m *message.Moderation) error {
	target := referenceHash(m.Payload.Reference)

	switch m.Subtype {
	case message.ModerationLike:
		if err := e.store.UpdatePostMeta(ctx, target, func(pm *store.PostMeta) { pm.Like = bump(pm.Like, -1) }); err != nil {
			return err
		}
	case message.ModerationBlock:
		if err := e.store.UpdatePostMeta(ctx, target, func(pm *store.PostMeta) { pm.Block = bump(pm.Block, -1) }); err != nil {
			return err
		}
	case message.ModerationGlobal, message.ModerationThreadBlock,
		message.ModerationThreadFollow, message.ModerationThreadMention:
		if err := e.applyThreadModeration(ctx, target, m, true); err != nil {
			return err
		}
	}

	return e.store.DeleteModeration(ctx, target, message.DedupKey(m))
}

// revertConnection decrements counters only while the dedup entry exists,
// so reverting two duplicate follows counts once.
func (e *Engine) revertConnection(ctx context.Context, c *message.Connection) error {
	name := c.Payload.Name
	key := message.DedupKey(c)

	switch c.Subtype {
	case message.ConnectionFollow, message.ConnectionBlock:
		_, seen, err := e.store.ConnectionEntry(ctx, name, key)
		if err != nil {
			return err
		}
		if seen {
			if err := e.countConnection(ctx, c, -1); err != nil {
				return err
			}
		}
	}

	return e.store.DeleteConnection(ctx, name, key)
}
