package engine

import (
	"context"

	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
)

func (e *Engine) insertPost(ctx context.Context, hash message.Hash, p *message.Post, proof message.Proof) error {
	switch p.Subtype {
	case message.PostDefault, message.PostMirrorPost:
		if err := e.store.AppendPostlist(ctx, p); err != nil {
			return err
		}
		if !p.Anonymous() {
			if err := e.store.AppendUserPosts(ctx, p); err != nil {
				return err
			}
			return e.store.UpdateUserMeta(ctx, p.Creator, func(m *store.UserMeta) { m.Posts++ })
		}
		gp, ok := proof.(*message.GroupProof)
		if !ok {
			return nil
		}
		group, err := e.resolveGroup(ctx, hash, gp)
		if err != nil {
			return err
		}
		if err := e.store.AppendGroupPosts(ctx, group, p); err != nil {
			return err
		}
		return e.store.UpdatePostMeta(ctx, hash, func(m *store.PostMeta) { m.GroupID = group })

	case message.PostReply, message.PostMirrorReply:
		parent := referenceHash(p.Payload.Reference)
		if err := e.store.AppendReply(ctx, parent, p); err != nil {
			return err
		}
		return e.store.UpdatePostMeta(ctx, parent, func(m *store.PostMeta) { m.Reply++ })

	case message.PostRepost:
		target := referenceHash(p.Payload.Reference)
		if err := e.store.AppendPostlist(ctx, p); err != nil {
			return err
		}
		if !p.Anonymous() {
			if err := e.store.AppendUserPosts(ctx, p); err != nil {
				return err
			}
		}
		if err := e.store.AppendRepost(ctx, target, p); err != nil {
			return err
		}
		return e.store.UpdatePostMeta(ctx, target, func(m *store.PostMeta) { m.Repost++ })
	}
	return nil
}

// resolveGroup names the group an anonymous post belongs to. An unknown
// root routes the post to the unnamed group "".
func (e *Engine) resolveGroup(ctx context.Context, hash message.Hash, gp *message.GroupProof) (string, error) {
	if e.groups == nil {
		return "", nil
	}
	group, ok, err := e.groups.ResolveRoot(ctx, gp.MerkleRoot, gp.GroupID)
	if err != nil {
		return "", err
	}
	if !ok {
		e.logger.Warn("group root not resolved", "hash", hash, "root", gp.MerkleRoot, "hint", gp.GroupID)
		return "", nil
	}
	return group, nil
}

func (e *Engine) insertModeration(ctx context.Context, hash message.Hash, m *message.Moderation) error {
	target := referenceHash(m.Payload.Reference)
	key := message.DedupKey(m)

	switch m.Subtype {
	case message.ModerationLike, message.ModerationBlock:
		_, seen, err := e.store.ModerationEntry(ctx, target, key)
		if err != nil {
			return err
		}
		if !seen {
			like := m.Subtype == message.ModerationLike
			err := e.store.UpdatePostMeta(ctx, target, func(pm *store.PostMeta) {
				if like {
					pm.Like++
				} else {
					pm.Block++
				}
			})
			if err != nil {
				return err
			}
		}

	case message.ModerationGlobal, message.ModerationThreadBlock,
		message.ModerationThreadFollow, message.ModerationThreadMention,
		message.ModerationThreadAll:
		if err := e.applyThreadModeration(ctx, target, m, false); err != nil {
			return err
		}
	}

	return e.store.PutModeration(ctx, target, key, hash)
}

// applyThreadModeration updates the target post's visibility if m's creator
// wrote it. revert undoes the setting instead.
func (e *Engine) applyThreadModeration(ctx context.Context, target message.Hash, m *message.Moderation, revert bool) error {
	owner, err := e.isAuthor(ctx, target, m.Creator)
	if err != nil || !owner {
		return err
	}
	sub := m.Subtype
	return e.store.UpdatePostMeta(ctx, target, func(pm *store.PostMeta) {
		switch {
		case sub == message.ModerationGlobal:
			pm.Global = !revert
		case sub == message.ModerationThreadAll || revert:
			pm.Moderation = nil
		default:
			pm.Moderation = &sub
		}
	})
}

// isAuthor reports whether creator wrote the post at hash. Anonymous
// creators never own anything.
func (e *Engine) isAuthor(ctx context.Context, hash message.Hash, creator string) (bool, error) {
	if creator == "" {
		return false, nil
	}
	m, err := e.lookup(ctx, hash)
	if err != nil {
		return false, err
	}
	op, ok := m.(*message.Post)
	return ok && op.Creator == creator, nil
}

func (e *Engine) insertConnection(ctx context.Context, hash message.Hash, c *message.Connection) error {
	name := c.Payload.Name
	key := message.DedupKey(c)

	switch c.Subtype {
	case message.ConnectionFollow, message.ConnectionBlock:
		_, seen, err := e.store.ConnectionEntry(ctx, name, key)
		if err != nil {
			return err
		}
		if !seen {
			if err := e.countConnection(ctx, c, 1); err != nil {
				return err
			}
		}
	}

	return e.store.PutConnection(ctx, name, key, hash)
}

// countConnection moves the follow or block counters of both ends by delta,
// never below zero.
func (e *Engine) countConnection(ctx context.Context, c *message.Connection, delta int) error {
	follow := c.Subtype == message.ConnectionFollow
	err := e.store.UpdateUserMeta(ctx, c.Payload.Name, func(m *store.UserMeta) {
		if follow {
			m.Followers = bump(m.Followers, delta)
		} else {
			m.Blockers = bump(m.Blockers, delta)
		}
	})
	if err != nil || c.Anonymous() {
		return err
	}
	return e.store.UpdateUserMeta(ctx, c.Creator, func(m *store.UserMeta) {
		if follow {
			m.Following = bump(m.Following, delta)
		} else {
			m.Blocking = bump(m.Blocking, delta)
		}
	})
}

// bump adds delta to n with a floor of zero.
func bump(n, delta int) int {
	return max(n+delta, 0)
}

// profileField maps a profile message to the UserMeta pointer it sets.
func profileField(p *message.Profile) (store.ProfileField, bool) {
	switch p.Subtype {
	case message.ProfileName:
		return store.FieldNickname, true
	case message.ProfileBio:
		return store.FieldBio, true
	case message.ProfileImage:
		return store.FieldProfileImage, true
	case message.ProfileCoverImage:
		return store.FieldCoverImage, true
	case message.ProfileWebsite:
		return store.FieldWebsite, true
	case message.ProfileTwitterVerification:
		return store.FieldTwitterVerification, true
	case message.ProfileGroup:
		return store.FieldGroup, true
	case message.ProfileCustom:
		switch p.Payload.Key {
		case message.ProfileKeyIDCommitment:
			return store.FieldIDCommitment, true
		case message.ProfileKeyECDH:
			return store.FieldECDH, true
		}
	}
	return "", false
}

// insertProfile points the creator's field at p unless a newer profile
// message already holds it. Ties keep the current pointer.
func (e *Engine) insertProfile(ctx context.Context, hash message.Hash, p *message.Profile) error {
	if p.Anonymous() {
		return nil
	}
	field, ok := profileField(p)
	if !ok {
		return nil
	}

	meta, err := e.store.UserMeta(ctx, p.Creator)
	if err != nil {
		return err
	}
	if ptr := meta.Pointer(field); ptr != "" {
		current, err := e.lookup(ctx, message.Hash(ptr))
		if err != nil {
			return err
		}
		if current != nil && current.MessageHeader().CreatedAt.UnixMilli() >= p.CreatedAt.UnixMilli() {
			return nil
		}
	}

	err = e.store.UpdateUserMeta(ctx, p.Creator, func(m *store.UserMeta) {
		m.SetPointer(field, string(hash))
	})
	if err != nil {
		return err
	}
	if field == store.FieldECDH {
		return e.store.SetUserECDH(ctx, p.Payload.Value, p.Creator)
	}
	return nil
}

func (e *Engine) insertChat(ctx context.Context, c *message.Chat) error {
	if c.Subtype != message.ChatDirect {
		return nil
	}
	sender, receiver := c.Payload.SenderECDH, c.Payload.ReceiverECDH
	chatID := message.DeriveChatID(receiver, sender)

	if !c.Anonymous() {
		if err := e.store.SaveChatECDH(ctx, c.Creator, sender); err != nil {
			return err
		}
	}
	owner, err := e.store.UserByECDH(ctx, receiver)
	if err != nil {
		return err
	}
	if owner != "" {
		if err := e.store.SaveChatECDH(ctx, owner, receiver); err != nil {
			return err
		}
	}

	if err := e.store.AppendChat(ctx, chatID, c); err != nil {
		return err
	}

	meta := store.ChatMeta{
		ChatID:       chatID,
		SenderECDH:   sender,
		ReceiverECDH: receiver,
		SenderSeed:   c.Payload.SenderSeed,
		Type:         c.Subtype,
	}
	for _, ecdh := range []string{sender, receiver} {
		if _, err := e.store.PutChatMetaIfAbsent(ctx, ecdh, meta); err != nil {
			return err
		}
	}
	return nil
}
