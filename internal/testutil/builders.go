package testutil

import (
	"github.com/roach88/zkfold/internal/message"
)

// Builder creates messages with strictly increasing createdAt, so every
// message it builds has a distinct hash and sort key.
type Builder struct {
	Clock *DeterministicClock
}

// NewBuilder returns a Builder on a fresh clock.
func NewBuilder() *Builder {
	return &Builder{Clock: NewDeterministicClock()}
}

func (b *Builder) header(creator string) message.Header {
	return message.Header{Creator: creator, CreatedAt: b.Clock.Next()}
}

// Post builds a top-level post.
func (b *Builder) Post(creator, content string) *message.Post {
	return &message.Post{
		Header:  b.header(creator),
		Payload: message.PostPayload{Content: content},
	}
}

// Reply builds a reply to parent.
func (b *Builder) Reply(creator string, parent message.Message, content string) *message.Post {
	return &message.Post{
		Header:  b.header(creator),
		Subtype: message.PostReply,
		Payload: message.PostPayload{Content: content, Reference: message.ID(parent)},
	}
}

// Repost builds a repost of target.
func (b *Builder) Repost(creator string, target message.Message) *message.Post {
	return &message.Post{
		Header:  b.header(creator),
		Subtype: message.PostRepost,
		Payload: message.PostPayload{Reference: message.ID(target)},
	}
}

// Moderation builds a moderation of target.
func (b *Builder) Moderation(creator string, sub message.ModerationSubtype, target message.Message) *message.Moderation {
	return &message.Moderation{
		Header:  b.header(creator),
		Subtype: sub,
		Payload: message.ModerationPayload{Reference: message.ID(target)},
	}
}

// Connection builds a connection from creator to name.
func (b *Builder) Connection(creator string, sub message.ConnectionSubtype, name string) *message.Connection {
	return &message.Connection{
		Header:  b.header(creator),
		Subtype: sub,
		Payload: message.ConnectionPayload{Name: name},
	}
}

// Profile builds a profile update.
func (b *Builder) Profile(creator string, sub message.ProfileSubtype, key, value string) *message.Profile {
	return &message.Profile{
		Header:  b.header(creator),
		Subtype: sub,
		Payload: message.ProfilePayload{Key: key, Value: value},
	}
}

// DirectChat builds a direct chat from senderECDH to receiverECDH.
// content is used as the encrypted body and the local plaintext.
func (b *Builder) DirectChat(creator, senderECDH, receiverECDH, content string) *message.Chat {
	return &message.Chat{
		Header:  b.header(creator),
		Subtype: message.ChatDirect,
		Payload: message.ChatPayload{
			EncryptedContent: content,
			SenderECDH:       senderECDH,
			ReceiverECDH:     receiverECDH,
			Content:          content,
		},
	}
}

// Revert builds a revert of target.
func (b *Builder) Revert(creator string, target message.Message) *message.Revert {
	return &message.Revert{
		Header:  b.header(creator),
		Payload: message.RevertPayload{Reference: message.ID(target)},
	}
}

// Signed returns a placeholder signature proof.
func Signed() message.Proof {
	return &message.SignatureProof{Signature: "sig"}
}
