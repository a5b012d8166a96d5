package pubsub

import (
	"github.com/roach88/zkfold/internal/message"
)

// DefaultPrefix is the topic namespace used by the public network.
const DefaultPrefix = "zkitter"

const protocolVersion = "1.0.0"

// Topics builds content topic names under one prefix:
//
//	/<prefix>/1.0.0/<scope>/proto
type Topics struct {
	prefix string
}

// NewTopics returns a Topics for prefix, or DefaultPrefix if empty.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the namespace.
func (t Topics) Prefix() string {
	return t.prefix
}

func (t Topics) topic(scope string) string {
	return "/" + t.prefix + "/" + protocolVersion + "/" + scope + "/proto"
}

// Global carries every public message.
func (t Topics) Global() string { return t.topic("all_messages") }

// User carries messages signed by addr.
func (t Topics) User(addr string) string { return t.topic("um_" + addr) }

// Group carries anonymous messages proven against group.
func (t Topics) Group(group string) string { return t.topic("gm_" + group) }

// Thread carries a root post, its replies and its moderations.
func (t Topics) Thread(hash message.Hash) string { return t.topic("thread_" + string(hash)) }

// Chat carries direct messages to or from an ECDH key.
func (t Topics) Chat(ecdh string) string { return t.topic("chat_" + ecdh) }

// Routes returns the topics msg is published on. group names the group a
// group proof resolved to; when empty the proof's own hint is used.
//
// Direct chats go only to the two participants' chat topics. Everything
// else goes to the global topic plus the author's user topic or group
// topic, and posts and referencing moderations also go to their thread.
func (t Topics) Routes(msg message.Message, proof message.Proof, group string) ([]string, error) {
	hash, err := message.HashOf(msg)
	if err != nil {
		return nil, err
	}

	if c, ok := msg.(*message.Chat); ok && c.Subtype == message.ChatDirect {
		return []string{
			t.Chat(c.Payload.ReceiverECDH),
			t.Chat(c.Payload.SenderECDH),
		}, nil
	}

	routes := []string{t.Global()}
	switch p := proof.(type) {
	case *message.SignatureProof:
		if creator := msg.MessageHeader().Creator; creator != "" {
			routes = append(routes, t.User(creator))
		}
	case *message.GroupProof:
		if group == "" {
			group = p.GroupID
		}
		if group != "" {
			routes = append(routes, t.Group(group))
		}
	}

	switch m := msg.(type) {
	case *message.Post:
		thread := hash
		if ref := m.Payload.Reference; ref != "" {
			if _, h, err := message.ParseID(ref); err == nil {
				thread = h
			}
		}
		routes = append(routes, t.Thread(thread))
	case *message.Moderation:
		if _, h, err := message.ParseID(m.Payload.Reference); err == nil {
			routes = append(routes, t.Thread(h))
		}
	}
	return routes, nil
}
