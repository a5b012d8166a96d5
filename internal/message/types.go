package message

import (
	"time"

	"github.com/roach88/zkfold/internal/canon"
)

// Type is the variant tag carried on the wire.
type Type string

const (
	TypePost       Type = "POST"
	TypeModeration Type = "MODERATION"
	TypeConnection Type = "CONNECTION"
	TypeProfile    Type = "PROFILE"
	TypeChat       Type = "CHAT"
	TypeRevert     Type = "REVERT"
)

// PostSubtype enumerates Post subtypes.
type PostSubtype string

const (
	PostDefault     PostSubtype = ""
	PostReply       PostSubtype = "REPLY"
	PostRepost      PostSubtype = "REPOST"
	PostMirrorPost  PostSubtype = "M_POST"
	PostMirrorReply PostSubtype = "M_REPLY"
)

// ModerationSubtype enumerates Moderation subtypes.
type ModerationSubtype string

const (
	ModerationDefault       ModerationSubtype = ""
	ModerationLike          ModerationSubtype = "LIKE"
	ModerationBlock         ModerationSubtype = "BLOCK"
	ModerationThreadBlock   ModerationSubtype = "THREAD_HIDE_BLOCK"
	ModerationThreadFollow  ModerationSubtype = "THREAD_SHOW_FOLLOW"
	ModerationThreadMention ModerationSubtype = "THREAD_ONLY_MENTION"
	ModerationThreadAll     ModerationSubtype = "THREAD_SHOW_ALL"
	ModerationGlobal        ModerationSubtype = "GLOBAL"
)

// ThreadScoped reports whether only the thread originator may issue s.
func (s ModerationSubtype) ThreadScoped() bool {
	switch s {
	case ModerationThreadMention, ModerationThreadBlock, ModerationThreadFollow, ModerationGlobal:
		return true
	}
	return false
}

// ConnectionSubtype enumerates Connection subtypes.
type ConnectionSubtype string

const (
	ConnectionDefault      ConnectionSubtype = ""
	ConnectionFollow       ConnectionSubtype = "FOLLOW"
	ConnectionBlock        ConnectionSubtype = "BLOCK"
	ConnectionMemberInvite ConnectionSubtype = "MEMBER_INVITE"
	ConnectionMemberAccept ConnectionSubtype = "MEMBER_ACCEPT"
)

// ProfileSubtype enumerates Profile subtypes.
type ProfileSubtype string

const (
	ProfileDefault             ProfileSubtype = ""
	ProfileName                ProfileSubtype = "NAME"
	ProfileImage               ProfileSubtype = "PROFILE_IMAGE"
	ProfileCoverImage          ProfileSubtype = "COVER_IMAGE"
	ProfileBio                 ProfileSubtype = "BIO"
	ProfileWebsite             ProfileSubtype = "WEBSITE"
	ProfileGroup               ProfileSubtype = "GROUP"
	ProfileTwitterVerification ProfileSubtype = "TWITTER_VERIFICATION"
	ProfileCustom              ProfileSubtype = "CUSTOM"
)

// Custom profile keys with a dedicated UserMeta pointer.
const (
	ProfileKeyIDCommitment = "id_commitment"
	ProfileKeyECDH         = "ecdh_pubkey"
)

// ChatSubtype enumerates Chat subtypes.
type ChatSubtype string

const (
	ChatDefault ChatSubtype = ""
	ChatDirect  ChatSubtype = "DIRECT"
)

var knownSubtypes = map[Type]map[string]bool{
	TypePost: {
		string(PostDefault): true, string(PostReply): true, string(PostRepost): true,
		string(PostMirrorPost): true, string(PostMirrorReply): true,
	},
	TypeModeration: {
		string(ModerationDefault): true, string(ModerationLike): true, string(ModerationBlock): true,
		string(ModerationThreadBlock): true, string(ModerationThreadFollow): true,
		string(ModerationThreadMention): true, string(ModerationThreadAll): true,
		string(ModerationGlobal): true,
	},
	TypeConnection: {
		string(ConnectionDefault): true, string(ConnectionFollow): true, string(ConnectionBlock): true,
		string(ConnectionMemberInvite): true, string(ConnectionMemberAccept): true,
	},
	TypeProfile: {
		string(ProfileDefault): true, string(ProfileName): true, string(ProfileImage): true,
		string(ProfileCoverImage): true, string(ProfileBio): true, string(ProfileWebsite): true,
		string(ProfileGroup): true, string(ProfileTwitterVerification): true, string(ProfileCustom): true,
	},
	TypeChat:   {string(ChatDefault): true, string(ChatDirect): true},
	TypeRevert: {"": true},
}

// Header holds the fields common to every variant.
type Header struct {
	// Creator is the author's address. Empty for anonymous group messages.
	Creator string

	// CreatedAt has millisecond precision on the wire.
	CreatedAt time.Time
}

// MessageHeader returns the common header.
func (h Header) MessageHeader() Header { return h }

// Anonymous reports whether the message was sent without a creator.
func (h Header) Anonymous() bool { return h.Creator == "" }

// Message is the closed set of protocol variants.
type Message interface {
	MessageType() Type
	MessageSubtype() string
	MessageHeader() Header

	// fields returns the canonical payload fields.
	fields() map[string]string
}

// PostPayload is the body of a Post.
type PostPayload struct {
	Topic      string
	Title      string
	Content    string
	Reference  string
	Attachment string
}

// Post is a top-level post, reply, or repost.
type Post struct {
	Header
	Subtype PostSubtype
	Payload PostPayload
}

func (*Post) MessageType() Type { return TypePost }
func (p *Post) MessageSubtype() string { return string(p.Subtype) }

func (p *Post) fields() map[string]string {
	return map[string]string{
		"topic":      p.Payload.Topic,
		"title":      p.Payload.Title,
		"content":    p.Payload.Content,
		"reference":  p.Payload.Reference,
		"attachment": p.Payload.Attachment,
	}
}

// ModerationPayload is the body of a Moderation.
type ModerationPayload struct {
	Reference string
}

// Moderation is a like, block or thread-level moderation setting.
type Moderation struct {
	Header
	Subtype ModerationSubtype
	Payload ModerationPayload
}

func (*Moderation) MessageType() Type { return TypeModeration }
func (m *Moderation) MessageSubtype() string { return string(m.Subtype) }

func (m *Moderation) fields() map[string]string {
	return map[string]string{"reference": m.Payload.Reference}
}

// ConnectionPayload is the body of a Connection. Name is the target address.
type ConnectionPayload struct {
	Name string
}

// Connection is a follow, block or group membership edge.
type Connection struct {
	Header
	Subtype ConnectionSubtype
	Payload ConnectionPayload
}

func (*Connection) MessageType() Type { return TypeConnection }
func (c *Connection) MessageSubtype() string { return string(c.Subtype) }

func (c *Connection) fields() map[string]string {
	return map[string]string{"name": c.Payload.Name}
}

// ProfilePayload is the body of a Profile. Key is only used by Custom.
type ProfilePayload struct {
	Key   string
	Value string
}

// Profile updates one profile field of its creator.
type Profile struct {
	Header
	Subtype ProfileSubtype
	Payload ProfilePayload
}

func (*Profile) MessageType() Type { return TypeProfile }
func (p *Profile) MessageSubtype() string { return string(p.Subtype) }

func (p *Profile) fields() map[string]string {
	return map[string]string{"key": p.Payload.Key, "value": p.Payload.Value}
}

// ChatPayload is the body of a Chat.
type ChatPayload struct {
	EncryptedContent string
	ReceiverECDH     string
	SenderECDH       string
	SenderSeed       string
	Reference        string

	// Content is the locally decrypted plaintext. Never encoded or hashed.
	Content string
}

// Chat is a direct message between two ECDH keys.
type Chat struct {
	Header
	Subtype ChatSubtype
	Payload ChatPayload
}

func (*Chat) MessageType() Type { return TypeChat }
func (c *Chat) MessageSubtype() string { return string(c.Subtype) }

func (c *Chat) fields() map[string]string {
	return map[string]string{
		"encryptedContent": c.Payload.EncryptedContent,
		"receiverECDH":     c.Payload.ReceiverECDH,
		"senderECDH":       c.Payload.SenderECDH,
		"senderSeed":       c.Payload.SenderSeed,
		"reference":        c.Payload.Reference,
	}
}

// RevertPayload names the message being retracted.
type RevertPayload struct {
	Reference string
}

// Revert retracts an earlier message by the same creator.
type Revert struct {
	Header
	Payload RevertPayload
}

func (*Revert) MessageType() Type { return TypeRevert }
func (*Revert) MessageSubtype() string { return "" }

func (r *Revert) fields() map[string]string {
	return map[string]string{"reference": r.Payload.Reference}
}

// canonicalObject builds the canonical form hashed and sent on the wire.
func canonicalObject(m Message) canon.Object {
	h := m.MessageHeader()
	payload := canon.Object{}
	for k, v := range m.fields() {
		payload[k] = canon.String(v)
	}
	return canon.Object{
		"type":      canon.String(m.MessageType()),
		"subtype":   canon.String(m.MessageSubtype()),
		"creator":   canon.String(h.Creator),
		"createdAt": canon.Int(h.CreatedAt.UnixMilli()),
		"payload":   payload,
	}
}

// Reference returns the messageId a message points at, if its variant has one.
func Reference(m Message) (string, bool) {
	switch v := m.(type) {
	case *Post:
		return v.Payload.Reference, v.Payload.Reference != ""
	case *Moderation:
		return v.Payload.Reference, v.Payload.Reference != ""
	case *Revert:
		return v.Payload.Reference, v.Payload.Reference != ""
	case *Chat:
		return v.Payload.Reference, v.Payload.Reference != ""
	}
	return "", false
}
