package store

import (
	"slices"
	"time"

	"github.com/roach88/zkfold/internal/message"
)

// PostMeta holds the denormalized counters of a post.
type PostMeta struct {
	Reply  int  `json:"reply"`
	Repost int  `json:"repost"`
	Like   int  `json:"like"`
	Block  int  `json:"block"`
	Global bool `json:"global"`

	// Moderation is the thread mode set by the post's creator, or nil.
	Moderation *message.ModerationSubtype `json:"moderation"`

	// GroupID is set only for anonymous group posts.
	GroupID string `json:"groupId,omitempty"`
}

// ProfileField names a profile pointer on UserMeta.
type ProfileField string

const (
	FieldNickname            ProfileField = "nickname"
	FieldBio                 ProfileField = "bio"
	FieldCoverImage          ProfileField = "coverImage"
	FieldProfileImage        ProfileField = "profileImage"
	FieldWebsite             ProfileField = "website"
	FieldTwitterVerification ProfileField = "twitterVerification"
	FieldECDH                ProfileField = "ecdh"
	FieldIDCommitment        ProfileField = "idCommitment"
	FieldGroup               ProfileField = "group"
)

// ProfileFields lists every pointer field in a stable order.
var ProfileFields = []ProfileField{
	FieldNickname, FieldBio, FieldCoverImage, FieldProfileImage, FieldWebsite,
	FieldTwitterVerification, FieldECDH, FieldIDCommitment, FieldGroup,
}

// UserMeta holds per-address counters and profile pointers.
//
// As stored, each pointer field holds the hash of the newest accepted
// Profile message for that field. ResolvedUserMeta returns a copy whose
// pointers are replaced by the profile values, except Group which stays a
// hash.
type UserMeta struct {
	Followers int `json:"followers"`
	Following int `json:"following"`
	Blockers  int `json:"blockers"`
	Blocking  int `json:"blocking"`
	Posts     int `json:"posts"`

	Nickname            string `json:"nickname"`
	Bio                 string `json:"bio"`
	CoverImage          string `json:"coverImage"`
	ProfileImage        string `json:"profileImage"`
	Website             string `json:"website"`
	TwitterVerification string `json:"twitterVerification"`
	ECDH                string `json:"ecdh"`
	IDCommitment        string `json:"idCommitment"`
	Group               string `json:"group"`
}

// Pointer returns the value of field f.
func (m *UserMeta) Pointer(f ProfileField) string {
	if p := m.field(f); p != nil {
		return *p
	}
	return ""
}

// SetPointer sets field f. Unknown fields are ignored.
func (m *UserMeta) SetPointer(f ProfileField, v string) {
	if p := m.field(f); p != nil {
		*p = v
	}
}

func (m *UserMeta) field(f ProfileField) *string {
	switch f {
	case FieldNickname:
		return &m.Nickname
	case FieldBio:
		return &m.Bio
	case FieldCoverImage:
		return &m.CoverImage
	case FieldProfileImage:
		return &m.ProfileImage
	case FieldWebsite:
		return &m.Website
	case FieldTwitterVerification:
		return &m.TwitterVerification
	case FieldECDH:
		return &m.ECDH
	case FieldIDCommitment:
		return &m.IDCommitment
	case FieldGroup:
		return &m.Group
	}
	return nil
}

// OriginType records where a User came from.
type OriginType string

const (
	OriginRegistry OriginType = "registry"
	OriginSnapshot OriginType = "snapshot"
)

// User is a registered identity.
type User struct {
	Address    string     `json:"address" yaml:"address"`
	Pubkey     string     `json:"pubkey" yaml:"pubkey"`
	JoinedAt   time.Time  `json:"joinedAt" yaml:"joined_at"`
	Tx         string     `json:"tx" yaml:"tx"`
	OriginType OriginType `json:"originType" yaml:"origin_type"`
}

// GroupMember is one leaf of a group's Merkle tree.
type GroupMember struct {
	IDCommitment string `json:"idCommitment"`
	Index        uint64 `json:"index"`
	NewRoot      string `json:"newRoot"`
}

// ChatMeta describes a direct chat from one participant's side.
type ChatMeta struct {
	ChatID       string              `json:"chatId"`
	SenderECDH   string              `json:"senderECDH"`
	ReceiverECDH string              `json:"receiverECDH"`
	SenderSeed   string              `json:"senderSeed"`
	Type         message.ChatSubtype `json:"type"`
}

// Scope names a last-sync checkpoint category.
type Scope string

const (
	ScopeAddress Scope = "address"
	ScopeGroup   Scope = "group"
	ScopeECDH    Scope = "ecdh"
	ScopeThread  Scope = "thread"

	// ScopeGlobal checkpoints the all-messages topic; its id is "".
	ScopeGlobal Scope = "global"
)

// StoredMessage is a message together with its proof, as persisted.
type StoredMessage struct {
	Hash    message.Hash
	Message message.Message
	Proof   message.Proof
}

// Filter selects home feed posts. A post by a known creator passes when
// the creator is listed; an anonymous post passes when its group is listed.
type Filter struct {
	Addresses []string
	Groups    []string
	Threads   []string
}

func (f Filter) has(v string) bool {
	return slices.Contains(f.Addresses, v) ||
		slices.Contains(f.Groups, v) ||
		slices.Contains(f.Threads, v)
}

// Stats summarizes table sizes.
type Stats struct {
	Messages int
	ByType   map[message.Type]int
	Users    int
	Posts    int
}
