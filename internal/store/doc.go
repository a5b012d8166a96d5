// Package store provides the typed tables the state engine folds messages
// into, layered over an ordered kv.Store.
//
// Each logical table is one kv partition:
//   - messages, proofs: message JSON and proof JSON by content hash
//   - usermsgs/<addr>, postlist, userposts/<addr>, groupposts/<group>,
//     replies/<hash>, reposts/<hash>, chat/<chatId>: chronological lists,
//     sort key to hash
//   - moderations/<hash>, connections/<addr>: dedup key to hash
//   - postmeta, usermeta: denormalized counters and profile pointers
//   - users, userecdh, savedecdh/<addr>, chatmeta/<ecdh>: identity and chat
//     lookup tables
//   - members/<group>, memberlist/<group>, grouproots/<root>: group
//     registry, written atomically per member
//   - lastsync, nullifiers, app: sync checkpoints, spent rate-limit
//     nullifiers and application flags
//
// # Sort Keys
//
// Chronological lists are keyed by SortKey: 16 hex digits of createdAt
// milliseconds, "_", then the hex creator. Anonymous messages use their hash
// in the creator slot. Pagination takes the hash of the last record seen and
// resumes strictly below its sort key.
//
// # Derived State
//
// Every table except messages, proofs, users, the group registry, lastsync,
// nullifiers and app is derived from messages and can be dropped with
// ClearDerived and rebuilt by replaying messages. Dynamic derived partitions
// are recorded in a "derived" partition so they can be found again.
package store
