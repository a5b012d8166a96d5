// Package message defines the protocol's message variants and their
// content-addressed identity.
//
// A Message is one of *Post, *Moderation, *Connection, *Profile, *Chat or
// *Revert. The set is closed: the interface carries an unexported method, so
// callers dispatch with a type switch and treat anything else as unroutable.
//
// # Identity
//
// Every message has a canonical form:
//
//	{"createdAt":<ms>,"creator":"...","payload":{...},"subtype":"...","type":"..."}
//
// encoded as RFC 8785 canonical JSON (see package canon). The content hash is
// the domain-separated SHA-256 of that encoding, and the message id is
// "<creator>/<hash>", or the bare hash for anonymous messages.
//
// The decrypted Content of a Chat payload is a local annotation. It is never
// part of the canonical form, so it does not affect Encode, Hash or ID.
package message
