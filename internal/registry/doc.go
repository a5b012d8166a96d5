// Package registry holds the identity registries the state engine reads:
// registered users and the Merkle-tree groups that gate anonymous posts.
//
// Users follow a first-registration-wins rule that is easy to get wrong;
// see Users.UpsertUser. Groups append members in index order and derive
// each new root with cometbft's RFC 6962 Merkle tree over the ordered id
// commitments.
package registry
