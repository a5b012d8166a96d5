// Package harness runs message scenarios against the engine.
//
// A scenario inserts a list of messages into a fresh in-memory store, in
// order, and then checks the folded state. Scenarios double as golden
// tests for the engine and as fixtures for `zkfold scenario`.
//
// # Scenario Format
//
//	name: reply_and_like
//	description: "A reply and a like bump the parent's counters"
//	groups:
//	  root-1: taz
//	steps:
//	  - label: p1
//	    type: POST
//	    creator: "0xalice"
//	    payload: { content: hello }
//	  - label: r1
//	    type: POST
//	    subtype: REPLY
//	    creator: "0xbob"
//	    ref: p1
//	  - repeat: r1
//	    expect: already_existed
//	  - label: anon
//	    type: POST
//	    proof: group
//	    root: root-1
//	assertions:
//	  - type: post_meta
//	    target: p1
//	    expect: { reply: 1 }
//	  - type: postlist
//	    labels: [anon, p1]
//
// ref fills payload.reference with the message id of a labelled step.
// Steps get createdAt values one millisecond apart from
// testutil.Epoch, so hashes are stable across runs.
//
// # Assertion Types
//
//   - post_meta, user_meta: compare the listed counter and pointer fields
//   - postlist, user_posts, group_posts, replies: compare labels, newest first
//   - exists: whether a labelled message is stored
//   - outcome_count: how many steps had an outcome
package harness
