// Package engine folds protocol messages into the local materialized view.
//
// ARCHITECTURE:
//
// Insert Path:
// InsertMessage takes a (message, proof) pair that has already passed proof
// validation and:
//  1. returns AlreadyExisted if the message hash is stored
//  2. stores the message and proof
//  3. appends signed messages to the creator's message log
//  4. applies the per-type effect (lists, counters, pointers, chat logs)
//     or, for a Revert, the inverse of the referenced message's effect
//  5. notifies the Observer
//
// Ownership gates (thread moderation, revert) fail silently: the message is
// still stored and the outcome is Inserted, but nothing else changes and no
// revert is reported.
//
// Single-Writer Loop:
// InsertMessage does not lock. Its exists-then-write sequence is only safe
// when calls are serialized, which is what Submit and Run provide: Submit
// enqueues onto a FIFO queue and waits, Run applies requests one at a time.
//
// Crash Window:
// A crash between storing a message and applying its effect leaves the
// message stored but not indexed. Replaying it is a no-op. Rebuild drops all
// derived state and re-folds stored messages offline.
package engine
