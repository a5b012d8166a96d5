// Package pubsub is the transport boundary of the node.
//
// Messages travel as Envelopes on content topics named
// /<prefix>/1.0.0/<scope>/proto. A Transport publishes envelopes, keeps
// per-topic history and delivers live envelopes to subscriptions. Broker
// is the in-process Transport, RelayClient speaks to a remote relay over
// WebSocket and RelayHandler serves that relay on top of a Broker.
//
// The Syncer pulls topic history since a stored checkpoint, validates each
// envelope and submits it to the engine. Envelopes that fail to open or
// validate are counted and never reach the store.
package pubsub
