package engine

import (
	"github.com/roach88/zkfold/internal/message"
)

// Observer receives engine outcomes. Calls happen on the goroutine running
// InsertMessage and must not call back into the engine.
type Observer interface {
	// OnInserted fires after a message and its effect are applied.
	OnInserted(msg message.Message, proof message.Proof)

	// OnAlreadyExisted fires when a message hash is already stored.
	OnAlreadyExisted(msg message.Message)

	// OnReverted fires after a revert removed target.
	OnReverted(revert *message.Revert, target message.Message)

	// OnDropped fires for messages that were not stored.
	OnDropped(msg message.Message, reason string)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnInserted(message.Message, message.Proof) {}
func (NopObserver) OnAlreadyExisted(message.Message) {}
func (NopObserver) OnReverted(*message.Revert, message.Message) {}
func (NopObserver) OnDropped(message.Message, string) {}

// Observers fans each event out to every observer in order.
type Observers []Observer

func (os Observers) OnInserted(msg message.Message, proof message.Proof) {
	for _, o := range os {
		o.OnInserted(msg, proof)
	}
}

func (os Observers) OnAlreadyExisted(msg message.Message) {
	for _, o := range os {
		o.OnAlreadyExisted(msg)
	}
}

func (os Observers) OnReverted(revert *message.Revert, target message.Message) {
	for _, o := range os {
		o.OnReverted(revert, target)
	}
}

func (os Observers) OnDropped(msg message.Message, reason string) {
	for _, o := range os {
		o.OnDropped(msg, reason)
	}
}
