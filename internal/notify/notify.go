package notify

import (
	"branchline/internal/domain"
)

// Emitter receives notification payloads from the engine. Emit must not
// block: the engine fires and forgets, delivery is someone else's problem.
type Emitter interface {
	Emit(n domain.Notification)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(n domain.Notification)

func (f EmitterFunc) Emit(n domain.Notification) { f(n) }

// ChannelEmitter buffers notifications on a channel for a consumer such as
// the webhook forwarder. When the buffer is full the payload is dropped
// rather than blocking the mutation that produced it.
type ChannelEmitter struct {
	ch chan domain.Notification
}

func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelEmitter{ch: make(chan domain.Notification, buffer)}
}

func (e *ChannelEmitter) Emit(n domain.Notification) {
	select {
	case e.ch <- n:
	default:
	}
}

// C exposes the consumer side of the buffer.
func (e *ChannelEmitter) C() <-chan domain.Notification {
	return e.ch
}

// Discard drops every payload. Used when no consumer is configured.
type Discard struct{}

func (Discard) Emit(domain.Notification) {}
