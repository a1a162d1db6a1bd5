package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

// MessageBus decouples the messaging channels from the relay core. Channels
// publish inbound commands, the linking handler consumes them; the linking
// handler publishes notifications, the channel manager dispatches them.
type MessageBus struct {
	commands      chan CommandMessage
	notifications chan Notification
	done          chan struct{}
	closed        atomic.Bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		commands:      make(chan CommandMessage, 100),
		notifications: make(chan Notification, 100),
		done:          make(chan struct{}),
	}
}

func (mb *MessageBus) PublishCommand(ctx context.Context, msg CommandMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.commands <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) ConsumeCommand(ctx context.Context) (CommandMessage, bool) {
	select {
	case msg, ok := <-mb.commands:
		return msg, ok
	case <-mb.done:
		return CommandMessage{}, false
	case <-ctx.Done():
		return CommandMessage{}, false
	}
}

func (mb *MessageBus) PublishNotification(ctx context.Context, n Notification) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.notifications <- n:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) ConsumeNotification(ctx context.Context) (Notification, bool) {
	select {
	case n, ok := <-mb.notifications:
		return n, ok
	case <-mb.done:
		return Notification{}, false
	case <-ctx.Done():
		return Notification{}, false
	}
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
