// Package channels implements the messaging gateway clients the relay
// delivers through, plus the manager that routes between them.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/tipdrop/tipdrop/pkg/bus"
)

// Channel is one messaging gateway: it forwards inbound user messages to the
// bus and delivers outbound notifications.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, n bus.Notification) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// BaseChannel carries the state every gateway client shares: name, bus
// handle, running flag, and the inbound allow-list.
type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, mb *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       mb,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

// IsAllowed gates inbound commands. An empty allow-list admits everyone.
// Entries may be sender ids or "@username" forms. Outbound notifications are
// never gated: the recipient chose them by linking.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if senderID == allowed || senderID == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound user message as a command, applying the
// allow-list. Called from each gateway's receive loop.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string) {
	if !c.IsAllowed(senderID) {
		return
	}

	msg := bus.CommandMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
	}

	c.bus.PublishCommand(context.TODO(), msg)
}

func (c *BaseChannel) SetRunning(running bool) {
	c.running.Store(running)
}
