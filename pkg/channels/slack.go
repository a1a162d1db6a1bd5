package channels

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/tipdrop/tipdrop/pkg/bus"
	"github.com/tipdrop/tipdrop/pkg/config"
)

// SlackChannel connects over Socket Mode so it works without a public
// webhook endpoint.
type SlackChannel struct {
	*BaseChannel

	api    *slack.Client
	socket *socketmode.Client
	cancel context.CancelFunc
}

func NewSlackChannel(cfg config.SlackConfig, mb *bus.MessageBus) (*SlackChannel, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack requires both bot token and app token")
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &SlackChannel{
		BaseChannel: NewBaseChannel("slack", mb, cfg.AllowFrom),
		api:         api,
		socket:      socketmode.New(api),
	}, nil
}

func (c *SlackChannel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.eventLoop(ctx)
	go func() {
		_ = c.socket.RunContext(ctx)
		c.SetRunning(false)
	}()

	c.SetRunning(true)
	return nil
}

func (c *SlackChannel) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.SetRunning(false)
	return nil
}

func (c *SlackChannel) Send(ctx context.Context, n bus.Notification) error {
	_, _, err := c.api.PostMessageContext(ctx, n.ChatID, slack.MsgOptionText(n.Content, false))
	if err != nil {
		return fmt.Errorf("slack send to %s: %w", n.ChatID, err)
	}
	return nil
}

func (c *SlackChannel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			c.socket.Ack(*evt.Request)
			c.handleEvent(apiEvent)
		}
	}
}

func (c *SlackChannel) handleEvent(evt slackevents.EventsAPIEvent) {
	if evt.Type != slackevents.CallbackEvent {
		return
	}
	msg, ok := evt.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Skip bot echoes and edits.
	if msg.BotID != "" || msg.SubType != "" || msg.Text == "" {
		return
	}
	c.HandleMessage(msg.User, msg.Channel, msg.Text)
}
