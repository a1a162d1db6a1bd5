package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tipdrop/tipdrop/pkg/bus"
	"github.com/tipdrop/tipdrop/pkg/config"
)

// Manager owns the set of enabled chat channels. It routes outbound
// notifications to the channel named in the message and feeds the shared
// bus with inbound commands (each channel publishes those itself through
// BaseChannel).
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	log      zerolog.Logger
}

func NewManager(cfg *config.Config, mb *bus.MessageBus, log zerolog.Logger) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      mb,
		log:      log,
	}

	if cfg.Channels.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Channels.Telegram, mb)
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		m.channels["telegram"] = ch
	}

	if cfg.Channels.Discord.Enabled {
		ch, err := NewDiscordChannel(cfg.Channels.Discord, mb)
		if err != nil {
			return nil, fmt.Errorf("discord channel: %w", err)
		}
		m.channels["discord"] = ch
	}

	if cfg.Channels.Slack.Enabled {
		ch, err := NewSlackChannel(cfg.Channels.Slack, mb)
		if err != nil {
			return nil, fmt.Errorf("slack channel: %w", err)
		}
		m.channels["slack"] = ch
	}

	return m, nil
}

// Register adds a channel under its own name, replacing any existing one.
func (m *Manager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}

// GetEnabledChannels returns the names of registered channels as a
// comma-separated list for startup output.
func (m *Manager) GetEnabledChannels() string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

func (m *Manager) StartAll(ctx context.Context) error {
	var failed []string
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			m.log.Error().Err(err).Str("channel", name).Msg("failed to start channel")
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to start channels: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			m.log.Error().Err(err).Str("channel", name).Msg("failed to stop channel")
		}
	}
}

// Send delivers a notification through the channel it names.
func (m *Manager) Send(ctx context.Context, n bus.Notification) error {
	ch, ok := m.channels[n.Channel]
	if !ok {
		return fmt.Errorf("unknown channel %q", n.Channel)
	}
	return ch.Send(ctx, n)
}

// DispatchNotifications drains the outbound side of the bus, delivering
// each notification through its channel. Used for command replies, which
// bypass the retrying pipeline. Blocks until ctx is cancelled or the bus
// closes.
func (m *Manager) DispatchNotifications(ctx context.Context) {
	for {
		n, ok := m.bus.ConsumeNotification(ctx)
		if !ok {
			return
		}
		if err := m.Send(ctx, n); err != nil {
			m.log.Warn().Err(err).
				Str("channel", n.Channel).
				Str("chat_id", n.ChatID).
				Msg("failed to deliver reply")
		}
	}
}
