package channels

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tipdrop/tipdrop/pkg/bus"
	"github.com/tipdrop/tipdrop/pkg/config"
)

// TelegramChannel receives link commands and delivers donation alerts over
// the Telegram Bot API via long polling.
type TelegramChannel struct {
	*BaseChannel

	bot    *telego.Bot
	cancel context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, mb *bus.MessageBus) (*TelegramChannel, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDefaultLogger(false, true))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", mb, cfg.AllowFrom),
		bot:         bot,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	updates, err := c.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}

	go func() {
		for update := range updates {
			c.handleUpdate(update)
		}
		c.SetRunning(false)
	}()

	c.SetRunning(true)
	return nil
}

func (c *TelegramChannel) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.SetRunning(false)
	return nil
}

func (c *TelegramChannel) Send(ctx context.Context, n bus.Notification) error {
	chatID, err := strconv.ParseInt(n.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", n.ChatID, err)
	}

	msg := tu.Message(tu.ID(chatID), n.Content).WithParseMode(telego.ModeMarkdown)
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

func (c *TelegramChannel) handleUpdate(update telego.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	c.HandleMessage(senderID, chatID, msg.Text)
}
