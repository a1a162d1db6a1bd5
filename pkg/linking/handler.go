// Package linking processes inbound chat commands that bind an on-chain
// account to the chat they were sent from.
package linking

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/tipdrop/tipdrop/pkg/bus"
	"github.com/tipdrop/tipdrop/pkg/identity"
)

const helpText = "Commands:\n" +
	"  link <0xaddress> - send donation alerts for that address to this chat\n" +
	"  unlink <0xaddress> - stop alerts for that address\n" +
	"  help - this message"

// commandFunc handles one parsed command and returns the reply text.
type commandFunc func(ctx context.Context, msg bus.CommandMessage, args []string) string

// Handler consumes commands from the bus and mutates the identity store.
// Anyone who knows an address can link it: ownership is not proven beyond
// input-shape validation.
type Handler struct {
	store    identity.Store
	bus      *bus.MessageBus
	log      zerolog.Logger
	commands map[string]commandFunc
}

func NewHandler(store identity.Store, mb *bus.MessageBus, log zerolog.Logger) *Handler {
	h := &Handler{
		store: store,
		bus:   mb,
		log:   log.With().Str("component", "linking").Logger(),
	}
	h.commands = map[string]commandFunc{
		"link":   h.handleLink,
		"unlink": h.handleUnlink,
		"help":   h.handleHelp,
		"start":  h.handleHelp, // Telegram opens every chat with /start
	}
	return h
}

// Run consumes inbound commands until ctx is done or the bus closes.
func (h *Handler) Run(ctx context.Context) {
	for {
		msg, ok := h.bus.ConsumeCommand(ctx)
		if !ok {
			return
		}
		h.Handle(ctx, msg)
	}
}

// Handle processes a single inbound message and publishes the reply.
func (h *Handler) Handle(ctx context.Context, msg bus.CommandMessage) {
	fields := strings.Fields(msg.Content)
	if len(fields) == 0 {
		return
	}

	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Telegram suffixes commands with the bot name in group chats.
	verb, _, _ = strings.Cut(verb, "@")

	cmd, ok := h.commands[verb]
	if !ok {
		h.reply(ctx, msg, "Unknown command.\n\n"+helpText)
		return
	}
	h.reply(ctx, msg, cmd(ctx, msg, fields[1:]))
}

func (h *Handler) handleLink(ctx context.Context, msg bus.CommandMessage, args []string) string {
	if len(args) != 1 {
		return "Usage: link <0xaddress>"
	}

	addr := args[0]
	if !isAccountID(addr) {
		return "That doesn't look like a wallet address. Expected 0x followed by 40 hex characters."
	}

	canonical := identity.Canonical(addr)
	ref := msg.Channel + ":" + msg.ChatID
	if err := h.store.Upsert(ctx, canonical, ref); err != nil {
		h.log.Error().Err(err).Str("account", canonical).Msg("identity upsert failed")
		return "Couldn't save the link right now, please try again later."
	}

	h.log.Info().Str("account", canonical).Str("channel", msg.Channel).Msg("account linked")
	return fmt.Sprintf("Linked! Donation alerts for %s will arrive in this chat.", truncateAddr(canonical))
}

func (h *Handler) handleUnlink(ctx context.Context, msg bus.CommandMessage, args []string) string {
	if len(args) != 1 {
		return "Usage: unlink <0xaddress>"
	}

	addr := args[0]
	if !isAccountID(addr) {
		return "That doesn't look like a wallet address. Expected 0x followed by 40 hex characters."
	}

	canonical := identity.Canonical(addr)
	if err := h.store.Delete(ctx, canonical); err != nil {
		h.log.Error().Err(err).Str("account", canonical).Msg("identity delete failed")
		return "Couldn't remove the link right now, please try again later."
	}

	h.log.Info().Str("account", canonical).Str("channel", msg.Channel).Msg("account unlinked")
	return fmt.Sprintf("Done. No more alerts for %s.", truncateAddr(canonical))
}

func (h *Handler) handleHelp(_ context.Context, _ bus.CommandMessage, _ []string) string {
	return helpText
}

func (h *Handler) reply(ctx context.Context, msg bus.CommandMessage, text string) {
	err := h.bus.PublishNotification(ctx, bus.Notification{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("channel", msg.Channel).Msg("reply not published")
	}
}

// isAccountID accepts exactly "0x" plus 40 hex characters. IsHexAddress alone
// is not enough: it also accepts addresses without the prefix.
func isAccountID(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func truncateAddr(addr string) string {
	if len(addr) < 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
