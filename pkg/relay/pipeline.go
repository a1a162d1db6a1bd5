// Package relay turns observed donation events into delivered chat
// notifications: resolve the recipient's linked chat, format, send with
// bounded retry.
package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tipdrop/tipdrop/pkg/bus"
	"github.com/tipdrop/tipdrop/pkg/chain"
	"github.com/tipdrop/tipdrop/pkg/identity"
)

// Notifier delivers one notification to its messaging gateway. The channel
// manager implements it. Must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, n bus.Notification) error
}

// Options tunes the pipeline. Zero attempts and backoff fall back to the
// documented defaults (3 attempts, 2s backoff). Decimals is taken as-is:
// zero-decimal tokens exist, so the config owns the 18 default.
type Options struct {
	MaxAttempts    int
	Backoff        time.Duration
	Decimals       int
	TokenSymbol    string
	DashboardURL   string
	DefaultChannel string
}

func (o *Options) withDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 2 * time.Second
	}
	if o.Decimals < 0 {
		o.Decimals = 0
	}
	if o.TokenSymbol == "" {
		o.TokenSymbol = "ETH"
	}
	if o.DefaultChannel == "" {
		o.DefaultChannel = "telegram"
	}
}

// Pipeline processes donation events independently and concurrently. Events
// are never persisted; a restart loses in-flight deliveries (at-least-once).
type Pipeline struct {
	store    identity.Store
	notifier Notifier
	opts     Options
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func NewPipeline(store identity.Store, notifier Notifier, opts Options, log zerolog.Logger) *Pipeline {
	opts.withDefaults()
	return &Pipeline{
		store:    store,
		notifier: notifier,
		opts:     opts,
		log:      log.With().Str("component", "relay").Logger(),
	}
}

// HandleBatch fans the batch out, one goroutine per event, and returns
// immediately so the caller (the chain subscription) keeps draining.
func (p *Pipeline) HandleBatch(ctx context.Context, events []chain.DonationEvent) {
	for _, ev := range events {
		p.wg.Add(1)
		go func(ev chain.DonationEvent) {
			defer p.wg.Done()
			p.process(ctx, ev)
		}(ev)
	}
}

// Drain waits up to grace for in-flight deliveries to finish. Returns false
// if stragglers were abandoned.
func (p *Pipeline) Drain(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

// process runs one event through resolve -> deliver. No failure here may
// propagate: every terminal outcome is a log line.
func (p *Pipeline) process(ctx context.Context, ev chain.DonationEvent) {
	deliveryID := uuid.New().String()
	recipient := identity.Canonical(ev.Recipient.Hex())
	log := p.log.With().
		Str("delivery_id", deliveryID).
		Str("recipient", recipient).
		Str("amount", FormatAmount(ev.Amount, p.opts.Decimals)).
		Logger()

	ref, err := p.store.Lookup(ctx, recipient)
	if err != nil {
		// A store outage is handled like a miss: there is nothing safe
		// to retry against, and the pipeline must not stall on it.
		if errors.Is(err, identity.ErrNotFound) {
			log.Info().Msg("recipient has no linked chat, dropping event")
		} else {
			log.Warn().Err(err).Msg("identity lookup failed, dropping event")
		}
		return
	}

	channel, chatID := p.splitRef(ref)
	n := bus.Notification{
		Channel: channel,
		ChatID:  chatID,
		Content: FormatNotification(ev, p.opts.Decimals, p.opts.TokenSymbol, p.opts.DashboardURL),
	}

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(p.opts.Backoff):
			case <-ctx.Done():
				log.Warn().Int("attempts", attempt-1).Msg("delivery abandoned at shutdown")
				return
			}
		}

		if err := p.notifier.Send(ctx, n); err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("notification send failed")
			continue
		}
		log.Info().Str("channel", channel).Int("attempt", attempt).Msg("notification delivered")
		return
	}

	log.Error().Err(lastErr).Int("attempts", p.opts.MaxAttempts).Msg("giving up on notification")
}

// splitRef parses a stored channel ref of the form "<channel>:<chat id>".
// Bare chat ids from older mappings fall back to the default channel.
func (p *Pipeline) splitRef(ref string) (channel, chatID string) {
	if before, after, ok := strings.Cut(ref, ":"); ok && before != "" && after != "" {
		return before, after
	}
	return p.opts.DefaultChannel, ref
}
