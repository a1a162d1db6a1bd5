package relay

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/tipdrop/tipdrop/pkg/bus"
	"github.com/tipdrop/tipdrop/pkg/chain"
	"github.com/tipdrop/tipdrop/pkg/identity"
)

var (
	senderAddr    = common.HexToAddress("0xAAA0000000000000000000000000000000000001")
	recipientAddr = common.HexToAddress("0xBBB0000000000000000000000000000000000002")
)

// failingStore returns a non-ErrNotFound error on every lookup, simulating an
// unreachable identity store.
type failingStore struct{}

func (failingStore) Lookup(context.Context, string) (string, error) {
	return "", errors.New("store unreachable")
}
func (failingStore) Upsert(context.Context, string, string) error { return errors.New("store unreachable") }
func (failingStore) Delete(context.Context, string) error         { return errors.New("store unreachable") }

// fakeNotifier counts send attempts and fails the first failFirst of them.
type fakeNotifier struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	delivered []bus.Notification
	block     chan struct{} // when set, Send waits on it
}

func (n *fakeNotifier) Send(_ context.Context, msg bus.Notification) error {
	n.mu.Lock()
	block := n.block
	n.calls++
	call := n.calls
	n.mu.Unlock()

	if block != nil {
		<-block
	}
	if call <= n.failFirst {
		return errors.New("gateway timeout")
	}

	n.mu.Lock()
	n.delivered = append(n.delivered, msg)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func (n *fakeNotifier) deliveredCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.delivered)
}

func donation(amount string) chain.DonationEvent {
	v, _ := new(big.Int).SetString(amount, 10)
	return chain.DonationEvent{
		Sender:    senderAddr,
		Recipient: recipientAddr,
		Name:      "Jane",
		Message:   "Love your work",
		Amount:    v,
	}
}

func testOptions() Options {
	return Options{
		MaxAttempts:    3,
		Backoff:        5 * time.Millisecond,
		Decimals:       18,
		TokenSymbol:    "ETH",
		DashboardURL:   "https://tipdrop.app/dashboard",
		DefaultChannel: "telegram",
	}
}

func linkRecipient(t *testing.T, store identity.Store, ref string) {
	t.Helper()
	if err := store.Upsert(context.Background(), identity.Canonical(recipientAddr.Hex()), ref); err != nil {
		t.Fatalf("linking recipient: %v", err)
	}
}

func TestUnlinkedRecipientIsNeverSent(t *testing.T) {
	store := identity.NewMemoryStore()
	notifier := &fakeNotifier{}
	p := NewPipeline(store, notifier, testOptions(), zerolog.Nop())

	p.HandleBatch(context.Background(), []chain.DonationEvent{donation("1000000000000000000")})
	if !p.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	if notifier.callCount() != 0 {
		t.Errorf("expected zero send attempts, got %d", notifier.callCount())
	}
}

func TestLinkedRecipientGetsExactlyOneSend(t *testing.T) {
	store := identity.NewMemoryStore()
	linkRecipient(t, store, "telegram:42")
	notifier := &fakeNotifier{}
	p := NewPipeline(store, notifier, testOptions(), zerolog.Nop())

	p.HandleBatch(context.Background(), []chain.DonationEvent{donation("5000000000000000000")})
	if !p.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	if notifier.deliveredCount() != 1 {
		t.Fatalf("expected 1 delivery, got %d", notifier.deliveredCount())
	}
	got := notifier.delivered[0]
	if got.Channel != "telegram" || got.ChatID != "42" {
		t.Errorf("routed to %s:%s, want telegram:42", got.Channel, got.ChatID)
	}
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	store := identity.NewMemoryStore()
	linkRecipient(t, store, "telegram:42")
	notifier := &fakeNotifier{failFirst: 2}
	p := NewPipeline(store, notifier, testOptions(), zerolog.Nop())

	p.HandleBatch(context.Background(), []chain.DonationEvent{donation("1000000000000000000")})
	if !p.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	if notifier.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", notifier.callCount())
	}
	if notifier.deliveredCount() != 1 {
		t.Errorf("expected 1 delivery, got %d", notifier.deliveredCount())
	}
}

func TestRetryExhaustionDoesNotStopPipeline(t *testing.T) {
	store := identity.NewMemoryStore()
	linkRecipient(t, store, "telegram:42")
	notifier := &fakeNotifier{failFirst: 3}
	p := NewPipeline(store, notifier, testOptions(), zerolog.Nop())

	p.HandleBatch(context.Background(), []chain.DonationEvent{donation("1000000000000000000")})
	if !p.Drain(time.Second) {
		t.Fatal("drain timed out")
	}
	if notifier.callCount() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", notifier.callCount())
	}
	if notifier.deliveredCount() != 0 {
		t.Errorf("expected no deliveries, got %d", notifier.deliveredCount())
	}

	// A later event still goes through.
	p.HandleBatch(context.Background(), []chain.DonationEvent{donation("2000000000000000000")})
	if !p.Drain(time.Second) {
		t.Fatal("drain timed out")
	}
	if notifier.deliveredCount() != 1 {
		t.Errorf("pipeline did not recover: %d deliveries", notifier.deliveredCount())
	}
}

func TestRetriesAreSpacedByBackoff(t *testing.T) {
	store := identity.NewMemoryStore()
	linkRecipient(t, store, "telegram:42")
	notifier := &fakeNotifier{failFirst: 3}
	opts := testOptions()
	opts.Backoff = 30 * time.Millisecond
	p := NewPipeline(store, notifier, opts, zerolog.Nop())

	start := time.Now()
	p.HandleBatch(context.Background(), []chain.DonationEvent{donation("1000000000000000000")})
	if !p.Drain(2 * time.Second) {
		t.Fatal("drain timed out")
	}

	// Two backoff intervals between three attempts.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("attempts not spaced by backoff: finished in %v", elapsed)
	}
}

func TestDuplicateEventsAreDeliveredTwice(t *testing.T) {
	// The relay deliberately does not deduplicate: the subscription is
	// at-least-once and a duplicate must produce a second notification.
	store := identity.NewMemoryStore()
	linkRecipient(t, store, "telegram:42")
	notifier := &fakeNotifier{}
	p := NewPipeline(store, notifier, testOptions(), zerolog.Nop())

	ev := donation("1000000000000000000")
	p.HandleBatch(context.Background(), []chain.DonationEvent{ev, ev})
	if !p.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	if notifier.deliveredCount() != 2 {
		t.Errorf("expected 2 independent deliveries, got %d", notifier.deliveredCount())
	}
}

func TestStoreOutageDropsWithoutRetry(t *testing.T) {
	notifier := &fakeNotifier{}
	p := NewPipeline(failingStore{}, notifier, testOptions(), zerolog.Nop())

	p.HandleBatch(context.Background(), []chain.DonationEvent{donation("1000000000000000000")})
	if !p.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	if notifier.callCount() != 0 {
		t.Errorf("expected no send attempts on lookup failure, got %d", notifier.callCount())
	}
}

func TestDrainAbandonsStragglers(t *testing.T) {
	store := identity.NewMemoryStore()
	linkRecipient(t, store, "telegram:42")
	block := make(chan struct{})
	notifier := &fakeNotifier{block: block}
	p := NewPipeline(store, notifier, testOptions(), zerolog.Nop())

	p.HandleBatch(context.Background(), []chain.DonationEvent{donation("1000000000000000000")})

	if p.Drain(30 * time.Millisecond) {
		t.Error("expected drain to time out while send is blocked")
	}

	close(block)
	if !p.Drain(time.Second) {
		t.Error("expected drain to finish once send unblocked")
	}
}

func TestSplitRefFallsBackToDefaultChannel(t *testing.T) {
	p := NewPipeline(identity.NewMemoryStore(), &fakeNotifier{}, testOptions(), zerolog.Nop())

	channel, chatID := p.splitRef("discord:chan-7")
	if channel != "discord" || chatID != "chan-7" {
		t.Errorf("got %s/%s, want discord/chan-7", channel, chatID)
	}

	channel, chatID = p.splitRef("12345")
	if channel != "telegram" || chatID != "12345" {
		t.Errorf("bare ref: got %s/%s, want telegram/12345", channel, chatID)
	}
}

func TestShutdownAbandonsPendingRetry(t *testing.T) {
	store := identity.NewMemoryStore()
	linkRecipient(t, store, "telegram:42")
	notifier := &fakeNotifier{failFirst: 3}
	opts := testOptions()
	opts.Backoff = time.Hour // retry wait must be cut short by ctx
	p := NewPipeline(store, notifier, opts, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	p.HandleBatch(ctx, []chain.DonationEvent{donation("1000000000000000000")})

	// Let the first attempt fail, then cancel.
	deadline := time.Now().Add(time.Second)
	for notifier.callCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if !p.Drain(time.Second) {
		t.Fatal("drain timed out; retry wait ignored cancellation")
	}
	if notifier.callCount() != 1 {
		t.Errorf("expected a single attempt before shutdown, got %d", notifier.callCount())
	}
}

func TestZeroDecimalTokenIsNotCoerced(t *testing.T) {
	store := identity.NewMemoryStore()
	linkRecipient(t, store, "telegram:42")
	notifier := &fakeNotifier{}

	opts := testOptions()
	opts.Decimals = 0 // whole-unit token, amounts are not wei-scaled
	p := NewPipeline(store, notifier, opts, zerolog.Nop())

	p.HandleBatch(context.Background(), []chain.DonationEvent{donation("7")})
	if !p.Drain(time.Second) {
		t.Fatal("drain timed out")
	}

	if notifier.deliveredCount() != 1 {
		t.Fatalf("delivered = %d, want 1", notifier.deliveredCount())
	}
	if got := notifier.delivered[0].Content; !strings.Contains(got, "7.00 ETH") {
		t.Errorf("notification %q should show the whole-unit amount 7.00", got)
	}
}
