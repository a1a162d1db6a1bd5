package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const (
	logBuffer      = 64
	resubscribeGap = 5 * time.Second
)

// LogSubscriber is the slice of the node client the watcher needs.
// *ethclient.Client satisfies it.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// BatchHandler receives each batch of decoded events. It must not block:
// long per-event work has to be fanned out by the handler so the
// subscription keeps draining.
type BatchHandler func(ctx context.Context, events []DonationEvent)

// Watcher maintains a live log subscription on the donation contract.
// Transport failures are reconnected internally; consumers only observe
// possible duplicate events after a reconnect.
type Watcher struct {
	client      LogSubscriber
	contract    common.Address
	contractABI abi.ABI
	eventName   string
	resubDelay  time.Duration
	closeFn     func()
	log         zerolog.Logger
}

// Dial connects to a websocket RPC endpoint and builds a watcher for the
// named event on the given contract. The watcher owns the connection; call
// Close when done with it.
func Dial(ctx context.Context, rpcURL, contractAddr, eventName string, log zerolog.Logger) (*Watcher, error) {
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddr)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain RPC: %w", err)
	}
	w, err := NewWatcher(client, common.HexToAddress(contractAddr), eventName, log)
	if err != nil {
		client.Close()
		return nil, err
	}
	w.closeFn = client.Close
	return w, nil
}

func NewWatcher(client LogSubscriber, contract common.Address, eventName string, log zerolog.Logger) (*Watcher, error) {
	contractABI, err := parseEventABI(eventName)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		client:      client,
		contract:    contract,
		contractABI: contractABI,
		eventName:   eventName,
		resubDelay:  resubscribeGap,
		log:         log.With().Str("component", "chain").Logger(),
	}, nil
}

// Close releases the RPC connection when the watcher owns one (watchers built
// over an injected client via NewWatcher do not).
func (w *Watcher) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// Subscribe starts watching and hands every batch of decoded events to
// handler. The first subscription attempt is synchronous so endpoint
// misconfiguration surfaces at startup. The returned func cancels the
// subscription; it is intended for process shutdown only.
func (w *Watcher) Subscribe(ctx context.Context, handler BatchHandler) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	logs := make(chan types.Log, logBuffer)
	sub, err := w.subscribe(ctx, logs)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s logs: %w", w.eventName, err)
	}

	go w.run(ctx, sub, logs, handler)

	return cancel, nil
}

func (w *Watcher) subscribe(ctx context.Context, logs chan<- types.Log) (ethereum.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{w.contract},
		Topics:    [][]common.Hash{{w.contractABI.Events[w.eventName].ID}},
	}
	return w.client.SubscribeFilterLogs(ctx, query, logs)
}

func (w *Watcher) run(ctx context.Context, sub ethereum.Subscription, logs chan types.Log, handler BatchHandler) {
	// Closure so the deferred call releases whichever subscription is live,
	// not the one held when the defer was registered.
	defer func() { sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("subscription stopped")
			return
		case err := <-sub.Err():
			if err != nil {
				w.log.Warn().Err(err).Msg("subscription dropped, reconnecting")
			}
			sub.Unsubscribe()
			next, ok := w.resubscribe(ctx, logs)
			if !ok {
				return
			}
			sub = next
		case lg := <-logs:
			batch := w.collect(lg, logs)
			if len(batch) > 0 {
				handler(ctx, batch)
			}
		}
	}
}

// resubscribe retries until a new subscription is live or ctx is done.
// Events confirmed while disconnected are not replayed; events delivered
// shortly before the drop may arrive again.
func (w *Watcher) resubscribe(ctx context.Context, logs chan types.Log) (ethereum.Subscription, bool) {
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(w.resubDelay):
		}

		sub, err := w.subscribe(ctx, logs)
		if err != nil {
			w.log.Warn().Err(err).Msg("resubscribe failed, retrying")
			continue
		}
		w.log.Info().Msg("subscription restored")
		return sub, true
	}
}

// collect decodes the first log and opportunistically drains whatever else
// is already buffered into the same batch.
func (w *Watcher) collect(first types.Log, logs chan types.Log) []DonationEvent {
	batch := make([]DonationEvent, 0, 1)
	if ev, ok := w.decode(first); ok {
		batch = append(batch, ev)
	}
	for {
		select {
		case lg := <-logs:
			if ev, ok := w.decode(lg); ok {
				batch = append(batch, ev)
			}
		default:
			return batch
		}
	}
}

func (w *Watcher) decode(lg types.Log) (DonationEvent, bool) {
	if lg.Removed {
		// Reorged-out log; the node marks it removed rather than
		// retracting it. Skip, relying on upstream finality.
		w.log.Debug().Str("tx", lg.TxHash.Hex()).Msg("skipping removed log")
		return DonationEvent{}, false
	}
	ev, err := decodeLog(w.contractABI, w.eventName, lg)
	if err != nil {
		w.log.Warn().Err(err).Str("tx", lg.TxHash.Hex()).Msg("undecodable log skipped")
		return DonationEvent{}, false
	}
	return ev, true
}
