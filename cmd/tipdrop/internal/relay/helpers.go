package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/tipdrop/tipdrop/cmd/tipdrop/internal"
	"github.com/tipdrop/tipdrop/pkg/bus"
	"github.com/tipdrop/tipdrop/pkg/chain"
	"github.com/tipdrop/tipdrop/pkg/channels"
	"github.com/tipdrop/tipdrop/pkg/health"
	"github.com/tipdrop/tipdrop/pkg/identity"
	"github.com/tipdrop/tipdrop/pkg/linking"
	"github.com/tipdrop/tipdrop/pkg/logger"
	relaypkg "github.com/tipdrop/tipdrop/pkg/relay"
)

func relayCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	appEnv := cfg.AppEnv
	if debug {
		appEnv = "development"
		fmt.Println("🔍 Debug mode enabled")
	}
	log := logger.New(appEnv)

	// Identity store: redis when configured, in-memory otherwise.
	var store identity.Store
	var redisStore *identity.RedisStore
	if cfg.Identity.RedisURL != "" {
		redisStore, err = identity.NewRedisStore(cfg.Identity.RedisURL, cfg.Identity.KeyPrefix)
		if err != nil {
			return fmt.Errorf("error connecting to redis: %w", err)
		}
		store = redisStore
		fmt.Println("✓ Identity store: redis")
	} else {
		store = identity.NewMemoryStore()
		fmt.Println("⚠ Identity store: in-memory (links are lost on restart)")
	}

	msgBus := bus.NewMessageBus()

	channelManager, err := channels.NewManager(cfg, msgBus, log)
	if err != nil {
		return fmt.Errorf("error creating channel manager: %w", err)
	}

	enabledChannels := channelManager.GetEnabledChannels()
	if enabledChannels != "" {
		fmt.Printf("✓ Channels enabled: %s\n", enabledChannels)
	} else {
		fmt.Println("⚠ Warning: No channels enabled")
	}

	pipeline := relaypkg.NewPipeline(store, channelManager, relaypkg.Options{
		MaxAttempts:    cfg.Relay.MaxAttempts,
		Backoff:        time.Duration(cfg.Relay.RetryBackoffSeconds) * time.Second,
		Decimals:       cfg.Chain.Decimals,
		TokenSymbol:    cfg.Relay.TokenSymbol,
		DashboardURL:   cfg.Relay.DashboardURL,
		DefaultChannel: cfg.Relay.DefaultChannel,
	}, log)

	linkHandler := linking.NewHandler(store, msgBus, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	watcher, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ContractAddress, cfg.Chain.EventName, log)
	if err != nil {
		return fmt.Errorf("error connecting to chain rpc: %w", err)
	}
	defer watcher.Close()

	// Watcher gets its own context so we can stop event intake before the
	// rest of the shutdown sequence.
	watchCtx, stopWatcher := context.WithCancel(ctx)
	defer stopWatcher()

	// Deliveries run under a context that survives the signal: a SIGINT must
	// stop event intake but leave in-flight retries the grace window. Cancelled
	// only after Drain.
	deliveryCtx, cancelDelivery := context.WithCancel(context.Background())
	defer cancelDelivery()

	unsubscribe, err := watcher.Subscribe(watchCtx, newBatchHandler(deliveryCtx, pipeline))
	if err != nil {
		return fmt.Errorf("error subscribing to %s events: %w", cfg.Chain.EventName, err)
	}
	fmt.Printf("✓ Watching %s events on %s\n", cfg.Chain.EventName, cfg.Chain.ContractAddress)

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
	}

	go linkHandler.Run(ctx)
	go channelManager.DispatchNotifications(ctx)

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	go func() {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()
	healthServer.SetReady(true)
	fmt.Printf("✓ Health endpoints available at http://%s:%d/health and /ready\n", cfg.Gateway.Host, cfg.Gateway.Port)

	fmt.Println("✓ Relay started")
	fmt.Println("Press Ctrl+C to stop")

	<-ctx.Done()

	fmt.Println("\nShutting down...")
	healthServer.SetReady(false)

	// Stop taking new events first, then give in-flight deliveries a bounded
	// window to finish. Their context is cancelled only after the window so
	// pending retries can still go out.
	stopWatcher()
	unsubscribe()

	grace := time.Duration(cfg.Relay.ShutdownGraceSeconds) * time.Second
	if pipeline.Drain(grace) {
		fmt.Println("✓ In-flight deliveries finished")
	} else {
		fmt.Printf("⚠ Abandoned in-flight deliveries after %s\n", grace)
	}
	cancelDelivery()

	channelManager.StopAll(context.Background())
	msgBus.Close()
	_ = healthServer.Stop(context.Background())
	if redisStore != nil {
		_ = redisStore.Close()
	}
	fmt.Println("✓ Relay stopped")

	return nil
}

// newBatchHandler binds the pipeline to the delivery context. The watcher's
// subscription context is dropped on purpose: it dies with the signal, while
// deliveries must keep running until the drain window has passed.
func newBatchHandler(deliveryCtx context.Context, pipeline *relaypkg.Pipeline) chain.BatchHandler {
	return func(_ context.Context, events []chain.DonationEvent) {
		pipeline.HandleBatch(deliveryCtx, events)
	}
}
