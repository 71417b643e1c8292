package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/impactwatcher/internal/core/checkpoint"
	"github.com/vietddude/impactwatcher/internal/core/config"
	"github.com/vietddude/impactwatcher/internal/core/worker"
	"github.com/vietddude/impactwatcher/internal/indexing/emitter"
	"github.com/vietddude/impactwatcher/internal/indexing/handler"
	"github.com/vietddude/impactwatcher/internal/indexing/health"
	"github.com/vietddude/impactwatcher/internal/indexing/live"
	"github.com/vietddude/impactwatcher/internal/indexing/recovery"
	"github.com/vietddude/impactwatcher/internal/indexing/registry"
	"github.com/vietddude/impactwatcher/internal/indexing/router"
	"github.com/vietddude/impactwatcher/internal/infra/chain"
	"github.com/vietddude/impactwatcher/internal/infra/chain/evm"
	redisclient "github.com/vietddude/impactwatcher/internal/infra/redis"
	"github.com/vietddude/impactwatcher/internal/infra/rpc"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/provider"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/routing"
)

// Watcher owns the ingestion lifecycle: it seeds the registry, opens the live
// subscription, then runs recovery up to the head while live logs are applied.
type Watcher struct {
	cfg          *config.AppConfig
	backends     *Backends
	registry     *registry.Registry
	registrySync *worker.RegistrySync
	checkpoint   *checkpoint.Manager
	emitter      *emitter.AsyncEmitter
	recovery     *recovery.Coordinator
	live         *live.Manager
	healthServer *health.Server
	log          *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Options override the chain boundary, mostly for tests.
type Options struct {
	Source     chain.LogSource
	Subscriber chain.LogSubscriber
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
func NewWatcher(ctx context.Context, cfg *config.AppConfig, opts Options) (*Watcher, error) {
	backends, err := OpenBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}

	chainID := cfg.Chain.ChainID
	cp := checkpoint.NewManager(chainID, backends.Checkpoints)
	reg := registry.New()

	// RPC providers in priority order; the first is the primary endpoint
	rpcRouter := routing.NewRouter()
	for _, p := range cfg.Chain.Providers {
		rpcRouter.AddProvider(chainID, provider.NewHTTPProvider(p.Name, p.URL, cfg.Chain.RequestTimeout))
	}

	source := opts.Source
	if source == nil {
		client := rpc.NewClient(chainID, rpcRouter, routing.DefaultRetryConfig)
		source = evm.NewSource(chainID, client, cfg.Chain.MaxLogRange)
	}
	subscriber := opts.Subscriber
	if subscriber == nil {
		subscriber = evm.NewSubscriber(chainID, cfg.Chain.WSURL, nil, evm.DefaultReconnect).WithBackfill(source)
	}

	var notifier emitter.Notifier = emitter.LogNotifier{}
	if cfg.Notifications.Enabled && backends.Redis != nil {
		notifier = emitter.NewRedisNotifier(redisclient.NewPublisher(backends.Redis, cfg.Notifications.Channel))
	}
	em := emitter.NewAsyncEmitter(notifier, cfg.Notifications.QueueSize, cfg.Notifications.Workers)

	logRouter := router.New(
		common.HexToAddress(cfg.Chain.AdminContract),
		common.HexToAddress(cfg.Chain.ProtocolContract),
		reg,
	)
	dispatcher := handler.NewDispatcher(backends.Repos, reg, em, handler.Options{
		CascadeOnRemoval: cfg.Ingest.CascadeOnRemoval,
	})
	topics := logRouter.Topics()

	coordinator := recovery.NewCoordinator(recovery.Config{
		ChainID: chainID,
		Genesis: cfg.Chain.GenesisBlock,
		Topics:  topics,
		Retry:   recovery.DefaultBackoff(cfg.Ingest.RecoveryRetries),
	}, source, logRouter, dispatcher, cp)

	liveMgr := live.NewManager(live.Config{
		ChainID:    chainID,
		Topics:     topics,
		Policy:     live.FlushPolicy(cfg.Ingest.FlushPolicy),
		FlushEvery: cfg.Ingest.FlushEvery,
	}, subscriber, logRouter, dispatcher, cp)

	healthMon := health.NewMonitor(chainID, health.Components{
		Head:       chain.NewHeadCache(source, 3*time.Second),
		Checkpoint: cp,
		Recovery:   coordinator,
		Live:       liveMgr,
		Providers:  rpcRouter,
		Registry:   reg,
	})

	return &Watcher{
		cfg:          cfg,
		backends:     backends,
		registry:     reg,
		registrySync: worker.NewRegistrySync(cfg.Ingest.RegistrySyncInterval, reg, backends.Repos.Communities),
		checkpoint:   cp,
		emitter:      em,
		recovery:     coordinator,
		live:         liveMgr,
		healthServer: health.NewServer(healthMon, cfg.Server.Port),
		log:          slog.Default().With("component", "watcher", "chain", chainID),
	}, nil
}

// Start seeds the registry and opens the live subscription before recovery
// begins, so no block between the checkpoint and the head is missed. Recovery
// runs in the background; its failure leaves the checkpoint held and is
// reported through health.
func (w *Watcher) Start(ctx context.Context) error {
	n, err := w.registry.Seed(ctx, w.backends.Repos.Communities)
	if err != nil {
		return fmt.Errorf("seed registry: %w", err)
	}
	w.log.Info("Registry seeded", "communities", n)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	w.cancel = cancel
	w.group = g

	g.Go(func() error {
		if err := w.healthServer.Start(); err != nil {
			w.log.Error("Health server failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		w.registrySync.Start(gctx)
		return nil
	})
	if w.backends.DB != nil {
		w.backends.DB.StartMetricsCollector(gctx)
	}

	if err := w.live.Start(gctx); err != nil {
		cancel()
		_ = w.healthServer.Stop(context.Background())
		_ = g.Wait()
		return fmt.Errorf("start live subscription: %w", err)
	}

	g.Go(func() error {
		if err := w.recovery.Run(gctx); err != nil {
			w.log.Error("Recovery failed, checkpoint held until restart", "error", err)
		}
		return nil
	})

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping Watcher...")

	var firstErr error
	if err := w.live.Stop(ctx); err != nil {
		firstErr = err
	}
	if w.cancel != nil {
		w.cancel()
	}
	if err := w.healthServer.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if w.group != nil {
		_ = w.group.Wait()
	}
	if err := w.emitter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	w.backends.Close()
	return firstErr
}

// Checkpoint exposes the checkpoint manager for status reporting.
func (w *Watcher) Checkpoint() *checkpoint.Manager {
	return w.checkpoint
}

// Recovery exposes the recovery coordinator for status reporting.
func (w *Watcher) Recovery() *recovery.Coordinator {
	return w.recovery
}
