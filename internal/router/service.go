// Package router wires every component into the Router Service (§4.H):
// the process-wide supervisor that owns startup ordering, concurrent
// execution of all Copy Traders, Reconcilers and the Control API, and
// a bounded graceful shutdown.
package router

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"copytrader/config"
	"copytrader/internal/adapters/mapstore"
	"copytrader/internal/adapters/poolclient"
	"copytrader/internal/breaker"
	"copytrader/internal/controlapi"
	"copytrader/internal/copytrader"
	"copytrader/internal/ports"
	"copytrader/internal/reconciler"
	"copytrader/internal/routing"
	"copytrader/internal/telemetry"
)

// Service is the constructed, runnable Router Service: Pool Client,
// Mapping Store, Routing Provider, one Trader per source account, one
// Reconciler per route, and the Control API.
type Service struct {
	cfg Config

	logger   ports.Logger
	notifier ports.Notifier
	breaker  *breaker.Breaker
	pool     ports.PoolClient
	store    ports.MappingStore
	routes   ports.RouteProvider
	watcher  *routing.Provider
	control  *controlapi.Server

	mu      sync.RWMutex
	traders []*copytrader.Trader
	recons  []*reconciler.Reconciler
}

// Config bundles everything Build needs: the loaded app config plus a
// logger, since the logger is constructed before config validation can
// even be logged about.
type Config struct {
	App    *config.Config
	Logger ports.Logger
}

// Build performs the Router Service's startup sequence (§4.H): pool
// client with breaker state, mapping store, routing config (validated
// through the pool client), one Copy Trader per source account, one
// Reconciler per route, the Control API, and the pool reconnection
// callback. Mappings are not preloaded into the store's cache; they are
// read from the store on first use. It fails loudly if any step before
// the reconnection callback cannot complete; a failed callback
// registration is only logged.
func Build(ctx context.Context, cfg Config) (*Service, error) {
	s := &Service{cfg: cfg, logger: cfg.Logger}

	notifier, err := buildNotifier(cfg.App, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("build notifier: %w", err)
	}
	s.notifier = notifier

	s.breaker = breaker.New()

	pool, err := poolclient.New(poolclient.Config{
		BaseURL:  cfg.App.PoolAPIURL,
		Logger:   cfg.Logger,
		Notifier: notifier,
		Breaker:  s.breaker,
		Timeout:  cfg.App.PoolAPITimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build pool client: %w", err)
	}
	s.pool = pool

	store, err := buildStore(cfg.App, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("build mapping store: %w", err)
	}
	s.store = store

	routeProvider, err := routing.New(ctx, routing.Config{
		Path:   cfg.App.RoutingConfigPath,
		Pool:   pool,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build routing config: %w", err)
	}
	s.routes = routeProvider
	s.watcher = routeProvider

	for _, sourceAccountID := range routeProvider.SourceAccountIDs() {
		routes := routeProvider.RoutesFor(sourceAccountID)

		var sourceRegion string
		if len(routes) > 0 {
			sourceRegion = routes[0].SourceRegion
		}

		trader := copytrader.New(copytrader.Config{
			SourceAccountID: sourceAccountID,
			SourceRegion:    sourceRegion,
			Pool:            pool,
			Routes:          routeProvider,
			Store:           store,
			Notifier:        notifier,
			Logger:          cfg.Logger,
		})
		s.traders = append(s.traders, trader)

		for _, route := range routes {
			s.recons = append(s.recons, reconciler.New(reconciler.Config{
				Route:        route,
				SourceRegion: route.SourceRegion,
				Pool:         pool,
				Store:        store,
				Logger:       cfg.Logger,
				Notifier:     notifier,
				Interval:     cfg.App.ReconcilerInterval,
				OrphanGrace:  cfg.App.OrphanGrace,
			}))
		}
	}

	s.control = controlapi.New(controlapi.Config{
		Port:    cfg.App.ControlAPIPort,
		Pool:    pool,
		Store:   store,
		Breaker: s.breaker,
		Logger:  cfg.Logger,
		Traders: s.Traders,
	})

	if err := pool.RegisterReconnectionCallback(ctx, s.onPoolReconnect); err != nil {
		cfg.Logger.Warn(ctx, "pool client does not support reconnection callbacks, skipping", map[string]interface{}{"error": err.Error()})
	}

	return s, nil
}

// Traders returns the live Trader set, used by the Control API's
// /health and /stats routes.
func (s *Service) Traders() []*copytrader.Trader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*copytrader.Trader, len(s.traders))
	copy(out, s.traders)
	return out
}

// onPoolReconnect is invoked when the pool service announces a broker
// resync (§4.H step 7). It forces an immediate snapshot fetch on every
// Trader instead of waiting for the next tick.
func (s *Service) onPoolReconnect() {
	s.logger.Info(context.Background(), "pool service announced a reconnection/resync, kicking traders", nil)
	for _, trader := range s.Traders() {
		trader.Kick()
	}
}

// Run starts every Trader, every Reconciler and the Control API
// concurrently, and blocks until ctx is canceled (typically by an OS
// signal) or any one of them returns a fatal error (§4.H shutdown).
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-reloadCh:
				s.logger.Info(ctx, "SIGHUP received, reloading routing config", nil)
				s.watcher.TriggerReload(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.watcher.Watch(gctx)
		return nil
	})

	for _, trader := range s.traders {
		trader := trader
		g.Go(func() error {
			trader.Run(gctx)
			return nil
		})
	}
	for _, recon := range s.recons {
		recon := recon
		g.Go(func() error {
			recon.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return s.control.Run(gctx)
	})

	err := g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.App.ShutdownTimeout)
	defer shutdownCancel()
	s.drain(shutdownCtx)

	return err
}

// drain waits out the bounded shutdown deadline named in §4.H so
// in-flight executeTrade/closePosition calls have a chance to finish
// before the process exits. Traders and Reconcilers already stopped
// issuing new work when ctx was canceled; this just gives in-flight
// retry.Do calls room to land.
func (s *Service) drain(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(50 * time.Millisecond):
	}
	s.logger.Info(context.Background(), "router service drained, shutting down", nil)
}

func buildNotifier(cfg *config.Config, logger ports.Logger) (ports.Notifier, error) {
	if cfg.TelegramBotToken == "" {
		return telemetry.NullNotifier{}, nil
	}
	return telemetry.New(telemetry.Config{
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
		Logger:   logger,
	})
}

func buildStore(cfg *config.Config, logger ports.Logger) (ports.MappingStore, error) {
	if strings.EqualFold(cfg.MappingStoreURL, "memory") {
		return mapstore.NewMemStore(), nil
	}

	addr := cfg.MappingStoreURL
	addr = strings.TrimPrefix(addr, "redis://")
	return mapstore.New(mapstore.Config{
		Addr:   addr,
		Logger: logger,
	})
}
