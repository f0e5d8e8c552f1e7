package routing

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"copytrader/internal/domain"
	"copytrader/internal/ports"
)

// Config holds construction parameters for Provider.
type Config struct {
	Path   string
	Pool   ports.PoolClient
	Logger ports.Logger
}

// Provider implements ports.RouteProvider over a YAML file, reloaded
// whenever the file changes on disk (§4.D: "hot-reloaded on a
// config-change signal"). A failed reload is rejected and the previous
// table is kept in force (§7: ConfigInvalid is "recoverable at reload").
type Provider struct {
	path    string
	pool    ports.PoolClient
	logger  ports.Logger
	current atomic.Pointer[table]
	watcher *fsnotify.Watcher
}

// New loads the routing config once, failing loudly if it cannot be
// parsed or any source or destination account is unreachable (§4.D), then starts
// watching the file for subsequent changes.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{path: cfg.Path, pool: cfg.Pool, logger: cfg.Logger}

	if err := p.reload(ctx); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(cfg.Path); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	p.watcher = watcher

	return p, nil
}

// Watch blocks, reloading the config on every write event until ctx is
// canceled. Run it in its own goroutine from the Router Service.
func (p *Provider) Watch(ctx context.Context) {
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			_ = p.watcher.Close()
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !pending {
				pending = true
				debounce.Reset(250 * time.Millisecond)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			if p.logger != nil {
				p.logger.Warn(ctx, "routing config watcher error", map[string]interface{}{"error": err.Error()})
			}
		case <-debounce.C:
			pending = false
			if err := p.reload(ctx); err != nil && p.logger != nil {
				p.logger.Warn(ctx, "routing config reload rejected, keeping previous config", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// TriggerReload forces an immediate reload, used by the Router Service's
// SIGHUP handler (§4.D: "a SIGHUP also triggers a reload") independently
// of the file watcher's own debounce.
func (p *Provider) TriggerReload(ctx context.Context) {
	if err := p.reload(ctx); err != nil && p.logger != nil {
		p.logger.Warn(ctx, "routing config reload rejected, keeping previous config", map[string]interface{}{"error": err.Error()})
	}
}

func (p *Provider) reload(ctx context.Context) error {
	schema, err := parseFile(p.path)
	if err != nil {
		return err
	}
	t, err := build(ctx, schema, p.pool)
	if err != nil {
		return err
	}
	p.current.Store(t)
	if p.logger != nil {
		p.logger.Info(ctx, "routing config loaded", map[string]interface{}{"sources": len(t.bySource)})
	}
	return nil
}

func (p *Provider) SourceAccountIDs() []string {
	t := p.current.Load()
	ids := make([]string, 0, len(t.bySource))
	for id := range t.bySource {
		ids = append(ids, id)
	}
	return ids
}

func (p *Provider) RoutesFor(sourceAccountID string) []domain.Route {
	t := p.current.Load()
	return t.bySource[sourceAccountID]
}
