// Package reconciler implements the Orphan Reconciler (§4.G): a
// recurring batch job, one instance per route: load inputs, do the
// work, log each action taken, driven by a time.Ticker.
package reconciler

import (
	"context"
	"time"

	"copytrader/internal/copytrader"
	"copytrader/internal/domain"
	"copytrader/internal/ports"
)

// DefaultInterval is the reconciler's scan cadence (§4.G).
const DefaultInterval = 60 * time.Second

// DefaultOrphanGrace is the minimum gap between the first and confirming
// sighting of an orphan candidate (§4.G step 3).
const DefaultOrphanGrace = 30 * time.Second

// Config holds construction parameters for Reconciler.
type Config struct {
	Route        domain.Route
	SourceRegion string
	Pool         ports.PoolClient
	Store        ports.MappingStore
	Logger       ports.Logger
	Notifier     ports.Notifier
	Interval     time.Duration
	OrphanGrace  time.Duration
}

// Reconciler scans one route's destination positions for orphans and
// re-drives stuck closes. It never opens positions (§4.G).
type Reconciler struct {
	cfg Config

	// candidateSince tracks when a destination position id was first
	// seen unreferenced by any mapping, so a confirming scan at least
	// OrphanGrace later can tell a real orphan from a race with an
	// in-flight open.
	candidateSince map[string]time.Time
}

// New constructs a Reconciler for one route.
func New(cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = DefaultOrphanGrace
	}
	return &Reconciler{cfg: cfg, candidateSince: make(map[string]time.Time)}
}

// Run drives the scan loop until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.safeScan(ctx)
		}
	}
}

func (r *Reconciler) safeScan(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.cfg.Logger.Error(ctx, recoverErr(rec), "orphan reconciler scan panicked, skipping", map[string]interface{}{
				"sourceAccountId": r.cfg.Route.SourceAccountID, "destAccountId": r.cfg.Route.Destination.AccountID,
			})
		}
	}()
	r.scan(ctx)
}

// scan implements §4.G steps 1-4 for this route.
func (r *Reconciler) scan(ctx context.Context) {
	route := r.cfg.Route

	destPositions, err := r.cfg.Pool.Positions(ctx, route.Destination.AccountID, route.Destination.Region)
	if err != nil {
		r.cfg.Logger.Warn(ctx, "reconciler scan skipped: destination positions call failed", map[string]interface{}{
			"destAccountId": route.Destination.AccountID, "error": err.Error(),
		})
		return
	}

	mappings, err := r.cfg.Store.GetAccountMappings(ctx, route.SourceAccountID)
	if err != nil {
		r.cfg.Logger.Warn(ctx, "reconciler scan skipped: getAccountMappings failed", map[string]interface{}{
			"sourceAccountId": route.SourceAccountID, "error": err.Error(),
		})
		return
	}

	routeMappings := make([]*domain.Mapping, 0, len(mappings))
	referenced := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		if m.DestAccountID != route.Destination.AccountID {
			continue
		}
		routeMappings = append(routeMappings, m)
		referenced[m.DestPositionID] = struct{}{}
	}

	r.scanForOrphans(ctx, route, destPositions, referenced)
	r.redriveStuckCloses(ctx, route, routeMappings)
}

// scanForOrphans implements §4.G steps 1-3.
func (r *Reconciler) scanForOrphans(ctx context.Context, route domain.Route, destPositions []domain.DestPosition, referenced map[string]struct{}) {
	seenThisScan := make(map[string]struct{}, len(destPositions))

	for _, d := range destPositions {
		seenThisScan[d.PositionID] = struct{}{}

		if _, healthy := referenced[d.PositionID]; healthy {
			delete(r.candidateSince, d.PositionID)
			continue
		}

		since, wasCandidate := r.candidateSince[d.PositionID]
		if !wasCandidate {
			r.candidateSince[d.PositionID] = time.Now()
			continue
		}

		if time.Since(since) < r.cfg.OrphanGrace {
			continue // not yet confirmed; could be an in-flight open racing this scan
		}

		if _, err := r.cfg.Pool.ClosePosition(ctx, route.Destination.AccountID, route.Destination.Region, d.PositionID); err != nil {
			r.cfg.Logger.Warn(ctx, "orphan close failed, will retry next scan", map[string]interface{}{
				"destAccountId": route.Destination.AccountID, "destPositionId": d.PositionID, "error": err.Error(),
			})
			continue
		}
		delete(r.candidateSince, d.PositionID)
		r.cfg.Logger.Info(ctx, "closed orphaned destination position", map[string]interface{}{
			"destAccountId": route.Destination.AccountID, "destPositionId": d.PositionID,
		})
		if r.cfg.Notifier != nil {
			r.cfg.Notifier.Notify(ctx, ports.SeverityWarning, "orphan closed",
				"destination position "+d.PositionID+" on "+route.Destination.AccountID+" had no live mapping and was closed")
		}
	}

	// A candidate that stopped appearing in destination positions
	// resolved itself (closed by someone else, or never real); drop it.
	for id := range r.candidateSince {
		if _, stillThere := seenThisScan[id]; !stillThere {
			delete(r.candidateSince, id)
		}
	}
}

// redriveStuckCloses implements §4.G step 4: any mapping whose source
// position is gone gets handed back to the exit-copy protocol.
func (r *Reconciler) redriveStuckCloses(ctx context.Context, route domain.Route, routeMappings []*domain.Mapping) {
	if len(routeMappings) == 0 {
		return
	}

	sourcePositions, err := r.cfg.Pool.Positions(ctx, route.SourceAccountID, r.cfg.SourceRegion)
	if err != nil {
		r.cfg.Logger.Warn(ctx, "reconciler redrive skipped: source positions call failed", map[string]interface{}{
			"sourceAccountId": route.SourceAccountID, "error": err.Error(),
		})
		return
	}

	live := make(map[string]struct{}, len(sourcePositions))
	for _, p := range sourcePositions {
		live[p.PositionID] = struct{}{}
	}

	for _, m := range routeMappings {
		if _, ok := live[m.SourcePositionID]; ok {
			continue
		}

		outcome := copytrader.CopyExit(ctx, r.cfg.Pool, m)
		switch outcome {
		case domain.CloseOutcomeClosed, domain.CloseOutcomeAlreadyDone:
			if err := r.cfg.Store.DeleteMapping(ctx, m.SourceAccountID, m.SourcePositionID); err != nil {
				r.cfg.Logger.Error(ctx, err, "deleteMapping failed after reconciler-driven close", map[string]interface{}{
					"sourceAccountId": m.SourceAccountID, "sourcePositionId": m.SourcePositionID,
				})
				continue
			}
			_ = r.cfg.Store.RecordClose(ctx, m.SourceAccountID, m.SourcePositionID, &domain.RecentlyClosed{
				SourceAccountID: m.SourceAccountID, SourcePositionID: m.SourcePositionID, ClosedAt: time.Now(),
				Outcome: outcome, DestAccountID: m.DestAccountID, DestPositionID: m.DestPositionID,
			})
			r.cfg.Logger.Info(ctx, "reconciler redrove a stuck close", map[string]interface{}{
				"sourceAccountId": m.SourceAccountID, "sourcePositionId": m.SourcePositionID, "outcome": string(outcome),
			})
		case domain.CloseOutcomeUnresolved:
			// Stays stuck; a later scan (or this one, next pass) tries again.
		}
	}
}

func recoverErr(v interface{}) error {
	if err, ok := v.(error); ok {
		return err
	}
	return panicValue{v}
}

type panicValue struct{ v interface{} }

func (p panicValue) Error() string {
	if s, ok := p.v.(string); ok {
		return "panic: " + s
	}
	return "panic in reconciler scan"
}
