// Package copytrader implements the Copy Trader (§4.F): one state
// machine per source account, driving open/close/modify replication
// across every destination route fanned out from it.
package copytrader

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"copytrader/internal/domain"
	"copytrader/internal/ports"
	"copytrader/internal/retry"
	"copytrader/internal/sizing"
)

// DefaultTickInterval is the observation cadence named in §4.F.2.
const DefaultTickInterval = 2 * time.Second

// DefaultAlertCooldown rate-limits "stuck mapping" alerts per mapping,
// mirroring the breaker's own alert cooldown (§4.F.5, §7).
const DefaultAlertCooldown = 5 * time.Minute

// Config holds construction parameters for Trader.
type Config struct {
	SourceAccountID string
	SourceRegion    string
	Pool            ports.PoolClient
	Routes          ports.RouteProvider
	Store           ports.MappingStore
	Notifier        ports.Notifier
	Logger          ports.Logger
	TickInterval    time.Duration
}

// Trader is the single-writer loop for one source account (§4.F.1): all
// mapping mutations for its positions happen on this one goroutine, so
// no two state transitions for the same source position ever race.
type Trader struct {
	cfg Config

	mu           sync.Mutex
	lastSnapshot map[string]domain.SourcePosition // sourcePositionId -> position
	lastAlertAt  map[string]time.Time             // mapping key -> last stuck-mapping alert

	counters Stats

	// kick carries force-tick requests from the Router Service's pool
	// reconnection callback (§4.H step 7). Capacity 1 with a non-blocking
	// send: a reconnect announced while one is already pending just
	// coalesces into the same forced tick.
	kick chan struct{}
}

// Stats is the per-source-account counter set backing the Control API's
// /stats route (§4.I). Fields are incremented with atomic adds so the
// Control API's read can run concurrently with the trading loop.
type Stats struct {
	Opens   int64
	Closes  int64
	Skips   int64
	Retries int64
}

// New constructs a Trader. Mapping state is rehydrated lazily: the
// store, not an in-memory cache, is the source of truth on restart
// (§4.F.7 "all mappings are OPEN until the next snapshot refutes them").
func New(cfg Config) *Trader {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Trader{
		cfg:          cfg,
		lastSnapshot: make(map[string]domain.SourcePosition),
		lastAlertAt:  make(map[string]time.Time),
		kick:         make(chan struct{}, 1),
	}
}

// Kick forces an immediate snapshot fetch instead of waiting for the
// next tick (§4.H step 7: "when the pool announces a resync, trigger an
// immediate snapshot fetch on all Copy Traders"). Safe to call from any
// goroutine; never blocks.
func (t *Trader) Kick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// SourceAccountID returns the account this Trader observes.
func (t *Trader) SourceAccountID() string { return t.cfg.SourceAccountID }

// Stats returns a snapshot of this Trader's counters.
func (t *Trader) Stats() Stats {
	return Stats{
		Opens:   atomic.LoadInt64(&t.counters.Opens),
		Closes:  atomic.LoadInt64(&t.counters.Closes),
		Skips:   atomic.LoadInt64(&t.counters.Skips),
		Retries: atomic.LoadInt64(&t.counters.Retries),
	}
}

// Run drives the observation loop until ctx is canceled. A panic inside
// one tick must never take down the Router Service (§7): Run recovers
// and logs rather than propagating.
func (t *Trader) Run(ctx context.Context) {
	jitter := time.Duration(rand.Int63n(int64(t.cfg.TickInterval)))
	timer := time.NewTimer(jitter)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			t.safeTick(ctx)
			timer.Reset(t.cfg.TickInterval)
		case <-t.kick:
			t.safeTick(ctx)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(t.cfg.TickInterval)
		}
	}
}

func (t *Trader) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.cfg.Logger.Error(ctx, recoverErr(r), "copy trader tick panicked, skipping", map[string]interface{}{
				"sourceAccountId": t.cfg.SourceAccountID,
			})
		}
	}()
	t.tick(ctx)
}

// tick is one observation cycle (§4.F.2). Go's time.Timer/Ticker never
// buffers more than one pending fire, so an overrunning tick naturally
// coalesces the next one instead of queuing unboundedly (§5 backpressure).
func (t *Trader) tick(ctx context.Context) {
	snapshot, err := t.cfg.Pool.Positions(ctx, t.cfg.SourceAccountID, t.cfg.SourceRegion)
	if err != nil {
		// TransportFailed: skip this tick entirely. Never treat as "no positions".
		t.cfg.Logger.Warn(ctx, "observation tick skipped: positions call failed", map[string]interface{}{
			"sourceAccountId": t.cfg.SourceAccountID, "error": err.Error(),
		})
		return
	}

	current := make(map[string]domain.SourcePosition, len(snapshot))
	for _, p := range snapshot {
		current[p.PositionID] = toSourcePosition(t.cfg.SourceAccountID, p)
	}

	t.mu.Lock()
	previous := t.lastSnapshot
	t.mu.Unlock()

	appeared, disappeared, modified := diff(previous, current)

	routes := t.cfg.Routes.RoutesFor(t.cfg.SourceAccountID)

	for _, posID := range appeared {
		pos := current[posID]
		for i := range routes {
			t.copyOpen(ctx, &routes[i], &pos)
		}
	}
	for _, posID := range disappeared {
		t.copyClose(ctx, posID)
	}
	for _, posID := range modified {
		pos := current[posID]
		for i := range routes {
			t.copyModify(ctx, &routes[i], &pos)
		}
	}

	t.mu.Lock()
	t.lastSnapshot = current
	t.mu.Unlock()
}

func toSourcePosition(accountID string, p domain.DestPosition) domain.SourcePosition {
	return domain.SourcePosition{
		AccountID:  accountID,
		PositionID: p.PositionID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Volume:     p.Volume,
		OpenPrice:  p.OpenPrice,
		OpenTime:   p.OpenTime,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		PNL:        p.PNL,
	}
}

// diff computes appeared/disappeared/modified position ids per §4.F.2.
func diff(previous, current map[string]domain.SourcePosition) (appeared, disappeared, modified []string) {
	for id := range current {
		if _, ok := previous[id]; !ok {
			appeared = append(appeared, id)
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			disappeared = append(disappeared, id)
		}
	}
	for id, now := range current {
		if before, ok := previous[id]; ok && stopsChanged(before, now) {
			modified = append(modified, id)
		}
	}
	return appeared, disappeared, modified
}

func stopsChanged(before, now domain.SourcePosition) bool {
	return !decimalPtrEqual(before.StopLoss, now.StopLoss) || !decimalPtrEqual(before.TakeProfit, now.TakeProfit)
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// copyOpen implements §4.F.3.
func (t *Trader) copyOpen(ctx context.Context, route *domain.Route, pos *domain.SourcePosition) {
	existing, err := t.cfg.Store.GetMapping(ctx, t.cfg.SourceAccountID, pos.PositionID)
	if err != nil {
		t.cfg.Logger.Warn(ctx, "getMapping failed during open replication, skipping this route this tick", map[string]interface{}{
			"sourceAccountId": t.cfg.SourceAccountID, "sourcePositionId": pos.PositionID, "error": err.Error(),
		})
		return
	}
	if existing != nil {
		return // already processed (idempotency, step 1)
	}

	recentlyClosed, err := t.cfg.Store.WasRecentlyClosed(ctx, t.cfg.SourceAccountID, pos.PositionID)
	if err != nil {
		t.cfg.Logger.Warn(ctx, "wasRecentlyClosed failed during open replication", map[string]interface{}{
			"sourceAccountId": t.cfg.SourceAccountID, "sourcePositionId": pos.PositionID, "error": err.Error(),
		})
		return
	}
	if recentlyClosed {
		return // the close raced the open observation (§8.5, E6)
	}

	sizingCtx := t.buildSizingContext(ctx, route, pos)
	action := sizing.Decide(pos, route, sizingCtx)
	if action.Kind == domain.ActionSkip {
		atomic.AddInt64(&t.counters.Skips, 1)
		t.cfg.Logger.Debug(ctx, "skipping open", map[string]interface{}{
			"sourceAccountId": t.cfg.SourceAccountID, "sourcePositionId": pos.PositionID,
			"destAccountId": route.Destination.AccountID, "reason": action.SkipReason,
		})
		return
	}

	tag := clientTag(t.cfg.SourceAccountID, pos.PositionID, route.Destination.AccountID)

	var result *ports.ExecuteResult
	succeeded := retry.Do(ctx, replicationPolicy(), func(ctx context.Context, attempt int, isLast bool) retry.Outcome {
		res, err := t.cfg.Pool.ExecuteTrade(ctx, route.Destination.AccountID, route.Destination.Region, action.Symbol, action.Side, action.Volume, action.StopLoss, action.TakeProfit, tag)
		if err == nil {
			result = res
			return retry.Done
		}
		if isBrokerRejection(err) {
			t.cfg.Logger.Warn(ctx, "open replication rejected by broker, not retrying", map[string]interface{}{
				"sourceAccountId": t.cfg.SourceAccountID, "sourcePositionId": pos.PositionID, "error": err.Error(),
			})
			return retry.Abort
		}
		atomic.AddInt64(&t.counters.Retries, 1)
		return retry.Retry
	})

	if !succeeded {
		t.cfg.Logger.Warn(ctx, "open replication failed after retries, will reconsider next tick", map[string]interface{}{
			"sourceAccountId": t.cfg.SourceAccountID, "sourcePositionId": pos.PositionID, "destAccountId": route.Destination.AccountID,
		})
		return
	}

	mapping := &domain.Mapping{
		SourceAccountID:  t.cfg.SourceAccountID,
		SourcePositionID: pos.PositionID,
		DestAccountID:    route.Destination.AccountID,
		DestRegion:       route.Destination.Region,
		DestPositionID:   result.PositionID,
		SourceSymbol:     pos.Symbol,
		DestSymbol:       action.Symbol,
		SourceVolume:     pos.Volume,
		DestVolume:       action.Volume,
		SourceOpenPrice:  pos.OpenPrice,
		DestOpenPrice:    result.OpenPrice,
		OpenTime:         pos.OpenTime,
		MappedAt:         time.Now(),
		State:            domain.StateOpen,
	}
	if err := t.cfg.Store.CreateMapping(ctx, t.cfg.SourceAccountID, pos.PositionID, mapping); err != nil {
		t.cfg.Logger.Error(ctx, err, "createMapping failed after successful executeTrade; destination position is now an orphan candidate", map[string]interface{}{
			"sourceAccountId": t.cfg.SourceAccountID, "sourcePositionId": pos.PositionID, "destPositionId": result.PositionID,
		})
		return
	}
	atomic.AddInt64(&t.counters.Opens, 1)
	t.cfg.Logger.Info(ctx, "opened destination position", map[string]interface{}{
		"sourceAccountId": t.cfg.SourceAccountID, "sourcePositionId": pos.PositionID,
		"destAccountId": route.Destination.AccountID, "destPositionId": result.PositionID, "volume": action.Volume.String(),
	})
}

// copyClose implements §4.F.4: look up the mapping, run copyExit, and
// resolve the mapping's lifetime based on the outcome.
func (t *Trader) copyClose(ctx context.Context, sourcePositionID string) {
	mapping, err := t.cfg.Store.GetMapping(ctx, t.cfg.SourceAccountID, sourcePositionID)
	if err != nil {
		t.cfg.Logger.Warn(ctx, "getMapping failed during close replication", map[string]interface{}{
			"sourceAccountId": t.cfg.SourceAccountID, "sourcePositionId": sourcePositionID, "error": err.Error(),
		})
		return
	}
	if mapping == nil {
		return // never copied, or already processed
	}

	outcome := CopyExit(ctx, t.cfg.Pool, mapping)

	switch outcome {
	case domain.CloseOutcomeClosed, domain.CloseOutcomeAlreadyDone:
		atomic.AddInt64(&t.counters.Closes, 1)
		if err := t.cfg.Store.DeleteMapping(ctx, t.cfg.SourceAccountID, sourcePositionID); err != nil {
			t.cfg.Logger.Error(ctx, err, "deleteMapping failed after successful close", map[string]interface{}{
				"sourceAccountId": t.cfg.SourceAccountID, "sourcePositionId": sourcePositionID,
			})
		}
		if err := t.cfg.Store.RecordClose(ctx, t.cfg.SourceAccountID, sourcePositionID, &domain.RecentlyClosed{
			SourceAccountID: t.cfg.SourceAccountID, SourcePositionID: sourcePositionID, ClosedAt: time.Now(),
			Outcome: outcome, DestAccountID: mapping.DestAccountID, DestPositionID: mapping.DestPositionID,
		}); err != nil {
			t.cfg.Logger.Warn(ctx, "recordClose failed", map[string]interface{}{"error": err.Error()})
		}
		t.cfg.Logger.Info(ctx, "closed destination position", map[string]interface{}{
			"sourceAccountId": t.cfg.SourceAccountID, "sourcePositionId": sourcePositionID, "outcome": string(outcome),
		})
	case domain.CloseOutcomeUnresolved:
		// Mapping stays; the orphan reconciler revisits it (§4.F.5, §4.G).
		t.alertStuckMapping(ctx, mapping)
	}
}

// copyModify implements §4.F.6: best-effort, no retry on this cadence.
func (t *Trader) copyModify(ctx context.Context, route *domain.Route, pos *domain.SourcePosition) {
	if !route.Destination.MirrorStops {
		return
	}
	mapping, err := t.cfg.Store.GetMapping(ctx, t.cfg.SourceAccountID, pos.PositionID)
	if err != nil || mapping == nil || mapping.DestAccountID != route.Destination.AccountID {
		return
	}
	if err := t.cfg.Pool.ModifyPosition(ctx, mapping.DestAccountID, mapping.DestRegion, mapping.DestPositionID, pos.StopLoss, pos.TakeProfit); err != nil {
		t.cfg.Logger.Warn(ctx, "modify replication failed, will retry on next modification or reconciliation", map[string]interface{}{
			"sourceAccountId": t.cfg.SourceAccountID, "sourcePositionId": pos.PositionID, "error": err.Error(),
		})
	}
}

func (t *Trader) alertStuckMapping(ctx context.Context, mapping *domain.Mapping) {
	key := mapping.SourceAccountID + "/" + mapping.SourcePositionID
	now := time.Now()

	t.mu.Lock()
	last, seen := t.lastAlertAt[key]
	shouldAlert := !seen || now.Sub(last) >= DefaultAlertCooldown
	if shouldAlert {
		t.lastAlertAt[key] = now
	}
	t.mu.Unlock()

	if shouldAlert && t.cfg.Notifier != nil {
		t.cfg.Notifier.Notify(ctx, ports.SeverityWarning, "stuck mapping",
			"close could not be confirmed for "+mapping.SourceAccountID+"/"+mapping.SourcePositionID+" -> "+mapping.DestAccountID+"/"+mapping.DestPositionID)
	}
}

// buildSizingContext resolves the live inputs sizing.Decide needs beyond
// the trade and route itself (§4.E context: destination concurrency and
// account equities).
func (t *Trader) buildSizingContext(ctx context.Context, route *domain.Route, pos *domain.SourcePosition) sizing.Context {
	sctx := sizing.Context{}

	rewritten := route.Destination.RewriteSymbol(pos.Symbol)
	if mappings, err := t.cfg.Store.GetAccountMappings(ctx, t.cfg.SourceAccountID); err == nil {
		for _, m := range mappings {
			if m.DestAccountID == route.Destination.AccountID && m.DestSymbol == rewritten {
				sctx.DestConcurrentOnSymbol++
			}
		}
	}

	if route.Destination.Sizing.Method == domain.SizingEquityRatio {
		if destInfo, err := t.cfg.Pool.AccountInfo(ctx, route.Destination.AccountID, route.Destination.Region); err == nil {
			sctx.DestEquity = destInfo.Equity
		}
		if srcInfo, err := t.cfg.Pool.AccountInfo(ctx, t.cfg.SourceAccountID, t.cfg.SourceRegion); err == nil {
			sctx.SourceEquity = srcInfo.Equity
		}
	}

	return sctx
}

func isBrokerRejection(err error) bool {
	var rejected *ports.BrokerRejected
	return errors.As(err, &rejected)
}

func recoverErr(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{r}
}

type panicError struct{ v interface{} }

func (p *panicError) Error() string { return "panic: " + toString(p.v) }

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic value"
}
