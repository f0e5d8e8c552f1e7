// Package sizing implements the Filter & Sizing Engine (§4.E): a pure
// function deciding whether to copy a source trade and at what volume.
package sizing

import (
	"github.com/shopspring/decimal"

	"copytrader/internal/domain"
)

// Context carries the live state Decide needs beyond the trade and route:
// how many destination positions already exist on that symbol, and the
// account equities needed for equity_ratio sizing (§4.E rule 3).
type Context struct {
	DestConcurrentOnSymbol int
	DestEquity             decimal.Decimal
	SourceEquity           decimal.Decimal
}

// Decide evaluates the rules of §4.E in order; the first match wins.
func Decide(trade *domain.SourcePosition, route *domain.Route, ctx Context) domain.Action {
	dest := &route.Destination
	rewritten := dest.RewriteSymbol(trade.Symbol)

	// Rule 1: symbol filter.
	if len(dest.SymbolAllowlist) > 0 {
		if _, ok := dest.SymbolAllowlist[rewritten]; !ok {
			return domain.Skip("symbol not allowed")
		}
	}
	if _, blocked := dest.SymbolBlocklist[rewritten]; blocked {
		return domain.Skip("symbol blocked")
	}

	// Rule 2: concurrency cap.
	if dest.MaxConcurrentPerSymbol > 0 && ctx.DestConcurrentOnSymbol >= dest.MaxConcurrentPerSymbol {
		return domain.Skip("max concurrent reached")
	}

	// Rule 3: volume scaling.
	volume, err := computeVolume(trade, dest, ctx)
	if err != nil {
		return domain.Skip(err.Error())
	}
	if volume.LessThan(dest.Sizing.MinLot) {
		return domain.Skip("volume below minimum")
	}

	// Rule 4: risk protection.
	if dest.DefaultStopLossPips == nil && !trade.HasStopLoss() && dest.RequireStopLoss[rewritten] {
		return domain.Skip("no stop loss")
	}

	// Rule 5: emit Open.
	return domain.Action{
		Kind:       domain.ActionOpen,
		Symbol:     rewritten,
		Side:       trade.Side,
		Volume:     volume,
		StopLoss:   resolveStopLoss(trade, dest),
		TakeProfit: resolveTakeProfit(trade, dest),
	}
}

func computeVolume(trade *domain.SourcePosition, dest *domain.Destination, ctx Context) (decimal.Decimal, error) {
	rule := dest.Sizing
	switch rule.Method {
	case domain.SizingFixed:
		return roundToLotStep(rule.Fixed, rule.LotStep), nil
	case domain.SizingMultiplier:
		return roundToLotStep(trade.Volume.Mul(rule.Multiplier), rule.LotStep), nil
	case domain.SizingEquityRatio:
		if ctx.SourceEquity.IsZero() {
			return decimal.Zero, errZeroSourceEquity
		}
		raw := trade.Volume.Mul(ctx.DestEquity).Div(ctx.SourceEquity)
		return clamp(floorToLotStep(raw, rule.LotStep), rule.MinLot, rule.MaxLot), nil
	default:
		return decimal.Zero, errUnknownSizingMethod
	}
}

func resolveStopLoss(trade *domain.SourcePosition, dest *domain.Destination) *decimal.Decimal {
	if trade.StopLoss != nil {
		sl := *trade.StopLoss
		return &sl
	}
	return dest.DefaultStopLossPips
}

func resolveTakeProfit(trade *domain.SourcePosition, dest *domain.Destination) *decimal.Decimal {
	if trade.TakeProfit != nil {
		tp := *trade.TakeProfit
		return &tp
	}
	return dest.DefaultTakeProfitPips
}

// roundToLotStep rounds to the nearest multiple of step (round-half-up),
// matching "round(sourceVolume x k, lotStep)" in §4.E rule 3.
func roundToLotStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.DivRound(step, 0).Mul(step)
}

// floorToLotStep rounds down to the nearest multiple of step, matching
// the equity_ratio rule's explicit "rounded down to lotStep".
func floorToLotStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}

var (
	errZeroSourceEquity    = sizingErr("source equity is zero")
	errUnknownSizingMethod = sizingErr("unknown sizing method")
)

type sizingErr string

func (e sizingErr) Error() string { return string(e) }
