package sizing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrader/internal/domain"
)

func destination(sizing domain.SizingRule) domain.Route {
	return domain.Route{
		SourceAccountID: "S1",
		Destination: domain.Destination{
			AccountID:              "D1",
			SymbolRewrite:          map[string]string{"XAUUSD": "XAUUSDm"},
			Sizing:                 sizing,
			MaxConcurrentPerSymbol: 5,
		},
	}
}

// E1: Source opens XAUUSD BUY 0.10 @ 3050.00 on S1. Route multiplier=2,
// symbol rewrite XAUUSD->XAUUSDm. Expect executeTrade volume 0.20.
func TestDecideE1Multiplier(t *testing.T) {
	route := destination(domain.SizingRule{
		Method:     domain.SizingMultiplier,
		Multiplier: decimal.NewFromFloat(2),
		MinLot:     decimal.NewFromFloat(0.01),
		MaxLot:     decimal.NewFromFloat(100),
		LotStep:    decimal.NewFromFloat(0.01),
	})
	trade := &domain.SourcePosition{
		AccountID:  "S1",
		PositionID: "111",
		Symbol:     "XAUUSD",
		Side:       domain.Long,
		Volume:     decimal.NewFromFloat(0.10),
		OpenPrice:  decimal.NewFromFloat(3050.00),
	}

	action := Decide(trade, &route, Context{})

	require.Equal(t, domain.ActionOpen, action.Kind)
	assert.Equal(t, "XAUUSDm", action.Symbol)
	assert.True(t, decimal.NewFromFloat(0.20).Equal(action.Volume), "got %s", action.Volume)
}

func TestDecideSkipsDisallowedSymbol(t *testing.T) {
	route := destination(domain.SizingRule{Method: domain.SizingFixed, Fixed: decimal.NewFromFloat(1), LotStep: decimal.NewFromFloat(0.01)})
	route.Destination.SymbolAllowlist = map[string]struct{}{"EURUSD": {}}
	trade := &domain.SourcePosition{Symbol: "XAUUSD", Volume: decimal.NewFromFloat(1)}

	action := Decide(trade, &route, Context{})

	assert.Equal(t, domain.ActionSkip, action.Kind)
	assert.Equal(t, "symbol not allowed", action.SkipReason)
}

func TestDecideSkipsAtConcurrencyCap(t *testing.T) {
	route := destination(domain.SizingRule{Method: domain.SizingFixed, Fixed: decimal.NewFromFloat(1), LotStep: decimal.NewFromFloat(0.01)})
	route.Destination.MaxConcurrentPerSymbol = 2
	trade := &domain.SourcePosition{Symbol: "EURUSD", Volume: decimal.NewFromFloat(1)}

	action := Decide(trade, &route, Context{DestConcurrentOnSymbol: 2})

	assert.Equal(t, domain.ActionSkip, action.Kind)
	assert.Equal(t, "max concurrent reached", action.SkipReason)
}

func TestDecideSkipsBelowMinLot(t *testing.T) {
	route := destination(domain.SizingRule{
		Method:     domain.SizingMultiplier,
		Multiplier: decimal.NewFromFloat(0.001),
		MinLot:     decimal.NewFromFloat(0.01),
		LotStep:    decimal.NewFromFloat(0.01),
	})
	trade := &domain.SourcePosition{Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.01)}

	action := Decide(trade, &route, Context{})

	assert.Equal(t, domain.ActionSkip, action.Kind)
	assert.Equal(t, "volume below minimum", action.SkipReason)
}

func TestDecideSkipsWhenStopLossRequiredAndMissing(t *testing.T) {
	route := destination(domain.SizingRule{Method: domain.SizingFixed, Fixed: decimal.NewFromFloat(1), LotStep: decimal.NewFromFloat(0.01)})
	route.Destination.RequireStopLoss = map[string]bool{"EURUSD": true}
	trade := &domain.SourcePosition{Symbol: "EURUSD", Volume: decimal.NewFromFloat(1)}

	action := Decide(trade, &route, Context{})

	assert.Equal(t, domain.ActionSkip, action.Kind)
	assert.Equal(t, "no stop loss", action.SkipReason)
}

func TestDecideEquityRatioClampsAndFloors(t *testing.T) {
	route := destination(domain.SizingRule{
		Method:  domain.SizingEquityRatio,
		MinLot:  decimal.NewFromFloat(0.05),
		MaxLot:  decimal.NewFromFloat(1.0),
		LotStep: decimal.NewFromFloat(0.01),
	})
	trade := &domain.SourcePosition{Symbol: "EURUSD", Volume: decimal.NewFromFloat(1)}

	// destEquity >> sourceEquity => raw volume far exceeds maxLot, should clamp.
	action := Decide(trade, &route, Context{
		DestEquity:   decimal.NewFromFloat(100000),
		SourceEquity: decimal.NewFromFloat(1000),
	})
	require.Equal(t, domain.ActionOpen, action.Kind)
	assert.True(t, action.Volume.Equal(decimal.NewFromFloat(1.0)))
}

// §8.7 Sizing determinism: decide is a pure function; randomized source
// volume/equity must always produce multiples of lotStep within bounds.
func TestDecideSizingDeterminismProperty(t *testing.T) {
	lotStep := decimal.NewFromFloat(0.01)
	minLot := decimal.NewFromFloat(0.01)
	maxLot := decimal.NewFromFloat(50)

	route := destination(domain.SizingRule{
		Method:  domain.SizingEquityRatio,
		MinLot:  minLot,
		MaxLot:  maxLot,
		LotStep: lotStep,
	})

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		sourceVol := decimal.NewFromFloat(0.01 + rng.Float64()*10)
		destEquity := decimal.NewFromFloat(1 + rng.Float64()*100000)
		sourceEquity := decimal.NewFromFloat(1 + rng.Float64()*100000)

		trade := &domain.SourcePosition{Symbol: "EURUSD", Volume: sourceVol}
		action := Decide(trade, &route, Context{DestEquity: destEquity, SourceEquity: sourceEquity})

		if action.Kind == domain.ActionSkip {
			continue
		}
		remainder := action.Volume.Div(lotStep).Sub(action.Volume.Div(lotStep).Floor())
		assert.True(t, remainder.Abs().LessThan(decimal.NewFromFloat(0.0001)), "volume %s not a multiple of lotStep", action.Volume)
		assert.True(t, action.Volume.GreaterThanOrEqual(minLot))
		assert.True(t, action.Volume.LessThanOrEqual(maxLot))
	}
}

func TestDecideIsPureAcrossRepeatedCalls(t *testing.T) {
	route := destination(domain.SizingRule{
		Method:     domain.SizingMultiplier,
		Multiplier: decimal.NewFromFloat(1.5),
		MinLot:     decimal.NewFromFloat(0.01),
		MaxLot:     decimal.NewFromFloat(10),
		LotStep:    decimal.NewFromFloat(0.01),
	})
	trade := &domain.SourcePosition{Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.33)}

	first := Decide(trade, &route, Context{})
	time.Sleep(time.Millisecond)
	second := Decide(trade, &route, Context{})

	assert.Equal(t, first, second)
}
