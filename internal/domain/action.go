package domain

import "github.com/shopspring/decimal"

// Action is the decision produced by the Filter & Sizing Engine for a
// single source trade against a single route (§4.E).
type Action struct {
	Kind       ActionKind
	SkipReason string

	Symbol     string
	Side       Side
	Volume     decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

// Skip builds a Skip(reason) action.
func Skip(reason string) Action {
	return Action{Kind: ActionSkip, SkipReason: reason}
}
