package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourcePosition is a position observed on a source account. The core
// never opens or closes it; it only ever reads it via the pool client.
type SourcePosition struct {
	AccountID  string
	PositionID string
	Symbol     string
	Side       Side
	Volume     decimal.Decimal
	OpenPrice  decimal.Decimal
	OpenTime   time.Time
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	PNL        decimal.Decimal
}

// DestPosition is a position observed on a destination account, owned
// by the broker through the pool service. The core tracks it only
// through the Mapping that created it.
type DestPosition struct {
	AccountID  string
	PositionID string
	Symbol     string
	Side       Side
	Volume     decimal.Decimal
	OpenPrice  decimal.Decimal
	OpenTime   time.Time
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	PNL        decimal.Decimal
}

// HasStopLoss reports whether the position currently carries a stop loss.
func (p *SourcePosition) HasStopLoss() bool {
	return p.StopLoss != nil
}
