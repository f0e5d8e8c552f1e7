package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"copytrader/internal/domain"
)

// AccountInfo is the balance/equity snapshot returned by accountInfo (§4.A).
type AccountInfo struct {
	Balance  decimal.Decimal
	Equity   decimal.Decimal
	Currency string
	Platform string
}

// ExecuteResult is the result of a successful executeTrade call.
type ExecuteResult struct {
	PositionID string
	OpenPrice  decimal.Decimal
}

// CloseResult is the result of a successful closePosition call.
type CloseResult struct {
	Profit  decimal.Decimal
	OrderID string
}

// PoolClient is the typed RPC facade over the external pool service
// (§4.A). It owns no broker connectivity itself; it only talks HTTP/JSON
// to the pool service (§6.1).
//
// Positions must never synthesize an empty list on transport failure;
// it returns a *TransportError instead. This is the single contract the
// rest of the system depends on to avoid the "empty means closed"
// anti-pattern described in §9.
type PoolClient interface {
	AccountInfo(ctx context.Context, accountID, region string) (*AccountInfo, error)

	// Positions returns the authoritative current set of open positions
	// for accountID. On transport failure it returns a *TransportError;
	// callers must not treat that as "no positions open".
	Positions(ctx context.Context, accountID, region string) ([]domain.DestPosition, error)

	ExecuteTrade(ctx context.Context, accountID, region, symbol string, side domain.Side, volume decimal.Decimal, stopLoss, takeProfit *decimal.Decimal, clientTag string) (*ExecuteResult, error)

	ModifyPosition(ctx context.Context, accountID, region, positionID string, stopLoss, takeProfit *decimal.Decimal) error

	ClosePosition(ctx context.Context, accountID, region, positionID string) (*CloseResult, error)

	History(ctx context.Context, accountID string, days, limit int) ([]domain.DestPosition, error)

	// RegisterReconnectionCallback arranges for fn to be invoked whenever
	// the pool service announces a broker resync (§4.H step 7), so Copy
	// Traders can force an immediate snapshot instead of waiting for the
	// next tick.
	RegisterReconnectionCallback(ctx context.Context, fn func()) error
}
