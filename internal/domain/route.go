package domain

import "github.com/shopspring/decimal"

// SizingMethod selects how destination volume is derived from source
// volume (§4.E rule 3).
type SizingMethod string

const (
	SizingFixed       SizingMethod = "fixed"
	SizingMultiplier  SizingMethod = "multiplier"
	SizingEquityRatio SizingMethod = "equity_ratio"
)

// SizingRule configures volume scaling for one destination.
type SizingRule struct {
	Method     SizingMethod
	Fixed      decimal.Decimal // used when Method == SizingFixed
	Multiplier decimal.Decimal // used when Method == SizingMultiplier
	MinLot     decimal.Decimal
	MaxLot     decimal.Decimal
	LotStep    decimal.Decimal
}

// Destination is one edge fanned out from a source account (§4.D).
type Destination struct {
	AccountID            string
	Region               string
	Nickname             string
	SymbolAllowlist      map[string]struct{} // empty = all symbols allowed
	SymbolBlocklist      map[string]struct{}
	SymbolRewrite        map[string]string
	Sizing               SizingRule
	DefaultStopLossPips  *decimal.Decimal
	DefaultTakeProfitPips *decimal.Decimal
	MaxConcurrentPerSymbol int
	RequireStopLoss      map[string]bool // symbol -> SL required
	MirrorStops          bool            // whether SL/TP changes on the source replicate (§4.F.6)
}

// Route is the static (source account, destination account) edge plus
// its filter/sizing config (§3 Route, §4.D).
type Route struct {
	SourceAccountID string
	SourceRegion    string
	Destination     Destination
}

// RewriteSymbol applies the destination's symbol rewrite table, if any.
func (d *Destination) RewriteSymbol(symbol string) string {
	if rewritten, ok := d.SymbolRewrite[symbol]; ok {
		return rewritten
	}
	return symbol
}

// Allows reports whether the (post-rewrite) symbol passes the
// allowlist/blocklist filter (§4.E rule 1).
func (d *Destination) Allows(rewrittenSymbol string) bool {
	if len(d.SymbolAllowlist) > 0 {
		if _, ok := d.SymbolAllowlist[rewrittenSymbol]; !ok {
			return false
		}
	}
	if _, blocked := d.SymbolBlocklist[rewrittenSymbol]; blocked {
		return false
	}
	return true
}
