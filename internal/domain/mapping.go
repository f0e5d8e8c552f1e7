package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mapping is the durable record that a specific destination position
// exists because of a specific source position (§3 Position mapping).
// It is owned exclusively by the router; the pool service never sees it.
type Mapping struct {
	SourceAccountID  string
	SourcePositionID string
	DestAccountID    string
	DestRegion       string
	DestPositionID   string
	SourceSymbol     string
	DestSymbol       string
	SourceVolume     decimal.Decimal
	DestVolume       decimal.Decimal
	SourceOpenPrice  decimal.Decimal
	DestOpenPrice    decimal.Decimal
	OpenTime         time.Time
	MappedAt         time.Time
	State            MappingState
}

// Key returns the composite primary key used to namespace store entries.
func (m *Mapping) Key() (sourceAccountID, sourcePositionID string) {
	return m.SourceAccountID, m.SourcePositionID
}
