package domain

import (
	"errors"
	"time"
)

// ErrNoTimestamp is returned when a trade carries neither a TRF timestamp
// nor an event timestamp and therefore cannot be stored.
var ErrNoTimestamp = errors.New("trade has no usable timestamp")

// Trade is a single raw trade event, either from the live feed or from one
// page of historical results. It is never mutated after construction.
type Trade struct {
	Ticker     string     // Symbol (e.g., "AAPL")
	Price      float64    // Execution price
	Size       int64      // Number of shares
	Exchange   int        // Venue/exchange code
	TRFID      *int64     // Dark-pool trade reporting facility id, if reported through one
	TRFTime    *time.Time // TRF report timestamp, if present
	EventTime  *time.Time // The trade's own event timestamp
	Conditions []int      // Condition codes attached by the venue
}

// Value returns the notional value of the trade (price x size).
func (t *Trade) Value() float64 {
	return t.Price * float64(t.Size)
}

// StorageTime returns the timestamp under which the trade is persisted:
// the TRF timestamp when present, otherwise the event timestamp.
func (t *Trade) StorageTime() (time.Time, error) {
	if t.TRFTime != nil {
		return *t.TRFTime, nil
	}
	if t.EventTime != nil {
		return *t.EventTime, nil
	}
	return time.Time{}, ErrNoTimestamp
}

// StoredTrade is a persisted block or lit trade as read back from storage.
type StoredTrade struct {
	ID         int64
	Ticker     string
	Price      float64
	Size       int64
	Value      float64
	Exchange   int
	TRFID      *int64 // Set for block trades only
	TradeTime  time.Time
	Conditions []int
	Class      Classification
}

// Classification is the outcome of classifying one raw trade.
type Classification string

const (
	ClassBlock  Classification = "block"
	ClassLit    Classification = "lit"
	ClassReject Classification = "reject"
)

// Thresholds holds the classification floors. The same thresholds apply to
// live and backfilled trades so the two paths stay comparable.
type Thresholds struct {
	DarkPoolExchange int     // Exchange code used by the dark-pool reporting facility
	BlockSizeFloor   int64   // Minimum share count for a block trade
	BlockValueFloor  float64 // Minimum notional value for a block trade
	LitValueFloor    float64 // Minimum notional value for a lit trade
}

// DefaultThresholds returns the production floor values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DarkPoolExchange: 4,
		BlockSizeFloor:   10_000,
		BlockValueFloor:  200_000,
		LitValueFloor:    10_000_000,
	}
}

// Classify decides whether a trade qualifies as a block trade, a lit trade,
// or neither. It is a pure function of the trade and the thresholds.
//
// A trade is a block iff it printed on the dark-pool exchange through a TRF
// and clears either the size floor or the value floor. A trade that is not a
// block is lit iff its notional value clears the lit floor. A zero or
// negative price or size is invalid data rather than a missing field and
// rejects the trade; so does the absence of any usable timestamp.
func Classify(t *Trade, th Thresholds) Classification {
	if t.Price <= 0 || t.Size <= 0 {
		return ClassReject
	}
	if _, err := t.StorageTime(); err != nil {
		return ClassReject
	}

	value := t.Value()
	isDark := t.Exchange == th.DarkPoolExchange && t.TRFID != nil
	if isDark {
		if t.Size >= th.BlockSizeFloor || value >= th.BlockValueFloor {
			return ClassBlock
		}
		return ClassReject
	}
	if value >= th.LitValueFloor {
		return ClassLit
	}
	return ClassReject
}
