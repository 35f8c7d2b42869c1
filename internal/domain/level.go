package domain

import (
	"fmt"
	"time"
)

// LevelType distinguishes supply levels from demand levels.
type LevelType string

const (
	LevelSupply LevelType = "supply"
	LevelDemand LevelType = "demand"
)

// Valid reports whether the level type is one of the known values.
func (lt LevelType) Valid() bool {
	return lt == LevelSupply || lt == LevelDemand
}

// Level is a user-declared supply/demand price level.
type Level struct {
	ID        int64
	Ticker    string
	Price     float64
	Type      LevelType
	Name      string // Optional human label
	CreatedAt time.Time
	Active    bool
}

// VolumeTracking is the one-to-one volume record for a level. The original
// fields are the baseline print; the absorbed fields are a materialized copy
// of the sum over the level's absorption segments.
type VolumeTracking struct {
	LevelID        int64
	PriceRangeLow  float64
	PriceRangeHigh float64
	OriginalVolume int64
	OriginalValue  float64
	AbsorbedVolume int64
	AbsorbedValue  float64
	AbsorptionPct  float64
	OriginalStart  time.Time
	OriginalEnd    time.Time
	LastUpdated    time.Time
}

// AbsorptionPercentage computes 100 * absorbed / original. Over-absorption
// (percentage above 100) is a valid signal and is not clamped. With no
// baseline the percentage is zero.
func AbsorptionPercentage(originalVolume, absorbedVolume int64) float64 {
	if originalVolume <= 0 {
		return 0
	}
	return float64(absorbedVolume) / float64(originalVolume) * 100
}

// AbsorptionSegment is one job's dated contribution to a level's cumulative
// absorbed volume. Segments are append-only and immutable; they are removed
// only when their owning level is hard-deleted.
type AbsorptionSegment struct {
	ID        int64
	JobID     string
	LevelID   int64
	Volume    int64
	Value     float64
	Trades    int64
	DateStart time.Time
	DateEnd   time.Time
	CreatedAt time.Time
}

// VolumeResult is the outcome of one historical volume walk.
type VolumeResult struct {
	TotalVolume int64   `json:"total_volume"`
	TotalValue  float64 `json:"total_value"`
	TotalTrades int64   `json:"total_trades"`
	MinPrice    float64 `json:"min_price"`
	MaxPrice    float64 `json:"max_price"`
	Pages       int     `json:"pages_fetched"`
}

// PriceRange formats the observed price range for display. When no trades
// fell inside the band it reports the level price instead.
func (r *VolumeResult) PriceRange(levelPrice float64) string {
	if r.TotalTrades > 0 {
		return fmt.Sprintf("$%.2f - $%.2f", r.MinPrice, r.MaxPrice)
	}
	return fmt.Sprintf("$%.2f (no trades found)", levelPrice)
}
