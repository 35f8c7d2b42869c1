package polygon

import (
	"encoding/json"
	"fmt"
	"time"

	"darkflow/internal/domain"
)

// feedTrade is one event inside a streaming feed message. The feed uses
// short keys and millisecond timestamps.
type feedTrade struct {
	Event      string  `json:"ev"`
	Symbol     string  `json:"sym"`
	Price      float64 `json:"p"`
	Size       int64   `json:"s"`
	Exchange   int     `json:"x"`
	TRFID      *int64  `json:"trfi"`
	TRFMillis  *int64  `json:"trft"`
	TimeMillis *int64  `json:"t"`
	Conditions []int   `json:"c"`
}

// ParseFeedMessage decodes one raw feed message (a JSON array of events)
// into trades. Events that are not trade events are skipped; a trade with
// missing timestamps is kept as-is and rejected later by classification,
// since "missing" is represented explicitly rather than as a zero value.
func ParseFeedMessage(message []byte) ([]*domain.Trade, error) {
	var events []feedTrade
	if err := json.Unmarshal(message, &events); err != nil {
		return nil, fmt.Errorf("unparseable feed message: %w", err)
	}

	trades := make([]*domain.Trade, 0, len(events))
	for _, ev := range events {
		if ev.Event != "T" {
			continue
		}
		trades = append(trades, &domain.Trade{
			Ticker:     ev.Symbol,
			Price:      ev.Price,
			Size:       ev.Size,
			Exchange:   ev.Exchange,
			TRFID:      ev.TRFID,
			TRFTime:    millisToTime(ev.TRFMillis),
			EventTime:  millisToTime(ev.TimeMillis),
			Conditions: ev.Conditions,
		})
	}
	return trades, nil
}

// historyTrade is one trade inside a historical query page. The history
// endpoint uses long keys and nanosecond timestamps.
type historyTrade struct {
	Symbol     string  `json:"sym"`
	AltSymbol  string  `json:"symbol"`
	Price      float64 `json:"price"`
	Size       int64   `json:"size"`
	Exchange   int     `json:"exchange"`
	TRFID      *int64  `json:"trf_id"`
	TRFNanos   *int64  `json:"trf_timestamp"`
	PartNanos  *int64  `json:"participant_timestamp"`
	Conditions []int   `json:"conditions"`
}

func (h *historyTrade) toDomain() *domain.Trade {
	ticker := h.Symbol
	if ticker == "" {
		ticker = h.AltSymbol
	}
	return &domain.Trade{
		Ticker:     ticker,
		Price:      h.Price,
		Size:       h.Size,
		Exchange:   h.Exchange,
		TRFID:      h.TRFID,
		TRFTime:    nanosToTime(h.TRFNanos),
		EventTime:  nanosToTime(h.PartNanos),
		Conditions: h.Conditions,
	}
}

func millisToTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

func nanosToTime(ns *int64) *time.Time {
	if ns == nil {
		return nil
	}
	t := time.Unix(0, *ns).UTC()
	return &t
}
