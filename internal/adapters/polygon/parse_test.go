package polygon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeedMessage(t *testing.T) {
	message := []byte(`[
		{"ev":"status","status":"connected","message":"authenticated"},
		{"ev":"T","sym":"AAPL","p":50.5,"s":12000,"x":4,"trfi":201,"trft":1767367800000,"t":1767367800123,"c":[12,37]},
		{"ev":"T","sym":"MSFT","p":300.0,"s":100,"x":11,"t":1767367800456}
	]`)

	trades, err := ParseFeedMessage(message)
	require.NoError(t, err)
	require.Len(t, trades, 2) // Status event is skipped

	dark := trades[0]
	assert.Equal(t, "AAPL", dark.Ticker)
	assert.Equal(t, 50.5, dark.Price)
	assert.Equal(t, int64(12000), dark.Size)
	assert.Equal(t, 4, dark.Exchange)
	require.NotNil(t, dark.TRFID)
	assert.Equal(t, int64(201), *dark.TRFID)
	require.NotNil(t, dark.TRFTime)
	assert.Equal(t, time.UnixMilli(1767367800000).UTC(), *dark.TRFTime)
	require.NotNil(t, dark.EventTime)
	assert.Equal(t, time.UnixMilli(1767367800123).UTC(), *dark.EventTime)
	assert.Equal(t, []int{12, 37}, dark.Conditions)

	lit := trades[1]
	assert.Equal(t, "MSFT", lit.Ticker)
	assert.Nil(t, lit.TRFID)
	assert.Nil(t, lit.TRFTime)
	require.NotNil(t, lit.EventTime)
}

func TestParseFeedMessage_MissingTimestampsStayNil(t *testing.T) {
	trades, err := ParseFeedMessage([]byte(`[{"ev":"T","sym":"AAPL","p":50.0,"s":100,"x":11}]`))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Nil(t, trades[0].TRFTime)
	assert.Nil(t, trades[0].EventTime)
}

func TestParseFeedMessage_Malformed(t *testing.T) {
	_, err := ParseFeedMessage([]byte(`{"not":"an array"}`))
	assert.Error(t, err)

	_, err = ParseFeedMessage([]byte(`garbage`))
	assert.Error(t, err)
}

func TestHistoryTrade_ToDomain(t *testing.T) {
	trfID := int64(201)
	trfNanos := int64(1767367800000000000)
	partNanos := int64(1767367799999000000)

	h := &historyTrade{
		Symbol:     "AAPL",
		Price:      50.5,
		Size:       12000,
		Exchange:   4,
		TRFID:      &trfID,
		TRFNanos:   &trfNanos,
		PartNanos:  &partNanos,
		Conditions: []int{12},
	}

	trade := h.toDomain()
	assert.Equal(t, "AAPL", trade.Ticker)
	require.NotNil(t, trade.TRFTime)
	assert.Equal(t, time.Unix(0, trfNanos).UTC(), *trade.TRFTime)
	require.NotNil(t, trade.EventTime)
	assert.Equal(t, time.Unix(0, partNanos).UTC(), *trade.EventTime)
}

func TestHistoryTrade_ToDomain_AltSymbol(t *testing.T) {
	h := &historyTrade{AltSymbol: "MSFT", Price: 300.0, Size: 100, Exchange: 11}
	assert.Equal(t, "MSFT", h.toDomain().Ticker)
}
