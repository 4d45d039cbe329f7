package feed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTickFlat(t *testing.T) {
	raw := []byte(`{"e":"24hrMiniTicker","E":1756700000000,"s":"BTCUSDT","c":"80123.45","o":"79000","h":"81000","l":"78500","v":"1234","q":"98765432"}`)
	tick, ok := parseTick(raw)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.True(t, tick.Price.Equal(decimal.RequireFromString("80123.45")))
	assert.Equal(t, int64(1756700000000), tick.Timestamp)
}

func TestParseTickCombinedStream(t *testing.T) {
	raw := []byte(`{"stream":"ethusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1756700000001,"s":"ETHUSDT","c":"3050.10"}}`)
	tick, ok := parseTick(raw)
	require.True(t, ok)
	assert.Equal(t, "ETHUSDT", tick.Symbol)
	assert.True(t, tick.Price.Equal(decimal.RequireFromString("3050.10")))
}

func TestParseTickLowercaseSymbolNormalized(t *testing.T) {
	tick, ok := parseTick([]byte(`{"s":"dogeusdt","c":"0.1234","E":1}`))
	require.True(t, ok)
	assert.Equal(t, "DOGEUSDT", tick.Symbol)
}

func TestParseTickRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"subscription ack":  `{"result":null,"id":1}`,
		"missing price":     `{"s":"BTCUSDT","E":1}`,
		"missing symbol":    `{"c":"100","E":1}`,
		"non numeric price": `{"s":"BTCUSDT","c":"abc","E":1}`,
		"zero price":        `{"s":"BTCUSDT","c":"0","E":1}`,
		"negative price":    `{"s":"BTCUSDT","c":"-5","E":1}`,
		"not json":          `frame`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := parseTick([]byte(raw))
			assert.False(t, ok)
		})
	}
}

func TestSubscribeTracksSymbols(t *testing.T) {
	f := New("wss://example.invalid/ws", []string{"btcusdt", " "}, 0)
	f.Subscribe("ethusdt")
	f.Subscribe("ETHUSDT") // duplicate, no-op
	f.Unsubscribe("BTCUSDT")

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.symbols, 1)
	_, ok := f.symbols["ETHUSDT"]
	assert.True(t, ok)
}
