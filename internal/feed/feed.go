package feed

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"nx-tradecore/internal/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Feed maintains a websocket connection to the upstream miniTicker stream and
// emits normalized price ticks. The connection is redialed after retry on any
// error; subscriptions survive reconnects.
type Feed struct {
	url   string
	retry time.Duration
	out   chan model.PriceTick

	mu      sync.Mutex
	symbols map[string]struct{}
	conn    *websocket.Conn
	reqID   int
}

func New(url string, symbols []string, retry time.Duration) *Feed {
	f := &Feed{
		url:     url,
		retry:   retry,
		out:     make(chan model.PriceTick, 256),
		symbols: make(map[string]struct{}),
	}
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			f.symbols[s] = struct{}{}
		}
	}
	return f
}

// Ticks is the feed's output. The channel is closed when Run returns.
func (f *Feed) Ticks() <-chan model.PriceTick {
	return f.out
}

// Subscribe starts streaming symbol. Takes effect immediately on a live
// connection and persists across reconnects.
func (f *Feed) Subscribe(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.symbols[symbol]; ok {
		return
	}
	f.symbols[symbol] = struct{}{}
	f.sendLocked("SUBSCRIBE", []string{streamName(symbol)})
}

func (f *Feed) Unsubscribe(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.symbols[symbol]; !ok {
		return
	}
	delete(f.symbols, symbol)
	f.sendLocked("UNSUBSCRIBE", []string{streamName(symbol)})
}

// Run dials the stream and pumps ticks until ctx is cancelled. Any read or
// dial error triggers a reconnect after the retry interval.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.out)
	for {
		if err := f.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Feed] connection lost: %v, reconnecting in %s", err, f.retry)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.retry):
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	streams := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		streams = append(streams, streamName(s))
	}
	if len(streams) > 0 {
		f.sendLocked("SUBSCRIBE", streams)
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	log.Printf("[Feed] connected to %s (%d streams)", f.url, len(streams))

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		tick, ok := parseTick(raw)
		if !ok {
			continue
		}
		select {
		case f.out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Feed) sendLocked(method string, params []string) {
	if f.conn == nil {
		return
	}
	f.reqID++
	msg := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int      `json:"id"`
	}{Method: method, Params: params, ID: f.reqID}
	if err := f.conn.WriteJSON(msg); err != nil {
		log.Printf("[Feed] %s failed: %v", method, err)
	}
}

func streamName(symbol string) string {
	return strings.ToLower(symbol) + "@miniTicker"
}

type miniTicker struct {
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	EventTime int64  `json:"E"`
}

// parseTick decodes a miniTicker payload. Both the flat single-stream form
// and the combined-stream envelope ({"stream":...,"data":{...}}) are accepted.
// Subscription acks and anything non-numeric are dropped.
func parseTick(raw []byte) (model.PriceTick, bool) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 {
		raw = envelope.Data
	}
	var mt miniTicker
	if err := json.Unmarshal(raw, &mt); err != nil || mt.Symbol == "" || mt.Close == "" {
		return model.PriceTick{}, false
	}
	price, err := decimal.NewFromString(mt.Close)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return model.PriceTick{}, false
	}
	ts := mt.EventTime
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return model.PriceTick{Symbol: strings.ToUpper(mt.Symbol), Price: price, Timestamp: ts}, true
}
