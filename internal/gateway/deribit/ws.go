package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

// bookCache maintains top-of-book snapshots from the quote channel
// subscription so the hot polling path never waits on an HTTP round trip.
type bookCache struct {
	logger *slog.Logger
	conn   *websocket.Conn

	mu    sync.RWMutex
	books map[string]types.Orderbook

	done chan struct{}
	once sync.Once
}

type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Channel string `json:"channel"`
		Data    struct {
			Instrument string  `json:"instrument_name"`
			BestBid    float64 `json:"best_bid_price"`
			BestAsk    float64 `json:"best_ask_price"`
			MarkPrice  float64 `json:"mark_price"`
			Timestamp  int64   `json:"timestamp"`
		} `json:"data"`
	} `json:"params"`
}

// newBookCache dials the websocket, subscribes to the ticker channel for
// each instrument and starts the read loop.
func newBookCache(ctx context.Context, cfg Config, logger *slog.Logger, instruments []string) (*bookCache, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.RequestTimeout}
	conn, _, err := dialer.DialContext(ctx, cfg.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.WSURL, err)
	}

	channels := make([]string, len(instruments))
	for i, instrument := range instruments {
		channels[i] = "ticker." + instrument + ".100ms"
	}
	sub := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "public/subscribe",
		Params:  map[string]any{"channels": channels},
	}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	cache := &bookCache{
		logger: logger,
		conn:   conn,
		books:  make(map[string]types.Orderbook),
		done:   make(chan struct{}),
	}
	go cache.readLoop()
	return cache, nil
}

// readLoop consumes ticker notifications until the connection closes.
func (b *bookCache) readLoop() {
	defer close(b.done)
	for {
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			b.logger.Warn("orderbook feed closed", "err", err)
			return
		}

		var note wsNotification
		if err := json.Unmarshal(msg, &note); err != nil {
			continue // subscription acks and heartbeats
		}
		if note.Method != "subscription" {
			continue
		}

		data := note.Params.Data
		if data.Instrument == "" {
			continue
		}

		b.mu.Lock()
		b.books[data.Instrument] = types.Orderbook{
			Instrument: data.Instrument,
			BestBid:    decimal.NewFromFloat(data.BestBid),
			BestAsk:    decimal.NewFromFloat(data.BestAsk),
			Mark:       decimal.NewFromFloat(data.MarkPrice),
			Timestamp:  time.UnixMilli(data.Timestamp),
		}
		b.mu.Unlock()
	}
}

// get returns the cached snapshot for an instrument if it is fresher than
// staleAfter.
func (b *bookCache) get(instrument string, staleAfter time.Duration) (*types.Orderbook, bool) {
	b.mu.RLock()
	book, ok := b.books[instrument]
	b.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if staleAfter > 0 && time.Since(book.Timestamp) > staleAfter {
		return nil, false
	}
	cp := book
	return &cp, true
}

// close shuts the connection and waits for the read loop to exit.
func (b *bookCache) close() error {
	var err error
	b.once.Do(func() {
		err = b.conn.Close()
		<-b.done
	})
	return err
}
