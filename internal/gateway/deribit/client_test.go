package deribit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quangdv/optionsbot/internal/gateway"
	"github.com/quangdv/optionsbot/internal/types"
	"github.com/shopspring/decimal"
)

type rpcCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Auth   string
}

// fakeVenue is a JSON-RPC test double. Handlers are keyed by method; missing
// methods return a venue error.
type fakeVenue struct {
	server    *httptest.Server
	handlers  map[string]func(params json.RawMessage) (any, *rpcError)
	authCalls atomic.Int64
	calls     []rpcCall
}

func newFakeVenue(t *testing.T) *fakeVenue {
	t.Helper()
	v := &fakeVenue{handlers: map[string]func(json.RawMessage) (any, *rpcError){}}

	v.handlers["public/auth"] = func(json.RawMessage) (any, *rpcError) {
		v.authCalls.Add(1)
		return authResult{AccessToken: "tok-1", ExpiresIn: 900}, nil
	}

	v.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		v.calls = append(v.calls, rpcCall{
			Method: req.Method,
			Params: req.Params,
			Auth:   r.Header.Get("Authorization"),
		})

		handler, ok := v.handlers[req.Method]
		if !ok {
			writeRPC(w, nil, &rpcError{Code: 10004, Message: "method not found"})
			return
		}
		result, rpcErr := handler(req.Params)
		writeRPC(w, result, rpcErr)
	}))
	t.Cleanup(v.server.Close)
	return v
}

func writeRPC(w http.ResponseWriter, result any, rpcErr *rpcError) {
	resp := map[string]any{"jsonrpc": "2.0"}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(v *fakeVenue) *Client {
	cfg := DefaultConfig()
	cfg.BaseURL = v.server.URL
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	cfg.MaxRequestsPerSecond = 1000
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(cfg, logger)
}

func TestPlaceLimitOrderAuthenticatesOnce(t *testing.T) {
	venue := newFakeVenue(t)
	venue.handlers["private/buy"] = func(params json.RawMessage) (any, *rpcError) {
		var p struct {
			Instrument string  `json:"instrument_name"`
			Amount     float64 `json:"amount"`
			Price      float64 `json:"price"`
			Type       string  `json:"type"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			t.Errorf("bad params: %v", err)
			return nil, &rpcError{Code: 10009, Message: "bad params"}
		}
		if p.Instrument != "BTC-26DEC25-90000-C" || p.Amount != 0.5 || p.Price != 0.05 || p.Type != "limit" {
			t.Errorf("params = %+v", p)
		}
		var res orderResult
		res.Order.OrderID = "ord-1"
		res.Order.OrderState = "open"
		return res, nil
	}
	venue.handlers["private/sell"] = venue.handlers["private/buy"]

	c := newTestClient(venue)
	ctx := context.Background()

	orderID, err := c.PlaceLimitOrder(ctx, "BTC-26DEC25-90000-C", types.SideBuy,
		decimal.RequireFromString("0.5"), decimal.RequireFromString("0.05"))
	if err != nil {
		t.Fatalf("PlaceLimitOrder: %v", err)
	}
	if orderID != "ord-1" {
		t.Errorf("orderID = %s, want ord-1", orderID)
	}

	// Second private call reuses the cached token.
	if _, err := c.PlaceLimitOrder(ctx, "BTC-26DEC25-90000-C", types.SideBuy,
		decimal.RequireFromString("0.5"), decimal.RequireFromString("0.05")); err != nil {
		t.Fatalf("second PlaceLimitOrder: %v", err)
	}
	if got := venue.authCalls.Load(); got != 1 {
		t.Errorf("auth calls = %d, want 1", got)
	}

	for _, call := range venue.calls {
		if call.Method == "private/buy" && call.Auth != "Bearer tok-1" {
			t.Errorf("missing bearer token on %s: %q", call.Method, call.Auth)
		}
	}
}

func TestCancelOrderMapsVenueErrors(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"not found", 11044, types.ErrOrderNotFound},
		{"already resolved", 11070, types.ErrAlreadyResolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			venue := newFakeVenue(t)
			venue.handlers["private/cancel"] = func(json.RawMessage) (any, *rpcError) {
				return nil, &rpcError{Code: tt.code, Message: "nope"}
			}
			c := newTestClient(venue)

			err := c.CancelOrder(context.Background(), "ord-1")
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetOrderbookHTTPFallback(t *testing.T) {
	venue := newFakeVenue(t)
	venue.handlers["public/get_order_book"] = func(params json.RawMessage) (any, *rpcError) {
		return map[string]any{
			"best_bid_price": 0.050,
			"best_ask_price": 0.052,
			"mark_price":     0.051,
			"timestamp":      time.Now().UnixMilli(),
		}, nil
	}
	c := newTestClient(venue)

	book, err := c.GetOrderbook(context.Background(), "BTC-26DEC25-90000-C")
	if err != nil {
		t.Fatalf("GetOrderbook: %v", err)
	}
	if !book.BestBid.Equal(decimal.RequireFromString("0.05")) ||
		!book.BestAsk.Equal(decimal.RequireFromString("0.052")) {
		t.Errorf("book = bid %s ask %s", book.BestBid, book.BestAsk)
	}
	if !book.Valid() {
		t.Error("book should be valid")
	}
}

func TestGetOrderbookWrapsNoMarketData(t *testing.T) {
	venue := newFakeVenue(t)
	c := newTestClient(venue)

	_, err := c.GetOrderbook(context.Background(), "BTC-26DEC25-90000-C")
	if !errors.Is(err, types.ErrNoMarketData) {
		t.Errorf("got %v, want ErrNoMarketData", err)
	}
}

func TestGetPositionQuantity(t *testing.T) {
	venue := newFakeVenue(t)
	venue.handlers["private/get_position"] = func(json.RawMessage) (any, *rpcError) {
		return positionResult{Instrument: "BTC-26DEC25-90000-C", Size: -1.5}, nil
	}
	c := newTestClient(venue)

	qty, err := c.GetPositionQuantity(context.Background(), "BTC-26DEC25-90000-C")
	if err != nil {
		t.Fatalf("GetPositionQuantity: %v", err)
	}
	if !qty.Equal(decimal.RequireFromString("-1.5")) {
		t.Errorf("qty = %s, want -1.5", qty)
	}
}

func TestMapOrderState(t *testing.T) {
	tests := []struct {
		in   string
		want gateway.OrderState
	}{
		{"open", gateway.OrderOpen},
		{"untriggered", gateway.OrderOpen},
		{"filled", gateway.OrderFilled},
		{"cancelled", gateway.OrderCancelled},
		{"rejected", gateway.OrderRejected},
		{"something-new", gateway.OrderOpen},
	}
	for _, tt := range tests {
		if got := mapOrderState(tt.in); got != tt.want {
			t.Errorf("mapOrderState(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
