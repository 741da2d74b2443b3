package deribit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/gateway"
	"github.com/quangdv/optionsbot/internal/types"
	"golang.org/x/time/rate"
)

// Deribit JSON-RPC error codes the client maps to sentinel errors.
const (
	codeOrderNotFound = 11044
	codeAlreadyClosed = 11070
)

// Client implements gateway.Gateway against the Deribit JSON-RPC API.
type Client struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Client

	limiter *rate.Limiter

	// Access token from /public/auth, refreshed before expiry.
	authMu      sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// Streaming orderbook cache, nil when the websocket feed is disabled.
	book *bookCache
}

// NewClient creates a Deribit client. Call Connect before use when the
// websocket orderbook feed is wanted; without it GetOrderbook falls back to
// per-call HTTP requests.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
	}
}

// Connect starts the websocket orderbook feed for the given instruments.
func (c *Client) Connect(ctx context.Context, instruments []string) error {
	book, err := newBookCache(ctx, c.cfg, c.logger, instruments)
	if err != nil {
		return fmt.Errorf("start orderbook feed: %w", err)
	}
	c.book = book
	return nil
}

// Close stops the websocket feed.
func (c *Client) Close() error {
	if c.book != nil {
		return c.book.close()
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one rate-limited JSON-RPC request.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      time.Now().UnixNano(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v2", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if strings.HasPrefix(method, "private/") {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return c.mapError(method, rpcResp.Error)
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("parse result: %w", err)
		}
	}
	return nil
}

func (c *Client) mapError(method string, e *rpcError) error {
	switch e.Code {
	case codeOrderNotFound:
		return fmt.Errorf("%w: %s", types.ErrOrderNotFound, e.Message)
	case codeAlreadyClosed:
		return fmt.Errorf("%w: %s", types.ErrAlreadyResolved, e.Message)
	default:
		return fmt.Errorf("%s: deribit error %d: %s", method, e.Code, e.Message)
	}
}

type authResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// token returns a valid access token, re-authenticating when the cached one
// is near expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second)) {
		return c.accessToken, nil
	}

	var result authResult
	err := c.call(ctx, "public/auth", map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     c.cfg.APIKey,
		"client_secret": c.cfg.APISecret,
	}, &result)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	c.accessToken = result.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

type orderResult struct {
	Order struct {
		OrderID      string  `json:"order_id"`
		OrderState   string  `json:"order_state"`
		Direction    string  `json:"direction"`
		Amount       float64 `json:"amount"`
		FilledAmount float64 `json:"filled_amount"`
		Price        float64 `json:"price"`
		AvgPrice     float64 `json:"average_price"`
		Instrument   string  `json:"instrument_name"`
		CreatedAt    int64   `json:"creation_timestamp"`
		UpdatedAt    int64   `json:"last_update_timestamp"`
	} `json:"order"`
}

// PlaceLimitOrder submits a limit order and returns the venue order id.
func (c *Client) PlaceLimitOrder(ctx context.Context, instrument string, side types.Side, qty, price decimal.Decimal) (string, error) {
	method := "private/buy"
	if side == types.SideSell {
		method = "private/sell"
	}

	var result orderResult
	err := c.call(ctx, method, map[string]any{
		"instrument_name": instrument,
		"amount":          qty.InexactFloat64(),
		"type":            "limit",
		"price":           price.InexactFloat64(),
	}, &result)
	if err != nil {
		return "", err
	}
	if result.Order.OrderState == "rejected" {
		return "", fmt.Errorf("%w: %s", types.ErrOrderRejected, instrument)
	}

	c.logger.Debug("order placed",
		"instrument", instrument,
		"side", side,
		"qty", qty,
		"price", price,
		"order_id", result.Order.OrderID,
	)
	return result.Order.OrderID, nil
}

// CancelOrder cancels a resting order. An order that already reached a final
// state maps to ErrAlreadyResolved.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.call(ctx, "private/cancel", map[string]any{"order_id": orderID}, nil)
}

// GetOrderStatus returns the venue's view of an order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*gateway.Order, error) {
	var raw struct {
		OrderID      string  `json:"order_id"`
		OrderState   string  `json:"order_state"`
		Direction    string  `json:"direction"`
		Amount       float64 `json:"amount"`
		FilledAmount float64 `json:"filled_amount"`
		Price        float64 `json:"price"`
		AvgPrice     float64 `json:"average_price"`
		Instrument   string  `json:"instrument_name"`
		CreatedAt    int64   `json:"creation_timestamp"`
		UpdatedAt    int64   `json:"last_update_timestamp"`
	}
	if err := c.call(ctx, "private/get_order_state", map[string]any{"order_id": orderID}, &raw); err != nil {
		return nil, err
	}

	side := types.SideBuy
	if raw.Direction == "sell" {
		side = types.SideSell
	}
	return &gateway.Order{
		OrderID:    raw.OrderID,
		Instrument: raw.Instrument,
		Side:       side,
		Qty:        decimal.NewFromFloat(raw.Amount),
		Price:      decimal.NewFromFloat(raw.Price),
		FilledQty:  decimal.NewFromFloat(raw.FilledAmount),
		AvgPrice:   decimal.NewFromFloat(raw.AvgPrice),
		State:      mapOrderState(raw.OrderState),
		CreatedAt:  time.UnixMilli(raw.CreatedAt),
		UpdatedAt:  time.UnixMilli(raw.UpdatedAt),
	}, nil
}

func mapOrderState(s string) gateway.OrderState {
	switch s {
	case "open", "untriggered":
		return gateway.OrderOpen
	case "filled":
		return gateway.OrderFilled
	case "cancelled":
		return gateway.OrderCancelled
	case "rejected":
		return gateway.OrderRejected
	default:
		return gateway.OrderOpen
	}
}

// GetOrderbook returns top-of-book for an instrument, served from the
// websocket cache when fresh and falling back to HTTP otherwise.
func (c *Client) GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error) {
	if c.book != nil {
		if book, ok := c.book.get(instrument, c.cfg.BookStaleAfter); ok {
			return book, nil
		}
	}

	var raw struct {
		BestBid   float64 `json:"best_bid_price"`
		BestAsk   float64 `json:"best_ask_price"`
		MarkPrice float64 `json:"mark_price"`
		Timestamp int64   `json:"timestamp"`
	}
	err := c.call(ctx, "public/get_order_book", map[string]any{
		"instrument_name": instrument,
		"depth":           1,
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrNoMarketData, instrument, err)
	}

	return &types.Orderbook{
		Instrument: instrument,
		BestBid:    decimal.NewFromFloat(raw.BestBid),
		BestAsk:    decimal.NewFromFloat(raw.BestAsk),
		Mark:       decimal.NewFromFloat(raw.MarkPrice),
		Timestamp:  time.UnixMilli(raw.Timestamp),
	}, nil
}

type positionResult struct {
	Instrument   string  `json:"instrument_name"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"average_price"`
	MarkPrice    float64 `json:"mark_price"`
	FloatingLoss float64 `json:"floating_profit_loss"`
}

// GetPositionQuantity returns the signed position size for an instrument.
// An instrument with no position reports zero.
func (c *Client) GetPositionQuantity(ctx context.Context, instrument string) (decimal.Decimal, error) {
	var raw positionResult
	err := c.call(ctx, "private/get_position", map[string]any{"instrument_name": instrument}, &raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(raw.Size), nil
}

// GetPositions returns all option positions.
func (c *Client) GetPositions(ctx context.Context) ([]gateway.Position, error) {
	var raw []positionResult
	err := c.call(ctx, "private/get_positions", map[string]any{"kind": "option"}, &raw)
	if err != nil {
		return nil, err
	}

	out := make([]gateway.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, gateway.Position{
			Instrument:    p.Instrument,
			Qty:           decimal.NewFromFloat(p.Size),
			AvgPrice:      decimal.NewFromFloat(p.AvgPrice),
			MarkPrice:     decimal.NewFromFloat(p.MarkPrice),
			UnrealizedPnL: decimal.NewFromFloat(p.FloatingLoss),
		})
	}
	return out, nil
}
