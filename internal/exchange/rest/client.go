// Package rest implements the exchange interface over the HTTP order API.
package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/openkeeper/keeper/internal/exchange"
	"github.com/openkeeper/keeper/internal/types"
)

// Client talks to the remote order API over HTTP. Prices and amounts are
// strings on the wire to avoid float rounding.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	http    *resty.Client
	limiter *rate.Limiter
}

// NewClient creates a new REST exchange client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), 1),
	}

	c.http = resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		OnBeforeRequest(c.sign).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return c, nil
}

// sign attaches the API key, a timestamp, and an HMAC-SHA256 signature of
// "<timestamp><method><path>" to every request.
func (c *Client) sign(_ *resty.Client, req *resty.Request) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(ts + req.Method + req.URL))

	req.SetHeader("X-API-Key", c.cfg.APIKey)
	req.SetHeader("X-API-Timestamp", ts)
	req.SetHeader("X-API-Signature", hex.EncodeToString(mac.Sum(nil)))
	return nil
}

// Name identifies the exchange.
func (c *Client) Name() string {
	return "rest"
}

// wireOrder is an order as the API represents it.
type wireOrder struct {
	ID           int64  `json:"id"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	FilledAmount string `json:"filled_amount"`
	CreatedAt    int64  `json:"created_at"`
}

func (w wireOrder) toOrder() (types.Order, error) {
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return types.Order{}, fmt.Errorf("failed to parse price of order %d: %w", w.ID, err)
	}
	amount, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return types.Order{}, fmt.Errorf("failed to parse amount of order %d: %w", w.ID, err)
	}
	filled := decimal.Zero
	if w.FilledAmount != "" {
		filled, err = decimal.NewFromString(w.FilledAmount)
		if err != nil {
			return types.Order{}, fmt.Errorf("failed to parse filled amount of order %d: %w", w.ID, err)
		}
	}

	var side types.Side
	switch w.Side {
	case "buy":
		side = types.SideBuy
	case "sell":
		side = types.SideSell
	default:
		return types.Order{}, fmt.Errorf("%w: unknown side %q on order %d", types.ErrInvalidOrder, w.Side, w.ID)
	}

	return types.Order{
		ID:           w.ID,
		Symbol:       w.Symbol,
		Side:         side,
		Price:        price,
		Amount:       amount,
		FilledAmount: filled,
		CreatedAt:    time.UnixMilli(w.CreatedAt),
	}, nil
}

func sideToWire(s types.Side) string {
	if s == types.SideSell {
		return "sell"
	}
	return "buy"
}

// apiError maps HTTP failures to sentinel errors.
func apiError(op string, resp *resty.Response) error {
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", op, types.ErrRateLimited)
	case resp.StatusCode() >= http.StatusInternalServerError:
		return fmt.Errorf("%s: %w: status %d", op, types.ErrExchangeDown, resp.StatusCode())
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode(), resp.String())
	}
}

// OpenOrders fetches all open orders.
func (c *Client) OpenOrders(ctx context.Context) ([]types.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var out struct {
		Orders []wireOrder `json:"orders"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("status", "open").
		SetResult(&out).
		Get("/v1/orders")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open orders: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("fetch open orders", resp)
	}

	orders := make([]types.Order, 0, len(out.Orders))
	for _, w := range out.Orders {
		o, err := w.toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// Balances fetches the keeper's token balances.
func (c *Client) Balances(ctx context.Context) (types.Balances, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var out struct {
		Balances map[string]string `json:"balances"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/balances")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("fetch balances", resp)
	}

	balances := make(types.Balances, len(out.Balances))
	for token, raw := range out.Balances {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance of %s: %w", token, err)
		}
		balances[token] = v
	}
	return balances, nil
}

// PlaceOrder submits a new order. A fresh client order id makes the
// request safe to retry without double-placing.
func (c *Client) PlaceOrder(ctx context.Context, order exchange.NewOrder) (*types.Order, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload := map[string]string{
		"symbol":          order.Symbol,
		"side":            sideToWire(order.Side),
		"price":           order.Price.String(),
		"amount":          order.Amount.String(),
		"client_order_id": uuid.NewString(),
	}

	var out wireOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		Post("/v1/orders")
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	if resp.StatusCode() == http.StatusBadRequest || resp.StatusCode() == http.StatusUnprocessableEntity {
		return nil, fmt.Errorf("%w: %s", types.ErrOrderRejected, resp.String())
	}
	if resp.IsError() {
		return nil, apiError("place order", resp)
	}

	placed, err := out.toOrder()
	if err != nil {
		return nil, err
	}

	c.logger.Debug("order submitted",
		"order_id", placed.ID,
		"symbol", placed.Symbol,
		"side", placed.Side,
	)
	return &placed, nil
}

// CancelOrder requests cancellation. An unknown order id is reported as
// not confirmed rather than as an error.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Delete(fmt.Sprintf("/v1/orders/%d", orderID))
	if err != nil {
		return false, fmt.Errorf("failed to cancel order %d: %w", orderID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if resp.IsError() {
		return false, apiError(fmt.Sprintf("cancel order %d", orderID), resp)
	}

	return out.Cancelled, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

// Ensure Client implements exchange.Exchange
var _ exchange.Exchange = (*Client)(nil)
