// Package exchange implements the Polymarket CLOB REST and WebSocket clients.
//
// The REST client (Client) talks to the Polymarket CLOB API for order management:
//   - GetOrderBook:       GET  /book               — fetch L2 book for a token
//   - PostOrders:         POST /orders              — batch-place up to 15 signed orders
//   - CancelOrders:       DELETE /orders            — cancel specific orders by ID
//   - CancelAll:          DELETE /cancel-all         — emergency cancel everything
//   - CancelMarketOrders: DELETE /cancel-market-orders — cancel one market's orders
//   - DeriveAPIKey:       GET  /auth/derive-api-key — bootstrap L2 creds from L1 wallet
//
// Every request except DeriveAPIKey is rate-limited via per-category TokenBuckets.
// Requests are automatically retried on transport and 5xx errors. They carry L2
// HMAC headers, except book reads (no auth) and DeriveAPIKey (L1 headers).
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/favored-labs/predictmm/internal/config"
)

// Client is the Polymarket CLOB REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http   *resty.Client  // HTTP client with retry + base URL
	auth   *Auth          // L1/L2 auth provider for request signing
	rl     *RateLimiter   // per-endpoint-category rate limiting
	dryRun bool           // when true, mutating methods return fake success without HTTP calls
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(cfg.API.RateLimit),
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

// GetOrderBook fetches the order book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// buildOrderPayload converts a high-level UserOrder into the on-chain
// SignedOrder + metadata the REST API expects. It converts human-readable
// price/size to big.Int maker/taker amounts, sets the maker to the funder
// wallet (proxy), the signer to the EOA, and the taker to the zero address
// (open order, anyone can fill).
func (c *Client) buildOrderPayload(order UserOrder) OrderPayload {
	makerAmt, takerAmt := PriceToAmounts(order.Price, order.Size, order.Side)

	return OrderPayload{
		Order: SignedOrder{
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       order.TokenID,
			MakerAmount:   makerAmt,
			TakerAmount:   takerAmt,
			Side:          order.Side,
			Expiration:    fmt.Sprintf("%d", order.Expiration),
			Nonce:         "0",
			FeeRateBps:    fmt.Sprintf("%d", order.FeeRateBps),
			SignatureType: c.auth.sigType,
		},
		Owner:       c.auth.creds.ApiKey,
		TimeInForce: order.TimeInForce,
	}
}

// PostOrders places up to 15 orders in a batch.
func (c *Client) PostOrders(ctx context.Context, orders []UserOrder, negRisk bool) ([]OrderResponse, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	if len(orders) > 15 {
		return nil, fmt.Errorf("batch limit is 15 orders, got %d", len(orders))
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would post orders", "count", len(orders))
		results := make([]OrderResponse, len(orders))
		for i := range orders {
			results[i] = OrderResponse{Success: true, OrderID: fmt.Sprintf("dry-run-%d", i), Status: "live"}
		}
		return results, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payloads := make([]OrderPayload, len(orders))
	for i, order := range orders {
		payloads[i] = c.buildOrderPayload(order)
	}

	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("marshal orders: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var results []OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payloads).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("post orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	return results, nil
}

// CancelOrders cancels multiple orders by ID.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (*CancelResponse, error) {
	if len(orderIDs) == 0 {
		return &CancelResponse{}, nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders", "count", len(orderIDs))
		return &CancelResponse{Canceled: orderIDs}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	payload := struct {
		OrderIDs []string `json:"orderIDs"`
	}{OrderIDs: orderIDs}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.L2Headers("DELETE", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) (*CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return &CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelMarketOrders cancels all orders for a specific market.
func (c *Client) CancelMarketOrders(ctx context.Context, conditionID string) (*CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel market orders", "market", conditionID)
		return &CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`{"market":"%s"}`, conditionID)
	headers, err := c.auth.L2Headers("DELETE", "/cancel-market-orders", body)
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/cancel-market-orders")
	if err != nil {
		return nil, fmt.Errorf("cancel market orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel market orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

// OpenOrders fetches currently-open orders, optionally filtered to one
// market (condition ID).
func (c *Client) OpenOrders(ctx context.Context, marketID string) ([]OpenOrder, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	req := c.http.R().SetContext(ctx)
	if marketID != "" {
		req.SetQueryParam("market", marketID)
	}
	headers, err := c.auth.L2Headers("GET", "/orders", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}
	req.SetHeaders(headers)

	var result []OpenOrder
	resp, err := req.SetResult(&result).Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetOrder fetches a single order's current state. A 404 response is not
// an error: it's reported via found=false so callers can distinguish
// "genuinely gone" from a transport failure.
func (c *Client) GetOrder(ctx context.Context, orderID string) (order OpenOrder, found bool, err error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return OpenOrder{}, false, err
	}

	headers, err := c.auth.L2Headers("GET", "/data/order/"+orderID, "")
	if err != nil {
		return OpenOrder{}, false, fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&order).
		Get("/data/order/" + orderID)
	if err != nil {
		return OpenOrder{}, false, fmt.Errorf("get order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return OpenOrder{}, false, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return OpenOrder{}, false, fmt.Errorf("get order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return order, true, nil
}

// Position is one token's authoritative holding, as reported by the
// venue's positions endpoint.
type Position struct {
	AssetID    string `json:"asset_id"`
	Size       string `json:"size"`
	AvgPrice   string `json:"avg_price"`
	Redeemable bool   `json:"redeemable"`
	CurPrice   string `json:"cur_price"`
}

// Positions fetches authoritative per-token holdings. A nil, nil return
// signals the feed is unavailable (degraded) rather than "zero
// positions" per §4.2.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("GET", "/positions", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result []Position
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/positions")
	if err != nil {
		c.logger.Warn("positions feed unavailable", "error", err)
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		c.logger.Warn("positions feed degraded", "status", resp.StatusCode())
		return nil, nil
	}
	return result, nil
}

// TradeFill is one fill record as reported by the venue's trade-history
// endpoint.
type TradeFill struct {
	ID      string `json:"id"`
	AssetID string `json:"asset_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Market  string `json:"market"`
	Time    int64  `json:"match_time"`
}

// Fills fetches fill history since the given unix timestamp.
func (c *Client) Fills(ctx context.Context, sinceUnix int64) ([]TradeFill, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("GET", "/data/trades", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result []TradeFill
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("after", fmt.Sprintf("%d", sinceUnix)).
		SetResult(&result).
		Get("/data/trades")
	if err != nil {
		return nil, fmt.Errorf("fills: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fills: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// CreateOrderGroup registers a new order group (used to bucket related
// orders for bulk reset_order_group operations).
func (c *Client) CreateOrderGroup(ctx context.Context, params map[string]string) (string, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	headers, err := c.auth.L2Headers("POST", "/auth/order-group", "")
	if err != nil {
		return "", fmt.Errorf("l2 headers: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(params).
		SetResult(&result).
		Post("/auth/order-group")
	if err != nil {
		return "", fmt.Errorf("create order group: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("create order group: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.ID, nil
}

// ResetOrderGroup cancels and resets the nonce of an order group.
func (c *Client) ResetOrderGroup(ctx context.Context, groupID string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.auth.L2Headers("POST", "/auth/order-group/reset", "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(map[string]string{"id": groupID}).
		Post("/auth/order-group/reset")
	if err != nil {
		return fmt.Errorf("reset order group: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("reset order group: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
