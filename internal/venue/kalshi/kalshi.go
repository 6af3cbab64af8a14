// Package kalshi is the second concrete venue.Adapter (§4.2, §6): a
// minimal RSA-PSS-SHA256-authenticated binary-market venue, included to
// exercise the Venue Adapter's polymorphism over {Venue A, Venue B}. It
// is grounded in the same resty-client-plus-rate-limiter shape as
// polyclob, adapted to Kalshi's simpler REST-only surface (no push
// orderbook deltas — OrderbookSnapshot always does a fresh fetch).
package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/exchange"
	"github.com/favored-labs/predictmm/internal/venue"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

const VenueID = "kalshi"

// Signer produces the RSA-PSS-SHA256 signature Kalshi requires on every
// authenticated request (§6): sign(timestamp + method + path).
type Signer struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

func (s Signer) Headers(method, path string) (map[string]string, error) {
	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	msg := ts + method + path
	digest := sha256.Sum256([]byte(msg))

	sig, err := rsa.SignPSS(rand.Reader, s.PrivateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return nil, fmt.Errorf("kalshi: sign request: %w", err)
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       s.KeyID,
		"KALSHI-ACCESS-TIMESTAMP": ts,
		"KALSHI-ACCESS-SIGNATURE": base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Adapter wraps a resty client against the Kalshi trade API, rate
// limited via the same exchange.TokenBucket primitive the polyclob
// adapter uses (one public bucket for book reads, one authenticated
// bucket for everything else, per §4.2).
type Adapter struct {
	http   *resty.Client
	signer Signer
	public *exchange.TokenBucket
	auth   *exchange.TokenBucket
}

func New(baseURL string, signer Signer) *Adapter {
	return &Adapter{
		http:   resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second),
		signer: signer,
		public: exchange.NewTokenBucket(100, 10),
		auth:   exchange.NewTokenBucket(200, 20),
	}
}

func (a *Adapter) VenueID() string { return VenueID }

func (a *Adapter) ListMarkets(ctx context.Context, filter venue.MarketFilter) ([]venue.VenueMarket, error) {
	return nil, fmt.Errorf("kalshi: list_markets is served by the out-of-scope scanner collaborator (§1)")
}

func (a *Adapter) GetMarket(ctx context.Context, marketID string) (venue.VenueMarket, error) {
	return venue.VenueMarket{}, fmt.Errorf("kalshi: get_market is served by the out-of-scope scanner collaborator (§1)")
}

type kalshiOrderbook struct {
	Yes [][2]int64 `json:"yes"` // [price_cents, size]
	No  [][2]int64 `json:"no"`
}

func (a *Adapter) OrderbookSnapshot(ctx context.Context, tokenID string) (mmtypes.OrderbookSnapshot, error) {
	if err := a.public.Wait(ctx); err != nil {
		return mmtypes.OrderbookSnapshot{}, err
	}

	path := "/trade-api/v2/markets/" + tokenID + "/orderbook"
	var result kalshiOrderbook
	resp, err := a.http.R().SetContext(ctx).SetResult(&result).Get(path)
	if err != nil {
		return mmtypes.OrderbookSnapshot{}, fmt.Errorf("kalshi: orderbook: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return mmtypes.OrderbookSnapshot{}, fmt.Errorf("kalshi: orderbook status %d", resp.StatusCode())
	}

	snap := mmtypes.OrderbookSnapshot{TokenID: tokenID, UpdatedAt: time.Now()}
	for _, lvl := range result.Yes {
		snap.Bids = append(snap.Bids, centLevel(lvl))
	}
	for _, lvl := range result.No {
		snap.Asks = append(snap.Asks, centLevel(lvl))
	}
	return snap, nil
}

func centLevel(lvl [2]int64) mmtypes.PriceLevel {
	return mmtypes.PriceLevel{
		Price: decimal.NewFromInt(lvl[0]).Div(decimal.NewFromInt(100)),
		Size:  decimal.NewFromInt(lvl[1]),
	}
}

func (a *Adapter) SubscribeOrderbook(ctx context.Context, tokenIDs []string, onSnapshot venue.OnSnapshot, onDelta venue.OnDelta, onErr venue.OnError) (venue.CancelHandle, error) {
	return nil, fmt.Errorf("kalshi: push orderbook deltas are not wired; callers should poll OrderbookSnapshot")
}

func (a *Adapter) Midpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	bid, ask, err := a.Best(ctx, tokenID)
	if err != nil {
		return decimal.Zero, err
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), nil
}

func (a *Adapter) Spread(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	bid, ask, err := a.Best(ctx, tokenID)
	if err != nil {
		return decimal.Zero, err
	}
	return ask.Sub(bid), nil
}

func (a *Adapter) Best(ctx context.Context, tokenID string) (decimal.Decimal, decimal.Decimal, error) {
	snap, err := a.OrderbookSnapshot(ctx, tokenID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	bid, ask, ok := snap.BestBidAsk()
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("kalshi: empty book for %s", tokenID)
	}
	return bid, ask, nil
}

type kalshiOrderReq struct {
	Ticker     string `json:"ticker"`
	Side       string `json:"side"`
	Action     string `json:"action"`
	Type       string `json:"type"`
	PriceCents int64  `json:"yes_price"`
	Count      int64  `json:"count"`
	ClientID   string `json:"client_order_id,omitempty"`
}

func (a *Adapter) PlaceOrder(ctx context.Context, req venue.PlaceOrderRequest) venue.PlaceOrderResult {
	if err := a.auth.Wait(ctx); err != nil {
		return venue.PlaceOrderResult{Err: err}
	}

	side := "yes"
	action := "buy"
	if req.Side == mmtypes.Sell {
		action = "sell"
	}

	priceCents := req.Price.Mul(decimal.NewFromInt(100)).IntPart()
	size := req.Size.IntPart()

	body := kalshiOrderReq{
		Ticker: req.TokenID, Side: side, Action: action, Type: "limit",
		PriceCents: priceCents, Count: size, ClientID: req.ClientOrderID,
	}

	headers, err := a.signer.Headers("POST", "/trade-api/v2/portfolio/orders")
	if err != nil {
		return venue.PlaceOrderResult{Err: err}
	}

	var result struct {
		Order struct {
			OrderID string `json:"order_id"`
			Status  string `json:"status"`
		} `json:"order"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&result).
		Post("/trade-api/v2/portfolio/orders")
	if err != nil {
		return venue.PlaceOrderResult{Err: fmt.Errorf("kalshi: place order: %w", err)}
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return venue.PlaceOrderResult{Err: fmt.Errorf("kalshi: place order status %d: %s", resp.StatusCode(), resp.String())}
	}

	return venue.PlaceOrderResult{Success: true, OrderID: result.Order.OrderID, Status: result.Order.Status}
}

func (a *Adapter) PlaceOrders(ctx context.Context, reqs []venue.PlaceOrderRequest) ([]venue.PlaceOrderResult, error) {
	if len(reqs) > 15 {
		return nil, fmt.Errorf("kalshi: batch limit is 15 orders, got %d", len(reqs))
	}
	out := make([]venue.PlaceOrderResult, len(reqs))
	for i, r := range reqs {
		out[i] = a.PlaceOrder(ctx, r)
	}
	return out, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	if err := a.auth.Wait(ctx); err != nil {
		return err
	}
	headers, err := a.signer.Headers("DELETE", "/trade-api/v2/portfolio/orders/"+orderID)
	if err != nil {
		return err
	}
	resp, err := a.http.R().SetContext(ctx).SetHeaders(headers).Delete("/trade-api/v2/portfolio/orders/" + orderID)
	if err != nil {
		return fmt.Errorf("kalshi: cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("kalshi: cancel order status %d", resp.StatusCode())
	}
	return nil
}

func (a *Adapter) CancelAll(ctx context.Context, filter venue.OpenOrdersFilter) error {
	orders, err := a.OpenOrders(ctx, filter)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if err := a.CancelOrder(ctx, o.OrderID); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) OpenOrders(ctx context.Context, filter venue.OpenOrdersFilter) ([]mmtypes.TrackedOrder, error) {
	if err := a.auth.Wait(ctx); err != nil {
		return nil, err
	}
	headers, err := a.signer.Headers("GET", "/trade-api/v2/portfolio/orders")
	if err != nil {
		return nil, err
	}

	var result struct {
		Orders []struct {
			OrderID     string `json:"order_id"`
			Ticker      string `json:"ticker"`
			YesPrice    int64  `json:"yes_price"`
			Count       int64  `json:"count"`
			RemainCount int64  `json:"remaining_count"`
		} `json:"orders"`
	}
	req := a.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result)
	if filter.MarketID != "" {
		req.SetQueryParam("ticker", filter.MarketID)
	}
	resp, err := req.Get("/trade-api/v2/portfolio/orders")
	if err != nil {
		return nil, fmt.Errorf("kalshi: open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("kalshi: open orders status %d", resp.StatusCode())
	}

	out := make([]mmtypes.TrackedOrder, 0, len(result.Orders))
	for _, o := range result.Orders {
		matched := o.Count - o.RemainCount
		out = append(out, mmtypes.TrackedOrder{
			OrderID:         o.OrderID,
			TokenID:         o.Ticker,
			Price:           decimal.NewFromInt(o.YesPrice).Div(decimal.NewFromInt(100)),
			Size:            decimal.NewFromInt(o.Count),
			LastMatchedSize: decimal.NewFromInt(matched),
		})
	}
	return out, nil
}

func (a *Adapter) GetOrder(ctx context.Context, orderID string) venue.OrderLookupResult {
	if err := a.auth.Wait(ctx); err != nil {
		return venue.OrderLookupResult{Status: venue.OrderLookupError, Err: err}
	}
	headers, err := a.signer.Headers("GET", "/trade-api/v2/portfolio/orders/"+orderID)
	if err != nil {
		return venue.OrderLookupResult{Status: venue.OrderLookupError, Err: err}
	}

	var result struct {
		Order struct {
			OrderID     string `json:"order_id"`
			Ticker      string `json:"ticker"`
			YesPrice    int64  `json:"yes_price"`
			Count       int64  `json:"count"`
			RemainCount int64  `json:"remaining_count"`
			Status      string `json:"status"`
		} `json:"order"`
	}
	resp, err := a.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get("/trade-api/v2/portfolio/orders/" + orderID)
	if err != nil {
		return venue.OrderLookupResult{Status: venue.OrderLookupError, Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return venue.OrderLookupResult{Status: venue.OrderNotFound}
	}
	if resp.StatusCode() != http.StatusOK {
		return venue.OrderLookupResult{Status: venue.OrderLookupError, Err: fmt.Errorf("kalshi: get order status %d", resp.StatusCode())}
	}

	matched := result.Order.Count - result.Order.RemainCount
	return venue.OrderLookupResult{
		Status:      venue.OrderOK,
		VenueStatus: result.Order.Status,
		Order: mmtypes.TrackedOrder{
			OrderID:         result.Order.OrderID,
			TokenID:         result.Order.Ticker,
			Price:           decimal.NewFromInt(result.Order.YesPrice).Div(decimal.NewFromInt(100)),
			Size:            decimal.NewFromInt(result.Order.Count),
			LastMatchedSize: decimal.NewFromInt(matched),
		},
	}
}

func (a *Adapter) Positions(ctx context.Context) (map[string]mmtypes.AuthoritativePosition, error) {
	if err := a.auth.Wait(ctx); err != nil {
		return nil, err
	}
	headers, err := a.signer.Headers("GET", "/trade-api/v2/portfolio/positions")
	if err != nil {
		return nil, err
	}

	var result struct {
		MarketPositions []struct {
			Ticker           string `json:"ticker"`
			Position         int64  `json:"position"`
			MarketExposure   int64  `json:"market_exposure"`
		} `json:"market_positions"`
	}
	resp, err := a.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get("/trade-api/v2/portfolio/positions")
	if err != nil {
		return nil, nil // degraded
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, nil // degraded
	}

	out := make(map[string]mmtypes.AuthoritativePosition, len(result.MarketPositions))
	for _, p := range result.MarketPositions {
		var avg decimal.Decimal
		if p.Position != 0 {
			avg = decimal.NewFromInt(p.MarketExposure).Div(decimal.NewFromInt(p.Position)).Div(decimal.NewFromInt(100))
		}
		out[p.Ticker] = mmtypes.AuthoritativePosition{
			TokenID:  p.Ticker,
			Size:     decimal.NewFromInt(p.Position),
			AvgPrice: avg,
		}
	}
	return out, nil
}

func (a *Adapter) Fills(ctx context.Context, sinceUnix int64) ([]mmtypes.Fill, error) {
	if err := a.auth.Wait(ctx); err != nil {
		return nil, err
	}
	headers, err := a.signer.Headers("GET", "/trade-api/v2/portfolio/fills")
	if err != nil {
		return nil, err
	}

	var result struct {
		Fills []struct {
			TradeID string `json:"trade_id"`
			Ticker  string `json:"ticker"`
			Side    string `json:"side"`
			Action  string `json:"action"`
			YesPrice int64 `json:"yes_price"`
			Count   int64  `json:"count"`
			Created int64  `json:"created_time"`
		} `json:"fills"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("min_ts", fmt.Sprintf("%d", sinceUnix)).
		SetResult(&result).
		Get("/trade-api/v2/portfolio/fills")
	if err != nil {
		return nil, fmt.Errorf("kalshi: fills: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("kalshi: fills status %d", resp.StatusCode())
	}

	out := make([]mmtypes.Fill, 0, len(result.Fills))
	for _, f := range result.Fills {
		side := mmtypes.Buy
		if f.Action == "sell" {
			side = mmtypes.Sell
		}
		price := decimal.NewFromInt(f.YesPrice).Div(decimal.NewFromInt(100))
		size := decimal.NewFromInt(f.Count)
		out = append(out, mmtypes.Fill{
			ID:       f.TradeID,
			TokenID:  f.Ticker + "#" + strings.ToUpper(f.Side),
			Side:     side,
			Price:    price,
			Size:     size,
			Value:    price.Mul(size),
			FilledAt: time.Unix(f.Created, 0),
		})
	}
	return out, nil
}

// CreateOrderGroup / ResetOrderGroup are not supported by Kalshi's API.
func (a *Adapter) CreateOrderGroup(ctx context.Context, params map[string]string) (string, error) {
	return "", fmt.Errorf("kalshi: order groups are not supported by this venue")
}

func (a *Adapter) ResetOrderGroup(ctx context.Context, groupID string) error {
	return fmt.Errorf("kalshi: order groups are not supported by this venue")
}

var _ venue.Adapter = (*Adapter)(nil)
