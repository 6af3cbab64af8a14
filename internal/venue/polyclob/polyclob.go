// Package polyclob adapts the teacher's internal/exchange REST/WS client
// and internal/market order-book mirror into the venue.Adapter
// interface (§4.2). It is the primary concrete venue: the CLOB-style
// binary-outcome market the teacher's repo was built against.
package polyclob

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/exchange"
	"github.com/favored-labs/predictmm/internal/market"
	"github.com/favored-labs/predictmm/internal/venue"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

const VenueID = "polyclob"

// Adapter wraps an exchange.Client (REST) for the venue.Adapter
// interface. Orderbook reads are served from the per-token market.Book
// mirror kept current by the market feed's book/price_change events,
// falling back to a direct REST fetch when no mirror exists for the
// token yet.
type Adapter struct {
	client *exchange.Client
	feed   *exchange.MarketFeed

	booksMu sync.RWMutex
	books   map[string]*market.Book // keyed by condition id / market id
	tokens  map[string]string       // token id -> market id, for feed dispatch
}

func New(client *exchange.Client) *Adapter {
	return &Adapter{
		client: client,
		books:  make(map[string]*market.Book),
		tokens: make(map[string]string),
	}
}

func (a *Adapter) VenueID() string { return VenueID }

// RegisterBook lets the engine hand the adapter the same market.Book
// instance it wants kept current, so OrderbookSnapshot/Midpoint/Spread/
// Best read live local state instead of round-tripping to REST every
// quote cycle, and so RunFeed knows which token IDs to subscribe to and
// which Book each event belongs to.
func (a *Adapter) RegisterBook(marketID, yesToken, noToken string, b *market.Book) {
	a.booksMu.Lock()
	defer a.booksMu.Unlock()
	a.books[marketID] = b
	a.tokens[yesToken] = marketID
	if noToken != "" {
		a.tokens[noToken] = marketID
	}
}

func (a *Adapter) bookFor(marketID string) (*market.Book, bool) {
	a.booksMu.RLock()
	defer a.booksMu.RUnlock()
	b, ok := a.books[marketID]
	return b, ok
}

func (a *Adapter) bookForToken(tokenID string) (*market.Book, bool) {
	a.booksMu.RLock()
	defer a.booksMu.RUnlock()
	marketID, ok := a.tokens[tokenID]
	if !ok {
		return nil, false
	}
	b, ok := a.books[marketID]
	return b, ok
}

func (a *Adapter) registeredTokens() []string {
	a.booksMu.RLock()
	defer a.booksMu.RUnlock()
	out := make([]string, 0, len(a.tokens))
	for tok := range a.tokens {
		out = append(out, tok)
	}
	return out
}

// RunFeed dials the public market WebSocket channel, subscribes to every
// token currently registered via RegisterBook, and applies book/
// price_change events to the matching market.Book mirror as they arrive.
// It blocks until ctx is cancelled, reconnecting internally per
// exchange.MarketFeed's own backoff policy.
func (a *Adapter) RunFeed(ctx context.Context, wsURL string, logger *slog.Logger) error {
	a.feed = exchange.NewMarketFeed(wsURL, logger)

	if tokens := a.registeredTokens(); len(tokens) > 0 {
		if err := a.feed.Subscribe(ctx, tokens); err != nil {
			return fmt.Errorf("polyclob: initial subscribe: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.feed.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case evt := <-a.feed.BookEvents():
			if b, ok := a.bookForToken(evt.AssetID); ok {
				b.ApplyBookEvent(evt)
			}
		case evt := <-a.feed.PriceChangeEvents():
			for _, pc := range evt.PriceChanges {
				if b, ok := a.bookForToken(pc.AssetID); ok {
					b.ApplyPriceChange(exchange.WSPriceChangeEvent{PriceChanges: []exchange.WSPriceChange{pc}})
				}
			}
		}
	}
}

// SubscribeTokens adds tokens to the running feed's subscription (e.g.
// when a new market is enrolled after RunFeed has already started).
func (a *Adapter) SubscribeTokens(ctx context.Context, tokenIDs []string) error {
	if a.feed == nil {
		return fmt.Errorf("polyclob: feed not running")
	}
	return a.feed.Subscribe(ctx, tokenIDs)
}

func (a *Adapter) ListMarkets(ctx context.Context, filter venue.MarketFilter) ([]venue.VenueMarket, error) {
	return nil, fmt.Errorf("polyclob: list_markets is served by the out-of-scope scanner collaborator (§1)")
}

func (a *Adapter) GetMarket(ctx context.Context, marketID string) (venue.VenueMarket, error) {
	return venue.VenueMarket{}, fmt.Errorf("polyclob: get_market is served by the out-of-scope scanner collaborator (§1)")
}

func (a *Adapter) OrderbookSnapshot(ctx context.Context, tokenID string) (mmtypes.OrderbookSnapshot, error) {
	if b, ok := a.bookForToken(tokenID); ok {
		if snap, ok := b.Snapshot(tokenID); ok {
			return snap, nil
		}
	}

	resp, err := a.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return mmtypes.OrderbookSnapshot{}, err
	}
	return convertBookResponse(resp), nil
}

func convertBookResponse(resp *exchange.BookResponse) mmtypes.OrderbookSnapshot {
	return mmtypes.OrderbookSnapshot{
		TokenID:   resp.AssetID,
		Bids:      convertLevels(resp.Bids),
		Asks:      convertLevels(resp.Asks),
		UpdatedAt: time.Now(),
	}
}

func convertLevels(levels []exchange.PriceLevel) []mmtypes.PriceLevel {
	out := make([]mmtypes.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, mmtypes.PriceLevel{Price: mustDecimal(l.Price), Size: mustDecimal(l.Size)})
	}
	return out
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SubscribeOrderbook is unimplemented for this venue: RunFeed already
// drives every registered market.Book mirror directly off the market
// WebSocket channel, so there is no per-call subscription to hand back
// here — OrderbookSnapshot/Best/Midpoint/Spread read the mirror RunFeed
// keeps current instead of a callback-driven stream.
func (a *Adapter) SubscribeOrderbook(ctx context.Context, tokenIDs []string, onSnapshot venue.OnSnapshot, onDelta venue.OnDelta, onErr venue.OnError) (venue.CancelHandle, error) {
	return nil, fmt.Errorf("polyclob: subscribe_orderbook not supported, see RunFeed")
}

// Midpoint/Spread/Best fall back to the raw book mid since this venue
// exposes no separate "authoritative" price endpoint; callers needing a
// stronger authoritative source should prefer the positions feed for
// inventory and treat this as the book-derived fallback per §4.2.
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
		return decimal.Zero, decimal.Zero, fmt.Errorf("polyclob: empty book for token %s", tokenID)
	}
	return bid, ask, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req venue.PlaceOrderRequest) venue.PlaceOrderResult {
	results, err := a.PlaceOrders(ctx, []venue.PlaceOrderRequest{req})
	if err != nil {
		return venue.PlaceOrderResult{Err: err}
	}
	if len(results) == 0 {
		return venue.PlaceOrderResult{Err: fmt.Errorf("polyclob: place_order returned no result")}
	}
	return results[0]
}

func (a *Adapter) PlaceOrders(ctx context.Context, reqs []venue.PlaceOrderRequest) ([]venue.PlaceOrderResult, error) {
	orders := make([]exchange.UserOrder, len(reqs))
	for i, r := range reqs {
		timeInForce := r.TimeInForce
		if timeInForce == "" {
			timeInForce = mmtypes.GTC
		}
		orders[i] = exchange.UserOrder{
			TokenID:     r.TokenID,
			Price:       r.Price,
			Size:        r.Size,
			Side:        r.Side,
			TimeInForce: timeInForce,
		}
	}

	responses, err := a.client.PostOrders(ctx, orders, false)
	if err != nil {
		return nil, err
	}

	results := make([]venue.PlaceOrderResult, len(responses))
	for i, resp := range responses {
		var placeErr error
		if !resp.Success {
			placeErr = fmt.Errorf("polyclob: place order failed: %s", resp.ErrorMsg)
		}
		results[i] = venue.PlaceOrderResult{Success: resp.Success, OrderID: resp.OrderID, Status: resp.Status, Err: placeErr}
	}
	return results, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	_, err := a.client.CancelOrders(ctx, []string{orderID})
	return err
}

func (a *Adapter) CancelAll(ctx context.Context, filter venue.OpenOrdersFilter) error {
	if filter.MarketID != "" {
		_, err := a.client.CancelMarketOrders(ctx, filter.MarketID)
		return err
	}
	_, err := a.client.CancelAll(ctx)
	return err
}

func (a *Adapter) OpenOrders(ctx context.Context, filter venue.OpenOrdersFilter) ([]mmtypes.TrackedOrder, error) {
	orders, err := a.client.OpenOrders(ctx, filter.MarketID)
	if err != nil {
		return nil, err
	}
	out := make([]mmtypes.TrackedOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, mmtypes.TrackedOrder{
			OrderID:         o.ID,
			TokenID:         o.AssetID,
			Price:           mustDecimal(o.Price),
			Size:            mustDecimal(o.OriginalSize),
			LastMatchedSize: mustDecimal(o.SizeMatched),
		})
	}
	return out, nil
}

func (a *Adapter) GetOrder(ctx context.Context, orderID string) venue.OrderLookupResult {
	order, found, err := a.client.GetOrder(ctx, orderID)
	if err != nil {
		return venue.OrderLookupResult{Status: venue.OrderLookupError, Err: err}
	}
	if !found {
		return venue.OrderLookupResult{Status: venue.OrderNotFound}
	}
	return venue.OrderLookupResult{
		Status:      venue.OrderOK,
		VenueStatus: order.Status,
		Order: mmtypes.TrackedOrder{
			OrderID:         order.ID,
			TokenID:         order.AssetID,
			Price:           mustDecimal(order.Price),
			Size:            mustDecimal(order.OriginalSize),
			LastMatchedSize: mustDecimal(order.SizeMatched),
		},
	}
}

func (a *Adapter) Positions(ctx context.Context) (map[string]mmtypes.AuthoritativePosition, error) {
	positions, err := a.client.Positions(ctx)
	if err != nil {
		return nil, err
	}
	if positions == nil {
		return nil, nil // degraded: distinct from "zero positions"
	}
	out := make(map[string]mmtypes.AuthoritativePosition, len(positions))
	for _, p := range positions {
		out[p.AssetID] = mmtypes.AuthoritativePosition{
			TokenID:    p.AssetID,
			Size:       mustDecimal(p.Size),
			AvgPrice:   mustDecimal(p.AvgPrice),
			Redeemable: p.Redeemable,
			CurPrice:   mustDecimal(p.CurPrice),
		}
	}
	return out, nil
}

func (a *Adapter) Fills(ctx context.Context, sinceUnix int64) ([]mmtypes.Fill, error) {
	fills, err := a.client.Fills(ctx, sinceUnix)
	if err != nil {
		return nil, err
	}
	out := make([]mmtypes.Fill, 0, len(fills))
	for _, f := range fills {
		side := mmtypes.Buy
		if f.Side == string(mmtypes.Sell) {
			side = mmtypes.Sell
		}
		price := mustDecimal(f.Price)
		size := mustDecimal(f.Size)
		out = append(out, mmtypes.Fill{
			ID:       f.ID,
			TokenID:  f.AssetID,
			Side:     side,
			Price:    price,
			Size:     size,
			Value:    price.Mul(size),
			FilledAt: time.Unix(f.Time, 0),
		})
	}
	return out, nil
}

func (a *Adapter) CreateOrderGroup(ctx context.Context, params map[string]string) (string, error) {
	return a.client.CreateOrderGroup(ctx, params)
}

func (a *Adapter) ResetOrderGroup(ctx context.Context, groupID string) error {
	return a.client.ResetOrderGroup(ctx, groupID)
}

var _ venue.Adapter = (*Adapter)(nil)
