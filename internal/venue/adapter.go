// Package venue defines the Venue Adapter capability (C1, §4.2): a
// uniform operation set implemented polymorphically by each concrete
// venue (internal/venue/polyclob, internal/venue/kalshi), registered by
// venue id so the rest of the engine never branches on venue identity.
// Grounded in the Design Notes' "model the adapter as a capability
// record... register adapters into a registry keyed by venue id".
package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// PlaceOrderRequest is the venue-agnostic order placement payload
// (§4.2).
type PlaceOrderRequest struct {
	TokenID       string
	Side          mmtypes.Side
	Price         decimal.Decimal
	Size          decimal.Decimal
	TimeInForce   mmtypes.TimeInForce
	PostOnly      bool
	ReduceOnly    bool
	ClientOrderID string
	OrderGroupID  string
}

// PlaceOrderResult reports the outcome of one placement.
type PlaceOrderResult struct {
	Success bool
	OrderID string
	Status  string
	Err     error
}

// OrderLookupStatus enumerates get_order's three-way result (§4.2).
type OrderLookupStatus int

const (
	OrderOK OrderLookupStatus = iota
	OrderNotFound
	OrderLookupError
)

// OrderLookupResult is get_order's result.
type OrderLookupResult struct {
	Status OrderLookupStatus
	// VenueStatus is the raw wire status string ("LIVE", "MATCHED", ...)
	// reconciliation needs to classify an order as live vs terminal.
	VenueStatus string
	Order       mmtypes.TrackedOrder
	Err         error
}

// OnSnapshot/OnDelta/OnError are the subscribe_orderbook callbacks.
type (
	OnSnapshot func(mmtypes.OrderbookSnapshot)
	OnDelta    func(tokenID string, level mmtypes.PriceLevel, side mmtypes.Side)
	OnError    func(error)
)

// CancelHandle cancels a subscribe_orderbook subscription.
type CancelHandle interface {
	Cancel()
}

// VenueMarket is one venue-reported market, including its two outcome
// token ids and optional tick-size schedule.
type VenueMarket struct {
	MarketID   string
	YesTokenID string
	NoTokenID  string
	Ranges     []mmtypes.PriceRange
	EndTime    int64
	Active     bool
}

// MarketFilter narrows list_markets (venue-specific fields are opaque
// strings so the interface stays uniform across venues).
type MarketFilter struct {
	Active bool
	Tags   []string
}

// OpenOrdersFilter narrows open_orders.
type OpenOrdersFilter struct {
	MarketID string
}

// Adapter is the uniform capability set over a concrete venue (§4.2).
// Calls that reach the venue wait on a rate limiter first: the kalshi
// adapter keeps a public bucket for book reads and an authenticated bucket
// for everything else, while polyclob goes through exchange.Client's
// order, cancel and book buckets rather than a public/authenticated pair.
type Adapter interface {
	VenueID() string

	ListMarkets(ctx context.Context, filter MarketFilter) ([]VenueMarket, error)
	GetMarket(ctx context.Context, marketID string) (VenueMarket, error)
	OrderbookSnapshot(ctx context.Context, tokenID string) (mmtypes.OrderbookSnapshot, error)
	SubscribeOrderbook(ctx context.Context, tokenIDs []string, onSnapshot OnSnapshot, onDelta OnDelta, onErr OnError) (CancelHandle, error)

	Midpoint(ctx context.Context, tokenID string) (decimal.Decimal, error)
	Spread(ctx context.Context, tokenID string) (decimal.Decimal, error)
	Best(ctx context.Context, tokenID string) (bid, ask decimal.Decimal, err error)

	PlaceOrder(ctx context.Context, req PlaceOrderRequest) PlaceOrderResult
	PlaceOrders(ctx context.Context, reqs []PlaceOrderRequest) ([]PlaceOrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context, filter OpenOrdersFilter) error

	OpenOrders(ctx context.Context, filter OpenOrdersFilter) ([]mmtypes.TrackedOrder, error)
	GetOrder(ctx context.Context, orderID string) OrderLookupResult

	// Positions returns nil (not an error) to signal a degraded/
	// unavailable positions feed per §4.2/§7's DataDegraded policy.
	Positions(ctx context.Context) (map[string]mmtypes.AuthoritativePosition, error)
	Fills(ctx context.Context, sinceUnix int64) ([]mmtypes.Fill, error)

	CreateOrderGroup(ctx context.Context, params map[string]string) (string, error)
	ResetOrderGroup(ctx context.Context, groupID string) error
}

// Registry maps venue id -> Adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.VenueID()] = a
}

func (r *Registry) Get(venueID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[venueID]
	if !ok {
		return nil, fmt.Errorf("venue: no adapter registered for venue %q", venueID)
	}
	return a, nil
}
