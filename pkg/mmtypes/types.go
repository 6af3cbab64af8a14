// Package mmtypes defines the shared vocabulary for the market-maker: market
// and quote bookkeeping structures, order/fill records, and the enums that
// thread through every layer. It has no dependencies on internal packages,
// so it can be imported by any layer.
package mmtypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome identifies one of the two sides of a binary market.
type Outcome int

const (
	Yes Outcome = iota
	No
)

func (o Outcome) String() string {
	if o == Yes {
		return "YES"
	}
	return "NO"
}

// Side is the direction of an order or fill.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// TimeInForce enumerates supported order lifecycles.
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

// QuotingPolicy selects how the Quote Calculator places prices relative to
// the top of book.
type QuotingPolicy string

const (
	PolicyTouch      QuotingPolicy = "touch"
	PolicyInside     QuotingPolicy = "inside"
	PolicyBack       QuotingPolicy = "back"
	PolicyDefensive  QuotingPolicy = "defensive"
	PolicyOffsets    QuotingPolicy = "offsets"
	PolicyTiered     QuotingPolicy = "tiered"
)

// QuantizeMode selects the rounding direction used by the price grid.
type QuantizeMode int

const (
	Floor QuantizeMode = iota
	Ceil
	Round
)

// PriceRange is one entry of a market's piecewise tick-size schedule.
type PriceRange struct {
	Start decimal.Decimal
	End   decimal.Decimal
	Step  decimal.Decimal
}

// Market is the identity and cached book state for one enrolled binary
// market. An enrolled market always has exactly two outcome tokens.
type Market struct {
	MarketID    string
	Venue       string
	YesTokenID  string
	NoTokenID   string
	Ranges      []PriceRange // optional piecewise tick grid; nil = default 0.01 step
	YesMid      decimal.Decimal
	NoMid       decimal.Decimal
	UpdatedAt   time.Time
	EndTime     time.Time
	Active      bool
}

// ScannedMarket is a binary market as surfaced by the venue's external
// market-discovery scanner (§1 out-of-scope collaborator): Gamma API
// metadata plus the token IDs needed to enroll it as a Market. It is kept
// distinct from Market, which holds only the identity and book state the
// engine tracks for an already-enrolled market.
type ScannedMarket struct {
	MarketID    string
	ConditionID string
	Slug        string
	Question    string

	YesTokenID string
	NoTokenID  string

	TickStep     decimal.Decimal // minimum price increment
	MinOrderSize decimal.Decimal
	NegRisk      bool

	Active          bool
	Closed          bool
	AcceptingOrders bool
	EndDate         time.Time
	Liquidity       decimal.Decimal
	Volume24h       float64

	BestBid        decimal.Decimal
	BestAsk        decimal.Decimal
	Spread         decimal.Decimal
	LastTradePrice decimal.Decimal

	RewardsMinSize   decimal.Decimal
	RewardsMaxSpread decimal.Decimal
}

// ScanAllocation is emitted by the scanner to tell the engine which markets
// to trade and how much capital to allocate. Score is the opportunity
// ranking used to prioritize when more markets pass filters than the
// active-market ceiling.
type ScanAllocation struct {
	Market         ScannedMarket
	MaxPositionUSD decimal.Decimal
	Score          float64
}

// MMConfig is the per-market tunable configuration of a MarketMaker record.
type MMConfig struct {
	TargetSpread             decimal.Decimal
	SkewFactor               decimal.Decimal
	OrderSize                decimal.Decimal
	MaxInventory             decimal.Decimal
	QuotingPolicy            QuotingPolicy
	MinTimeToResolutionHours float64
	BidOffsetTicks           int
	AskOffsetTicks           int
	Tiers                    []TierWeight // used only by PolicyTiered
}

// TierWeight is one level of a tiered quote ladder: OffsetTicks is in ticks from
// the base bid/ask, Share is its fraction of the side's total size (weights
// across all tiers on a side sum to 1).
type TierWeight struct {
	OffsetTicks int
	Share       decimal.Decimal
}

// MMState is the runtime (mutable) half of a MarketMaker record. The
// Fill/Inventory FSM is the sole writer of the inventory/avg-cost/pnl
// fields; the Scheduler and quote loop only read it.
type MMState struct {
	Active               bool
	Paused               bool
	PauseReason          string
	YesInventory         decimal.Decimal
	NoInventory          decimal.Decimal
	AvgYesCost           decimal.Decimal
	AvgNoCost            decimal.Decimal
	RealizedPnL          decimal.Decimal
	LastQuoteAt          time.Time
	VolatilityPauseUntil time.Time
}

// MarketMaker is the full per-market MM record: identity + config + state.
type MarketMaker struct {
	MMID   string
	Market string // Market.MarketID
	Config MMConfig
	State  MMState
}

// OrderKey identifies a tracked order's slot. Tier defaults to 0.
type OrderKey struct {
	MMID    string
	Outcome Outcome
	Side    Side
	Tier    int
}

// TrackedOrder is a locally-held record of a resting order, keyed by
// OrderKey. It is mutated only on authenticated observation (never on the
// quote loop's own say-so) and destroyed on terminal status or cancel.
type TrackedOrder struct {
	Key             OrderKey
	OrderID         string
	ClientOrderID   string
	OrderGroupID    string
	TokenID         string
	Price           decimal.Decimal
	Size            decimal.Decimal
	LastMatchedSize decimal.Decimal
	HasMatched      bool // false until the first authenticated size_matched observation
	PlacedAt        time.Time
}

// Fill is an append-only record of one matched quantity against a tracked
// order. TokenID is the venue's raw outcome-token identifier as reported
// by its fill-history endpoint; MMID/Outcome are resolved from it by the
// caller (the adapter has no market-enrollment context of its own) and
// are blank until that resolution happens.
type Fill struct {
	ID               string
	TokenID          string
	MMID             string
	Outcome          Outcome
	Side             Side
	Price            decimal.Decimal
	Size             decimal.Decimal
	Value            decimal.Decimal
	RealizedPnLDelta decimal.Decimal
	FilledAt         time.Time
}

// PendingFillStatus is the lifecycle of a provisional fill observed via the
// push stream, before it is confirmed against authoritative positions.
type PendingFillStatus string

const (
	PendingStatusPending   PendingFillStatus = "PENDING"
	PendingStatusConfirmed PendingFillStatus = "CONFIRMED"
	PendingStatusRejected  PendingFillStatus = "REJECTED"
)

// PendingFillEvent is uniquely identified by (OrderID, MatchedTotal).
type PendingFillEvent struct {
	OrderID      string
	MatchedTotal decimal.Decimal
	MMID         string
	Outcome      Outcome
	Side         Side
	Price        decimal.Decimal
	Delta        decimal.Decimal
	Status       PendingFillStatus
	ObservedAt   time.Time
	ExpiresAt    time.Time
}

// QuoteEventKind enumerates the append-only audit-trail events.
type QuoteEventKind string

const (
	EventQuotePlaced       QuoteEventKind = "QUOTE_PLACED"
	EventQuoteCancelled    QuoteEventKind = "QUOTE_CANCELLED"
	EventFill              QuoteEventKind = "FILL"
	EventPause             QuoteEventKind = "PAUSE"
	EventSanityCheckFailed QuoteEventKind = "SANITY_CHECK_FAILED"
	EventOrderStale        QuoteEventKind = "ORDER_STALE"
	EventOrderCancelled    QuoteEventKind = "ORDER_CANCELLED"
	EventPartialFill       QuoteEventKind = "PARTIAL_FILL"
	EventError             QuoteEventKind = "ERROR"
)

// QuoteHistoryEntry is one row of the operator-visible audit trail.
type QuoteHistoryEntry struct {
	ID        string
	MMID      string
	Kind      QuoteEventKind
	Payload   string // JSON-encoded structured detail
	CreatedAt time.Time
}

// CandidateScores holds the six 0-100 Screening sub-scores (§4.3 step 8).
type CandidateScores struct {
	Liquidity    float64
	Flow         float64
	Time         float64
	PriceZone    float64
	QueueSpeed   float64
	QueueDepth   float64
	Total        float64
}

// CandidateMetrics holds the raw Screening measurements (§4.3 steps 1-6).
type CandidateMetrics struct {
	MidPrice         decimal.Decimal
	SpreadTicks      int
	TopDepthNotional decimal.Decimal
	Depth1c          decimal.Decimal
	Depth3c          decimal.Decimal
	Depth5c          decimal.Decimal
	BookSlope        float64
	QueueSpeed       float64
	QueueDepthRatio  float64
	HoursToEnd       float64
	Volume24h        float64
}

// Candidate is the cached Screening result for one market.
type Candidate struct {
	MarketID          string
	Metrics           CandidateMetrics
	Scores            CandidateScores
	Eligible          bool
	DisqualifyReasons []string
	Flags             []string
	ScoredAt          time.Time
}

// PriceLevel is one (price, size) level of an order book side.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderbookSnapshot is a point-in-time, per-token view of one side of the
// book: bids sorted descending, asks sorted ascending.
type OrderbookSnapshot struct {
	TokenID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	UpdatedAt time.Time
}

// BestBidAsk returns the top of book, or zero values and ok=false if either
// side is empty.
func (s OrderbookSnapshot) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return s.Bids[0].Price, s.Asks[0].Price, true
}

// AuthoritativePosition is the venue's own record of a held token position,
// distinct from the local tally of fills.
type AuthoritativePosition struct {
	TokenID    string
	Size       decimal.Decimal
	AvgPrice   decimal.Decimal
	Redeemable bool
	CurPrice   decimal.Decimal
}

// Resolved reports whether this token's market has settled from the
// venue's point of view (§6: redeemable=true or cur_price=0).
func (p AuthoritativePosition) Resolved() bool {
	return p.Redeemable || p.CurPrice.IsZero()
}
