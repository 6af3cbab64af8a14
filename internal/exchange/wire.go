package exchange

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// wire.go holds the CLOB's own wire formats: the REST request/response
// shapes and WebSocket event payloads. These are private to this package
// (and the venue adapters that embed an exchange.Client) — domain
// concepts that flow further than the venue boundary travel exclusively
// as pkg/mmtypes values, never as these structs.

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// amountRoundingDecimals is the USDC-amount rounding precision applied in
// PriceToAmounts before scaling to 6-decimal on-chain units. The CLOB API
// reports a per-market tick size (0.1 down to 0.0001) with a matching
// rounding precision, but every production order path in this bot quotes
// at the 0.01 tick — so a single fixed precision replaces the four-way
// enum the teacher client carried for markets this bot never actually
// posts orders into at finer granularity.
const amountRoundingDecimals = 4

// UserOrder is the high-level order representation produced by the venue
// adapter from a venue.PlaceOrderRequest. The client converts it to a
// SignedOrder for the CLOB API.
type UserOrder struct {
	TokenID     string             // which token to trade (YES or NO asset ID)
	Price       decimal.Decimal    // limit price (0.0 to 1.0 for binary markets)
	Size        decimal.Decimal    // quantity in tokens
	Side        mmtypes.Side       // BUY or SELL
	TimeInForce mmtypes.TimeInForce // GTC, IOC, FOK
	Expiration  int64              // unix timestamp, 0 = no expiry
	FeeRateBps  int                // fee rate in basis points
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          mmtypes.Side  `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /orders (batch).
type OrderPayload struct {
	Order       SignedOrder         `json:"order"`
	Owner       string              `json:"owner"`              // API key of the order owner
	TimeInForce mmtypes.TimeInForce `json:"orderType"`          // GTC, IOC, FOK
	PostOnly    bool                `json:"postOnly,omitempty"` // if true, rejects if it would cross
}

// OrderResponse is the REST API response for each order in a batch POST.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`        // "live", "matched", etc.
	Market       string `json:"market"`        // condition ID
	AssetID      string `json:"asset_id"`      // token ID
	Side         string `json:"side"`          // "BUY" or "SELL"
	OriginalSize string `json:"original_size"` // initial size
	SizeMatched  string `json:"size_matched"`  // how much has filled
	Price        string `json:"price"`         // limit price
}

// CancelResponse is returned by DELETE /orders, /cancel-all, /cancel-market-orders.
type CancelResponse struct {
	Canceled []string `json:"canceled"` // IDs of successfully cancelled orders
}

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// OrderBookSnapshot is a point-in-time view of one token's order book.
// Maintained locally by market.Book and updated from REST + WebSocket sources.
type OrderBookSnapshot struct {
	AssetID   string       // token ID this book belongs to
	Bids      []PriceLevel // sorted descending by price (best bid first)
	Asks      []PriceLevel // sorted ascending by price (best ask first)
	Hash      string       // server-provided hash for staleness detection
	Timestamp time.Time    // when this snapshot was received
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
	NegRisk      bool         `json:"neg_risk"`
}

// WSBookEvent is a full order book snapshot from the market WS channel.
// Replaces the entire local book for the given asset.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"` // condition ID
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`  // book version hash
	Buys      []PriceLevel `json:"buys"`  // bid levels
	Sells     []PriceLevel `json:"sells"` // ask levels
}

// WSPriceChange is a single price level update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`    // the price level that changed
	Size    string `json:"size"`     // new size at that level (0 = removed)
	Side    string `json:"side"`     // "BUY" or "SELL"
	Hash    string `json:"hash"`     // updated book hash
	BestBid string `json:"best_bid"` // new best bid after this change
	BestAsk string `json:"best_ask"` // new best ask after this change
}

// WSPriceChangeEvent is an incremental order book update from the market WS.
// Contains one or more level changes applied atomically.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSSubscribeMsg is the initial subscription message sent when connecting
// to a WebSocket channel. For user channels, Auth must be provided.
type WSSubscribeMsg struct {
	Auth     *WSAuth  `json:"auth,omitempty"`       // required for user channel
	Type     string   `json:"type"`                 // "market" or "user"
	Markets  []string `json:"markets,omitempty"`    // condition IDs (user channel)
	AssetIDs []string `json:"assets_ids,omitempty"` // token IDs (market channel)
}

// WSAuth contains the L2 API credentials for authenticating the user WS channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSUpdateMsg is sent to dynamically subscribe or unsubscribe from channels
// after the initial connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"` // token IDs (market channel)
	Markets   []string `json:"markets,omitempty"`    // condition IDs (user channel)
	Operation string   `json:"operation"`            // "subscribe" or "unsubscribe"
}
