// Package market provides local order book management and market discovery.
//
// Book mirrors the CLOB order book for a single binary market (YES + NO tokens).
// It is updated from two sources:
//   - REST snapshots via ApplyBookResponse (initial load)
//   - WebSocket events via ApplyBookEvent (full snapshots) and ApplyPriceChange
//     (incremental updates)
//
// The Book is concurrency-safe (RWMutex protected) and provides derived
// values like MidPrice and BestBidAsk for the strategy layer.
package market

import (
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/favored-labs/predictmm/internal/exchange"
	"github.com/favored-labs/predictmm/pkg/mmtypes"
)

// Book maintains a local mirror of the order book for one market.
// It tracks both the YES and NO token books, though the strategy primarily
// uses the YES book for quoting (NO book is kept for completeness).
type Book struct {
	mu       sync.RWMutex
	marketID string
	yesToken string                          // YES token asset ID
	noToken  string                          // NO token asset ID
	yes      exchange.OrderBookSnapshot // YES token order book (bids desc, asks asc)
	no       exchange.OrderBookSnapshot // NO token order book
	lastHash map[string]string               // latest book hash per asset (for staleness)
	updated  time.Time                       // last time any book data arrived
}

// NewBook creates a new local order book for a market.
func NewBook(marketID, yesToken, noToken string) *Book {
	return &Book{
		marketID: marketID,
		yesToken: yesToken,
		noToken:  noToken,
		lastHash: make(map[string]string),
	}
}

// ApplyBookEvent replaces the book for one token with a full snapshot.
func (b *Book) ApplyBookEvent(event exchange.WSBookEvent) {
	b.applySnapshot(event.AssetID, event.Buys, event.Sells, event.Hash)
}

// ApplyBookResponse applies a REST API book response.
func (b *Book) ApplyBookResponse(resp *exchange.BookResponse) {
	b.applySnapshot(resp.AssetID, resp.Bids, resp.Asks, resp.Hash)
}

func (b *Book) applySnapshot(assetID string, bids, asks []exchange.PriceLevel, hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := exchange.OrderBookSnapshot{
		AssetID:   assetID,
		Bids:      bids,
		Asks:      asks,
		Hash:      hash,
		Timestamp: time.Now(),
	}

	if assetID == b.yesToken {
		b.yes = snap
	} else if assetID == b.noToken {
		b.no = snap
	}

	b.lastHash[assetID] = hash
	b.updated = time.Now()
}

// ApplyPriceChange applies an incremental price_change event, patching
// the individual price levels it names rather than merely recording the
// new hash. A size of "0" removes the level.
func (b *Book) ApplyPriceChange(event exchange.WSPriceChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, pc := range event.PriceChanges {
		snap := b.snapshotFor(pc.AssetID)
		if snap == nil {
			continue
		}
		patchLevel(snap, pc)
		b.lastHash[pc.AssetID] = pc.Hash
	}
	b.updated = time.Now()
}

func (b *Book) snapshotFor(assetID string) *exchange.OrderBookSnapshot {
	switch assetID {
	case b.yesToken:
		return &b.yes
	case b.noToken:
		return &b.no
	default:
		return nil
	}
}

func patchLevel(snap *exchange.OrderBookSnapshot, pc exchange.WSPriceChange) {
	isBid := pc.Side == string(mmtypes.Buy)
	levels := &snap.Asks
	if isBid {
		levels = &snap.Bids
	}

	idx := -1
	for i, l := range *levels {
		if l.Price == pc.Price {
			idx = i
			break
		}
	}

	if parsePrice(pc.Size) == 0 {
		if idx >= 0 {
			*levels = append((*levels)[:idx], (*levels)[idx+1:]...)
		}
		return
	}

	newLevel := exchange.PriceLevel{Price: pc.Price, Size: pc.Size}
	if idx >= 0 {
		(*levels)[idx] = newLevel
		return
	}

	*levels = append(*levels, newLevel)
	sortLevels(*levels, isBid)
}

func sortLevels(levels []exchange.PriceLevel, descending bool) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			a, bb := parsePrice(levels[j-1].Price), parsePrice(levels[j].Price)
			swap := a < bb
			if !descending {
				swap = a > bb
			}
			if !swap {
				break
			}
			levels[j-1], levels[j] = levels[j], levels[j-1]
		}
	}
}

// MidPrice returns the mid price for the YES token, computed as
// (bestBid + bestAsk) / 2. Returns false if the book is empty on either side.
func (b *Book) MidPrice() (float64, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return 0, false
	}
	if bid == 0 && ask == 0 {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// BestBidAsk returns the best bid and ask for the YES token.
func (b *Book) BestBidAsk() (bid, ask float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.yes.Bids) == 0 || len(b.yes.Asks) == 0 {
		return 0, 0, false
	}

	return parsePrice(b.yes.Bids[0].Price), parsePrice(b.yes.Asks[0].Price), true
}

// Snapshot returns the current mirror for tokenID as a venue-agnostic
// mmtypes.OrderbookSnapshot, or ok=false if tokenID isn't one of this
// market's two tokens or no data has arrived for it yet.
func (b *Book) Snapshot(tokenID string) (snap mmtypes.OrderbookSnapshot, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var src *exchange.OrderBookSnapshot
	switch tokenID {
	case b.yesToken:
		src = &b.yes
	case b.noToken:
		src = &b.no
	default:
		return mmtypes.OrderbookSnapshot{}, false
	}
	if len(src.Bids) == 0 && len(src.Asks) == 0 {
		return mmtypes.OrderbookSnapshot{}, false
	}

	return mmtypes.OrderbookSnapshot{
		TokenID:   tokenID,
		Bids:      toMMLevels(src.Bids),
		Asks:      toMMLevels(src.Asks),
		UpdatedAt: b.updated,
	}, true
}

func toMMLevels(levels []exchange.PriceLevel) []mmtypes.PriceLevel {
	out := make([]mmtypes.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, _ := decimal.NewFromString(l.Price)
		size, _ := decimal.NewFromString(l.Size)
		out = append(out, mmtypes.PriceLevel{Price: price, Size: size})
	}
	return out
}

// IsStale returns true if the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last book update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

func parsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
