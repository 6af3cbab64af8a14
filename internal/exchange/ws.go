// ws.go implements the market WebSocket feed: subscribes by asset ID
// (token ID), receives "book" snapshots and "price_change" deltas for
// the order book. User-channel events (fills, order lifecycle) are owned
// by internal/pushfeed instead, which authenticates and dispatches them
// straight into the Fill/Inventory FSM rather than through a second half
// of this type.
//
// The feed auto-reconnects with exponential backoff (1s -> 30s max) and
// re-subscribes to all tracked asset IDs on reconnection. A read deadline
// (90s) ensures silent server failures are detected within ~2 missed
// pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	readBufferSize   = 256              // buffer for book/price events
)

// MarketFeed manages the public market-channel WebSocket connection. It
// handles connection lifecycle, subscription tracking, message routing,
// and automatic reconnection with exponential backoff.
type MarketFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// Track subscriptions for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool // asset IDs

	bookCh        chan WSBookEvent        // full book snapshots
	priceChangeCh chan WSPriceChangeEvent // incremental book updates

	logger *slog.Logger
}

// NewMarketFeed creates a WebSocket feed for the market channel (public).
func NewMarketFeed(wsURL string, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		url:           wsURL,
		subscribed:    make(map[string]bool),
		bookCh:        make(chan WSBookEvent, readBufferSize),
		priceChangeCh: make(chan WSPriceChangeEvent, readBufferSize),
		logger:        logger.With("component", "ws_market"),
	}
}

// BookEvents returns a read-only channel of book snapshot events.
func (f *MarketFeed) BookEvents() <-chan WSBookEvent { return f.bookCh }

// PriceChangeEvents returns a read-only channel of price change events.
func (f *MarketFeed) PriceChangeEvents() <-chan WSPriceChangeEvent { return f.priceChangeCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *MarketFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("market websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds asset IDs to the live subscription set.
func (f *MarketFeed) Subscribe(ctx context.Context, assetIDs []string) error {
	f.subscribedMu.Lock()
	for _, id := range assetIDs {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(WSUpdateMsg{Operation: "subscribe", AssetIDs: assetIDs})
}

// Unsubscribe removes asset IDs from the subscription.
func (f *MarketFeed) Unsubscribe(ctx context.Context, assetIDs []string) error {
	f.subscribedMu.Lock()
	for _, id := range assetIDs {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(WSUpdateMsg{Operation: "unsubscribe", AssetIDs: assetIDs})
}

// Close gracefully closes the connection.
func (f *MarketFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *MarketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("market websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *MarketFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	return f.writeJSON(WSSubscribeMsg{Type: "market", AssetIDs: ids})
}

func (f *MarketFeed) dispatchMessage(data []byte) {
	// Peek at event_type to route
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var evt WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		select {
		case f.bookCh <- evt:
		default:
			f.logger.Warn("book channel full, dropping event", "asset", evt.AssetID)
		}

	case "price_change":
		var evt WSPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal price_change event", "error", err)
			return
		}
		select {
		case f.priceChangeCh <- evt:
		default:
			f.logger.Warn("price_change channel full, dropping event")
		}

	case "last_trade_price", "tick_size_change", "best_bid_ask", "new_market", "market_resolved":
		// Informational events we don't need to process
		f.logger.Debug("ignoring event", "type", envelope.EventType)

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *MarketFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *MarketFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *MarketFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
