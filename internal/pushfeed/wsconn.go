package pushfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/favored-labs/predictmm/internal/exchange"
)

// wsConn adapts a gorilla/websocket connection to the Conn interface,
// the way internal/exchange/ws.go's MarketFeed reads its own socket.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	}
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error { return c.conn.Close() }

const readDeadline = 90 * time.Second

// NewWSDialer builds a Dialer against the venue's authenticated user
// channel. marketsFn is called at dial time so reconnects pick up markets
// enrolled since the last connection.
func NewWSDialer(url string, auth *exchange.WSAuth, marketsFn func() []string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("pushfeed: dial %s: %w", url, err)
		}

		sub := exchange.WSSubscribeMsg{
			Type:    "user",
			Auth:    auth,
			Markets: marketsFn(),
		}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return nil, fmt.Errorf("pushfeed: subscribe: %w", err)
		}

		return &wsConn{conn: conn}, nil
	}
}
