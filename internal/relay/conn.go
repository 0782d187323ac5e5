package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akindo/peerlink/internal/ratelimit"
	"github.com/akindo/peerlink/internal/signal"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Enough for any SDP.
	maxMessageSize = 64 * 1024

	// Outbound queue capacity per connection. A member whose queue is full
	// is treated as non-writable and skipped.
	sendQueueSize = 64
)

// conn wraps one accepted websocket connection together with its outbound
// queue and rate-limiter window. It satisfies room.Member.
type conn struct {
	ws      *websocket.Conn
	send    chan *signal.Message
	limiter *ratelimit.Limiter

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, clock ratelimit.Clock) *conn {
	return &conn{
		ws:      ws,
		send:    make(chan *signal.Message, sendQueueSize),
		limiter: ratelimit.NewLimiter(clock, ratelimit.Window, ratelimit.MaxPerWindow),
		closed:  make(chan struct{}),
	}
}

// Enqueue offers msg to the outbound queue without blocking. It returns false
// when the connection is closed or the queue is full — the caller skips the
// member rather than stalling on a slow peer.
func (c *conn) Enqueue(msg *signal.Message) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close is idempotent; redundant teardown is expected.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

// writePump is the single writer for the connection. It drains the outbound
// queue and keeps the peer alive with periodic pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
