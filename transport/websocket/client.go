package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/partyroom-backend/internal/service"
	"golang.org/x/time/rate"
)

// client is one open socket of a player. Outgoing messages are queued on send
// and written by writePump only.
type client struct {
	conn    *websocket.Conn
	session service.Session
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newClient(conn *websocket.Conn, session service.Session, sendBuffer int, limiter *rate.Limiter) *client {
	return &client{
		conn:    conn,
		session: session,
		limiter: limiter,
		send:    make(chan []byte, sendBuffer),
	}
}

type delivery int

const (
	deliveryQueued delivery = iota
	// the client was already finished
	deliveryClosed
	// the queue was full and the client got disconnected
	deliveryDropped
)

// deliver queues data without blocking. A client whose queue is full is
// disconnected.
func (that *client) deliver(data []byte) delivery {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return deliveryClosed
	}

	select {
	case that.send <- data:
		return deliveryQueued
	default:
		that.closeLocked()
		_ = that.conn.Close()

		return deliveryDropped
	}
}

// finish lets writePump flush what is queued and then close the socket.
func (that *client) finish() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.closeLocked()
}

func (that *client) closeLocked() {
	if !that.closed {
		that.closed = true
		close(that.send)
	}
}

func (that *client) writePump(pingPeriod, writeWait time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = that.conn.Close()
	}()

	for {
		select {
		case data, ok := <-that.send:
			_ = that.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = that.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := that.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = that.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := that.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
