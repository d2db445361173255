package transport

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// =============================================================================
// WebSocket Socket Adapter
// =============================================================================
//
// WSConn adapts a gorilla websocket connection to the non-blocking socket
// contract the session layer expects. Outbound frames are staged in a bounded
// buffer drained by a single write pump, so the reconciliation core is never
// blocked by a slow client; when the buffer fills, TrySend fails and the
// session treats the client as unreachable.

var (
	// ErrSocketClosed indicates the connection has been closed.
	ErrSocketClosed = errors.New("socket is closed")

	// ErrSendBufferFull indicates the client is not draining its outbound
	// buffer.
	ErrSendBufferFull = errors.New("outbound buffer is full")
)

const (
	// DefaultOutboundBuffer is the per-connection outbound frame budget.
	DefaultOutboundBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSConn is one client websocket connection.
type WSConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	outbound chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWSConn wraps an upgraded connection and starts its write pump.
func NewWSConn(conn *websocket.Conn, logger *slog.Logger) *WSConn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &WSConn{
		conn:     conn,
		logger:   logger,
		outbound: make(chan []byte, DefaultOutboundBuffer),
		closed:   make(chan struct{}),
	}
	go c.writePump()
	return c
}

// TrySend enqueues a frame without blocking.
func (c *WSConn) TrySend(data []byte) error {
	select {
	case <-c.closed:
		return ErrSocketClosed
	default:
	}

	select {
	case c.outbound <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close tears the connection down. In-flight sends already staged may still
// be written; everything after is dropped.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// ReadLoop pumps inbound binary frames into submit until the connection
// drops. Submit failures are per-frame: they are logged and reading
// continues, matching the actor's contract that one bad frame never takes
// down the connection.
func (c *WSConn) ReadLoop(submit func(data []byte) error) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", "err", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			c.logger.Debug("ignoring non-binary websocket message", "type", msgType)
			continue
		}
		if err := submit(data); err != nil {
			c.logger.Warn("frame rejected", "err", err)
		}
	}
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case data := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.logger.Debug("websocket write failed", "err", err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
