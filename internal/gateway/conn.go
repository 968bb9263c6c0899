package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/opengeoguess/core/internal/auth"
)

const (
	defaultSendQueueSize = 64
	defaultWriteTimeout  = 5 * time.Second
	defaultPongWait      = 60 * time.Second
	defaultPingInterval  = 30 * time.Second
)

// connState mirrors the teacher's ClientConnectionState: a lock-free
// atomic so the hot read/write paths never take a mutex just to check
// whether the socket is still alive.
type connState int32

const (
	connStateOpen connState = iota
	connStateClosed
)

// conn is one WebSocket client connection's actor. Grounded on the
// teacher's GameClient/writePump: a dedicated writer goroutine drains a
// buffered send queue, a full queue disconnects the slow client instead
// of blocking the rest of the server, and Close is idempotent via
// sync.Once.
type conn struct {
	ws    *websocket.Conn
	log   zerolog.Logger
	state atomic.Int32

	identity auth.PlayerIdentity

	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	matchID string // current match this socket is joined to, "" if none
}

func newConn(ws *websocket.Conn, identity auth.PlayerIdentity, log zerolog.Logger) *conn {
	c := &conn{
		ws:       ws,
		log:      log.With().Str("player_id", string(identity.ID)).Logger(),
		identity: identity,
		sendCh:   make(chan []byte, defaultSendQueueSize),
		closeCh:  make(chan struct{}),
	}
	c.state.Store(int32(connStateOpen))
	return c
}

func (c *conn) currentMatch() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchID
}

func (c *conn) setCurrentMatch(matchID string) {
	c.mu.Lock()
	c.matchID = matchID
	c.mu.Unlock()
}

// send queues a frame for the writePump, non-blocking. A full queue
// means the client is too slow to keep up; it gets disconnected rather
// than stalling every other connection's event delivery.
func (c *conn) send(frame []byte) {
	select {
	case c.sendCh <- frame:
	default:
		c.log.Warn().Msg("send queue full, disconnecting slow client")
		c.closeAsync()
	}
}

func (c *conn) closeAsync() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(connStateClosed))
		close(c.closeCh)
	})
}

func (c *conn) close() error {
	c.closeAsync()
	return c.ws.Close()
}

func (c *conn) isOpen() bool {
	return connState(c.state.Load()) == connStateOpen
}

// writePump owns all writes to the underlying socket (gorilla's Conn is
// not safe for concurrent writers) plus the ping/pong keepalive.
func (c *conn) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case frame, ok := <-c.sendCh:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closeCh:
			return
		}
	}
}
