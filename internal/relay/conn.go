package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cloudcode/cloudcode/internal/logging"
)

// Conn is one relay participant. Send must not block the caller; a
// connection that cannot keep up drops messages rather than stalling
// the room.
type Conn interface {
	ID() string
	Send(event string, data any) error
	Close() error
}

const (
	sendBufferSize = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
)

var errSendBufferFull = errors.New("send buffer full")

// wsConn wraps a websocket with a buffered outbound queue drained by a
// single writer goroutine, keeping all writes on one goroutine as the
// websocket library requires.
type wsConn struct {
	id     string
	sock   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newWSConn(sock *websocket.Conn) *wsConn {
	c := &wsConn{
		id:     uuid.NewString(),
		sock:   sock,
		sendCh: make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}
	select {
	case c.sendCh <- frame:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.sock.Close()
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.sendCh:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				logging.Debug("relay write failed",
					zap.String("conn", c.id), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
