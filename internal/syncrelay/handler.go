package syncrelay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cloudcode/cloudcode/internal/logging"
)

const (
	sendBufferSize = 256
	maxFrameSize   = 10 << 20
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
)

type frame struct {
	messageType int
	data        []byte
}

// wsClient pushes frames to one websocket through a buffered queue
// drained by a single writer goroutine.
type wsClient struct {
	sock   *websocket.Conn
	sendCh chan frame
	done   chan struct{}
	once   sync.Once
}

func newWSClient(sock *websocket.Conn) *wsClient {
	c := &wsClient{
		sock:   sock,
		sendCh: make(chan frame, sendBufferSize),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsClient) Send(messageType int, data []byte) error {
	select {
	case c.sendCh <- frame{messageType: messageType, data: data}:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		// Queue full. The sync protocol recovers by exchanging state
		// vectors on the next round trip.
		return nil
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
	c.sock.Close()
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case f := <-c.sendCh:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(f.messageType, f.data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Handler upgrades every request path into a sync room connection.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler builds the sync endpoint. Sync traffic is origin-agnostic;
// the protocol carries no credentials.
func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	room := RoomFromPath(req.URL.Path)

	sock, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logging.Warn("sync upgrade failed", zap.Error(err))
		return
	}

	client := newWSClient(sock)
	h.hub.Join(room, client)
	logging.Info("sync connection opened",
		zap.String("room", room),
		zap.String("remote", req.RemoteAddr))

	defer func() {
		h.hub.Leave(room, client)
		client.close()
		logging.Info("sync connection closed", zap.String("room", room))
	}()

	sock.SetReadLimit(maxFrameSize)
	sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		h.hub.Broadcast(room, client, mt, data)
	}
}
