package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cloudcode/cloudcode/internal/logging"
)

const maxMessageSize = 1 << 20

// Handler upgrades HTTP requests to relay websocket connections and
// pumps inbound events into the relay.
type Handler struct {
	relay    *Relay
	upgrader websocket.Upgrader
}

// NewHandler builds the websocket endpoint. An origin of "*" accepts
// any Origin header; otherwise the header must match exactly.
func NewHandler(r *Relay, origin string) *Handler {
	return &Handler{
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(req *http.Request) bool {
				if origin == "*" {
					return true
				}
				return req.Header.Get("Origin") == origin
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sock, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConn(sock)
	h.relay.Register(conn)
	logging.Info("relay connection opened",
		zap.String("conn", conn.ID()),
		zap.String("remote", req.RemoteAddr))

	defer func() {
		h.relay.Disconnect(conn)
		conn.Close()
		logging.Info("relay connection closed", zap.String("conn", conn.ID()))
	}()

	sock.SetReadLimit(maxMessageSize)
	sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("relay read error",
					zap.String("conn", conn.ID()), zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logging.Debug("malformed relay frame",
				zap.String("conn", conn.ID()), zap.Error(err))
			continue
		}
		h.dispatch(conn, env)
	}
}

// dispatch decodes the event payload and routes it. Malformed payloads
// and unknown events are logged and ignored; one bad frame must not
// take the connection down.
func (h *Handler) dispatch(conn Conn, env Envelope) {
	decode := func(dst any) bool {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			logging.Debug("malformed relay payload",
				zap.String("event", env.Event), zap.Error(err))
			return false
		}
		return true
	}

	switch env.Event {
	case EventJoinCollaboration:
		var p JoinPayload
		if decode(&p) {
			h.relay.Join(conn, p)
		}
	case EventFileContentChange:
		var p ContentChangePayload
		if decode(&p) {
			h.relay.ContentChange(conn, p)
		}
	case EventCursorPositionChange:
		var p CursorChangePayload
		if decode(&p) {
			h.relay.CursorChange(conn, p)
		}
	case EventLeaveFile:
		var p LeavePayload
		if decode(&p) {
			h.relay.Leave(conn, p)
		}
	case EventJoinCompilationRoom:
		var p RoomPayload
		if decode(&p) {
			h.relay.JoinCompilationRoom(conn, p)
		}
	case EventLeaveCompilationRoom:
		var p RoomPayload
		if decode(&p) {
			h.relay.LeaveCompilationRoom(conn, p)
		}
	case EventStartCompilation:
		var p StartCompilationPayload
		if decode(&p) {
			h.relay.StartCompilation(conn, p)
		}
	case EventCompilationComplete:
		var p CompilationCompletePayload
		if decode(&p) {
			h.relay.CompleteCompilation(p)
		}
	default:
		logging.Debug("unknown relay event", zap.String("event", env.Event))
	}
}
