// Package syncrelay is a content-agnostic fan-out for document sync
// traffic. Clients connect to a room named by the request path and
// every frame a client sends is forwarded verbatim to the room's other
// members. The relay never inspects or stores frames; the document
// protocol lives entirely in the clients, which makes their replicas
// the authoritative state.
package syncrelay

import (
	"strings"
	"sync"

	"github.com/cloudcode/cloudcode/internal/metrics"
)

// DefaultRoom is used when the request path carries no room name.
const DefaultRoom = "default-room"

// Client is one sync participant. Send must not block; a slow client
// misses frames rather than stalling the room.
type Client interface {
	Send(messageType int, data []byte) error
}

// Hub tracks room membership. All methods are safe for concurrent use.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[Client]struct{}
	conns int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[Client]struct{})}
}

// Join adds c to room.
func (h *Hub) Join(room string, c Client) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.conns++
	nRooms, nConns := len(h.rooms), h.conns
	h.mu.Unlock()

	metrics.SetSyncRoomsActive(nRooms)
	metrics.SetSyncConnectionsActive(nConns)
}

// Leave removes c from room. The last member out takes the room with
// them; nothing lingers for rooms nobody is watching.
func (h *Hub) Leave(room string, c Client) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		if _, present := members[c]; present {
			delete(members, c)
			h.conns--
		}
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	nRooms, nConns := len(h.rooms), h.conns
	h.mu.Unlock()

	metrics.SetSyncRoomsActive(nRooms)
	metrics.SetSyncConnectionsActive(nConns)
}

// Broadcast forwards one frame to every member of room except sender.
func (h *Hub) Broadcast(room string, sender Client, messageType int, data []byte) {
	h.mu.Lock()
	members := make([]Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c == sender {
			continue
		}
		members = append(members, c)
	}
	h.mu.Unlock()

	metrics.RecordSyncMessage()
	for _, c := range members {
		// Best effort; drops are the client's problem to resync from.
		_ = c.Send(messageType, data)
	}
}

// RoomCount reports how many rooms currently have members.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// RoomFromPath maps a request path to a room name: the path minus its
// leading slash, or DefaultRoom when that leaves nothing.
func RoomFromPath(p string) string {
	room := strings.TrimPrefix(p, "/")
	if room == "" {
		return DefaultRoom
	}
	return room
}
