package syncrelay

import (
	"bytes"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

type fakeClient struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeClient) Send(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeClient) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := NewHub()
	a, b, c := &fakeClient{}, &fakeClient{}, &fakeClient{}
	hub.Join("room-1", a)
	hub.Join("room-1", b)
	hub.Join("room-1", c)

	payload := []byte{0x01, 0x02, 0x03}
	hub.Broadcast("room-1", a, websocket.BinaryMessage, payload)

	if got := a.received(); len(got) != 0 {
		t.Errorf("sender received %d frames, want 0", len(got))
	}
	for name, cl := range map[string]*fakeClient{"b": b, "c": c} {
		got := cl.received()
		if len(got) != 1 {
			t.Fatalf("%s received %d frames, want 1", name, len(got))
		}
		if !bytes.Equal(got[0], payload) {
			t.Errorf("%s received %v, want %v", name, got[0], payload)
		}
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	hub := NewHub()
	a, b := &fakeClient{}, &fakeClient{}
	hub.Join("room-1", a)
	hub.Join("room-2", b)

	hub.Broadcast("room-1", a, websocket.BinaryMessage, []byte{0xff})

	if got := b.received(); len(got) != 0 {
		t.Errorf("other room received %d frames, want 0", len(got))
	}
}

func TestEmptyRoomIsDropped(t *testing.T) {
	hub := NewHub()
	a, b := &fakeClient{}, &fakeClient{}
	hub.Join("room-1", a)
	hub.Join("room-1", b)
	if got := hub.RoomCount(); got != 1 {
		t.Fatalf("RoomCount = %d, want 1", got)
	}

	hub.Leave("room-1", a)
	if got := hub.RoomCount(); got != 1 {
		t.Errorf("RoomCount = %d after first leave, want 1", got)
	}
	hub.Leave("room-1", b)
	if got := hub.RoomCount(); got != 0 {
		t.Errorf("RoomCount = %d after last leave, want 0", got)
	}
}

func TestLeaveUnknownRoom(t *testing.T) {
	hub := NewHub()
	hub.Leave("nope", &fakeClient{})
}

func TestRoomFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", DefaultRoom},
		{"", DefaultRoom},
		{"/monaco-collab-room-main.c", "monaco-collab-room-main.c"},
		{"/a/b", "a/b"},
	}
	for _, tt := range tests {
		if got := RoomFromPath(tt.path); got != tt.want {
			t.Errorf("RoomFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
