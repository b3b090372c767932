package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

type sentEvent struct {
	event string
	data  any
}

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent []sentEvent
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{event: event, data: data})
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) received(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, s := range f.sent {
		if s.event == event {
			out = append(out, s.data)
		}
	}
	return out
}

func TestJoinAnnouncesToOthersAndSnapshotsToAll(t *testing.T) {
	r := New(Options{})
	alice := newFakeConn("conn-alice")
	bob := newFakeConn("conn-bob")
	r.Register(alice)
	r.Register(bob)

	r.Join(alice, JoinPayload{UserID: "alice", UserName: "Alice", FilePath: "/main.c"})
	r.Join(bob, JoinPayload{UserID: "bob", UserName: "Bob", FilePath: "/main.c"})

	if got := alice.received(EventUserJoined); len(got) != 1 {
		t.Fatalf("alice saw %d user-joined events, want 1", len(got))
	} else if ev := got[0].(UserJoinedEvent); ev.UserID != "bob" {
		t.Errorf("alice saw join of %q, want bob", ev.UserID)
	}

	// The joiner never sees their own arrival.
	if got := bob.received(EventUserJoined); len(got) != 0 {
		t.Errorf("bob saw %d user-joined events, want 0", len(got))
	}

	// Both see the snapshot after bob's join, bob included.
	snaps := bob.received(EventCollaboratorsUpdated)
	if len(snaps) == 0 {
		t.Fatal("bob received no collaborators-updated")
	}
	last := snaps[len(snaps)-1].(CollaboratorsUpdatedEvent)
	if len(last.Collaborators) != 2 {
		t.Errorf("snapshot has %d collaborators, want 2", len(last.Collaborators))
	}
}

func TestJoinDefaultDisplayName(t *testing.T) {
	r := New(Options{})
	alice := newFakeConn("conn-a")
	bob := newFakeConn("conn-b")
	r.Register(alice)
	r.Register(bob)

	r.Join(alice, JoinPayload{UserID: "alice", UserName: "Alice", FilePath: "/x.go"})
	r.Join(bob, JoinPayload{UserID: "0123456789", FilePath: "/x.go"})

	got := alice.received(EventUserJoined)
	if len(got) != 1 {
		t.Fatalf("got %d user-joined events, want 1", len(got))
	}
	if ev := got[0].(UserJoinedEvent); ev.UserName != "user-012345" {
		t.Errorf("default name = %q, want user-012345", ev.UserName)
	}
}

func TestContentChangeExcludesSenderAndStampsTime(t *testing.T) {
	r := New(Options{})
	fixed := time.UnixMilli(1700000000000)
	r.now = func() time.Time { return fixed }

	alice := newFakeConn("conn-a")
	bob := newFakeConn("conn-b")
	r.Register(alice)
	r.Register(bob)
	r.Join(alice, JoinPayload{UserID: "alice", UserName: "Alice", FilePath: "/x.go"})
	r.Join(bob, JoinPayload{UserID: "bob", UserName: "Bob", FilePath: "/x.go"})

	r.ContentChange(alice, ContentChangePayload{
		FilePath: "/x.go", Content: "package main", UserID: "alice",
	})

	if got := alice.received(EventFileContentUpdated); len(got) != 0 {
		t.Errorf("sender received %d content updates, want 0", len(got))
	}
	got := bob.received(EventFileContentUpdated)
	if len(got) != 1 {
		t.Fatalf("bob received %d content updates, want 1", len(got))
	}
	ev := got[0].(ContentUpdatedEvent)
	if ev.Content != "package main" {
		t.Errorf("content = %q", ev.Content)
	}
	if ev.Timestamp != fixed.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", ev.Timestamp, fixed.UnixMilli())
	}
}

func TestCursorChangeCarriesDisplayName(t *testing.T) {
	r := New(Options{})
	alice := newFakeConn("conn-a")
	bob := newFakeConn("conn-b")
	r.Register(alice)
	r.Register(bob)
	r.Join(alice, JoinPayload{UserID: "alice", UserName: "Alice", FilePath: "/x.go"})
	r.Join(bob, JoinPayload{UserID: "bob", UserName: "Bob", FilePath: "/x.go"})

	r.CursorChange(alice, CursorChangePayload{
		FilePath: "/x.go",
		UserID:   "alice",
		Position: json.RawMessage(`{"line":3,"column":7}`),
	})

	got := bob.received(EventCursorPositionUpdated)
	if len(got) != 1 {
		t.Fatalf("bob received %d cursor updates, want 1", len(got))
	}
	if ev := got[0].(CursorUpdatedEvent); ev.UserName != "Alice" {
		t.Errorf("userName = %q, want Alice", ev.UserName)
	}
}

func TestLeaveNotifiesRemainingMembers(t *testing.T) {
	r := New(Options{})
	alice := newFakeConn("conn-a")
	bob := newFakeConn("conn-b")
	r.Register(alice)
	r.Register(bob)
	r.Join(alice, JoinPayload{UserID: "alice", UserName: "Alice", FilePath: "/x.go"})
	r.Join(bob, JoinPayload{UserID: "bob", UserName: "Bob", FilePath: "/x.go"})

	r.Leave(bob, LeavePayload{FilePath: "/x.go", UserID: "bob"})

	got := alice.received(EventUserLeft)
	if len(got) != 1 {
		t.Fatalf("alice received %d user-left events, want 1", len(got))
	}
	if ev := got[0].(UserLeftEvent); ev.UserID != "bob" {
		t.Errorf("user-left for %q, want bob", ev.UserID)
	}
}

func TestCompilationLifecycle(t *testing.T) {
	r := New(Options{CompilationTTL: 10 * time.Millisecond})
	alice := newFakeConn("conn-a")
	bob := newFakeConn("conn-b")
	r.Register(alice)
	r.Register(bob)
	r.Join(alice, JoinPayload{UserID: "alice", UserName: "Alice", FilePath: "/main.c"})
	r.Join(bob, JoinPayload{UserID: "bob", UserName: "Bob", FilePath: "/main.c"})

	key := r.StartCompilation(alice, StartCompilationPayload{
		FilePath: "/main.c", Command: "gcc main.c", UserID: "alice",
	})
	if key == "" {
		t.Fatal("empty compilation key")
	}

	// The starter is in the compilation room too.
	if got := alice.received(EventCompilationStarted); len(got) != 1 {
		t.Errorf("alice received %d compilation-started events, want 1", len(got))
	}

	if !r.CompleteCompilation(CompilationCompletePayload{
		CompilationKey: key,
		Result:         json.RawMessage(`{"success":true}`),
	}) {
		t.Fatal("CompleteCompilation returned false for a live key")
	}

	got := bob.received(EventCompilationCompleted)
	if len(got) != 1 {
		t.Fatalf("bob received %d compilation-completed events, want 1", len(got))
	}
	ev := got[0].(CompilationCompletedEvent)
	if ev.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", ev.Status, StatusCompleted)
	}
	if ev.CompilationKey != key {
		t.Errorf("key = %q, want %q", ev.CompilationKey, key)
	}

	// After the TTL the record is gone and the key is unknown again.
	time.Sleep(50 * time.Millisecond)
	if r.CompleteCompilation(CompilationCompletePayload{CompilationKey: key}) {
		t.Error("CompleteCompilation succeeded after TTL expiry")
	}
}

func TestCompleteCompilationUnknownKeyIsDropped(t *testing.T) {
	r := New(Options{})
	if r.CompleteCompilation(CompilationCompletePayload{CompilationKey: "/x.go-123"}) {
		t.Error("unknown key accepted")
	}
}

func TestDisconnectCleansUpAndNotifies(t *testing.T) {
	r := New(Options{})
	alice := newFakeConn("conn-a")
	bob := newFakeConn("conn-b")
	r.Register(alice)
	r.Register(bob)
	r.Join(alice, JoinPayload{UserID: "alice", UserName: "Alice", FilePath: "/x.go"})
	r.Join(bob, JoinPayload{UserID: "bob", UserName: "Bob", FilePath: "/x.go"})

	r.Disconnect(bob)

	got := alice.received(EventUserLeft)
	if len(got) != 1 {
		t.Fatalf("alice received %d user-left events, want 1", len(got))
	}
	if ev := got[0].(UserLeftEvent); ev.UserID != "bob" {
		t.Errorf("user-left for %q, want bob", ev.UserID)
	}

	snaps := alice.received(EventCollaboratorsUpdated)
	last := snaps[len(snaps)-1].(CollaboratorsUpdatedEvent)
	if len(last.Collaborators) != 1 {
		t.Errorf("snapshot has %d collaborators after disconnect, want 1", len(last.Collaborators))
	}

	if got := r.Collaborators("/x.go"); len(got) != 1 {
		t.Errorf("Collaborators = %d, want 1", len(got))
	}
}

func TestDisconnectUnknownConn(t *testing.T) {
	r := New(Options{})
	r.Disconnect(newFakeConn("never-registered"))
}

func TestRejoinReplacesOlderConnection(t *testing.T) {
	r := New(Options{})
	old := newFakeConn("conn-old")
	fresh := newFakeConn("conn-new")
	r.Register(old)
	r.Register(fresh)

	r.Join(old, JoinPayload{UserID: "alice", UserName: "Alice", FilePath: "/x.go"})
	r.Join(fresh, JoinPayload{UserID: "alice", UserName: "Alice", FilePath: "/x.go"})

	// Dropping the stale connection must not unregister the user.
	r.Disconnect(old)
	if got := r.Collaborators("/x.go"); len(got) != 1 {
		t.Fatalf("Collaborators = %d after stale disconnect, want 1", len(got))
	}

	r.Disconnect(fresh)
	if got := r.Collaborators("/x.go"); len(got) != 0 {
		t.Errorf("Collaborators = %d after final disconnect, want 0", len(got))
	}
}

func TestBroadcastSkipsFullBuffers(t *testing.T) {
	r := New(Options{})
	alice := newFakeConn("conn-a")
	stuck := &erroringConn{id: "conn-stuck"}
	r.Register(alice)
	r.Register(stuck)
	r.Join(alice, JoinPayload{UserID: "alice", UserName: "Alice", FilePath: "/x.go"})
	r.Join(stuck, JoinPayload{UserID: "bob", UserName: "Bob", FilePath: "/x.go"})

	// A member that cannot accept a message must not stall the room.
	r.ContentChange(alice, ContentChangePayload{FilePath: "/x.go", Content: "x", UserID: "alice"})
}

type erroringConn struct{ id string }

func (e *erroringConn) ID() string             { return e.id }
func (e *erroringConn) Send(string, any) error { return fmt.Errorf("buffer full") }
func (e *erroringConn) Close() error           { return nil }
