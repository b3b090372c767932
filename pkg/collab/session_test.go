package collab

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeEditor struct {
	mu       sync.Mutex
	value    string
	setCalls int
}

func (e *fakeEditor) GetValue() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

func (e *fakeEditor) SetValue(content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = content
	e.setCalls++
}

func (e *fakeEditor) sets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setCalls
}

type fakeRooms struct {
	mu     sync.Mutex
	joined []string
	left   []string
}

func (r *fakeRooms) Join(room string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, room)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.left = append(r.left, room)
	}, nil
}

func (r *fakeRooms) joins() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.joined...)
}

func staticFetcher(contents map[string]string) ContentFetcher {
	return func(ctx context.Context, filePath string) (string, error) {
		if c, ok := contents[filePath]; ok {
			return c, nil
		}
		return "", fmt.Errorf("no such file: %s", filePath)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSwitchFileSeedsEditor(t *testing.T) {
	editor := &fakeEditor{}
	rooms := &fakeRooms{}
	s := NewSession(SessionOptions{
		Editor:   editor,
		Rooms:    rooms,
		Fetch:    staticFetcher(map[string]string{"/main.c": "int main() {}"}),
		Debounce: time.Millisecond,
	})
	defer s.Close()

	s.SwitchFile("/main.c")
	waitFor(t, func() bool { return editor.GetValue() == "int main() {}" })

	if joins := rooms.joins(); len(joins) != 1 || joins[0] != "monaco-collab-room-/main.c" {
		t.Errorf("joined rooms = %v", joins)
	}
	if got := s.CurrentFile(); got != "/main.c" {
		t.Errorf("CurrentFile = %q", got)
	}
}

func TestRapidSwitchesCoalesce(t *testing.T) {
	editor := &fakeEditor{}
	rooms := &fakeRooms{}
	s := NewSession(SessionOptions{
		Editor:   editor,
		Rooms:    rooms,
		Fetch:    staticFetcher(map[string]string{"/a.c": "a", "/b.c": "b", "/c.c": "c"}),
		Debounce: 30 * time.Millisecond,
	})
	defer s.Close()

	s.SwitchFile("/a.c")
	s.SwitchFile("/b.c")
	s.SwitchFile("/c.c")

	waitFor(t, func() bool { return s.CurrentFile() == "/c.c" })
	time.Sleep(50 * time.Millisecond)

	if joins := rooms.joins(); len(joins) != 1 || joins[0] != "monaco-collab-room-/c.c" {
		t.Errorf("joined rooms = %v, want only /c.c's room", joins)
	}
}

func TestFailedFetchLeavesDocumentAlone(t *testing.T) {
	editor := &fakeEditor{}
	rooms := &fakeRooms{}
	store := NewDocumentStore()
	store.Get("/main.c").SetText("already synced")

	s := NewSession(SessionOptions{
		Editor:   editor,
		Rooms:    rooms,
		Fetch:    staticFetcher(nil),
		Store:    store,
		Debounce: time.Millisecond,
	})
	defer s.Close()

	s.SwitchFile("/main.c")
	waitFor(t, func() bool { return s.CurrentFile() == "/main.c" })
	time.Sleep(50 * time.Millisecond)

	if got := store.Get("/main.c").String(); got != "already synced" {
		t.Errorf("document = %q, want untouched", got)
	}
}

func TestStaleFetchDoesNotStompNewFile(t *testing.T) {
	editor := &fakeEditor{}
	rooms := &fakeRooms{}
	store := NewDocumentStore()

	release := make(chan struct{})
	fetch := func(ctx context.Context, filePath string) (string, error) {
		if filePath == "/slow.c" {
			select {
			case <-release:
				return "slow content", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return "fast content", nil
	}

	s := NewSession(SessionOptions{
		Editor:   editor,
		Rooms:    rooms,
		Fetch:    fetch,
		Store:    store,
		Debounce: time.Millisecond,
	})
	defer s.Close()

	s.SwitchFile("/slow.c")
	waitFor(t, func() bool { return s.CurrentFile() == "/slow.c" })

	s.SwitchFile("/fast.c")
	waitFor(t, func() bool { return s.CurrentFile() == "/fast.c" })
	close(release)
	time.Sleep(50 * time.Millisecond)

	if got := store.Get("/slow.c").String(); got == "slow content" {
		t.Error("superseded fetch still seeded its document")
	}
	if got := editor.GetValue(); got != "fast content" {
		t.Errorf("editor = %q, want fast content", got)
	}
}

func TestObserverSkipsEcho(t *testing.T) {
	editor := &fakeEditor{}
	rooms := &fakeRooms{}
	s := NewSession(SessionOptions{
		Editor:   editor,
		Rooms:    rooms,
		Fetch:    staticFetcher(map[string]string{"/x.c": "seed"}),
		Debounce: time.Millisecond,
	})
	defer s.Close()

	s.SwitchFile("/x.c")
	waitFor(t, func() bool { return editor.GetValue() == "seed" })

	// The editor already holds this text; pushing it into the document
	// must not bounce back as SetValue.
	editor.SetValue("seed edited")
	mid := editor.sets()
	s.PushLocalContent("seed edited")
	time.Sleep(30 * time.Millisecond)

	if got := editor.sets(); got != mid {
		t.Errorf("SetValue called %d extra times after local push", got-mid)
	}
}

func TestCloseTearsDownBinding(t *testing.T) {
	editor := &fakeEditor{}
	rooms := &fakeRooms{}
	s := NewSession(SessionOptions{
		Editor:   editor,
		Rooms:    rooms,
		Fetch:    staticFetcher(map[string]string{"/x.c": "x"}),
		Debounce: time.Millisecond,
	})

	s.SwitchFile("/x.c")
	waitFor(t, func() bool { return s.CurrentFile() == "/x.c" })
	s.Close()

	rooms.mu.Lock()
	left := len(rooms.left)
	rooms.mu.Unlock()
	if left != 1 {
		t.Errorf("left %d rooms, want 1", left)
	}
	if got := s.CurrentFile(); got != "" {
		t.Errorf("CurrentFile after close = %q, want empty", got)
	}
}
