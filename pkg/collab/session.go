package collab

import (
	"context"
	"sync"
	"time"
)

// DefaultDebounce is how long file switches are coalesced before the
// session rebinds. Rapid navigation through a file tree produces a
// burst of switches; only the last one matters.
const DefaultDebounce = 300 * time.Millisecond

// Editor is the surface the session needs from a text editor.
type Editor interface {
	GetValue() string
	SetValue(content string)
}

// RoomJoiner connects the session to a named sync room. The returned
// function leaves the room.
type RoomJoiner interface {
	Join(room string) (leave func(), err error)
}

// ContentFetcher loads a file's current content, typically from the
// gateway's content endpoint. It must honor ctx cancellation.
type ContentFetcher func(ctx context.Context, filePath string) (string, error)

// SessionOptions configures a session. Editor, Rooms, and Fetch are
// required; Store defaults to a fresh one and Debounce to
// DefaultDebounce.
type SessionOptions struct {
	Editor   Editor
	Rooms    RoomJoiner
	Fetch    ContentFetcher
	Store    *DocumentStore
	Debounce time.Duration
}

// Session binds an editor to one collaborative file at a time. A
// switch tears the previous binding down, joins the new file's room,
// and seeds the document from the gateway.
type Session struct {
	editor   Editor
	rooms    RoomJoiner
	fetch    ContentFetcher
	store    *DocumentStore
	debounce time.Duration

	mu          sync.Mutex
	timer       *time.Timer
	current     string
	gen         int
	unobserve   func()
	leaveRoom   func()
	cancelFetch context.CancelFunc
	closed      bool
}

// NewSession creates a session. No binding exists until the first
// SwitchFile.
func NewSession(opts SessionOptions) *Session {
	store := opts.Store
	if store == nil {
		store = NewDocumentStore()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Session{
		editor:   opts.Editor,
		rooms:    opts.Rooms,
		fetch:    opts.Fetch,
		store:    store,
		debounce: debounce,
	}
}

// RoomName maps a file path to its sync room.
func RoomName(filePath string) string {
	return "monaco-collab-room-" + filePath
}

// SwitchFile schedules a rebind to filePath. Calls within the debounce
// window replace each other; only the last target takes effect.
func (s *Session) SwitchFile(filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() { s.activate(filePath) })
}

// CurrentFile returns the active file, or "" before the first switch
// completes.
func (s *Session) CurrentFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// PushLocalContent propagates an editor change into the shared
// document. The document observer skips the echo because the editor
// already holds this content.
func (s *Session) PushLocalContent(content string) {
	s.mu.Lock()
	file := s.current
	s.mu.Unlock()
	if file == "" {
		return
	}
	doc := s.store.Get(file)
	doc.Transact(func() {
		doc.Delete(0, doc.Len())
		doc.Insert(0, content)
	})
}

// Close tears down the active binding. The session cannot be reused.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.teardownLocked()
	s.mu.Unlock()
}

// teardownLocked unwinds the active binding: pending fetch first, then
// the editor binding, then the room.
func (s *Session) teardownLocked() {
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	if s.unobserve != nil {
		s.unobserve()
		s.unobserve = nil
	}
	if s.leaveRoom != nil {
		s.leaveRoom()
		s.leaveRoom = nil
	}
	s.current = ""
}

func (s *Session) activate(filePath string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.gen++
	gen := s.gen

	doc := s.store.Get(filePath)
	editor := s.editor
	s.unobserve = doc.Observe(func(content string) {
		// Skip the echo of the editor's own change.
		if editor.GetValue() != content {
			editor.SetValue(content)
		}
	})

	leave, err := s.rooms.Join(RoomName(filePath))
	if err != nil {
		// No room, no binding. The document observer stays off too.
		s.unobserve()
		s.unobserve = nil
		s.mu.Unlock()
		return
	}
	s.leaveRoom = leave
	s.current = filePath

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel
	s.mu.Unlock()

	go s.seed(ctx, gen, filePath, doc)
}

// seed loads the file's content and replaces the document in one
// transaction. A failed or superseded fetch leaves the document alone;
// whatever the room has already synced stays authoritative.
func (s *Session) seed(ctx context.Context, gen int, filePath string, doc *Document) {
	content, err := s.fetch(ctx, filePath)
	if err != nil {
		return
	}

	s.mu.Lock()
	stale := s.closed || gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}

	doc.Transact(func() {
		doc.Delete(0, doc.Len())
		doc.Insert(0, content)
	})
}
