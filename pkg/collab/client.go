package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event payloads mirror the relay wire format. The shapes live here so
// importers of this package never depend on server internals.

// Peer is another participant in the file's session.
type Peer struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ContentUpdate is a relayed content snapshot from another editor.
type ContentUpdate struct {
	FilePath  string          `json:"filePath"`
	Content   string          `json:"content"`
	UserID    string          `json:"userId"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// CursorUpdate is a relayed cursor move from another editor.
type CursorUpdate struct {
	FilePath  string          `json:"filePath"`
	UserID    string          `json:"userId"`
	UserName  string          `json:"userName"`
	Position  json.RawMessage `json:"position"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

// CompilationUpdate reports progress of a compilation in the file's
// room.
type CompilationUpdate struct {
	CompilationKey string          `json:"compilationKey"`
	FilePath       string          `json:"filePath"`
	Command        string          `json:"command"`
	UserID         string          `json:"userId"`
	Status         string          `json:"status"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Handlers receives relay events. Nil handlers are skipped. Handlers
// run on the client's read goroutine; slow work belongs elsewhere.
type Handlers struct {
	OnPeerJoined           func(Peer)
	OnPeerLeft             func(userID string)
	OnCollaborators        func(filePath string, peers []Peer)
	OnContentUpdated       func(ContentUpdate)
	OnCursorUpdated        func(CursorUpdate)
	OnCompilationStarted   func(CompilationUpdate)
	OnCompilationCompleted func(CompilationUpdate)
	OnCompilationFailed    func(CompilationUpdate)
}

// ClientOptions configures a presence client.
type ClientOptions struct {
	// URL is the relay websocket endpoint, e.g. ws://host:3001/ws.
	URL string
	// UserName is the display name. Empty derives one from the user id.
	UserName string
	// Handlers receive relay events.
	Handlers Handlers
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client is a relay presence client: one websocket, one user identity.
// After Connect, Join announces the user in a file's room and the
// handlers start receiving that room's traffic. A dropped connection is
// redialed with backoff, and the current file is rejoined.
type Client struct {
	url      string
	userID   string
	userName string
	handlers Handlers

	mu          sync.Mutex
	conn        *websocket.Conn
	currentFile string
	closed      bool
	done        chan struct{}
}

// NewClient creates a client with a fresh random user identity.
func NewClient(opts ClientOptions) *Client {
	id := uuid.NewString()
	name := opts.UserName
	if name == "" {
		name = "user-" + id[:6]
	}
	return &Client{
		url:      opts.URL,
		userID:   id,
		userName: name,
		handlers: opts.Handlers,
		done:     make(chan struct{}),
	}
}

// UserID returns the client's generated identity.
func (c *Client) UserID() string { return c.userID }

// UserName returns the display name.
func (c *Client) UserName() string { return c.userName }

// Connect dials the relay and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Close leaves the relay and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Join announces the user in filePath's room. The file becomes the one
// rejoined after a reconnect.
func (c *Client) Join(filePath string) error {
	c.mu.Lock()
	c.currentFile = filePath
	c.mu.Unlock()
	return c.send("join-collaboration", map[string]string{
		"userId":   c.userID,
		"userName": c.userName,
		"filePath": filePath,
	})
}

// Leave exits filePath's room.
func (c *Client) Leave(filePath string) error {
	c.mu.Lock()
	if c.currentFile == filePath {
		c.currentFile = ""
	}
	c.mu.Unlock()
	return c.send("leave-file", map[string]string{
		"userId":   c.userID,
		"filePath": filePath,
	})
}

// SendContentChange publishes a content snapshot to the room.
func (c *Client) SendContentChange(filePath, content string) error {
	return c.send("file-content-change", map[string]string{
		"filePath": filePath,
		"content":  content,
		"userId":   c.userID,
	})
}

// SendCursor publishes a cursor position. Position and selection are
// editor-defined JSON.
func (c *Client) SendCursor(filePath string, position, selection json.RawMessage) error {
	return c.send("cursor-position-change", map[string]any{
		"filePath":  filePath,
		"userId":    c.userID,
		"position":  position,
		"selection": selection,
	})
}

// StartCompilation announces a command about to run against filePath.
func (c *Client) StartCompilation(filePath, command string) error {
	return c.send("start-compilation", map[string]string{
		"filePath": filePath,
		"command":  command,
		"userId":   c.userID,
	})
}

// NotifyCompilationComplete reports the result for a compilation key.
func (c *Client) NotifyCompilationComplete(key string, result json.RawMessage) error {
	return c.send("compilation-complete", map[string]any{
		"compilationKey": key,
		"result":         result,
	})
}

func (c *Client) send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.reconnect()
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		c.dispatch(env)
	}
}

// reconnect redials with doubling backoff until it succeeds or the
// client is closed, then rejoins the current file.
func (c *Client) reconnect() {
	backoff := time.Second
	for {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		file := c.currentFile
		c.mu.Unlock()

		go c.readLoop(conn)
		if file != "" {
			c.Join(file)
		}
		return
	}
}

func (c *Client) dispatch(env envelope) {
	switch env.Event {
	case "user-joined":
		if c.handlers.OnPeerJoined == nil {
			return
		}
		var p Peer
		if json.Unmarshal(env.Data, &p) == nil {
			c.handlers.OnPeerJoined(p)
		}
	case "user-left":
		if c.handlers.OnPeerLeft == nil {
			return
		}
		var p struct {
			UserID string `json:"userId"`
		}
		if json.Unmarshal(env.Data, &p) == nil {
			c.handlers.OnPeerLeft(p.UserID)
		}
	case "collaborators-updated":
		if c.handlers.OnCollaborators == nil {
			return
		}
		var p struct {
			FilePath      string `json:"filePath"`
			Collaborators []Peer `json:"collaborators"`
		}
		if json.Unmarshal(env.Data, &p) == nil {
			c.handlers.OnCollaborators(p.FilePath, p.Collaborators)
		}
	case "file-content-updated":
		if c.handlers.OnContentUpdated == nil {
			return
		}
		var p ContentUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			c.handlers.OnContentUpdated(p)
		}
	case "cursor-position-updated":
		if c.handlers.OnCursorUpdated == nil {
			return
		}
		var p CursorUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			c.handlers.OnCursorUpdated(p)
		}
	case "compilation-started":
		if c.handlers.OnCompilationStarted == nil {
			return
		}
		var p CompilationUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			c.handlers.OnCompilationStarted(p)
		}
	case "compilation-completed":
		if c.handlers.OnCompilationCompleted == nil {
			return
		}
		var p CompilationUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			c.handlers.OnCompilationCompleted(p)
		}
	case "compilation-failed":
		if c.handlers.OnCompilationFailed == nil {
			return
		}
		var p CompilationUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			c.handlers.OnCompilationFailed(p)
		}
	}
}
