// Package relay coordinates live collaboration sessions: who is editing
// which file, raw content and cursor telemetry, and compilation status
// fan-out. All state is in memory and lost on restart; clients rejoin
// and the rooms rebuild themselves.
package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloudcode/cloudcode/internal/logging"
	"github.com/cloudcode/cloudcode/internal/metrics"
)

// DefaultCompilationTTL is how long a finished compilation record stays
// around before it is dropped.
const DefaultCompilationTTL = 60 * time.Second

// Compilation task statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Options tunes relay behavior. The zero value uses defaults.
type Options struct {
	// CompilationTTL overrides DefaultCompilationTTL.
	CompilationTTL time.Duration
}

type userState struct {
	userID      string
	userName    string
	connID      string
	currentFile string
}

type compilationTask struct {
	key       string
	filePath  string
	command   string
	userID    string
	status    string
	startTime int64
	endTime   int64
	result    json.RawMessage
}

// Relay tracks connected users, per-file rooms, and compilation tasks.
// All methods are safe for concurrent use.
type Relay struct {
	mu           sync.Mutex
	users        map[string]*userState // keyed by user id
	byConn       map[string]*userState // keyed by connection id
	conns        map[string]Conn
	rooms        map[string]map[string]Conn // room -> conn id -> conn
	compilations map[string]*compilationTask

	ttl time.Duration
	now func() time.Time
}

// New creates an empty relay.
func New(opts Options) *Relay {
	ttl := opts.CompilationTTL
	if ttl <= 0 {
		ttl = DefaultCompilationTTL
	}
	return &Relay{
		users:        make(map[string]*userState),
		byConn:       make(map[string]*userState),
		conns:        make(map[string]Conn),
		rooms:        make(map[string]map[string]Conn),
		compilations: make(map[string]*compilationTask),
		ttl:          ttl,
		now:          time.Now,
	}
}

func fileRoom(filePath string) string        { return "file-" + filePath }
func compilationRoom(filePath string) string { return "compilation-" + filePath }

// Register tracks a new connection before it has joined any room.
func (r *Relay) Register(conn Conn) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	n := len(r.conns)
	r.mu.Unlock()
	metrics.SetRelayConnectionsActive(n)
}

// Join places conn's user into the file's collaboration and compilation
// rooms, announces the arrival to the rest of the room, and pushes a
// full membership snapshot to everyone in the room, the joiner
// included. A user id that is already registered is overwritten; the
// newest connection wins.
func (r *Relay) Join(conn Conn, p JoinPayload) {
	name := p.UserName
	if name == "" {
		name = defaultName(p.UserID)
	}

	r.mu.Lock()
	if prev, ok := r.users[p.UserID]; ok && prev.connID != conn.ID() {
		delete(r.byConn, prev.connID)
	}
	state := &userState{
		userID:      p.UserID,
		userName:    name,
		connID:      conn.ID(),
		currentFile: p.FilePath,
	}
	r.users[p.UserID] = state
	r.byConn[conn.ID()] = state

	r.addToRoom(fileRoom(p.FilePath), conn)
	r.addToRoom(compilationRoom(p.FilePath), conn)

	snapshot := r.collaboratorsLocked(p.FilePath)
	rooms := len(r.rooms)
	r.mu.Unlock()

	metrics.SetRelayRoomsActive(rooms)
	metrics.RecordRelayEvent(EventJoinCollaboration)

	r.broadcast(fileRoom(p.FilePath), conn.ID(), EventUserJoined, UserJoinedEvent{
		UserID:   p.UserID,
		UserName: name,
		FilePath: p.FilePath,
	})
	r.broadcast(fileRoom(p.FilePath), "", EventCollaboratorsUpdated, CollaboratorsUpdatedEvent{
		FilePath:      p.FilePath,
		Collaborators: snapshot,
	})

	logging.Debug("user joined",
		zap.String("user", p.UserID),
		zap.String("file", p.FilePath))
}

// ContentChange relays a raw content snapshot to the rest of the file's
// room, stamped with the server arrival time in Unix milliseconds. The
// snapshot is telemetry for late observers; document convergence is the
// sync relay's job.
func (r *Relay) ContentChange(conn Conn, p ContentChangePayload) {
	metrics.RecordRelayEvent(EventFileContentChange)
	r.broadcast(fileRoom(p.FilePath), conn.ID(), EventFileContentUpdated, ContentUpdatedEvent{
		FilePath:  p.FilePath,
		Content:   p.Content,
		UserID:    p.UserID,
		Changes:   p.Changes,
		Timestamp: r.now().UnixMilli(),
	})
}

// CursorChange relays a cursor update to the rest of the file's room,
// enriched with the sender's display name when the user is known.
func (r *Relay) CursorChange(conn Conn, p CursorChangePayload) {
	r.mu.Lock()
	name := ""
	if u, ok := r.users[p.UserID]; ok {
		name = u.userName
	}
	r.mu.Unlock()

	metrics.RecordRelayEvent(EventCursorPositionChange)
	r.broadcast(fileRoom(p.FilePath), conn.ID(), EventCursorPositionUpdated, CursorUpdatedEvent{
		FilePath:  p.FilePath,
		UserID:    p.UserID,
		UserName:  name,
		Position:  p.Position,
		Selection: p.Selection,
	})
}

// Leave removes conn from the file's rooms and tells the remaining
// members. The user stays registered; they may still be editing another
// file.
func (r *Relay) Leave(conn Conn, p LeavePayload) {
	r.mu.Lock()
	r.removeFromRoom(fileRoom(p.FilePath), conn.ID())
	r.removeFromRoom(compilationRoom(p.FilePath), conn.ID())
	if u, ok := r.users[p.UserID]; ok && u.currentFile == p.FilePath {
		u.currentFile = ""
	}
	rooms := len(r.rooms)
	r.mu.Unlock()

	metrics.SetRelayRoomsActive(rooms)
	metrics.RecordRelayEvent(EventLeaveFile)

	r.broadcast(fileRoom(p.FilePath), "", EventUserLeft, UserLeftEvent{
		UserID:   p.UserID,
		FilePath: p.FilePath,
	})
}

// JoinCompilationRoom subscribes conn to a file's compilation stream
// without joining the editing room.
func (r *Relay) JoinCompilationRoom(conn Conn, p RoomPayload) {
	r.mu.Lock()
	r.addToRoom(compilationRoom(p.FilePath), conn)
	rooms := len(r.rooms)
	r.mu.Unlock()
	metrics.SetRelayRoomsActive(rooms)
}

// LeaveCompilationRoom unsubscribes conn from a compilation stream.
func (r *Relay) LeaveCompilationRoom(conn Conn, p RoomPayload) {
	r.mu.Lock()
	r.removeFromRoom(compilationRoom(p.FilePath), conn.ID())
	rooms := len(r.rooms)
	r.mu.Unlock()
	metrics.SetRelayRoomsActive(rooms)
}

// StartCompilation records a running task keyed by file path and start
// time, and announces it to the file's compilation room. The key is
// returned so callers can correlate the completion.
func (r *Relay) StartCompilation(conn Conn, p StartCompilationPayload) string {
	start := r.now().UnixMilli()
	key := fmt.Sprintf("%s-%d", p.FilePath, start)

	r.mu.Lock()
	r.compilations[key] = &compilationTask{
		key:       key,
		filePath:  p.FilePath,
		command:   p.Command,
		userID:    p.UserID,
		status:    StatusRunning,
		startTime: start,
	}
	n := len(r.compilations)
	r.mu.Unlock()

	metrics.SetCompilationsActive(n)
	metrics.RecordRelayEvent(EventStartCompilation)

	r.broadcast(compilationRoom(p.FilePath), "", EventCompilationStarted, CompilationStartedEvent{
		CompilationKey: key,
		FilePath:       p.FilePath,
		Command:        p.Command,
		UserID:         p.UserID,
		StartTime:      start,
	})
	return key
}

// CompleteCompilation marks a running task finished, fans the result
// out to the compilation room, and schedules the record for removal
// after the TTL. An unknown key is dropped silently: the task may have
// been garbage collected, or the reporter may be stale. Reports false
// when nothing was found.
func (r *Relay) CompleteCompilation(p CompilationCompletePayload) bool {
	r.mu.Lock()
	task, ok := r.compilations[p.CompilationKey]
	if !ok {
		r.mu.Unlock()
		return false
	}
	task.status = StatusCompleted
	task.endTime = r.now().UnixMilli()
	task.result = p.Result
	ev := CompilationCompletedEvent{
		CompilationKey: task.key,
		FilePath:       task.filePath,
		Command:        task.command,
		UserID:         task.userID,
		Status:         task.status,
		StartTime:      task.startTime,
		EndTime:        task.endTime,
		Result:         task.result,
	}
	r.mu.Unlock()

	metrics.RecordRelayEvent(EventCompilationComplete)
	r.broadcast(compilationRoom(ev.FilePath), "", EventCompilationCompleted, ev)

	time.AfterFunc(r.ttl, func() {
		r.mu.Lock()
		delete(r.compilations, p.CompilationKey)
		n := len(r.compilations)
		r.mu.Unlock()
		metrics.SetCompilationsActive(n)
	})
	return true
}

// BroadcastCompilationStarted announces a server-initiated command to a
// file's compilation room. No task record is stored; the HTTP execute
// path reports completion itself.
func (r *Relay) BroadcastCompilationStarted(key, filePath, command, userID string) {
	r.broadcast(compilationRoom(filePath), "", EventCompilationStarted, CompilationStartedEvent{
		CompilationKey: key,
		FilePath:       filePath,
		Command:        command,
		UserID:         userID,
		StartTime:      r.now().UnixMilli(),
	})
}

// BroadcastCompilationCompleted fans out the result of a
// server-initiated command.
func (r *Relay) BroadcastCompilationCompleted(key, filePath, command, userID string, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		logging.Error("marshal compilation result", zap.Error(err))
		return
	}
	now := r.now().UnixMilli()
	r.broadcast(compilationRoom(filePath), "", EventCompilationCompleted, CompilationCompletedEvent{
		CompilationKey: key,
		FilePath:       filePath,
		Command:        command,
		UserID:         userID,
		Status:         StatusCompleted,
		EndTime:        now,
		Result:         raw,
	})
}

// BroadcastCompilationFailed reports a command that could not run.
func (r *Relay) BroadcastCompilationFailed(filePath, userID, errMsg string) {
	r.broadcast(compilationRoom(filePath), "", EventCompilationFailed, CompilationFailedEvent{
		FilePath: filePath,
		Error:    errMsg,
		UserID:   userID,
	})
}

// Disconnect tears down everything conn owned: its user registration,
// its room memberships, and a user-left announcement to the file the
// user was editing. Lookup is by connection id, so a disconnect costs
// the same no matter how many users are registered.
func (r *Relay) Disconnect(conn Conn) {
	id := conn.ID()

	r.mu.Lock()
	delete(r.conns, id)
	state := r.byConn[id]
	delete(r.byConn, id)

	var file, userID string
	if state != nil {
		delete(r.users, state.userID)
		file = state.currentFile
		userID = state.userID
	}
	for room := range r.rooms {
		r.removeFromRoom(room, id)
	}
	var snapshot []Collaborator
	if state != nil && file != "" {
		snapshot = r.collaboratorsLocked(file)
	}
	nConns := len(r.conns)
	nRooms := len(r.rooms)
	r.mu.Unlock()

	metrics.SetRelayConnectionsActive(nConns)
	metrics.SetRelayRoomsActive(nRooms)

	if state != nil && file != "" {
		r.broadcast(fileRoom(file), "", EventUserLeft, UserLeftEvent{
			UserID:   userID,
			FilePath: file,
		})
		r.broadcast(fileRoom(file), "", EventCollaboratorsUpdated, CollaboratorsUpdatedEvent{
			FilePath:      file,
			Collaborators: snapshot,
		})
	}
}

// Collaborators returns the users currently editing filePath.
func (r *Relay) Collaborators(filePath string) []Collaborator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collaboratorsLocked(filePath)
}

func (r *Relay) collaboratorsLocked(filePath string) []Collaborator {
	out := make([]Collaborator, 0)
	for _, u := range r.users {
		if u.currentFile == filePath {
			out = append(out, Collaborator{UserID: u.userID, UserName: u.userName})
		}
	}
	return out
}

func (r *Relay) addToRoom(room string, conn Conn) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		r.rooms[room] = members
	}
	members[conn.ID()] = conn
}

func (r *Relay) removeFromRoom(room, connID string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// broadcast sends an event to every member of a room except the
// connection named by exclude. Sends are best effort: a member whose
// buffer is full misses the message.
func (r *Relay) broadcast(room, exclude, event string, data any) {
	r.mu.Lock()
	members := make([]Conn, 0, len(r.rooms[room]))
	for id, c := range r.rooms[room] {
		if id == exclude {
			continue
		}
		members = append(members, c)
	}
	r.mu.Unlock()

	for _, c := range members {
		if err := c.Send(event, data); err != nil {
			logging.Debug("relay send dropped",
				zap.String("room", room),
				zap.String("event", event),
				zap.Error(err))
		}
	}
}

func defaultName(userID string) string {
	if len(userID) > 6 {
		userID = userID[:6]
	}
	return "user-" + userID
}
