package relay

import "encoding/json"

// Client-to-server event names.
const (
	EventJoinCollaboration    = "join-collaboration"
	EventFileContentChange    = "file-content-change"
	EventCursorPositionChange = "cursor-position-change"
	EventLeaveFile            = "leave-file"
	EventJoinCompilationRoom  = "join-compilation-room"
	EventLeaveCompilationRoom = "leave-compilation-room"
	EventStartCompilation     = "start-compilation"
	EventCompilationComplete  = "compilation-complete"
)

// Server-to-client event names.
const (
	EventUserJoined            = "user-joined"
	EventUserLeft              = "user-left"
	EventCollaboratorsUpdated  = "collaborators-updated"
	EventFileContentUpdated    = "file-content-updated"
	EventCursorPositionUpdated = "cursor-position-updated"
	EventCompilationStarted    = "compilation-started"
	EventCompilationCompleted  = "compilation-completed"
	EventCompilationFailed     = "compilation-failed"
)

// Envelope is the wire frame for every relay message in both
// directions: an event name plus an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinPayload registers a user in a file's collaboration room.
type JoinPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	FilePath string `json:"filePath"`
}

// ContentChangePayload carries a raw editor content snapshot. It is
// relayed verbatim as telemetry; the CRDT layer owns authoritative
// content.
type ContentChangePayload struct {
	FilePath string          `json:"filePath"`
	Content  string          `json:"content"`
	UserID   string          `json:"userId"`
	Changes  json.RawMessage `json:"changes,omitempty"`
}

// CursorChangePayload carries a cursor position and selection. The
// position and selection shapes are editor-defined and opaque here.
type CursorChangePayload struct {
	FilePath  string          `json:"filePath"`
	UserID    string          `json:"userId"`
	Position  json.RawMessage `json:"position"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

// LeavePayload removes a user from a file's collaboration room.
type LeavePayload struct {
	FilePath string `json:"filePath"`
	UserID   string `json:"userId"`
}

// RoomPayload joins or leaves a compilation room on its own.
type RoomPayload struct {
	FilePath string `json:"filePath"`
	UserID   string `json:"userId"`
}

// StartCompilationPayload announces a remote command about to run.
type StartCompilationPayload struct {
	FilePath string `json:"filePath"`
	Command  string `json:"command"`
	UserID   string `json:"userId"`
}

// CompilationCompletePayload reports the result for a running task.
type CompilationCompletePayload struct {
	CompilationKey string          `json:"compilationKey"`
	Result         json.RawMessage `json:"result"`
}

// Collaborator identifies one participant in a file room.
type Collaborator struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// UserJoinedEvent announces a new collaborator to the rest of a room.
type UserJoinedEvent struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	FilePath string `json:"filePath"`
}

// UserLeftEvent announces a departed collaborator.
type UserLeftEvent struct {
	UserID   string `json:"userId"`
	FilePath string `json:"filePath"`
}

// CollaboratorsUpdatedEvent is the full membership snapshot pushed to a
// room, sender included, after every join.
type CollaboratorsUpdatedEvent struct {
	FilePath      string         `json:"filePath"`
	Collaborators []Collaborator `json:"collaborators"`
}

// ContentUpdatedEvent is a ContentChangePayload stamped with the server
// arrival time (Unix milliseconds).
type ContentUpdatedEvent struct {
	FilePath  string          `json:"filePath"`
	Content   string          `json:"content"`
	UserID    string          `json:"userId"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// CursorUpdatedEvent is a CursorChangePayload enriched with the
// sender's display name.
type CursorUpdatedEvent struct {
	FilePath  string          `json:"filePath"`
	UserID    string          `json:"userId"`
	UserName  string          `json:"userName"`
	Position  json.RawMessage `json:"position"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

// CompilationStartedEvent announces a task to its compilation room.
type CompilationStartedEvent struct {
	CompilationKey string `json:"compilationKey"`
	FilePath       string `json:"filePath"`
	Command        string `json:"command"`
	UserID         string `json:"userId"`
	StartTime      int64  `json:"startTime"`
}

// CompilationCompletedEvent carries the stored task plus its result.
type CompilationCompletedEvent struct {
	CompilationKey string          `json:"compilationKey"`
	FilePath       string          `json:"filePath"`
	Command        string          `json:"command"`
	UserID         string          `json:"userId"`
	Status         string          `json:"status"`
	StartTime      int64           `json:"startTime"`
	EndTime        int64           `json:"endTime"`
	Result         json.RawMessage `json:"result"`
}

// CompilationFailedEvent reports a command that could not run at all.
type CompilationFailedEvent struct {
	FilePath string `json:"filePath"`
	Error    string `json:"error"`
	UserID   string `json:"userId"`
}
