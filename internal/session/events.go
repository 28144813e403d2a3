package session

// Event names carried over the realtime channel.
const (
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventFileUserJoined = "file-user-joined"
	EventFileUserLeft   = "file-user-left"
	EventEdit           = "edit"
	EventCursor         = "cursor"
	EventSave           = "save"
	EventInactive       = "inactive"
)

// Broadcaster is the realtime channel consumed by the registry and relay:
// named events fanned out to a room, excluding the sender. Room keys come
// from RoomProject and RoomFile.
type Broadcaster interface {
	Broadcast(room, senderID, event string, payload any)
}

// RoomProject keys the presence room of a project.
func RoomProject(projectID string) string {
	return "project:" + projectID
}

// RoomFile keys the edit-session room of a file.
func RoomFile(fileID string) string {
	return "file:" + fileID
}

// CursorPosition locates a caret in a file buffer.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SelectionRange is the highlighted span anchored at a collaborator's cursor.
type SelectionRange struct {
	Start CursorPosition `json:"start"`
	End   CursorPosition `json:"end"`
}

// PresenceMember is one entry of a project roster.
type PresenceMember struct {
	UserID   string `json:"userId"`
	JoinedAt int64  `json:"joinedAt"`
}

// SessionMember is one participant of a file edit session.
type SessionMember struct {
	UserID    string          `json:"userId"`
	Color     string          `json:"color"`
	Cursor    CursorPosition  `json:"cursor"`
	Selection *SelectionRange `json:"selection,omitempty"`
}

// PresencePayload accompanies user-joined and user-left events.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// SessionPayload accompanies file-user-joined and file-user-left events.
type SessionPayload struct {
	FileID string `json:"fileId"`
	UserID string `json:"userId"`
	Color  string `json:"color,omitempty"`
}

// EditPayload is relayed verbatim to session members. The relay applies no
// transformation: concurrent senders overwrite each other in delivery order.
type EditPayload struct {
	FileID      string `json:"fileId"`
	UserID      string `json:"userId"`
	Content     string `json:"content"`
	VersionHint int64  `json:"versionHint"`
}

// CursorPayload carries throttled cursor movement.
type CursorPayload struct {
	FileID    string          `json:"fileId"`
	UserID    string          `json:"userId"`
	Position  CursorPosition  `json:"position"`
	Selection *SelectionRange `json:"selection,omitempty"`
}

// SavePayload tells session members their local buffer is stale and should be
// reloaded from the store.
type SavePayload struct {
	FileID  string `json:"fileId"`
	SavedBy string `json:"savedBy"`
	Version int64  `json:"version"`
}

// InactivePayload accompanies stale-cursor eviction notices.
type InactivePayload struct {
	FileID string `json:"fileId"`
	UserID string `json:"userId"`
}
