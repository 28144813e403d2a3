package session

import (
	"time"

	"go.uber.org/zap"
)

const defaultCursorThrottle = 100 * time.Millisecond

// Relay propagates edits, cursor movement, and save notices among the members
// of one file's session, always excluding the sender. Edits are relayed
// verbatim: this is a last-delivery-wins design, not conflict resolution, and
// messages for one file are delivered in the order the relay received them.
type Relay struct {
	registry    *Registry
	broadcaster Broadcaster
	throttle    *trailingThrottle
	logger      *zap.Logger
}

// RelayConfig describes the dependencies of the change relay.
type RelayConfig struct {
	Registry       *Registry
	Broadcaster    Broadcaster
	CursorThrottle time.Duration
	Logger         *zap.Logger
}

// NewRelay constructs the change relay.
func NewRelay(cfg RelayConfig) *Relay {
	throttle := cfg.CursorThrottle
	if throttle <= 0 {
		throttle = defaultCursorThrottle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		registry:    cfg.Registry,
		broadcaster: cfg.Broadcaster,
		throttle:    newTrailingThrottle(throttle),
		logger:      logger,
	}
}

// Edit relays a whole-content update to the other session members. It reports
// whether the sender held a session on the file; a false return means nothing
// was delivered and the caller must re-establish the session first.
func (r *Relay) Edit(fileID, userID, content string, versionHint int64) bool {
	if !r.registry.Touch(fileID, userID) {
		r.logger.Debug("edit from user without session", zap.String("file_id", fileID), zap.String("user_id", userID))
		return false
	}
	r.broadcaster.Broadcast(RoomFile(fileID), userID, EventEdit, EditPayload{
		FileID:      fileID,
		UserID:      userID,
		Content:     content,
		VersionHint: versionHint,
	})
	return true
}

// Cursor relays cursor movement, throttled per sender to at most one event
// per window of continuous movement; only the final position in a window is
// sent. Like Edit, it reports whether the sender held a session on the file.
func (r *Relay) Cursor(fileID, userID string, position CursorPosition, selection *SelectionRange) bool {
	if !r.registry.UpdateCursor(fileID, userID, position, selection) {
		return false
	}
	payload := CursorPayload{
		FileID:    fileID,
		UserID:    userID,
		Position:  position,
		Selection: selection,
	}
	r.throttle.Offer(fileID+"\x00"+userID, func() {
		r.broadcaster.Broadcast(RoomFile(fileID), userID, EventCursor, payload)
	})
	return true
}

// Save tells the other session members a persist completed and their local
// buffer is stale; receivers reload from the store rather than merge.
func (r *Relay) Save(fileID, savedBy string, version int64) {
	r.broadcaster.Broadcast(RoomFile(fileID), savedBy, EventSave, SavePayload{
		FileID:  fileID,
		SavedBy: savedBy,
		Version: version,
	})
}
