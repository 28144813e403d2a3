package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultStaleAfter    = 30 * time.Second
	defaultSweepInterval = 10 * time.Second
)

var errMissingBroadcaster = errors.New("session: broadcaster is required")

// Config describes the dependencies of the presence registry.
type Config struct {
	Broadcaster   Broadcaster
	Clock         func() time.Time
	Palette       []string
	StaleAfter    time.Duration
	SweepInterval time.Duration
	Logger        *zap.Logger
}

// Registry tracks project presence and per-file edit sessions. All state is
// ephemeral: a restart loses only presence, never content, and nothing here
// needs recovery. Operations on the same project or file are serialized by a
// per-entry lock; different keys proceed in parallel.
type Registry struct {
	broadcaster   Broadcaster
	clock         func() time.Time
	palette       []string
	staleAfter    time.Duration
	sweepInterval time.Duration
	logger        *zap.Logger

	mu       sync.Mutex
	projects map[string]*projectEntry
	sessions map[string]*fileEntry
}

type projectEntry struct {
	mu      sync.Mutex
	members map[string]time.Time
}

type fileEntry struct {
	mu        sync.Mutex
	projectID string
	members   map[string]*memberState
}

type memberState struct {
	color          string
	cursor         CursorPosition
	selection      *SelectionRange
	lastActivityAt time.Time
}

// NewRegistry constructs the presence registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	palette := cfg.Palette
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		broadcaster:   cfg.Broadcaster,
		clock:         clock,
		palette:       palette,
		staleAfter:    staleAfter,
		sweepInterval: sweepInterval,
		logger:        logger,
		projects:      make(map[string]*projectEntry),
		sessions:      make(map[string]*fileEntry),
	}, nil
}

// JoinProject adds the user to the project roster, announces the join to the
// other members, and returns the full roster including the joiner.
func (r *Registry) JoinProject(projectID, userID string) []PresenceMember {
	entry := r.lockProjectEntry(projectID, true)
	if _, ok := entry.members[userID]; !ok {
		entry.members[userID] = r.clock()
	}
	roster := make([]PresenceMember, 0, len(entry.members))
	for memberID, joinedAt := range entry.members {
		roster = append(roster, PresenceMember{UserID: memberID, JoinedAt: joinedAt.Unix()})
	}
	entry.mu.Unlock()

	sort.Slice(roster, func(i, j int) bool { return roster[i].UserID < roster[j].UserID })

	r.broadcaster.Broadcast(RoomProject(projectID), userID, EventUserJoined, PresencePayload{UserID: userID})
	return roster
}

// LeaveProject removes the user from the roster and from any open edit
// session in the project, then announces the departure.
func (r *Registry) LeaveProject(projectID, userID string) {
	for _, fileID := range r.sessionsForProject(projectID) {
		r.LeaveFile(fileID, userID)
	}

	r.mu.Lock()
	entry, ok := r.projects[projectID]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.mu.Lock()
	_, present := entry.members[userID]
	delete(entry.members, userID)
	if len(entry.members) == 0 {
		delete(r.projects, projectID)
	}
	entry.mu.Unlock()
	r.mu.Unlock()

	if present {
		r.broadcaster.Broadcast(RoomProject(projectID), userID, EventUserLeft, PresencePayload{UserID: userID})
	}
}

// JoinFile opens or joins the file's edit session, assigns the user a cursor
// color, announces the join to existing session members only, and returns the
// current participants including the joiner.
func (r *Registry) JoinFile(projectID, fileID, userID string) []SessionMember {
	entry := r.lockFileEntry(projectID, fileID, true)
	state, ok := entry.members[userID]
	if !ok {
		inUse := make(map[string]bool, len(entry.members))
		for _, member := range entry.members {
			inUse[member.color] = true
		}
		state = &memberState{color: assignColor(r.palette, inUse)}
		entry.members[userID] = state
	}
	state.lastActivityAt = r.clock()
	members := entry.membersLocked()
	color := state.color
	entry.mu.Unlock()

	r.broadcaster.Broadcast(RoomFile(fileID), userID, EventFileUserJoined, SessionPayload{
		FileID: fileID,
		UserID: userID,
		Color:  color,
	})
	return members
}

// LeaveFile removes the user from the file's session, destroying the session
// when the last participant leaves. Safe to call when no session exists.
func (r *Registry) LeaveFile(fileID, userID string) {
	r.mu.Lock()
	entry, ok := r.sessions[fileID]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.mu.Lock()
	_, present := entry.members[userID]
	delete(entry.members, userID)
	if len(entry.members) == 0 {
		delete(r.sessions, fileID)
	}
	entry.mu.Unlock()
	r.mu.Unlock()

	if present {
		r.broadcaster.Broadcast(RoomFile(fileID), userID, EventFileUserLeft, SessionPayload{
			FileID: fileID,
			UserID: userID,
		})
	}
}

// UpdateCursor records the user's cursor state and refreshes their activity
// clock. Reports whether the user holds a session on the file.
func (r *Registry) UpdateCursor(fileID, userID string, position CursorPosition, selection *SelectionRange) bool {
	entry := r.lockFileEntry("", fileID, false)
	if entry == nil {
		return false
	}
	defer entry.mu.Unlock()
	state, ok := entry.members[userID]
	if !ok {
		return false
	}
	state.cursor = position
	state.selection = selection
	state.lastActivityAt = r.clock()
	return true
}

// Touch refreshes the user's activity clock without moving their cursor.
func (r *Registry) Touch(fileID, userID string) bool {
	entry := r.lockFileEntry("", fileID, false)
	if entry == nil {
		return false
	}
	defer entry.mu.Unlock()
	state, ok := entry.members[userID]
	if !ok {
		return false
	}
	state.lastActivityAt = r.clock()
	return true
}

// Members returns the file session's current participants.
func (r *Registry) Members(fileID string) []SessionMember {
	entry := r.lockFileEntry("", fileID, false)
	if entry == nil {
		return nil
	}
	defer entry.mu.Unlock()
	return entry.membersLocked()
}

// Start runs the stale-session sweep until the context is cancelled. The
// sweep handles silent disconnects that never sent an explicit leave.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Sweep evicts cursor entries whose last activity exceeds the staleness
// threshold, broadcasting one inactive notice per eviction.
func (r *Registry) Sweep() {
	type eviction struct {
		fileID string
		userID string
	}
	now := r.clock()
	var evictions []eviction

	r.mu.Lock()
	for fileID, entry := range r.sessions {
		entry.mu.Lock()
		for userID, state := range entry.members {
			if now.Sub(state.lastActivityAt) > r.staleAfter {
				delete(entry.members, userID)
				evictions = append(evictions, eviction{fileID: fileID, userID: userID})
			}
		}
		if len(entry.members) == 0 {
			delete(r.sessions, fileID)
		}
		entry.mu.Unlock()
	}
	r.mu.Unlock()

	for _, evicted := range evictions {
		r.logger.Debug("stale session entry evicted",
			zap.String("file_id", evicted.fileID),
			zap.String("user_id", evicted.userID))
		r.broadcaster.Broadcast(RoomFile(evicted.fileID), evicted.userID, EventInactive, InactivePayload{
			FileID: evicted.fileID,
			UserID: evicted.userID,
		})
	}
}

func (e *fileEntry) membersLocked() []SessionMember {
	members := make([]SessionMember, 0, len(e.members))
	for memberID, state := range e.members {
		members = append(members, SessionMember{
			UserID:    memberID,
			Color:     state.color,
			Cursor:    state.cursor,
			Selection: state.selection,
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members
}

// lockProjectEntry returns the project's entry with its lock held, or nil when
// the entry is absent and create is false. The entry lock is taken before the
// registry lock is released, so a concurrent leave cannot unregister the entry
// between lookup and lock.
func (r *Registry) lockProjectEntry(projectID string, create bool) *projectEntry {
	r.mu.Lock()
	entry, ok := r.projects[projectID]
	if !ok {
		if !create {
			r.mu.Unlock()
			return nil
		}
		entry = &projectEntry{members: make(map[string]time.Time)}
		r.projects[projectID] = entry
	}
	entry.mu.Lock()
	r.mu.Unlock()
	return entry
}

// lockFileEntry is the file-session counterpart of lockProjectEntry. The
// projectID is only consulted when creating a missing entry.
func (r *Registry) lockFileEntry(projectID, fileID string, create bool) *fileEntry {
	r.mu.Lock()
	entry, ok := r.sessions[fileID]
	if !ok {
		if !create {
			r.mu.Unlock()
			return nil
		}
		entry = &fileEntry{projectID: projectID, members: make(map[string]*memberState)}
		r.sessions[fileID] = entry
	}
	entry.mu.Lock()
	r.mu.Unlock()
	return entry
}

func (r *Registry) sessionsForProject(projectID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var fileIDs []string
	for fileID, entry := range r.sessions {
		if entry.projectID == projectID {
			fileIDs = append(fileIDs, fileID)
		}
	}
	return fileIDs
}
