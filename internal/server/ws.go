package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/codedeck/backend/internal/autosave"
	"github.com/codedeck/backend/internal/projects"
	"github.com/codedeck/backend/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client-initiated events; server-to-client events live in the session package.
const (
	wsEventJoinFile  = "join-file"
	wsEventLeaveFile = "leave-file"
	wsEventEdit      = "edit"
	wsEventCursor    = "cursor"
	wsEventSave      = "save"

	wsEventPresence   = "presence"
	wsEventFileJoined = "file-joined"
	wsEventError      = "error"
)

// persistDeadline bounds store lookups and flushes triggered from the read loop.
const persistDeadline = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin editor frontends connect here; the bearer token is the
	// access control, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsEnvelope frames every message in both directions.
type wsEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsJoinFilePayload struct {
	FileID string `json:"fileId"`
}

type wsEditPayload struct {
	FileID      string `json:"fileId"`
	Content     string `json:"content"`
	VersionHint int64  `json:"versionHint"`
}

type wsCursorPayload struct {
	FileID    string                  `json:"fileId"`
	Position  session.CursorPosition  `json:"position"`
	Selection *session.SelectionRange `json:"selection,omitempty"`
}

type wsFileJoinedPayload struct {
	FileID       string                  `json:"fileId"`
	Content      string                  `json:"content"`
	Version      int64                   `json:"version"`
	Participants []session.SessionMember `json:"participants"`
}

type wsPresenceUser struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	JoinedAt    int64  `json:"joinedAt"`
}

type wsPresencePayload struct {
	ProjectID string           `json:"projectId"`
	Users     []wsPresenceUser `json:"users"`
}

type wsErrorPayload struct {
	Message string `json:"message"`
}

// wsClient is the per-connection state. Inbound events are handled on the
// single read loop, so the active-file fields need no lock.
type wsClient struct {
	conn      *websocket.Conn
	userID    string
	projectID string

	send chan []byte
	done chan struct{}

	activeFileID   string
	canWriteActive bool
	cancelFileSub  func()

	coordinator *autosave.Coordinator
}

func (h *httpHandler) handleProjectWS(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("projectId")

	allowed, err := h.gate.HasAccess(c.Request.Context(), userID, projectID, projects.AccessRead)
	if err != nil {
		h.logger.Error("access check failed", zap.Error(err), zap.String("project_id", projectID))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if !allowed {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access_denied"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:      conn,
		userID:    userID,
		projectID: projectID,
		send:      make(chan []byte, 64),
		done:      make(chan struct{}),
	}

	coordinator, err := autosave.NewCoordinator(autosave.Config{
		Saver:    h.filesService,
		UserID:   userID,
		Debounce: h.autosaveDebounce,
		Logger:   h.logger,
		OnSaved: func(fileID string, version int64) {
			h.relay.Save(fileID, userID, version)
		},
	})
	if err != nil {
		h.logger.Error("autosave coordinator construction failed", zap.Error(err))
		conn.Close()
		return
	}
	client.coordinator = coordinator

	go client.writePump()

	connCtx, cancelConn := context.WithCancel(context.Background())
	defer cancelConn()

	// Subscribe before announcing the join so no concurrent presence event
	// slips between the roster snapshot and the subscription.
	projectStream, cancelProjectSub := h.dispatcher.Subscribe(connCtx, session.RoomProject(projectID), userID)
	go client.forward(projectStream)

	roster := h.registry.JoinProject(projectID, userID)
	client.enqueue(wsEventPresence, wsPresencePayload{ProjectID: projectID, Users: h.presenceUsers(roster)})

	h.logger.Info("realtime connection opened",
		zap.String("project_id", projectID),
		zap.String("user_id", userID))

	client.readPump(h)

	// Teardown: presence leave cascades into any open file session.
	if client.cancelFileSub != nil {
		client.cancelFileSub()
	}
	cancelProjectSub()
	coordinator.Close()
	h.registry.LeaveProject(projectID, userID)
	close(client.done)
	conn.Close()

	h.logger.Info("realtime connection closed",
		zap.String("project_id", projectID),
		zap.String("user_id", userID))
}

// presenceUsers decorates a roster with the display names captured from
// identity claims at token exchange. Users without a record keep a bare id.
func (h *httpHandler) presenceUsers(roster []session.PresenceMember) []wsPresenceUser {
	ids := make([]string, 0, len(roster))
	for _, member := range roster {
		ids = append(ids, member.UserID)
	}
	names := map[string]string{}
	if h.directory != nil {
		resolved, err := h.directory.DisplayNames(ids)
		if err != nil {
			h.logger.Warn("display name lookup failed", zap.Error(err))
		} else {
			names = resolved
		}
	}
	users := make([]wsPresenceUser, 0, len(roster))
	for _, member := range roster {
		users = append(users, wsPresenceUser{
			UserID:      member.UserID,
			DisplayName: names[member.UserID],
			JoinedAt:    member.JoinedAt,
		})
	}
	return users
}

func (cl *wsClient) readPump(h *httpHandler) {
	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope wsEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			cl.enqueue(wsEventError, wsErrorPayload{Message: "malformed message"})
			continue
		}
		cl.dispatch(h, envelope)
	}
}

func (cl *wsClient) dispatch(h *httpHandler, envelope wsEnvelope) {
	switch envelope.Event {
	case wsEventJoinFile:
		var payload wsJoinFilePayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil || payload.FileID == "" {
			cl.enqueue(wsEventError, wsErrorPayload{Message: "fileId is required"})
			return
		}
		cl.joinFile(h, payload.FileID)
	case wsEventLeaveFile:
		cl.leaveActiveFile(h)
	case wsEventEdit:
		var payload wsEditPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			cl.enqueue(wsEventError, wsErrorPayload{Message: "malformed edit"})
			return
		}
		cl.edit(h, payload)
	case wsEventCursor:
		var payload wsCursorPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			cl.enqueue(wsEventError, wsErrorPayload{Message: "malformed cursor"})
			return
		}
		if payload.FileID != cl.activeFileID || cl.activeFileID == "" {
			return
		}
		if !h.relay.Cursor(payload.FileID, cl.userID, payload.Position, payload.Selection) {
			cl.readmit(h)
			h.relay.Cursor(payload.FileID, cl.userID, payload.Position, payload.Selection)
		}
	case wsEventSave:
		ctx, cancel := context.WithTimeout(context.Background(), persistDeadline)
		cl.coordinator.Flush(ctx)
		cancel()
	default:
		cl.enqueue(wsEventError, wsErrorPayload{Message: "unknown event " + envelope.Event})
	}
}

// joinFile switches the connection's single active file session. The previous
// session is always left first; the protocol never leaves a dangling session
// behind a file switch.
func (cl *wsClient) joinFile(h *httpHandler, fileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistDeadline)
	defer cancel()

	node, err := h.filesService.Get(ctx, fileID)
	if err != nil {
		cl.enqueue(wsEventError, wsErrorPayload{Message: "file not found"})
		return
	}
	if node.ProjectID != cl.projectID || node.IsFolder() {
		cl.enqueue(wsEventError, wsErrorPayload{Message: "file not found"})
		return
	}

	canWrite, err := h.gate.HasAccess(ctx, cl.userID, cl.projectID, projects.AccessWrite)
	if err != nil {
		h.logger.Error("access check failed", zap.Error(err), zap.String("project_id", cl.projectID))
		cl.enqueue(wsEventError, wsErrorPayload{Message: "access check failed"})
		return
	}

	cl.leaveActiveFile(h)

	stream, cancelSub := h.dispatcher.Subscribe(context.Background(), session.RoomFile(fileID), cl.userID)
	go cl.forward(stream)
	participants := h.registry.JoinFile(cl.projectID, fileID, cl.userID)

	cl.activeFileID = fileID
	cl.canWriteActive = canWrite
	cl.cancelFileSub = cancelSub
	cl.coordinator.SetActiveFile(fileID, node.Content)

	cl.enqueue(wsEventFileJoined, wsFileJoinedPayload{
		FileID:       fileID,
		Content:      node.Content,
		Version:      node.Version,
		Participants: participants,
	})
}

func (cl *wsClient) leaveActiveFile(h *httpHandler) {
	if cl.activeFileID == "" {
		return
	}
	h.registry.LeaveFile(cl.activeFileID, cl.userID)
	if cl.cancelFileSub != nil {
		cl.cancelFileSub()
		cl.cancelFileSub = nil
	}
	cl.activeFileID = ""
	cl.canWriteActive = false
	cl.coordinator.SetActiveFile("", "")
}

func (cl *wsClient) edit(h *httpHandler, payload wsEditPayload) {
	if cl.activeFileID == "" || payload.FileID != cl.activeFileID {
		cl.enqueue(wsEventError, wsErrorPayload{Message: "no session on file"})
		return
	}
	if !cl.canWriteActive {
		cl.enqueue(wsEventError, wsErrorPayload{Message: "write access required"})
		return
	}
	if !h.relay.Edit(payload.FileID, cl.userID, payload.Content, payload.VersionHint) {
		cl.readmit(h)
		h.relay.Edit(payload.FileID, cl.userID, payload.Content, payload.VersionHint)
	}
	cl.coordinator.RecordEdit(payload.FileID, payload.Content)
}

// readmit restores the connection's session membership after a stale sweep
// evicted it while the socket stayed open. The rejoin is announced to the
// other session members like any other join.
func (cl *wsClient) readmit(h *httpHandler) {
	h.registry.JoinFile(cl.projectID, cl.activeFileID, cl.userID)
}

// forward pushes dispatcher messages for one room onto the connection.
func (cl *wsClient) forward(stream <-chan RoomMessage) {
	for {
		select {
		case <-cl.done:
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			cl.enqueue(message.Event, message.Payload)
		}
	}
}

// enqueue frames and queues one outbound event, dropping it when the
// connection cannot keep up.
func (cl *wsClient) enqueue(event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(wsEnvelope{Event: event, Payload: body})
	if err != nil {
		return
	}
	select {
	case cl.send <- frame:
	default:
	}
}

func (cl *wsClient) writePump() {
	for {
		select {
		case <-cl.done:
			return
		case frame := <-cl.send:
			if err := cl.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}
