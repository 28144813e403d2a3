package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/codedeck/backend/internal/auth"
	"github.com/codedeck/backend/internal/files"
	"github.com/codedeck/backend/internal/projects"
	"github.com/codedeck/backend/internal/run"
	"github.com/codedeck/backend/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "codedeck_user_id"

var (
	errMissingIdentityVerifier = errors.New("identity verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingFilesService     = errors.New("files service dependency required")
	errMissingProjectsService  = errors.New("projects service dependency required")
	errMissingRegistry         = errors.New("session registry dependency required")
	errMissingRelay            = errors.New("change relay dependency required")
	errMissingDispatcher       = errors.New("room dispatcher dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// IdentityVerifier validates upstream identity assertions.
type IdentityVerifier interface {
	ValidateRequest(r *http.Request) (auth.IdentityClaims, error)
	ValidateToken(token string) (auth.IdentityClaims, error)
}

// BackendTokenManager issues and validates backend bearer tokens.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// IdentityResolver maps verified claims to a canonical user id.
type IdentityResolver interface {
	ResolveCanonicalUserID(claims auth.IdentityClaims) (string, error)
}

// UserDirectory resolves user ids to profile display names for roster
// enrichment.
type UserDirectory interface {
	DisplayNames(userIDs []string) (map[string]string, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	IdentityVerifier IdentityVerifier
	TokenManager     BackendTokenManager
	IdentityResolver IdentityResolver
	UserDirectory    UserDirectory
	FilesService     *files.Service
	ProjectsService  *projects.Service
	Gate             projects.Gate
	RunService       run.Service
	Registry         *session.Registry
	Relay            *session.Relay
	Dispatcher       *RoomDispatcher
	AutosaveDebounce time.Duration
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin router for the API server.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.IdentityVerifier == nil {
		return nil, errMissingIdentityVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.FilesService == nil {
		return nil, errMissingFilesService
	}
	if deps.ProjectsService == nil {
		return nil, errMissingProjectsService
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Relay == nil {
		return nil, errMissingRelay
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gate := deps.Gate
	if gate == nil {
		gate = deps.ProjectsService
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:         deps.IdentityVerifier,
		tokens:           deps.TokenManager,
		resolver:         deps.IdentityResolver,
		directory:        deps.UserDirectory,
		filesService:     deps.FilesService,
		projectsService:  deps.ProjectsService,
		gate:             gate,
		runService:       deps.RunService,
		registry:         deps.Registry,
		relay:            deps.Relay,
		dispatcher:       deps.Dispatcher,
		autosaveDebounce: deps.AutosaveDebounce,
		logger:           logger,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/projects", handler.handleProjectCreate)
	protected.GET("/projects", handler.handleProjectList)
	protected.GET("/projects/:projectId", handler.handleProjectGet)
	protected.POST("/projects/:projectId/members", handler.handleMemberAdd)
	protected.POST("/projects/:projectId/files", handler.handleFileCreate)
	protected.GET("/projects/:projectId/files", handler.handleFileTree)
	protected.POST("/projects/:projectId/run", handler.handleRun)
	protected.GET("/projects/:projectId/ws", handler.handleProjectWS)
	protected.GET("/files/:fileId", handler.handleFileGet)
	protected.PATCH("/files/:fileId", handler.handleFileUpdate)
	protected.POST("/files/:fileId/move", handler.handleFileMove)
	protected.DELETE("/files/:fileId", handler.handleFileDelete)
	protected.POST("/files/:fileId/duplicate", handler.handleFileDuplicate)

	return router, nil
}

type httpHandler struct {
	verifier         IdentityVerifier
	tokens           BackendTokenManager
	resolver         IdentityResolver
	directory        UserDirectory
	filesService     *files.Service
	projectsService  *projects.Service
	gate             projects.Gate
	runService       run.Service
	registry         *session.Registry
	relay            *session.Relay
	dispatcher       *RoomDispatcher
	autosaveDebounce time.Duration
	logger           *zap.Logger
}

type tokenRequestPayload struct {
	Assertion string `json:"assertion"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	_ = c.ShouldBindJSON(&request)

	var claims auth.IdentityClaims
	var err error
	if strings.TrimSpace(request.Assertion) != "" {
		claims, err = h.verifier.ValidateToken(request.Assertion)
	} else {
		claims, err = h.verifier.ValidateRequest(c.Request)
	}
	if err != nil {
		h.logger.Warn("identity assertion rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	subject := strings.TrimSpace(claims.UserID)
	if subject == "" {
		subject = strings.TrimSpace(claims.Subject)
	}
	if h.resolver != nil {
		canonical, err := h.resolver.ResolveCanonicalUserID(claims)
		if err != nil {
			h.logger.Error("identity resolution failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
			return
		}
		subject = canonical
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), subject)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		UserID:      subject,
	})
}

// authorizeRequest accepts the backend token from the Authorization header
// or, for WebSocket upgrades that cannot set headers, the access_token query
// parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

type projectCreatePayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *httpHandler) handleProjectCreate(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request projectCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	project, err := h.projectsService.Create(c.Request.Context(), request.Name, request.Description, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *httpHandler) handleProjectList(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	list, err := h.projectsService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": list})
}

func (h *httpHandler) handleProjectGet(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.requireAccess(c, projectID, projects.AccessRead) {
		return
	}
	project, err := h.projectsService.Get(c.Request.Context(), projectID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

type memberAddPayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (h *httpHandler) handleMemberAdd(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("projectId")
	if !h.requireAccess(c, projectID, projects.AccessWrite) {
		return
	}
	var request memberAddPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	membership, err := h.projectsService.AddMember(
		c.Request.Context(), projectID, request.UserID, projects.MemberRole(request.Role), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, membership)
}

type fileCreatePayload struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	ParentID *string `json:"parentId"`
	Content  string  `json:"content"`
	Metadata string  `json:"metadata"`
}

func (h *httpHandler) handleFileCreate(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("projectId")
	if !h.requireAccess(c, projectID, projects.AccessWrite) {
		return
	}
	var request fileCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	node, err := h.filesService.Create(c.Request.Context(), files.CreateRequest{
		ProjectID: projectID,
		Name:      request.Name,
		Type:      files.NodeType(request.Type),
		ParentID:  request.ParentID,
		Content:   request.Content,
		Metadata:  request.Metadata,
		CreatedBy: userID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, node)
}

func (h *httpHandler) handleFileTree(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.requireAccess(c, projectID, projects.AccessRead) {
		return
	}
	opts := files.ListOptions{
		IncludeDeleted: c.Query("includeDeleted") == "true",
		Type:           files.NodeType(c.Query("type")),
	}
	tree, err := h.filesService.ListChildren(c.Request.Context(), projectID, opts)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": tree})
}

func (h *httpHandler) handleFileGet(c *gin.Context) {
	node, ok := h.authorizeNode(c, projects.AccessRead)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, node)
}

type fileUpdatePayload struct {
	Name     *string `json:"name"`
	Content  *string `json:"content"`
	Language *string `json:"language"`
	Metadata *string `json:"metadata"`
}

func (h *httpHandler) handleFileUpdate(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	node, ok := h.authorizeNode(c, projects.AccessWrite)
	if !ok {
		return
	}
	var request fileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	updated, err := h.filesService.Update(c.Request.Context(), node.NodeID, files.UpdatePatch{
		Name:     request.Name,
		Content:  request.Content,
		Language: request.Language,
		Metadata: request.Metadata,
	}, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type fileMovePayload struct {
	ParentID *string `json:"parentId"`
}

func (h *httpHandler) handleFileMove(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	node, ok := h.authorizeNode(c, projects.AccessWrite)
	if !ok {
		return
	}
	var request fileMovePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	moved, err := h.filesService.Move(c.Request.Context(), node.NodeID, request.ParentID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, moved)
}

func (h *httpHandler) handleFileDelete(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	node, ok := h.authorizeNode(c, projects.AccessWrite)
	if !ok {
		return
	}
	permanent := c.Query("permanent") == "true"
	if err := h.filesService.Delete(c.Request.Context(), node.NodeID, permanent, userID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type fileDuplicatePayload struct {
	Name *string `json:"name"`
}

func (h *httpHandler) handleFileDuplicate(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	node, ok := h.authorizeNode(c, projects.AccessWrite)
	if !ok {
		return
	}
	var request fileDuplicatePayload
	_ = c.ShouldBindJSON(&request)
	copied, err := h.filesService.Duplicate(c.Request.Context(), node.NodeID, request.Name, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, copied)
}

type runRequestPayload struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Stdin    string `json:"stdin"`
}

func (h *httpHandler) handleRun(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.requireAccess(c, projectID, projects.AccessWrite) {
		return
	}
	if h.runService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run_service_unavailable"})
		return
	}
	var request runRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Language) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.runService.Execute(c.Request.Context(), run.Request{
		Code:     request.Code,
		Language: request.Language,
		Stdin:    request.Stdin,
	})
	if err != nil {
		if errors.Is(err, run.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run_service_unavailable"})
			return
		}
		h.logger.Error("run service call failed", zap.Error(err), zap.String("project_id", projectID))
		c.JSON(http.StatusBadGateway, gin.H{"error": "run_failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// authorizeNode loads the node behind :fileId, deleted or not, and checks the
// caller's capability on its project. Soft-deleted nodes stay addressable so
// permanent deletion can reach them.
func (h *httpHandler) authorizeNode(c *gin.Context, level projects.AccessLevel) (*files.FileNode, bool) {
	fileID := c.Param("fileId")
	node, err := h.filesService.Lookup(c.Request.Context(), fileID)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	if !h.requireAccess(c, node.ProjectID, level) {
		return nil, false
	}
	if node.IsDeleted && c.Request.Method == http.MethodGet {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return nil, false
	}
	return node, true
}

func (h *httpHandler) requireAccess(c *gin.Context, projectID string, level projects.AccessLevel) bool {
	userID := c.GetString(userIDContextKey)
	allowed, err := h.gate.HasAccess(c.Request.Context(), userID, projectID, level)
	if err != nil {
		h.logger.Error("access check failed", zap.Error(err), zap.String("project_id", projectID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "access_check_failed"})
		return false
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied"})
		return false
	}
	return true
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, files.ErrNotFound) || errors.Is(err, projects.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, files.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, files.ErrInvalidOperation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_operation"})
	case errors.Is(err, files.ErrValidation) || errors.Is(err, projects.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, projects.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
