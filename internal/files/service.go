package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew  = "files.service.new"
	opCreate      = "files.create"
	opGet         = "files.get"
	opList        = "files.list_children"
	opUpdate      = "files.update"
	opMove        = "files.move"
	opDelete      = "files.delete"
	opDuplicate   = "files.duplicate"
	opSaveContent = "files.save_content"
)

// maxTreeDepth bounds ancestor walks so a corrupted parent chain cannot loop forever.
const maxTreeDepth = 1024

// ServiceConfig describes the dependencies of the hierarchy store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns file/folder entities, path computation, and structural invariants.
// Access control is the caller's responsibility; the store only enforces structure.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the hierarchy store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateRequest describes a new file or folder.
type CreateRequest struct {
	ProjectID string
	Name      string
	Type      NodeType
	ParentID  *string
	Content   string
	Metadata  string
	CreatedBy string
}

// Create inserts a new node, computing its path from the parent folder.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*FileNode, error) {
	name := strings.TrimSpace(req.Name)
	if req.ProjectID == "" || name == "" {
		return nil, newServiceError(opCreate, "missing_field", ErrValidation)
	}
	if strings.Contains(name, "/") {
		return nil, newServiceError(opCreate, "name_contains_separator", ErrValidation)
	}
	if req.Type != NodeTypeFile && req.Type != NodeTypeFolder {
		return nil, newServiceError(opCreate, "unknown_node_type", ErrValidation)
	}

	metadataJSON := "{}"
	if strings.TrimSpace(req.Metadata) != "" {
		var bag map[string]any
		if err := json.Unmarshal([]byte(req.Metadata), &bag); err != nil {
			return nil, newServiceError(opCreate, "malformed_metadata", fmt.Errorf("%w: %v", ErrValidation, err))
		}
		metadataJSON = req.Metadata
	}

	nodePath := name
	if req.ParentID != nil {
		parent, err := s.liveFolder(ctx, *req.ParentID)
		if err != nil {
			return nil, newServiceError(opCreate, "parent_not_found", err)
		}
		if parent.ProjectID != req.ProjectID {
			return nil, newServiceError(opCreate, "parent_project_mismatch", ErrNotFound)
		}
		nodePath = parent.Path + "/" + name
	}

	occupied, err := s.pathOccupied(ctx, req.ProjectID, nodePath, "")
	if err != nil {
		return nil, s.fail(opCreate, "path_lookup_failed", err)
	}
	if occupied {
		return nil, newServiceError(opCreate, "path_occupied", fmt.Errorf("%w: %s", ErrConflict, nodePath))
	}

	nodeID, err := s.idProvider.NewID()
	if err != nil {
		return nil, s.fail(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	node := FileNode{
		NodeID:                nodeID,
		ProjectID:             req.ProjectID,
		NodeType:              req.Type,
		Name:                  name,
		Path:                  nodePath,
		ParentID:              req.ParentID,
		Version:               1,
		CreatedBy:             req.CreatedBy,
		LastModifiedBy:        req.CreatedBy,
		CreatedAtSeconds:      now,
		LastModifiedAtSeconds: now,
		MetadataJSON:          metadataJSON,
	}
	if req.Type == NodeTypeFile {
		node.Content = req.Content
		node.Language = DetectLanguage(name)
	}

	if err := s.db.WithContext(ctx).Create(&node).Error; err != nil {
		return nil, s.fail(opCreate, "insert_failed", err, zap.String("path", nodePath))
	}
	return &node, nil
}

// Get returns a live node by id.
func (s *Service) Get(ctx context.Context, nodeID string) (*FileNode, error) {
	if nodeID == "" {
		return nil, newServiceError(opGet, "missing_node_id", ErrValidation)
	}
	node, err := s.liveByID(ctx, nodeID)
	if err != nil {
		return nil, newServiceError(opGet, "node_not_found", err)
	}
	return node, nil
}

// Lookup returns a node by id regardless of its deletion flag. Callers that
// must address soft-deleted nodes, such as permanent deletion, use this
// instead of Get.
func (s *Service) Lookup(ctx context.Context, nodeID string) (*FileNode, error) {
	if nodeID == "" {
		return nil, newServiceError(opGet, "missing_node_id", ErrValidation)
	}
	var node FileNode
	err := s.db.WithContext(ctx).Where("node_id = ?", nodeID).Take(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGet, "node_not_found", fmt.Errorf("%w: node %s", ErrNotFound, nodeID))
	}
	if err != nil {
		return nil, s.fail(opGet, "lookup_failed", err, zap.String("node_id", nodeID))
	}
	return &node, nil
}

// ListOptions filters ListChildren output.
type ListOptions struct {
	IncludeDeleted bool
	Type           NodeType
}

// ListChildren returns the project's node tree. At every level folders sort
// before files, then lexicographically by name.
func (s *Service) ListChildren(ctx context.Context, projectID string, opts ListOptions) ([]*TreeNode, error) {
	if projectID == "" {
		return nil, newServiceError(opList, "missing_project_id", ErrValidation)
	}

	query := s.db.WithContext(ctx).Where("project_id = ?", projectID)
	if !opts.IncludeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	if opts.Type != "" {
		query = query.Where("node_type = ?", opts.Type)
	}

	var nodes []FileNode
	if err := query.Order("path ASC").Find(&nodes).Error; err != nil {
		return nil, s.fail(opList, "query_failed", err, zap.String("project_id", projectID))
	}
	return buildTree(nodes), nil
}

// UpdatePatch carries a partial update. Nil fields are untouched.
type UpdatePatch struct {
	Name     *string
	Content  *string
	Language *string
	Metadata *string
}

// Update applies a patch to a node. Renaming recomputes the path from the
// unchanged parent and re-derives the language from the new name; readonly
// nodes reject content and name changes.
func (s *Service) Update(ctx context.Context, nodeID string, patch UpdatePatch, updatedBy string) (*FileNode, error) {
	node, err := s.liveByID(ctx, nodeID)
	if err != nil {
		return nil, newServiceError(opUpdate, "node_not_found", err)
	}

	if node.IsReadonly() && (patch.Content != nil || patch.Name != nil) {
		return nil, newServiceError(opUpdate, "readonly_node", fmt.Errorf("%w: node %s is readonly", ErrInvalidOperation, nodeID))
	}
	if patch.Content != nil && node.IsFolder() {
		return nil, newServiceError(opUpdate, "folder_content", fmt.Errorf("%w: folders carry no content", ErrInvalidOperation))
	}

	if patch.Metadata != nil {
		var bag map[string]any
		if err := json.Unmarshal([]byte(*patch.Metadata), &bag); err != nil {
			return nil, newServiceError(opUpdate, "malformed_metadata", fmt.Errorf("%w: %v", ErrValidation, err))
		}
		node.MetadataJSON = *patch.Metadata
	}

	if patch.Content != nil && *patch.Content != node.Content {
		node.Content = *patch.Content
		node.Version++
	}
	if patch.Language != nil {
		node.Language = *patch.Language
	}

	oldPath := node.Path
	renamed := false
	if patch.Name != nil && *patch.Name != node.Name {
		newName := strings.TrimSpace(*patch.Name)
		if newName == "" || strings.Contains(newName, "/") {
			return nil, newServiceError(opUpdate, "invalid_name", ErrValidation)
		}
		newPath := newName
		if node.ParentID != nil {
			parent, err := s.liveFolder(ctx, *node.ParentID)
			if err != nil {
				return nil, newServiceError(opUpdate, "parent_not_found", err)
			}
			newPath = parent.Path + "/" + newName
		}
		occupied, err := s.pathOccupied(ctx, node.ProjectID, newPath, node.NodeID)
		if err != nil {
			return nil, s.fail(opUpdate, "path_lookup_failed", err)
		}
		if occupied {
			return nil, newServiceError(opUpdate, "path_occupied", fmt.Errorf("%w: %s", ErrConflict, newPath))
		}
		node.Name = newName
		node.Path = newPath
		if node.NodeType == NodeTypeFile {
			node.Language = DetectLanguage(newName)
		}
		renamed = true
	}

	node.LastModifiedBy = updatedBy
	node.LastModifiedAtSeconds = s.clock().UTC().Unix()

	if err := s.db.WithContext(ctx).Save(node).Error; err != nil {
		return nil, s.fail(opUpdate, "save_failed", err, zap.String("node_id", nodeID))
	}

	if renamed && node.IsFolder() {
		if err := s.rewriteSubtreePaths(ctx, node.ProjectID, oldPath, node.Path, updatedBy); err != nil {
			return nil, s.fail(opUpdate, "subtree_rewrite_failed", err, zap.String("node_id", nodeID))
		}
	}
	return node, nil
}

// Move re-parents a node. The ancestor chain of the target is walked first to
// reject cycles; on acceptance the node's path and the path of every
// descendant is rewritten. The rewrite is one store write per descendant, not
// a transaction across the subtree.
func (s *Service) Move(ctx context.Context, nodeID string, newParentID *string, movedBy string) (*FileNode, error) {
	node, err := s.liveByID(ctx, nodeID)
	if err != nil {
		return nil, newServiceError(opMove, "node_not_found", err)
	}

	newPath := node.Name
	if newParentID != nil {
		target, err := s.liveFolder(ctx, *newParentID)
		if err != nil {
			return nil, newServiceError(opMove, "target_not_found", err)
		}
		if target.ProjectID != node.ProjectID {
			return nil, newServiceError(opMove, "target_project_mismatch", ErrNotFound)
		}
		if err := s.rejectCycle(ctx, node.NodeID, target); err != nil {
			return nil, newServiceError(opMove, "circular_move", err)
		}
		newPath = target.Path + "/" + node.Name
	}

	if newPath == node.Path {
		return node, nil
	}

	occupied, err := s.pathOccupied(ctx, node.ProjectID, newPath, node.NodeID)
	if err != nil {
		return nil, s.fail(opMove, "path_lookup_failed", err)
	}
	if occupied {
		return nil, newServiceError(opMove, "path_occupied", fmt.Errorf("%w: %s", ErrConflict, newPath))
	}

	oldPath := node.Path
	node.ParentID = newParentID
	node.Path = newPath
	node.LastModifiedBy = movedBy
	node.LastModifiedAtSeconds = s.clock().UTC().Unix()

	if err := s.db.WithContext(ctx).Save(node).Error; err != nil {
		return nil, s.fail(opMove, "save_failed", err, zap.String("node_id", nodeID))
	}
	if node.IsFolder() {
		if err := s.rewriteSubtreePaths(ctx, node.ProjectID, oldPath, newPath, movedBy); err != nil {
			return nil, s.fail(opMove, "subtree_rewrite_failed", err, zap.String("node_id", nodeID))
		}
	}
	return node, nil
}

// Delete soft-deletes a node, cascading the flag over every existing
// descendant in one batch. With permanent set, descendants are removed
// depth-first before the node itself.
func (s *Service) Delete(ctx context.Context, nodeID string, permanent bool, deletedBy string) error {
	var node FileNode
	err := s.db.WithContext(ctx).Where("node_id = ?", nodeID).Take(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opDelete, "node_not_found", fmt.Errorf("%w: node %s", ErrNotFound, nodeID))
	}
	if err != nil {
		return s.fail(opDelete, "lookup_failed", err, zap.String("node_id", nodeID))
	}

	if permanent {
		return s.deletePermanent(ctx, &node)
	}
	if node.IsDeleted {
		return nil
	}

	ids := []string{node.NodeID}
	if node.IsFolder() {
		descendants, err := s.descendants(ctx, node.ProjectID, node.Path, false)
		if err != nil {
			return s.fail(opDelete, "descendant_lookup_failed", err, zap.String("node_id", nodeID))
		}
		for _, descendant := range descendants {
			ids = append(ids, descendant.NodeID)
		}
	}

	now := s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Model(&FileNode{}).
		Where("node_id IN ?", ids).
		Updates(map[string]any{
			"is_deleted":         true,
			"last_modified_by":   deletedBy,
			"last_modified_at_s": now,
		}).Error; err != nil {
		return s.fail(opDelete, "soft_delete_failed", err, zap.String("node_id", nodeID))
	}
	return nil
}

func (s *Service) deletePermanent(ctx context.Context, node *FileNode) error {
	if node.IsFolder() {
		var children []FileNode
		if err := s.db.WithContext(ctx).
			Where("parent_id = ?", node.NodeID).
			Find(&children).Error; err != nil {
			return s.fail(opDelete, "child_lookup_failed", err, zap.String("node_id", node.NodeID))
		}
		for i := range children {
			if err := s.deletePermanent(ctx, &children[i]); err != nil {
				return err
			}
		}
	}
	if err := s.db.WithContext(ctx).
		Where("node_id = ?", node.NodeID).
		Delete(&FileNode{}).Error; err != nil {
		return s.fail(opDelete, "permanent_delete_failed", err, zap.String("node_id", node.NodeID))
	}
	return nil
}

// Duplicate copies a file next to itself. When no name is supplied, the copy
// name is probed as <base>_copy, <base>_copy1, <base>_copy2, ... against the
// live paths at the same parent.
func (s *Service) Duplicate(ctx context.Context, nodeID string, newName *string, createdBy string) (*FileNode, error) {
	node, err := s.liveByID(ctx, nodeID)
	if err != nil {
		return nil, newServiceError(opDuplicate, "node_not_found", err)
	}
	if node.IsFolder() {
		return nil, newServiceError(opDuplicate, "folder_duplicate", fmt.Errorf("%w: folders cannot be duplicated", ErrInvalidOperation))
	}

	name := ""
	if newName != nil {
		name = strings.TrimSpace(*newName)
	}
	if name == "" {
		name, err = s.probeCopyName(ctx, node)
		if err != nil {
			return nil, err
		}
	}

	return s.Create(ctx, CreateRequest{
		ProjectID: node.ProjectID,
		Name:      name,
		Type:      NodeTypeFile,
		ParentID:  node.ParentID,
		Content:   node.Content,
		Metadata:  node.MetadataJSON,
		CreatedBy: createdBy,
	})
}

// SaveContent persists file content, incrementing the per-save version counter.
// An unchanged payload is an idempotent no-op.
func (s *Service) SaveContent(ctx context.Context, nodeID, userID, content string) (*FileNode, error) {
	node, err := s.liveByID(ctx, nodeID)
	if err != nil {
		return nil, newServiceError(opSaveContent, "node_not_found", err)
	}
	if node.IsFolder() {
		return nil, newServiceError(opSaveContent, "folder_content", fmt.Errorf("%w: folders carry no content", ErrInvalidOperation))
	}
	if node.IsReadonly() {
		return nil, newServiceError(opSaveContent, "readonly_node", fmt.Errorf("%w: node %s is readonly", ErrInvalidOperation, nodeID))
	}
	if node.Content == content {
		return node, nil
	}

	node.Content = content
	node.Version++
	node.LastModifiedBy = userID
	node.LastModifiedAtSeconds = s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Save(node).Error; err != nil {
		return nil, s.fail(opSaveContent, "save_failed", err, zap.String("node_id", nodeID))
	}
	return node, nil
}

func (s *Service) liveByID(ctx context.Context, nodeID string) (*FileNode, error) {
	var node FileNode
	err := s.db.WithContext(ctx).
		Where("node_id = ? AND is_deleted = ?", nodeID, false).
		Take(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, nodeID)
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *Service) liveFolder(ctx context.Context, nodeID string) (*FileNode, error) {
	node, err := s.liveByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !node.IsFolder() {
		return nil, fmt.Errorf("%w: node %s is not a folder", ErrNotFound, nodeID)
	}
	return node, nil
}

func (s *Service) pathOccupied(ctx context.Context, projectID, nodePath, excludeNodeID string) (bool, error) {
	query := s.db.WithContext(ctx).Model(&FileNode{}).
		Where("project_id = ? AND path = ? AND is_deleted = ?", projectID, nodePath, false)
	if excludeNodeID != "" {
		query = query.Where("node_id <> ?", excludeNodeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// descendants returns nodes strictly below basePath. The LIKE pattern may
// over-match when the path contains wildcard characters, so results are
// re-checked against a true segment prefix before being returned.
func (s *Service) descendants(ctx context.Context, projectID, basePath string, includeDeleted bool) ([]FileNode, error) {
	prefix := basePath + "/"
	query := s.db.WithContext(ctx).
		Where("project_id = ? AND path LIKE ?", projectID, prefix+"%")
	if !includeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	var candidates []FileNode
	if err := query.Find(&candidates).Error; err != nil {
		return nil, err
	}
	matched := candidates[:0]
	for _, candidate := range candidates {
		if strings.HasPrefix(candidate.Path, prefix) {
			matched = append(matched, candidate)
		}
	}
	return matched, nil
}

// rewriteSubtreePaths replaces the old segment prefix of every descendant,
// soft-deleted ones included, with the new one. Each descendant is a separate
// store write; a crash mid-rewrite leaves a partially moved subtree that the
// startup repair pass reconciles.
func (s *Service) rewriteSubtreePaths(ctx context.Context, projectID, oldPath, newPath, modifiedBy string) error {
	descendants, err := s.descendants(ctx, projectID, oldPath, true)
	if err != nil {
		return err
	}
	now := s.clock().UTC().Unix()
	oldPrefix := oldPath + "/"
	for _, descendant := range descendants {
		rewritten := newPath + "/" + strings.TrimPrefix(descendant.Path, oldPrefix)
		if err := s.db.WithContext(ctx).Model(&FileNode{}).
			Where("node_id = ?", descendant.NodeID).
			Updates(map[string]any{
				"path":               rewritten,
				"last_modified_by":   modifiedBy,
				"last_modified_at_s": now,
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

// rejectCycle walks the ancestor chain of the move target. The moving node
// appearing anywhere in that chain makes the move circular.
func (s *Service) rejectCycle(ctx context.Context, movingNodeID string, target *FileNode) error {
	current := target
	for depth := 0; depth < maxTreeDepth; depth++ {
		if current.NodeID == movingNodeID {
			return fmt.Errorf("%w: moving a folder into its own subtree", ErrInvalidOperation)
		}
		if current.ParentID == nil {
			return nil
		}
		parent, err := s.liveByID(ctx, *current.ParentID)
		if err != nil {
			return err
		}
		current = parent
	}
	return fmt.Errorf("%w: ancestor chain exceeds depth bound", ErrInvalidOperation)
}

func (s *Service) probeCopyName(ctx context.Context, node *FileNode) (string, error) {
	ext := path.Ext(node.Name)
	base := strings.TrimSuffix(node.Name, ext)
	parentPrefix := ""
	if idx := strings.LastIndex(node.Path, "/"); idx >= 0 {
		parentPrefix = node.Path[:idx+1]
	}

	for attempt := 0; ; attempt++ {
		candidate := base + "_copy" + ext
		if attempt > 0 {
			candidate = fmt.Sprintf("%s_copy%d%s", base, attempt, ext)
		}
		occupied, err := s.pathOccupied(ctx, node.ProjectID, parentPrefix+candidate, "")
		if err != nil {
			return "", s.fail(opDuplicate, "path_lookup_failed", err)
		}
		if !occupied {
			return candidate, nil
		}
	}
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("files service error", attrs...)
	return newServiceError(operation, reason, err)
}
