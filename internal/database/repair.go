package database

import (
	"fmt"

	"github.com/codedeck/backend/internal/files"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RepairTree reconciles the consistency gap left by non-atomic subtree
// operations. Materialized paths are recomputed from parent chains and
// rewritten where they disagree, and live nodes stranded under a soft-deleted
// ancestor are soft-deleted themselves. Runs at startup, before serving.
func RepairTree(db *gorm.DB, logger *zap.Logger) error {
	var nodes []files.FileNode
	if err := db.Find(&nodes).Error; err != nil {
		return err
	}

	byID := make(map[string]*files.FileNode, len(nodes))
	for i := range nodes {
		byID[nodes[i].NodeID] = &nodes[i]
	}

	repairedPaths := 0
	repairedDeletes := 0
	for i := range nodes {
		node := &nodes[i]

		expected, ok := expectedPath(node, byID)
		if ok && expected != node.Path {
			if err := db.Model(&files.FileNode{}).
				Where("node_id = ?", node.NodeID).
				Update("path", expected).Error; err != nil {
				return err
			}
			node.Path = expected
			repairedPaths++
		}

		if !node.IsDeleted && deletedAncestor(node, byID) {
			if err := db.Model(&files.FileNode{}).
				Where("node_id = ?", node.NodeID).
				Update("is_deleted", true).Error; err != nil {
				return err
			}
			node.IsDeleted = true
			repairedDeletes++
		}
	}

	if logger != nil && (repairedPaths > 0 || repairedDeletes > 0) {
		logger.Warn("file tree repaired",
			zap.Int("paths_rewritten", repairedPaths),
			zap.Int("orphans_soft_deleted", repairedDeletes))
	}
	return nil
}

// expectedPath recomputes a node's materialized path from its parent chain.
// A broken or looping chain yields no expectation rather than a bad rewrite.
func expectedPath(node *files.FileNode, byID map[string]*files.FileNode) (string, bool) {
	segments := []string{node.Name}
	seen := map[string]bool{node.NodeID: true}
	current := node
	for current.ParentID != nil {
		parent, ok := byID[*current.ParentID]
		if !ok || seen[parent.NodeID] {
			return "", false
		}
		seen[parent.NodeID] = true
		segments = append(segments, parent.Name)
		current = parent
	}
	path := segments[len(segments)-1]
	for i := len(segments) - 2; i >= 0; i-- {
		path = fmt.Sprintf("%s/%s", path, segments[i])
	}
	return path, true
}

func deletedAncestor(node *files.FileNode, byID map[string]*files.FileNode) bool {
	seen := map[string]bool{node.NodeID: true}
	current := node
	for current.ParentID != nil {
		parent, ok := byID[*current.ParentID]
		if !ok || seen[parent.NodeID] {
			return false
		}
		if parent.IsDeleted {
			return true
		}
		seen[parent.NodeID] = true
		current = parent
	}
	return false
}
