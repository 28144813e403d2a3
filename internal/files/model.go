package files

import (
	"encoding/json"
	"strings"
)

// NodeType distinguishes files from folders in the hierarchy.
type NodeType string

const (
	// NodeTypeFile marks a leaf node carrying content.
	NodeTypeFile NodeType = "file"
	// NodeTypeFolder marks a container node.
	NodeTypeFolder NodeType = "folder"
)

const metadataReadonlyKey = "readonly"

// FileNode models a file or folder with its materialized path.
type FileNode struct {
	NodeID                string   `gorm:"column:node_id;primaryKey;size:190;not null"`
	ProjectID             string   `gorm:"column:project_id;size:190;not null;index:idx_file_nodes_project_path,priority:1"`
	NodeType              NodeType `gorm:"column:node_type;size:16;not null"`
	Name                  string   `gorm:"column:name;size:255;not null"`
	Path                  string   `gorm:"column:path;size:1024;not null;index:idx_file_nodes_project_path,priority:2"`
	ParentID              *string  `gorm:"column:parent_id;size:190"`
	Content               string   `gorm:"column:content;type:text;not null;default:''"`
	Language              string   `gorm:"column:language;size:64;not null;default:''"`
	IsDeleted             bool     `gorm:"column:is_deleted;not null;default:false;index:idx_file_nodes_project_path,priority:3"`
	Version               int64    `gorm:"column:version;not null;default:1"`
	CreatedBy             string   `gorm:"column:created_by;size:190;not null"`
	LastModifiedBy        string   `gorm:"column:last_modified_by;size:190;not null"`
	CreatedAtSeconds      int64    `gorm:"column:created_at_s;not null"`
	LastModifiedAtSeconds int64    `gorm:"column:last_modified_at_s;not null"`
	MetadataJSON          string   `gorm:"column:metadata_json;type:text;not null;default:'{}'"`
}

// TableName provides the explicit table binding for GORM.
func (FileNode) TableName() string {
	return "file_nodes"
}

// IsFolder reports whether the node is a folder.
func (n FileNode) IsFolder() bool {
	return n.NodeType == NodeTypeFolder
}

// Metadata decodes the metadata bag. A missing or malformed bag yields an empty map.
func (n FileNode) Metadata() map[string]any {
	bag := map[string]any{}
	if strings.TrimSpace(n.MetadataJSON) == "" {
		return bag
	}
	if err := json.Unmarshal([]byte(n.MetadataJSON), &bag); err != nil {
		return map[string]any{}
	}
	return bag
}

// IsReadonly reports whether the metadata bag carries a truthy readonly flag.
func (n FileNode) IsReadonly() bool {
	value, ok := n.Metadata()[metadataReadonlyKey]
	if !ok {
		return false
	}
	flag, ok := value.(bool)
	return ok && flag
}

// TreeNode is a FileNode with its resolved children, as returned by ListChildren.
// Children are ordered folders before files, then lexicographically by name;
// listing UIs rely on that ordering.
type TreeNode struct {
	FileNode
	Children []*TreeNode `json:"children,omitempty"`
}
