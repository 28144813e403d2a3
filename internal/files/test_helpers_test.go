package files

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:codedeck_files_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&FileNode{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequenceIDGenerator{prefix: "node"},
	})
	if err != nil {
		t.Fatalf("failed to construct files service: %v", err)
	}
	return service, db
}

func mustCreate(t *testing.T, service *Service, req CreateRequest) *FileNode {
	t.Helper()
	node, err := service.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected create error for %q: %v", req.Name, err)
	}
	return node
}

func mustFolder(t *testing.T, service *Service, projectID, name string, parentID *string) *FileNode {
	t.Helper()
	return mustCreate(t, service, CreateRequest{
		ProjectID: projectID,
		Name:      name,
		Type:      NodeTypeFolder,
		ParentID:  parentID,
		CreatedBy: "user-1",
	})
}

func mustFile(t *testing.T, service *Service, projectID, name string, parentID *string, content string) *FileNode {
	t.Helper()
	return mustCreate(t, service, CreateRequest{
		ProjectID: projectID,
		Name:      name,
		Type:      NodeTypeFile,
		ParentID:  parentID,
		Content:   content,
		CreatedBy: "user-1",
	})
}

func loadNode(t *testing.T, db *gorm.DB, nodeID string) FileNode {
	t.Helper()
	var node FileNode
	if err := db.Where("node_id = ?", nodeID).Take(&node).Error; err != nil {
		t.Fatalf("failed to load node %s: %v", nodeID, err)
	}
	return node
}
