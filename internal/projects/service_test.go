package projects

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestService(t *testing.T, ids []string) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:codedeck_projects_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Project{}, &Membership{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000600, 0).UTC() },
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct project service: %v", err)
	}
	return service
}

func TestCreateAndGetProject(t *testing.T) {
	service := newTestService(t, []string{"project-1"})

	created, err := service.Create(context.Background(), "  demo  ", "scratch space", "owner-1")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if created.ProjectID != "project-1" || created.Name != "demo" {
		t.Fatalf("unexpected project: %+v", created)
	}

	loaded, err := service.Get(context.Background(), "project-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.OwnerID != "owner-1" {
		t.Fatalf("expected owner owner-1, got %q", loaded.OwnerID)
	}

	if _, err := service.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateRequiresNameAndOwner(t *testing.T) {
	service := newTestService(t, []string{"project-1"})

	if _, err := service.Create(context.Background(), "   ", "", "owner-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	if _, err := service.Create(context.Background(), "demo", "", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing owner, got %v", err)
	}
}

func TestListForUserCoversOwnershipAndMembership(t *testing.T) {
	service := newTestService(t, []string{"project-1", "project-2", "project-3"})

	if _, err := service.Create(context.Background(), "owned", "", "alice"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.Create(context.Background(), "shared", "", "bob"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.Create(context.Background(), "private", "", "bob"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.AddMember(context.Background(), "project-2", "alice", RoleViewer, "bob"); err != nil {
		t.Fatalf("unexpected add member error: %v", err)
	}

	list, err := service.ListForUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 projects for alice, got %d", len(list))
	}
}

func TestAddMemberValidatesRole(t *testing.T) {
	service := newTestService(t, []string{"project-1"})
	if _, err := service.Create(context.Background(), "demo", "", "owner-1"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if _, err := service.AddMember(context.Background(), "project-1", "carol", MemberRole("admin"), "owner-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown role, got %v", err)
	}
	if _, err := service.AddMember(context.Background(), "missing", "carol", RoleViewer, "owner-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing project, got %v", err)
	}
}

func TestHasAccessGradesCapabilities(t *testing.T) {
	service := newTestService(t, []string{"project-1"})
	if _, err := service.Create(context.Background(), "demo", "", "owner-1"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.AddMember(context.Background(), "project-1", "editor-1", RoleEditor, "owner-1"); err != nil {
		t.Fatalf("unexpected add member error: %v", err)
	}
	if _, err := service.AddMember(context.Background(), "project-1", "viewer-1", RoleViewer, "owner-1"); err != nil {
		t.Fatalf("unexpected add member error: %v", err)
	}

	tests := []struct {
		userID  string
		level   AccessLevel
		allowed bool
	}{
		{"owner-1", AccessRead, true},
		{"owner-1", AccessWrite, true},
		{"editor-1", AccessRead, true},
		{"editor-1", AccessWrite, true},
		{"viewer-1", AccessRead, true},
		{"viewer-1", AccessWrite, false},
		{"stranger", AccessRead, false},
		{"stranger", AccessWrite, false},
	}
	for _, tt := range tests {
		allowed, err := service.HasAccess(context.Background(), tt.userID, "project-1", tt.level)
		if err != nil {
			t.Fatalf("unexpected access error for %s/%s: %v", tt.userID, tt.level, err)
		}
		if allowed != tt.allowed {
			t.Fatalf("HasAccess(%s, %s) = %v, expected %v", tt.userID, tt.level, allowed, tt.allowed)
		}
	}

	allowed, err := service.HasAccess(context.Background(), "owner-1", "missing", AccessRead)
	if err != nil {
		t.Fatalf("unexpected access error: %v", err)
	}
	if allowed {
		t.Fatalf("expected access denied for missing project")
	}
}
