package files

import (
	"context"
	"errors"
	"testing"
)

func TestCreateComputesPathFromParent(t *testing.T) {
	service, _ := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	if src.Path != "src" {
		t.Fatalf("expected root folder path %q, got %q", "src", src.Path)
	}

	app := mustFile(t, service, "project-1", "app.js", &src.NodeID, "console.log(1)")
	if app.Path != "src/app.js" {
		t.Fatalf("expected path %q, got %q", "src/app.js", app.Path)
	}
	if app.Language != "javascript" {
		t.Fatalf("expected language javascript, got %q", app.Language)
	}
	if app.Version != 1 {
		t.Fatalf("expected initial version 1, got %d", app.Version)
	}
}

func TestCreateRejectsOccupiedPath(t *testing.T) {
	service, _ := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	mustFile(t, service, "project-1", "app.js", &src.NodeID, "")

	_, err := service.Create(context.Background(), CreateRequest{
		ProjectID: "project-1",
		Name:      "app.js",
		Type:      NodeTypeFile,
		ParentID:  &src.NodeID,
		CreatedBy: "user-2",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestCreateRejectsSeparatorInName(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Create(context.Background(), CreateRequest{
		ProjectID: "project-1",
		Name:      "src/app.js",
		Type:      NodeTypeFile,
		CreatedBy: "user-1",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMoveRewritesDescendantPaths(t *testing.T) {
	service, db := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	app := mustFile(t, service, "project-1", "app.js", &src.NodeID, "")
	utils := mustFolder(t, service, "project-1", "utils", &src.NodeID)
	format := mustFile(t, service, "project-1", "format.js", &utils.NodeID, "")
	archive := mustFolder(t, service, "project-1", "archive", nil)

	moved, err := service.Move(context.Background(), src.NodeID, &archive.NodeID, "user-2")
	if err != nil {
		t.Fatalf("unexpected move error: %v", err)
	}
	if moved.Path != "archive/src" {
		t.Fatalf("expected moved path %q, got %q", "archive/src", moved.Path)
	}

	if got := loadNode(t, db, app.NodeID).Path; got != "archive/src/app.js" {
		t.Fatalf("expected descendant path %q, got %q", "archive/src/app.js", got)
	}
	if got := loadNode(t, db, format.NodeID).Path; got != "archive/src/utils/format.js" {
		t.Fatalf("expected nested descendant path %q, got %q", "archive/src/utils/format.js", got)
	}
}

func TestMoveRejectsCycle(t *testing.T) {
	service, db := newTestService(t)

	outer := mustFolder(t, service, "project-1", "outer", nil)
	inner := mustFolder(t, service, "project-1", "inner", &outer.NodeID)
	deep := mustFolder(t, service, "project-1", "deep", &inner.NodeID)

	_, err := service.Move(context.Background(), outer.NodeID, &deep.NodeID, "user-1")
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for circular move, got %v", err)
	}

	// Rejection must leave the tree untouched.
	if got := loadNode(t, db, outer.NodeID).Path; got != "outer" {
		t.Fatalf("expected path %q after rejected move, got %q", "outer", got)
	}
	if got := loadNode(t, db, deep.NodeID).Path; got != "outer/inner/deep" {
		t.Fatalf("expected path %q after rejected move, got %q", "outer/inner/deep", got)
	}

	// Moving a folder into itself is the degenerate cycle.
	_, err = service.Move(context.Background(), outer.NodeID, &outer.NodeID, "user-1")
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for self move, got %v", err)
	}
}

func TestMoveLeavesPrefixSiblingAlone(t *testing.T) {
	service, db := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	src2 := mustFolder(t, service, "project-1", "src2", nil)
	sibling := mustFile(t, service, "project-1", "keep.js", &src2.NodeID, "")
	archive := mustFolder(t, service, "project-1", "archive", nil)

	if _, err := service.Move(context.Background(), src.NodeID, &archive.NodeID, "user-1"); err != nil {
		t.Fatalf("unexpected move error: %v", err)
	}

	// "src2/keep.js" shares the character prefix "src" but is not a descendant.
	if got := loadNode(t, db, sibling.NodeID).Path; got != "src2/keep.js" {
		t.Fatalf("prefix sibling was rewritten: %q", got)
	}
}

func TestMoveToSameParentIsNoOp(t *testing.T) {
	service, _ := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	app := mustFile(t, service, "project-1", "app.js", &src.NodeID, "")

	moved, err := service.Move(context.Background(), app.NodeID, &src.NodeID, "user-1")
	if err != nil {
		t.Fatalf("unexpected move error: %v", err)
	}
	if moved.Path != "src/app.js" {
		t.Fatalf("expected unchanged path, got %q", moved.Path)
	}
}

func TestMoveRejectsOccupiedTarget(t *testing.T) {
	service, _ := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	mustFile(t, service, "project-1", "app.js", &src.NodeID, "")
	rootApp := mustFile(t, service, "project-1", "app.js", nil, "")

	_, err := service.Move(context.Background(), rootApp.NodeID, &src.NodeID, "user-1")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestDeleteSoftCascadesOverSubtree(t *testing.T) {
	service, db := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	app := mustFile(t, service, "project-1", "app.js", &src.NodeID, "")
	utils := mustFolder(t, service, "project-1", "utils", &src.NodeID)
	format := mustFile(t, service, "project-1", "format.js", &utils.NodeID, "")
	unrelated := mustFile(t, service, "project-1", "README.md", nil, "")

	if err := service.Delete(context.Background(), src.NodeID, false, "user-2"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	for _, nodeID := range []string{src.NodeID, app.NodeID, utils.NodeID, format.NodeID} {
		if node := loadNode(t, db, nodeID); !node.IsDeleted {
			t.Fatalf("expected node %s to be soft-deleted", nodeID)
		}
	}
	if node := loadNode(t, db, unrelated.NodeID); node.IsDeleted {
		t.Fatalf("unrelated node was deleted")
	}

	// A node created at the freed path afterwards is untouched by the
	// earlier cascade.
	fresh := mustFolder(t, service, "project-1", "src", nil)
	if fresh.IsDeleted {
		t.Fatalf("fresh node at freed path must be live")
	}
}

func TestDeleteSoftIsIdempotent(t *testing.T) {
	service, _ := newTestService(t)

	app := mustFile(t, service, "project-1", "app.js", nil, "")
	if err := service.Delete(context.Background(), app.NodeID, false, "user-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := service.Delete(context.Background(), app.NodeID, false, "user-1"); err != nil {
		t.Fatalf("expected repeated soft delete to be a no-op, got %v", err)
	}
}

func TestDeletePermanentRemovesSubtreeRows(t *testing.T) {
	service, db := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	mustFile(t, service, "project-1", "app.js", &src.NodeID, "")
	utils := mustFolder(t, service, "project-1", "utils", &src.NodeID)
	mustFile(t, service, "project-1", "format.js", &utils.NodeID, "")

	if err := service.Delete(context.Background(), src.NodeID, true, "user-1"); err != nil {
		t.Fatalf("unexpected permanent delete error: %v", err)
	}

	var remaining int64
	if err := db.Model(&FileNode{}).Where("project_id = ?", "project-1").Count(&remaining).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected no remaining rows, got %d", remaining)
	}
}

func TestDeletePermanentReachesSoftDeletedNode(t *testing.T) {
	service, db := newTestService(t)

	app := mustFile(t, service, "project-1", "app.js", nil, "")
	if err := service.Delete(context.Background(), app.NodeID, false, "user-1"); err != nil {
		t.Fatalf("unexpected soft delete error: %v", err)
	}
	if err := service.Delete(context.Background(), app.NodeID, true, "user-1"); err != nil {
		t.Fatalf("expected permanent delete of soft-deleted node to succeed, got %v", err)
	}

	var remaining int64
	if err := db.Model(&FileNode{}).Count(&remaining).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected row to be removed, got %d remaining", remaining)
	}
}

func TestDuplicateProbesCopyNames(t *testing.T) {
	service, _ := newTestService(t)

	app := mustFile(t, service, "project-1", "app.js", nil, "original")

	first, err := service.Duplicate(context.Background(), app.NodeID, nil, "user-2")
	if err != nil {
		t.Fatalf("unexpected duplicate error: %v", err)
	}
	if first.Name != "app_copy.js" {
		t.Fatalf("expected first copy name %q, got %q", "app_copy.js", first.Name)
	}
	if first.Content != "original" {
		t.Fatalf("expected copied content, got %q", first.Content)
	}
	if first.Version != 1 {
		t.Fatalf("expected copy to start at version 1, got %d", first.Version)
	}

	second, err := service.Duplicate(context.Background(), app.NodeID, nil, "user-2")
	if err != nil {
		t.Fatalf("unexpected duplicate error: %v", err)
	}
	if second.Name != "app_copy1.js" {
		t.Fatalf("expected second copy name %q, got %q", "app_copy1.js", second.Name)
	}
}

func TestDuplicateRejectsFolder(t *testing.T) {
	service, _ := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	_, err := service.Duplicate(context.Background(), src.NodeID, nil, "user-1")
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for folder duplicate, got %v", err)
	}
}

func TestUpdateRenameRecomputesPathAndLanguage(t *testing.T) {
	service, db := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	app := mustFile(t, service, "project-1", "app.js", &src.NodeID, "")

	newName := "app.py"
	updated, err := service.Update(context.Background(), app.NodeID, UpdatePatch{Name: &newName}, "user-2")
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Path != "src/app.py" {
		t.Fatalf("expected renamed path %q, got %q", "src/app.py", updated.Path)
	}
	if updated.Language != "python" {
		t.Fatalf("expected language to be re-derived, got %q", updated.Language)
	}

	stored := loadNode(t, db, app.NodeID)
	if stored.LastModifiedBy != "user-2" {
		t.Fatalf("expected last modifier user-2, got %q", stored.LastModifiedBy)
	}
}

func TestUpdateFolderRenameRewritesDescendants(t *testing.T) {
	service, db := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	app := mustFile(t, service, "project-1", "app.js", &src.NodeID, "")

	newName := "lib"
	if _, err := service.Update(context.Background(), src.NodeID, UpdatePatch{Name: &newName}, "user-1"); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if got := loadNode(t, db, app.NodeID).Path; got != "lib/app.js" {
		t.Fatalf("expected descendant path %q, got %q", "lib/app.js", got)
	}
}

func TestUpdateContentIncrementsVersion(t *testing.T) {
	service, _ := newTestService(t)

	app := mustFile(t, service, "project-1", "app.js", nil, "one")

	content := "two"
	updated, err := service.Update(context.Background(), app.NodeID, UpdatePatch{Content: &content}, "user-1")
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}

	// Identical content must not bump the version.
	same := "two"
	updated, err = service.Update(context.Background(), app.NodeID, UpdatePatch{Content: &same}, "user-1")
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version to stay at 2, got %d", updated.Version)
	}
}

func TestUpdateRejectsReadonlyMutation(t *testing.T) {
	service, _ := newTestService(t)

	locked := mustCreate(t, service, CreateRequest{
		ProjectID: "project-1",
		Name:      "vendor.js",
		Type:      NodeTypeFile,
		Metadata:  `{"readonly":true}`,
		CreatedBy: "user-1",
	})

	content := "overwrite"
	_, err := service.Update(context.Background(), locked.NodeID, UpdatePatch{Content: &content}, "user-2")
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for readonly content change, got %v", err)
	}

	name := "renamed.js"
	_, err = service.Update(context.Background(), locked.NodeID, UpdatePatch{Name: &name}, "user-2")
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for readonly rename, got %v", err)
	}

	// Metadata edits stay allowed so the flag itself can be lifted.
	metadata := `{"readonly":false}`
	updated, err := service.Update(context.Background(), locked.NodeID, UpdatePatch{Metadata: &metadata}, "user-2")
	if err != nil {
		t.Fatalf("unexpected metadata update error: %v", err)
	}
	if updated.IsReadonly() {
		t.Fatalf("expected readonly flag to be lifted")
	}
}

func TestSaveContentVersionsAndSkipsUnchanged(t *testing.T) {
	service, _ := newTestService(t)

	app := mustFile(t, service, "project-1", "app.js", nil, "v1")

	saved, err := service.SaveContent(context.Background(), app.NodeID, "user-2", "v2")
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if saved.Version != 2 || saved.Content != "v2" {
		t.Fatalf("unexpected saved node: version=%d content=%q", saved.Version, saved.Content)
	}

	again, err := service.SaveContent(context.Background(), app.NodeID, "user-2", "v2")
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if again.Version != 2 {
		t.Fatalf("expected unchanged save to keep version 2, got %d", again.Version)
	}
}

func TestSaveContentRejectsReadonlyAndFolder(t *testing.T) {
	service, _ := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	_, err := service.SaveContent(context.Background(), src.NodeID, "user-1", "data")
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for folder save, got %v", err)
	}

	locked := mustCreate(t, service, CreateRequest{
		ProjectID: "project-1",
		Name:      "vendor.js",
		Type:      NodeTypeFile,
		Metadata:  `{"readonly":true}`,
		CreatedBy: "user-1",
	})
	_, err = service.SaveContent(context.Background(), locked.NodeID, "user-1", "data")
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for readonly save, got %v", err)
	}
}

func TestGetExcludesDeletedNodes(t *testing.T) {
	service, _ := newTestService(t)

	app := mustFile(t, service, "project-1", "app.js", nil, "")
	if err := service.Delete(context.Background(), app.NodeID, false, "user-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	if _, err := service.Get(context.Background(), app.NodeID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for deleted node, got %v", err)
	}
	if _, err := service.Lookup(context.Background(), app.NodeID); err != nil {
		t.Fatalf("expected lookup to reach deleted node, got %v", err)
	}
}

func TestListChildrenOrdersFoldersFirst(t *testing.T) {
	service, _ := newTestService(t)

	mustFile(t, service, "project-1", "aardvark.js", nil, "")
	mustFolder(t, service, "project-1", "zebra", nil)
	mustFolder(t, service, "project-1", "alpha", nil)
	deleted := mustFile(t, service, "project-1", "gone.js", nil, "")
	if err := service.Delete(context.Background(), deleted.NodeID, false, "user-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	tree, err := service.ListChildren(context.Background(), "project-1", ListOptions{})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	names := make([]string, 0, len(tree))
	for _, entry := range tree {
		names = append(names, entry.Name)
	}
	expected := []string{"alpha", "zebra", "aardvark.js"}
	if len(names) != len(expected) {
		t.Fatalf("expected %d roots, got %v", len(expected), names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Fatalf("expected order %v, got %v", expected, names)
		}
	}

	withDeleted, err := service.ListChildren(context.Background(), "project-1", ListOptions{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(withDeleted) != 4 {
		t.Fatalf("expected 4 roots including deleted, got %d", len(withDeleted))
	}
}

func TestListChildrenNestsSubtrees(t *testing.T) {
	service, _ := newTestService(t)

	src := mustFolder(t, service, "project-1", "src", nil)
	mustFile(t, service, "project-1", "app.js", &src.NodeID, "")
	utils := mustFolder(t, service, "project-1", "utils", &src.NodeID)
	mustFile(t, service, "project-1", "format.js", &utils.NodeID, "")

	tree, err := service.ListChildren(context.Background(), "project-1", ListOptions{})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(tree) != 1 || tree[0].Name != "src" {
		t.Fatalf("expected single root src, got %+v", tree)
	}
	children := tree[0].Children
	if len(children) != 2 || children[0].Name != "utils" || children[1].Name != "app.js" {
		t.Fatalf("unexpected src children: %+v", children)
	}
	if len(children[0].Children) != 1 || children[0].Children[0].Name != "format.js" {
		t.Fatalf("unexpected utils children: %+v", children[0].Children)
	}
}
