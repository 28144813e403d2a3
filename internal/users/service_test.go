package users

import (
	"fmt"
	"testing"
	"time"

	"github.com/codedeck/backend/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

func newTestUsersService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:codedeck_users_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	return service, db
}

func TestResolveCreatesIdentityOnFirstSight(t *testing.T) {
	service, db := newTestUsersService(t)

	claims := auth.IdentityClaims{
		UserID:          "user-42",
		UserEmail:       "dev@example.com",
		UserDisplayName: "Dev",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-42",
		},
	}

	userID, err := service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if userID != "user-42" {
		t.Fatalf("expected canonical id user-42, got %q", userID)
	}

	var stored Identity
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("failed to load identity: %v", err)
	}
	if stored.DisplayName != "Dev" || stored.Email != "dev@example.com" {
		t.Fatalf("unexpected stored identity: %+v", stored)
	}

	// Second resolution must hit the same identity.
	again, err := service.ResolveCanonicalUserID(claims)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if again != userID {
		t.Fatalf("expected stable canonical id, got %q then %q", userID, again)
	}
}

func TestResolveParsesProviderQualifiedIdentifier(t *testing.T) {
	service, _ := newTestUsersService(t)

	userID, err := service.ResolveCanonicalUserID(auth.IdentityClaims{
		UserID: "github:octocat",
	})
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if userID != "octocat" {
		t.Fatalf("expected canonical id octocat, got %q", userID)
	}
}

func TestResolveRejectsEmptyIdentity(t *testing.T) {
	service, _ := newTestUsersService(t)

	if _, err := service.ResolveCanonicalUserID(auth.IdentityClaims{}); err == nil {
		t.Fatalf("expected empty claims to be rejected")
	}
}

func TestDisplayNamesSkipsUnknownIDs(t *testing.T) {
	service, db := newTestUsersService(t)

	seed := Identity{
		Provider:    "default",
		Subject:     "user-1",
		UserID:      "user-1",
		DisplayName: "Alice",
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed identity: %v", err)
	}

	names, err := service.DisplayNames([]string{"user-1", "ghost"})
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if len(names) != 1 || names["user-1"] != "Alice" {
		t.Fatalf("unexpected names: %v", names)
	}

	empty, err := service.DisplayNames(nil)
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty result for empty input")
	}
}
