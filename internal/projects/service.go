package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AccessLevel names the capability a caller needs on a project.
type AccessLevel string

const (
	// AccessRead covers viewing files, joining presence, and opening sessions.
	AccessRead AccessLevel = "read"
	// AccessWrite covers every structural or content mutation.
	AccessWrite AccessLevel = "write"
)

// Gate answers capability checks. The file and session layers consume this
// interface and never look at memberships directly.
type Gate interface {
	HasAccess(ctx context.Context, userID, projectID string, level AccessLevel) (bool, error)
}

var (
	// ErrAccessDenied indicates the gate refused the requested capability.
	ErrAccessDenied = errors.New("projects: access denied")
	// ErrNotFound indicates the project does not exist.
	ErrNotFound = errors.New("projects: not found")
	// ErrValidation indicates a missing required field.
	ErrValidation = errors.New("projects: validation failed")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// IDProvider issues identifiers for new projects.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the project service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages projects and memberships and implements the access gate.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the project service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errors.New("id provider is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Create inserts a new project owned by the caller.
func (s *Service) Create(ctx context.Context, name, description, ownerID string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" || ownerID == "" {
		return nil, fmt.Errorf("%w: name and owner are required", ErrValidation)
	}
	projectID, err := s.idProvider.NewID()
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC().Unix()
	project := Project{
		ProjectID:        projectID,
		Name:             name,
		Description:      strings.TrimSpace(description),
		OwnerID:          ownerID,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&project).Error; err != nil {
		s.logger.Error("project create failed", zap.Error(err), zap.String("owner_id", ownerID))
		return nil, err
	}
	return &project, nil
}

// Get returns a project by id.
func (s *Service) Get(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// ListForUser returns projects the user owns or is a member of.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Project, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	var result []Project
	err := s.db.WithContext(ctx).
		Where("owner_id = ? OR project_id IN (?)",
			userID,
			s.db.Model(&Membership{}).Select("project_id").Where("user_id = ?", userID),
		).
		Order("updated_at_s DESC").
		Find(&result).Error
	if err != nil {
		s.logger.Error("project list failed", zap.Error(err), zap.String("user_id", userID))
		return nil, err
	}
	return result, nil
}

// AddMember grants a user a role on the project. Existing rows are updated in place.
func (s *Service) AddMember(ctx context.Context, projectID, userID string, role MemberRole, addedBy string) (*Membership, error) {
	if projectID == "" || userID == "" {
		return nil, fmt.Errorf("%w: project and user are required", ErrValidation)
	}
	if role != RoleViewer && role != RoleEditor {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if _, err := s.Get(ctx, projectID); err != nil {
		return nil, err
	}

	membership := Membership{
		ProjectID:        projectID,
		UserID:           userID,
		Role:             role,
		AddedBy:          addedBy,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	err := s.db.WithContext(ctx).Save(&membership).Error
	if err != nil {
		s.logger.Error("membership save failed", zap.Error(err),
			zap.String("project_id", projectID), zap.String("user_id", userID))
		return nil, err
	}
	return &membership, nil
}

// HasAccess implements Gate. Owners hold write access; editors write, viewers read.
func (s *Service) HasAccess(ctx context.Context, userID, projectID string, level AccessLevel) (bool, error) {
	if userID == "" || projectID == "" {
		return false, nil
	}

	project, err := s.Get(ctx, projectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if project.OwnerID == userID {
		return true, nil
	}

	var membership Membership
	err = s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch level {
	case AccessRead:
		return true, nil
	case AccessWrite:
		return membership.Role == RoleEditor, nil
	default:
		return false, nil
	}
}
