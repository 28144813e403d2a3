package projects

// Project is the unit of collaboration; every file node and session belongs to one.
type Project struct {
	ProjectID        string `gorm:"column:project_id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:255;not null"`
	Description      string `gorm:"column:description;size:1024;not null;default:''"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}

// MemberRole grades what a project member may do.
type MemberRole string

const (
	// RoleViewer grants read access only.
	RoleViewer MemberRole = "viewer"
	// RoleEditor grants read and write access.
	RoleEditor MemberRole = "editor"
)

// Membership links a user to a project with a role. Owners hold write access
// without a membership row.
type Membership struct {
	ProjectID        string     `gorm:"column:project_id;primaryKey;size:190;not null"`
	UserID           string     `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	Role             MemberRole `gorm:"column:role;size:32;not null"`
	AddedBy          string     `gorm:"column:added_by;size:190;not null"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "project_memberships"
}
