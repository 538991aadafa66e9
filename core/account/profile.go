package account

// Profile is a role extension row. Only the fields of its Role's table are persisted:
//  - admins:   user_id (PK), email, is_super, permissions
//  - teachers: id, user_id (UNIQUE), email (UNIQUE), subject, phone
//  - students: user_id (PK), email, grade, section
//  - parents:  id, email (UNIQUE), phone, occupation
// The parents table carries no user_id back-reference.
type Profile struct {
	ID     string `json:"id,omitempty" db:"id"`
	Role   Role   `json:"role" db:"-"`
	UserID string `json:"user_id,omitempty" db:"user_id"`
	Email  string `json:"email" db:"email"`

	// admins
	IsSuper     bool   `json:"is_super,omitempty" db:"is_super"`
	Permissions string `json:"permissions,omitempty" db:"permissions"`

	// teachers
	Subject string `json:"subject,omitempty" db:"subject"`

	// teachers & parents
	Phone string `json:"phone,omitempty" db:"phone"`

	// students
	Grade   string `json:"grade,omitempty" db:"grade"`
	Section string `json:"section,omitempty" db:"section"`

	// parents
	Occupation string `json:"occupation,omitempty" db:"occupation"`
}

// Table returns the extension table the profile is stored in.
func (p Profile) Table() string {
	return p.Role.ExtensionTable()
}

// Role specific defaults
const (
	DefaultPermissions      = "school"
	DefaultSuperPermissions = "all"
	DefaultSubject          = "General"
	DefaultGrade            = "unassigned"
	DefaultSection          = "A"
)

var conflictKeys = map[string]string{
	TableAdmins:   "user_id",
	TableTeachers: "email",
	TableStudents: "user_id",
	TableParents:  "email",
}

// ConflictKey returns the uniqueness column used to upsert the role's extension row.
// It is email-based for teachers and parents and primary-key based for admins and students.
func ConflictKey(role Role) string {
	return conflictKeys[role.ExtensionTable()]
}

// HasBackReference reports whether the role's extension table stores user_id.
func HasBackReference(role Role) bool {
	return role.ExtensionTable() != TableParents
}

// DefaultProfile returns the extension row created for an Identity with no profile.
func DefaultProfile(identity Identity) Profile {
	p := Profile{
		Role:  identity.Role,
		Email: identity.Email,
	}
	if HasBackReference(identity.Role) {
		p.UserID = identity.ID
	}

	switch identity.Role {
	case RoleAdmin:
		p.Permissions = DefaultPermissions
	case RoleSuperAdmin:
		p.IsSuper = true
		p.Permissions = DefaultSuperPermissions
	case RoleTeacher:
		p.Subject = DefaultSubject
	case RoleStudent:
		p.Grade = DefaultGrade
		p.Section = DefaultSection
	}
	return p
}
