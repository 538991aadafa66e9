package account

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-accounts/core"
)

type Role string

// Roles
const (
	RoleAdmin      Role = "admin"
	RoleTeacher    Role = "teacher"
	RoleParent     Role = "parent"
	RoleStudent    Role = "student"
	RoleSuperAdmin Role = "superadmin"
)

// Extension tables
const (
	TableAdmins   = "admins"
	TableTeachers = "teachers"
	TableStudents = "students"
	TableParents  = "parents"
)

var (
	AllRoles = []Role{RoleAdmin, RoleTeacher, RoleParent, RoleStudent, RoleSuperAdmin}

	// ExtensionTables lists every role extension table once.
	ExtensionTables = []string{TableAdmins, TableTeachers, TableStudents, TableParents}

	extensionTables = map[Role]string{
		RoleAdmin:      TableAdmins,
		RoleSuperAdmin: TableAdmins,
		RoleTeacher:    TableTeachers,
		RoleStudent:    TableStudents,
		RoleParent:     TableParents,
	}
)

// PasswordCost is the fixed bcrypt work factor used for every Credential.
const PasswordCost = 10

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := extensionTables[r]; !ok {
		return "", ErrInvalidRole
	}
	return r, nil
}

func (r Role) IsValid() bool {
	_, ok := extensionTables[r]
	return ok
}

// ExtensionTable returns the profile extension table of the role.
func (r Role) ExtensionTable() string {
	return extensionTables[r]
}

func (r Role) String() string { return string(r) }

// Identity is the canonical account record shared by all roles.
type Identity struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Role      Role      `json:"role" db:"role"`
	AvatarURL *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
}

// Credential is a local username/password-hash record, independent of the external provider.
type Credential struct {
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash []byte    `json:"-" db:"password_hash"`
	Role         Role      `json:"role" db:"role"`
	UserID       string    `json:"user_id" db:"user_id"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	IsVerified   bool      `json:"is_verified" db:"is_verified"`
	VerifiedAt   time.Time `json:"verified_at" db:"verified_at"` // UTC
}

func (c *Credential) SetPassword(pwd string) error {
	hash, err := HashPassword(pwd)
	if err != nil {
		return err
	}
	c.PasswordHash = hash
	return nil
}

func (c *Credential) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(c.PasswordHash, []byte(pwd))
}

// HashPassword hashes pwd with bcrypt using PasswordCost.
func HashPassword(pwd string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(pwd), PasswordCost)
}

// Definition is the seed input for one logical account.
type Definition struct {
	Role        Role   `json:"role" yaml:"role" validate:"required,role"`
	DisplayName string `json:"display_name" yaml:"display_name" validate:"required"`
	Email       string `json:"email" yaml:"email" validate:"required,email"`
	Username    string `json:"username" yaml:"username" validate:"required,min=3,alphanum_"`
	Password    string `json:"password" yaml:"password" validate:"required,min=6"`
}

// Clean normalizes the definition in place: emails and usernames are trimmed and lowered.
func (d *Definition) Clean() {
	d.DisplayName = core.CleanString(d.DisplayName)
	d.Email = core.CleanString(d.Email, true)
	d.Username = core.CleanString(d.Username, true)
	d.Role = Role(core.CleanString(string(d.Role), true))
}

// Identity returns the Identity row described by the definition (without ID).
func (d Definition) Identity() Identity {
	return Identity{
		Email: d.Email,
		Name:  d.DisplayName,
		Role:  d.Role,
	}
}

// CanonicalDefinitions returns the four demo accounts, one per profile table.
func CanonicalDefinitions() []Definition {
	return []Definition{
		{Role: RoleAdmin, DisplayName: "School Admin", Email: "admin@masomo.test", Username: "admin", Password: "Admin#1234"},
		{Role: RoleTeacher, DisplayName: "Jane Teacher", Email: "teacher@masomo.test", Username: "teacher", Password: "Teacher#1234"},
		{Role: RoleParent, DisplayName: "John Parent", Email: "parent@masomo.test", Username: "parent", Password: "Parent#1234"},
		{Role: RoleStudent, DisplayName: "Amani Student", Email: "student@masomo.test", Username: "student", Password: "Student#1234"},
	}
}
