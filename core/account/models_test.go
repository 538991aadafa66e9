package account

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		name    string
		role    string
		want    Role
		wantErr error
	}{
		{name: "admin", role: "admin", want: RoleAdmin},
		{name: "superadmin", role: "superadmin", want: RoleSuperAdmin},
		{name: "parent", role: "parent", want: RoleParent},
		{name: "unknown", role: "janitor", wantErr: ErrInvalidRole},
		{name: "empty", role: "", wantErr: ErrInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRole(tt.role)
			if err != tt.wantErr {
				t.Fatalf("ParseRole() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRole() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConflictKey(t *testing.T) {
	tests := []struct {
		role    Role
		table   string
		key     string
		backRef bool
	}{
		{role: RoleAdmin, table: TableAdmins, key: "user_id", backRef: true},
		{role: RoleSuperAdmin, table: TableAdmins, key: "user_id", backRef: true},
		{role: RoleTeacher, table: TableTeachers, key: "email", backRef: true},
		{role: RoleStudent, table: TableStudents, key: "user_id", backRef: true},
		{role: RoleParent, table: TableParents, key: "email", backRef: false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.ExtensionTable(); got != tt.table {
				t.Errorf("ExtensionTable() = %v, want %v", got, tt.table)
			}
			if got := ConflictKey(tt.role); got != tt.key {
				t.Errorf("ConflictKey() = %v, want %v", got, tt.key)
			}
			if got := HasBackReference(tt.role); got != tt.backRef {
				t.Errorf("HasBackReference() = %v, want %v", got, tt.backRef)
			}
		})
	}
}

func TestDefaultProfile(t *testing.T) {
	tests := []struct {
		name     string
		identity Identity
		want     Profile
	}{
		{
			name:     "admin",
			identity: Identity{ID: "1", Email: "a@test.cd", Role: RoleAdmin},
			want:     Profile{Role: RoleAdmin, UserID: "1", Email: "a@test.cd", Permissions: DefaultPermissions},
		},
		{
			name:     "superadmin",
			identity: Identity{ID: "2", Email: "s@test.cd", Role: RoleSuperAdmin},
			want:     Profile{Role: RoleSuperAdmin, UserID: "2", Email: "s@test.cd", IsSuper: true, Permissions: DefaultSuperPermissions},
		},
		{
			name:     "teacher",
			identity: Identity{ID: "3", Email: "t@test.cd", Role: RoleTeacher},
			want:     Profile{Role: RoleTeacher, UserID: "3", Email: "t@test.cd", Subject: DefaultSubject},
		},
		{
			name:     "student",
			identity: Identity{ID: "4", Email: "st@test.cd", Role: RoleStudent},
			want:     Profile{Role: RoleStudent, UserID: "4", Email: "st@test.cd", Grade: DefaultGrade, Section: DefaultSection},
		},
		{
			name:     "parent has no back reference",
			identity: Identity{ID: "5", Email: "p@test.cd", Role: RoleParent},
			want:     Profile{Role: RoleParent, Email: "p@test.cd"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultProfile(tt.identity); got != tt.want {
				t.Errorf("DefaultProfile() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCredential_SetPassword(t *testing.T) {
	var cred Credential
	if err := cred.SetPassword("Secret#123"); err != nil {
		t.Fatalf("SetPassword() failed: %v", err)
	}
	if bytes.Equal(cred.PasswordHash, []byte("Secret#123")) {
		t.Error("password stored in plaintext")
	}
	cost, err := bcrypt.Cost(cred.PasswordHash)
	if err != nil {
		t.Fatalf("bcrypt.Cost() failed: %v", err)
	}
	if cost != PasswordCost {
		t.Errorf("cost = %d, want %d", cost, PasswordCost)
	}
	if err := cred.CheckPassword("Secret#123"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}
	if err := cred.CheckPassword("nope"); err == nil {
		t.Error("CheckPassword() accepted a wrong password")
	}
}
