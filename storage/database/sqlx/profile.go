package sqlxrepos

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/account"
)

// profileColumns lists the persisted columns of each extension table, primary key first.
var profileColumns = map[string][]string{
	account.TableAdmins:   {"user_id", "email", "is_super", "permissions"},
	account.TableTeachers: {"id", "user_id", "email", "subject", "phone"},
	account.TableStudents: {"user_id", "email", "grade", "section"},
	account.TableParents:  {"id", "email", "phone", "occupation"},
}

// linkTables reference the extension tables and must be emptied first.
var linkTables = []string{"parent_children", "student_classes", "teacher_subjects"}

type profileStore struct {
	exec core.DBExecutor
}

var _ account.ProfileStore = (*profileStore)(nil) // interface compliance check

func NewProfileStore(exec core.DBExecutor) *profileStore {
	return &profileStore{exec: exec}
}

func columns(table string) ([]string, error) {
	cols, ok := profileColumns[table]
	if !ok {
		return nil, errors.Errorf("unknown extension table %q", table)
	}
	return cols, nil
}

func selectList(cols []string) string {
	list := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == "user_id" {
			// nullable on teachers
			list = append(list, "COALESCE(user_id, '') AS user_id")
			continue
		}
		list = append(list, c)
	}
	return strings.Join(list, ", ")
}

func value(p account.Profile, col string) interface{} {
	switch col {
	case "id":
		return p.ID
	case "user_id":
		if p.UserID == "" {
			return nil
		}
		return p.UserID
	case "email":
		return p.Email
	case "is_super":
		return p.IsSuper
	case "permissions":
		return p.Permissions
	case "subject":
		return p.Subject
	case "phone":
		return p.Phone
	case "grade":
		return p.Grade
	case "section":
		return p.Section
	case "occupation":
		return p.Occupation
	}
	return nil
}

func (repo profileStore) insertQuery(p *account.Profile) (string, []interface{}, error) {
	if !p.Role.IsValid() {
		return "", nil, account.ErrInvalidRole
	}
	table := p.Table()
	cols, err := columns(table)
	if err != nil {
		return "", nil, err
	}
	if cols[0] == "id" && p.ID == "" {
		p.ID = uuid.New().String()
	}

	args := make([]interface{}, 0, len(cols))
	for _, c := range cols {
		args = append(args, value(*p, c))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	q := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ")"
	return q, args, nil
}

// Upsert inserts the profile or, on a conflict over the role's conflict key, updates its non-key columns.
func (repo profileStore) Upsert(ctx context.Context, p account.Profile) error {
	q, args, err := repo.insertQuery(&p)
	if err != nil {
		return err
	}
	key := account.ConflictKey(p.Role)
	sets := make([]string, 0)
	for _, c := range profileColumns[p.Table()] {
		if c == key || c == "id" {
			continue
		}
		sets = append(sets, c+" = excluded."+c)
	}
	q += " ON CONFLICT (" + key + ") DO UPDATE SET " + strings.Join(sets, ", ")

	if _, err := repo.exec.ExecContext(ctx, repo.exec.Rebind(q), args...); err != nil {
		return trapUniqueErr(err, "upserting "+p.Table()+" profile")
	}
	return nil
}

func (repo profileStore) Insert(ctx context.Context, p account.Profile) error {
	q, args, err := repo.insertQuery(&p)
	if err != nil {
		return err
	}
	if _, err := repo.exec.ExecContext(ctx, repo.exec.Rebind(q), args...); err != nil {
		return trapUniqueErr(err, "inserting "+p.Table()+" profile")
	}
	return nil
}

func (repo profileStore) Exists(ctx context.Context, identity account.Identity) (bool, error) {
	if !identity.Role.IsValid() {
		return false, account.ErrInvalidRole
	}
	col, arg := "user_id", identity.ID
	if !account.HasBackReference(identity.Role) {
		col, arg = "email", identity.Email
	}

	var n int
	q := repo.exec.Rebind("SELECT COUNT(*) FROM " + identity.Role.ExtensionTable() + " WHERE " + col + " = ?")
	if err := repo.exec.GetContext(ctx, &n, q, arg); err != nil {
		return false, errors.Wrap(err, "checking profile existence")
	}
	return n > 0, nil
}

func (repo profileStore) FindByEmail(ctx context.Context, role account.Role, email string) (account.Profile, error) {
	if !role.IsValid() {
		return account.Profile{}, account.ErrInvalidRole
	}
	table := role.ExtensionTable()
	cols, err := columns(table)
	if err != nil {
		return account.Profile{}, err
	}

	var p account.Profile
	q := repo.exec.Rebind("SELECT " + selectList(cols) + " FROM " + table + " WHERE email = ? LIMIT 1")
	if err := repo.exec.GetContext(ctx, &p, q, email); err != nil {
		return account.Profile{}, trapNoRowsErr(err, "getting "+table+" profile by email")
	}
	p.Role = role
	if table == account.TableAdmins && p.IsSuper {
		p.Role = account.RoleSuperAdmin
	}
	return p, nil
}

func (repo profileStore) Count(ctx context.Context, table string) (int, error) {
	if _, err := columns(table); err != nil {
		return 0, err
	}
	var n int
	if err := repo.exec.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
		return 0, errors.Wrapf(err, "counting %s", table)
	}
	return n, nil
}

func (repo profileStore) DeleteLinks(ctx context.Context) (int, error) {
	total := 0
	for _, table := range linkTables {
		res, err := repo.exec.ExecContext(ctx, "DELETE FROM "+table)
		n, err := rowsAffected(res, err, "deleting "+table)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (repo profileStore) DeleteAll(ctx context.Context, table string) (int, error) {
	if _, err := columns(table); err != nil {
		return 0, err
	}
	res, err := repo.exec.ExecContext(ctx, "DELETE FROM "+table)
	return rowsAffected(res, err, "deleting "+table)
}
