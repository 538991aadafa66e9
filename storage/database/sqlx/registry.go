package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/account"
)

const identityColumns = "id, email, name, role, avatar_url, created_at"

type registry struct {
	exec core.DBExecutor
}

var _ account.Registry = (*registry)(nil) // interface compliance check

func NewRegistry(exec core.DBExecutor) *registry {
	return &registry{exec: exec}
}

func (repo registry) FindByEmail(ctx context.Context, email string) (account.Identity, error) {
	var identity account.Identity
	q := repo.exec.Rebind("SELECT " + identityColumns + " FROM users WHERE email = ?")
	if err := repo.exec.GetContext(ctx, &identity, q, email); err != nil {
		return account.Identity{}, trapNoRowsErr(err, "getting identity by email")
	}
	return identity, nil
}

func (repo registry) Insert(ctx context.Context, identity account.Identity) (account.Identity, error) {
	if identity.ID == "" {
		identity.ID = uuid.New().String()
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now()
	}
	identity.CreatedAt = identity.CreatedAt.UTC()

	q := repo.exec.Rebind("INSERT INTO users (" + identityColumns + ") VALUES (?, ?, ?, ?, ?, ?)")
	_, err := repo.exec.ExecContext(
		ctx, q,
		identity.ID, identity.Email, identity.Name, identity.Role, identity.AvatarURL, identity.CreatedAt,
	)
	if err != nil {
		return account.Identity{}, trapUniqueErr(err, "inserting identity")
	}
	return identity, nil
}

func (repo registry) All(ctx context.Context) ([]account.Identity, error) {
	ordering := []core.DBOrdering{{Field: "created_at", Ascending: true}, {Field: "email", Ascending: true}}
	identities := make([]account.Identity, 0)
	q := "SELECT " + identityColumns + " FROM users ORDER BY " + orderBy(ordering)
	if err := repo.exec.SelectContext(ctx, &identities, q); err != nil {
		return nil, errors.Wrap(err, "selecting identities")
	}
	return identities, nil
}

func (repo registry) Count(ctx context.Context) (int, error) {
	var n int
	if err := repo.exec.GetContext(ctx, &n, "SELECT COUNT(*) FROM users"); err != nil {
		return 0, errors.Wrap(err, "counting identities")
	}
	return n, nil
}

// Sample returns up to limit identities, most recent first.
func (repo registry) Sample(ctx context.Context, limit int) ([]account.Identity, error) {
	ordering := []core.DBOrdering{{Field: "created_at"}, {Field: "email", Ascending: true}}
	identities := make([]account.Identity, 0, limit)
	q := repo.exec.Rebind("SELECT " + identityColumns + " FROM users ORDER BY " + orderBy(ordering) + " LIMIT ?")
	if err := repo.exec.SelectContext(ctx, &identities, q, limit); err != nil {
		return nil, errors.Wrap(err, "sampling identities")
	}
	return identities, nil
}

func (repo registry) DeleteAll(ctx context.Context) (int, error) {
	res, err := repo.exec.ExecContext(ctx, "DELETE FROM users")
	return rowsAffected(res, err, "deleting identities")
}

func orderBy(ordering []core.DBOrdering) string {
	clause := ""
	for i, ord := range ordering {
		if i > 0 {
			clause += ", "
		}
		clause += ord.String()
	}
	return clause
}
