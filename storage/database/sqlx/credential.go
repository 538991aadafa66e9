package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/account"
)

const credentialColumns = "username, email, password_hash, role, user_id, is_active, is_verified, verified_at"

type credentialStore struct {
	exec core.DBExecutor
}

var _ account.CredentialStore = (*credentialStore)(nil) // interface compliance check

func NewCredentialStore(exec core.DBExecutor) *credentialStore {
	return &credentialStore{exec: exec}
}

func (repo credentialStore) Upsert(ctx context.Context, cred account.Credential) error {
	if cred.VerifiedAt.IsZero() {
		cred.VerifiedAt = time.Now()
	}
	q := repo.exec.Rebind(
		"INSERT INTO credentials (" + credentialColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?) " +
			"ON CONFLICT (username) DO UPDATE SET " +
			"email = excluded.email, password_hash = excluded.password_hash, role = excluded.role, " +
			"user_id = excluded.user_id, is_active = excluded.is_active, is_verified = excluded.is_verified, " +
			"verified_at = excluded.verified_at",
	)
	_, err := repo.exec.ExecContext(
		ctx, q,
		cred.Username, cred.Email, string(cred.PasswordHash), cred.Role, cred.UserID,
		cred.IsActive, cred.IsVerified, cred.VerifiedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "upserting credential")
	}
	return nil
}

func (repo credentialStore) FindByUsername(ctx context.Context, username string) (account.Credential, error) {
	var cred account.Credential
	q := repo.exec.Rebind("SELECT " + credentialColumns + " FROM credentials WHERE username = ?")
	if err := repo.exec.GetContext(ctx, &cred, q, username); err != nil {
		return account.Credential{}, trapNoRowsErr(err, "getting credential by username")
	}
	return cred, nil
}

func (repo credentialStore) FindByEmail(ctx context.Context, email string) ([]account.Credential, error) {
	creds := make([]account.Credential, 0)
	q := repo.exec.Rebind("SELECT " + credentialColumns + " FROM credentials WHERE email = ? ORDER BY username")
	if err := repo.exec.SelectContext(ctx, &creds, q, email); err != nil {
		return nil, errors.Wrap(err, "selecting credentials by email")
	}
	return creds, nil
}

func (repo credentialStore) All(ctx context.Context) ([]account.Credential, error) {
	creds := make([]account.Credential, 0)
	if err := repo.exec.SelectContext(ctx, &creds, "SELECT "+credentialColumns+" FROM credentials ORDER BY username"); err != nil {
		return nil, errors.Wrap(err, "selecting credentials")
	}
	return creds, nil
}

func (repo credentialStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := repo.exec.GetContext(ctx, &n, "SELECT COUNT(*) FROM credentials"); err != nil {
		return 0, errors.Wrap(err, "counting credentials")
	}
	return n, nil
}

func (repo credentialStore) DeleteAll(ctx context.Context) (int, error) {
	res, err := repo.exec.ExecContext(ctx, "DELETE FROM credentials")
	return rowsAffected(res, err, "deleting credentials")
}
