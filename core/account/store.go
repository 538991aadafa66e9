package account

import (
	"context"
	"errors"
)

var (
	// errors
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("unique constraint violated")
	ErrInvalidRole = errors.New("invalid role")
)

type (
	// Registry is the canonical table of logical accounts.
	Registry interface {
		FindByEmail(ctx context.Context, email string) (Identity, error)
		// Insert fails with ErrConflict when the email is already registered.
		Insert(ctx context.Context, identity Identity) (Identity, error)
		All(ctx context.Context) ([]Identity, error)
		Count(ctx context.Context) (int, error)
		Sample(ctx context.Context, limit int) ([]Identity, error)
		DeleteAll(ctx context.Context) (int, error)
	}

	// ProfileStore holds the per-role extension tables.
	ProfileStore interface {
		// Upsert writes the profile using the conflict key of its role (see ConflictKey).
		Upsert(ctx context.Context, profile Profile) error
		// Insert never updates; a uniqueness violation yields ErrConflict.
		Insert(ctx context.Context, profile Profile) error
		// Exists checks for an extension row matching identity's role,
		// by user_id where the table has one, by email otherwise.
		Exists(ctx context.Context, identity Identity) (bool, error)
		FindByEmail(ctx context.Context, role Role, email string) (Profile, error)
		Count(ctx context.Context, table string) (int, error)
		// DeleteLinks deletes the junction tables referencing extension tables.
		DeleteLinks(ctx context.Context) (int, error)
		DeleteAll(ctx context.Context, table string) (int, error)
	}

	// CredentialStore holds local username/password-hash records.
	CredentialStore interface {
		// Upsert writes the credential, resolving conflicts by username.
		Upsert(ctx context.Context, cred Credential) error
		FindByUsername(ctx context.Context, username string) (Credential, error)
		FindByEmail(ctx context.Context, email string) ([]Credential, error)
		All(ctx context.Context) ([]Credential, error)
		Count(ctx context.Context) (int, error)
		DeleteAll(ctx context.Context) (int, error)
	}
)
