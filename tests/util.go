package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/account"
	"github.com/trezcool/masomo-accounts/storage/database"
)

// PrepareDB returns a migrated private in-memory sqlite database, closed on cleanup.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(core.DatabaseConfig{Engine: database.EngineSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	goose.SetLogger(goose.NopLogger())
	if err := database.Migrate(ctx, db.DB, database.EngineSQLite); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

func CreateIdentity(t *testing.T, reg account.Registry, email, name string, role account.Role, createdAt ...time.Time) account.Identity {
	t.Helper()
	identity := account.Identity{Email: email, Name: name, Role: role}
	if len(createdAt) > 0 {
		identity.CreatedAt = createdAt[0].UTC()
	}
	identity, err := reg.Insert(context.Background(), identity)
	if err != nil {
		t.Fatalf("CreateIdentity() failed: %v", err)
	}
	return identity
}

// NopLogger discards every message.
type NopLogger struct{}

var _ core.Logger = NopLogger{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}
