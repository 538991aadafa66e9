package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"

	"github.com/trezcool/masomo-accounts/core/account"
	"github.com/trezcool/masomo-accounts/core/drift"
	"github.com/trezcool/masomo-accounts/core/provision"
	"github.com/trezcool/masomo-accounts/services/idp/memidp"
	"github.com/trezcool/masomo-accounts/storage/database"
	sqlxrepos "github.com/trezcool/masomo-accounts/storage/database/sqlx"
	testutil "github.com/trezcool/masomo-accounts/tests"
)

type fixture struct {
	cli      *commandLine
	out      *bytes.Buffer
	registry account.Registry
	creds    account.CredentialStore
	provider *memidp.Provider
}

func setup(t *testing.T) *fixture {
	db := testutil.PrepareDB(t)
	registry := sqlxrepos.NewRegistry(db)
	profiles := sqlxrepos.NewProfileStore(db)
	creds := sqlxrepos.NewCredentialStore(db)
	provider := memidp.New()
	out := new(bytes.Buffer)

	return &fixture{
		cli: &commandLine{
			db:           db,
			engine:       database.EngineSQLite,
			orchestrator: provision.NewOrchestrator(registry, profiles, creds, provider, testutil.NopLogger{}),
			detector:     drift.NewDetector(registry, profiles, creds, provider, testutil.NopLogger{}),
			creds:        creds,
			out:          out,
		},
		out:      out,
		registry: registry,
		creds:    creds,
		provider: provider,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		if err != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err == nil || err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error = %v, wantErrStr %s", err, tt.wantErrStr)
		}
	case err != nil:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}

func writeDefinitions(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_commandLine_usage(t *testing.T) {
	f := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "inspect without sections", args: []string{"inspect"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, f.cli.run(args))
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	f := setup(t)

	runMigrationsFunc = func(_ context.Context, _ *sql.DB, engine, command string, args ...string) error {
		if engine != database.EngineSQLite {
			return fmt.Errorf("unexpected engine %q", engine)
		}
		switch command {
		case "up", "up-by-one", "down", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}
	t.Cleanup(func() { runMigrationsFunc = database.RunMigrations })

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, f.cli.run(args))
		})
	}
}

func Test_commandLine_seed(t *testing.T) {
	ctx := context.Background()

	t.Run("canonical accounts", func(t *testing.T) {
		f := setup(t)

		require.NoError(t, f.cli.run([]string{"admin", "seed"}))
		assert.Contains(t, f.out.String(), provision.StatusSeedComplete)
		assert.Equal(t, 4, f.provider.Accounts())
		assert.Zero(t, f.provider.ActiveSessions())

		n, err := f.registry.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		// a second run changes nothing
		require.NoError(t, f.cli.run([]string{"admin", "seed"}))
		n, err = f.creds.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("definitions file", func(t *testing.T) {
		f := setup(t)
		path := writeDefinitions(t, `
accounts:
  - role: teacher
    display_name: Awe Teacher
    email: Awe@Test.cd
    username: awe
    password: Secret#123
`)

		require.NoError(t, f.cli.run([]string{"admin", "seed", "-file", path}))
		identity, err := f.registry.FindByEmail(ctx, "awe@test.cd")
		require.NoError(t, err)
		assert.Equal(t, account.RoleTeacher, identity.Role)

		cred, err := f.creds.FindByUsername(ctx, "awe")
		require.NoError(t, err)
		assert.NoError(t, cred.CheckPassword("Secret#123"))
	})

	t.Run("invalid definition", func(t *testing.T) {
		f := setup(t)
		path := writeDefinitions(t, `
accounts:
  - role: janitor
    display_name: Nobody
    email: nobody@test.cd
    username: nobody
    password: Secret#123
`)

		err := f.cli.run([]string{"admin", "seed", "-file", path})
		assert.EqualError(t, err, "seeding incomplete for nobody@test.cd")
		assert.Contains(t, f.out.String(), "Error: seeding incomplete for nobody@test.cd")
	})

	t.Run("bad files", func(t *testing.T) {
		f := setup(t)

		assert.Error(t, f.cli.run([]string{"admin", "seed", "-file", filepath.Join(t.TempDir(), "missing.yaml")}))
		assert.Error(t, f.cli.run([]string{"admin", "seed", "-file", writeDefinitions(t, "accounts: [")}))
		assert.Error(t, f.cli.run([]string{"admin", "seed", "-file", writeDefinitions(t, "accounts: []")}))
	})
}

func Test_commandLine_clear(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	type extra struct {
		terminal bool
		answer   string
	}
	tests := []cliTest{
		{name: "not a terminal", args: []string{"clear"}, wantErr: errNoTerminal},
		{name: "not confirmed", args: []string{"clear"}, extra: extra{terminal: true, answer: "yes\n"}, wantErr: errNotConfirmed},
		{name: "confirmed", args: []string{"clear"}, extra: extra{terminal: true, answer: "clear\n"}},
		{name: "confirmation skipped", args: []string{"clear", "-yes"}},
	}
	t.Cleanup(func() {
		isTerminalFunc = isTerminal
		readLineFunc = readLine
	})

	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		ex, _ := tt.extra.(extra)
		isTerminalFunc = func() bool { return ex.terminal }
		readLineFunc = func() (string, error) { return ex.answer, nil }

		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, f.cli.run([]string{"admin", "seed"}))
			f.out.Reset()

			err := f.cli.run(args)
			tt.check(t, err)

			n, cerr := f.registry.Count(ctx)
			require.NoError(t, cerr)
			if err == nil {
				assert.Zero(t, n)
				assert.Zero(t, f.provider.Accounts())
				assert.Contains(t, f.out.String(), provision.StatusClearComplete)
			} else {
				assert.Equal(t, 4, n)
			}
		})
	}
}

func Test_commandLine_backfill(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	testutil.CreateIdentity(t, f.registry, "awe@test.cd", "Awe", account.RoleStudent)
	testutil.CreateIdentity(t, f.registry, "mdr@test.cd", "Mdr", account.RoleParent)

	require.NoError(t, f.cli.run([]string{"admin", "backfill"}))
	assert.Contains(t, f.out.String(), "scanned 2, created 2, already present 0")

	report, err := f.cli.detector.Inspect(ctx, drift.Query{Missing: true})
	require.NoError(t, err)
	assert.Empty(t, report.Missing)
}

func Test_commandLine_inspect(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.cli.run([]string{"admin", "seed"}))
	f.out.Reset()

	require.NoError(t, f.cli.run([]string{"admin", "inspect", "-counts", "-email", "teacher@masomo.test", "-sample", "2"}))

	var report drift.Report
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &report))
	require.NotNil(t, report.Counts)
	assert.Equal(t, 4, report.Counts.Identities)
	assert.Equal(t, 4, report.Counts.Credentials)
	assert.Len(t, report.Sample, 2)
	require.NotNil(t, report.Presence)
	assert.Equal(t, []string{account.TableTeachers}, report.Presence.ProfileTables)
	assert.Equal(t, []string{"teacher"}, report.Presence.Usernames)
	assert.Equal(t, drift.Present, report.Presence.Provider)
	assert.Nil(t, report.Collisions)
}

func Test_commandLine_resetPassword(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.cli.run([]string{"admin", "seed"}))

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "credential not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: account.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", "Teacher"}, extra: extra{pwd: "lol123"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", "teacher@masomo.test"}, extra: extra{pwd: "lmao123"}},
	}
	t.Cleanup(func() { readPasswordFunc = term.ReadPassword })

	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := f.cli.run(args)
			tt.check(t, err)
			if err != nil {
				return
			}
			cred, err := f.creds.FindByUsername(ctx, "teacher")
			require.NoError(t, err)
			assert.NoError(t, cred.CheckPassword(tt.extra.(extra).pwd))
		})
	}
}
