// Package di builds the dependency injection container shared by the api and admin apps.
package di

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-accounts/apps/api/echo"
	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/account"
	"github.com/trezcool/masomo-accounts/core/drift"
	"github.com/trezcool/masomo-accounts/core/idp"
	"github.com/trezcool/masomo-accounts/core/provision"
	"github.com/trezcool/masomo-accounts/services/idp/keycloak"
	"github.com/trezcool/masomo-accounts/services/idp/memidp"
	logsvc "github.com/trezcool/masomo-accounts/services/logger"
	"github.com/trezcool/masomo-accounts/storage/database"
	sqlxrepos "github.com/trezcool/masomo-accounts/storage/database/sqlx"
)

// Identity provider kinds
const (
	ProviderKeycloak = "keycloak"
	ProviderMemory   = "memory"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func loggerFactory(prefix string) func(conf *core.Config) core.Logger {
	return func(conf *core.Config) core.Logger {
		stdLogger := log.New(os.Stdout, prefix+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
		return logsvc.NewRollbarLogger(stdLogger, conf)
	}
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, error) {
	ctx := context.Background()
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(ctx, conf.Database); err != nil {
			return nil, err
		}
		db, err := database.Connect(ctx, conf.Database)
		if err != nil {
			return nil, err
		}
		if err = database.Migrate(ctx, db.DB, conf.Database.Engine); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Error(fmt.Sprintf("setting up database: %v", err), err)
		return nil, err
	}
	return db, nil
}

func newDBExecutor(db *sqlx.DB) core.DBExecutor {
	return db
}

func newProvider(conf *core.Config) (idp.Provider, error) {
	switch conf.IDP.Kind {
	case ProviderKeycloak:
		return keycloak.NewProvider(conf.IDP), nil
	case ProviderMemory:
		return memidp.New(), nil
	default:
		return nil, errors.Errorf("unknown identity provider kind %q", conf.IDP.Kind)
	}
}

func newServerDeps(conf *core.Config, logger core.Logger, detector *drift.Detector) echoapi.ServerDeps {
	return echoapi.ServerDeps{Conf: conf, Logger: logger, Detector: detector}
}

// New returns a new dependency injection dig.Container.
// appName prefixes the log lines of the app ("API", "ADMIN").
func New(appName string) (*dig.Container, error) {
	return build(appName, core.NewConfig)
}

func build(appName string, newConfig func() *core.Config) (*dig.Container, error) {
	c := dig.New()

	providers := []struct {
		constructor interface{}
		opts        []dig.ProvideOption
	}{
		{constructor: newConfig},
		{constructor: loggerFactory(appName)},
		{constructor: loggerFactory("DB"), opts: []dig.ProvideOption{dig.Name("dbLogger")}},
		{constructor: newDB},
		{constructor: newDBExecutor},
		{constructor: sqlxrepos.NewRegistry, opts: []dig.ProvideOption{dig.As(new(account.Registry))}},
		{constructor: sqlxrepos.NewProfileStore, opts: []dig.ProvideOption{dig.As(new(account.ProfileStore))}},
		{constructor: sqlxrepos.NewCredentialStore, opts: []dig.ProvideOption{dig.As(new(account.CredentialStore))}},
		{constructor: newProvider},
		{constructor: provision.NewOrchestrator},
		{constructor: drift.NewDetector},
		{constructor: newServerDeps},
		{constructor: echoapi.NewServer},
	}
	for _, p := range providers {
		if err := c.Provide(p.constructor, p.opts...); err != nil {
			return nil, errors.Wrap(err, "failed to provide dependency")
		}
	}
	return c, nil
}
