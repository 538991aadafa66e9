package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-accounts/apps/di"
	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/account"
	"github.com/trezcool/masomo-accounts/core/drift"
	"github.com/trezcool/masomo-accounts/core/provision"
)

func main() {
	c, err := di.New("ADMIN")
	if err != nil {
		log.Fatal(err)
	}

	var runErr error
	err = c.Invoke(func(
		conf *core.Config,
		db *sqlx.DB,
		orchestrator *provision.Orchestrator,
		detector *drift.Detector,
		creds account.CredentialStore,
	) {
		defer db.Close()

		cli := commandLine{
			db:           db,
			engine:       conf.Database.Engine,
			orchestrator: orchestrator,
			detector:     detector,
			creds:        creds,
			out:          os.Stdout,
		}
		runErr = cli.run(os.Args)
	})
	if err != nil {
		log.Fatal(err)
	}

	if runErr != nil {
		if runErr != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", runErr)
		}
		os.Exit(1)
	}
}
