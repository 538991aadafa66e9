package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/masomo-accounts/core/account"
	"github.com/trezcool/masomo-accounts/core/drift"
	"github.com/trezcool/masomo-accounts/core/provision"
	"github.com/trezcool/masomo-accounts/storage/database"
)

const clearConfirmation = "clear"

var (
	readPasswordFunc  = term.ReadPassword      // mockable
	readLineFunc      = readLine               // mockable
	isTerminalFunc    = isTerminal             // mockable
	runMigrationsFunc = database.RunMigrations // mockable

	errHelp           = errors.New("help provided")
	errNotConfirmed   = errors.New("clear not confirmed")
	errNoTerminal     = errors.New("refusing to clear without a terminal; pass -yes to skip the confirmation")
	errAmbiguousEmail = errors.New("email is shared by several credentials; use the username")
)

type commandLine struct {
	db           *sqlx.DB
	engine       string
	orchestrator *provision.Orchestrator
	detector     *drift.Detector
	creds        account.CredentialStore
	out          io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  seed [-file FILE]             - provision the accounts of FILE (YAML) or the canonical demo accounts")
	fmt.Fprintln(cli.out, "  clear [-yes] [-file FILE]     - wipe every account store; provider accounts of FILE are deleted when possible")
	fmt.Fprintln(cli.out, "  backfill                      - create the missing profile rows")
	fmt.Fprintln(cli.out, "  inspect [-counts] [-sample N] [-email EMAIL] [-usernames] [-missing]")
	fmt.Fprintln(cli.out, "                                - print a read-only diagnostic report")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset a credential's password")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]        - run a migration command (up, down, status, version, redo, reset, up-to, down-to)")
}

func (cli *commandLine) status(s string) {
	fmt.Fprintln(cli.out, s)
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()
	cli.orchestrator.OnStatus = cli.status

	seedCmd := flag.NewFlagSet("seed", flag.ContinueOnError)
	seedFile := seedCmd.String("file", "", "YAML file with the account definitions. Defaults to the canonical demo accounts.")

	clearCmd := flag.NewFlagSet("clear", flag.ContinueOnError)
	clearYes := clearCmd.Bool("yes", false, "Skip the confirmation prompt.")
	clearFile := clearCmd.String("file", "", "YAML file with the account definitions whose provider accounts are deleted.")

	inspectCmd := flag.NewFlagSet("inspect", flag.ContinueOnError)
	inspectCounts := inspectCmd.Bool("counts", false, "Count the rows of every store.")
	inspectSample := inspectCmd.Int("sample", 0, "Show the N most recent identities.")
	inspectEmail := inspectCmd.String("email", "", "Look one email up in every store.")
	inspectUsernames := inspectCmd.Bool("usernames", false, "Scan credentials for collisions.")
	inspectMissing := inspectCmd.Bool("missing", false, "List identities without a profile row.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The credential's username or email. The password will be prompted next.")

	switch args[1] {
	case "seed":
		if err := seedCmd.Parse(args[2:]); err != nil {
			return err
		}
		defs, err := loadDefinitions(*seedFile)
		if err != nil {
			return err
		}
		return cli.seed(ctx, defs)

	case "clear":
		if err := clearCmd.Parse(args[2:]); err != nil {
			return err
		}
		defs, err := loadDefinitions(*clearFile)
		if err != nil {
			return err
		}
		if !*clearYes {
			if err := cli.confirmClear(); err != nil {
				return err
			}
		}
		return cli.clear(ctx, defs)

	case "backfill":
		return cli.backfill(ctx)

	case "inspect":
		if err := inspectCmd.Parse(args[2:]); err != nil {
			return err
		}
		q := drift.Query{
			Counts:      *inspectCounts,
			SampleLimit: *inspectSample,
			Email:       *inspectEmail,
			Usernames:   *inspectUsernames,
			Missing:     *inspectMissing,
		}
		if q == (drift.Query{}) {
			inspectCmd.Usage()
			return errHelp
		}
		return cli.inspect(ctx, q)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(ctx, *resetPasswordUname, string(pwd))

	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return runMigrationsFunc(ctx, cli.db.DB, cli.engine, args[2], args[3:]...)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) seed(ctx context.Context, defs []account.Definition) error {
	report := cli.orchestrator.Seed(ctx, defs)
	for _, res := range report.Results {
		fmt.Fprintf(cli.out, "  %-32s %s\n", res.Email, describe(res))
	}
	return report.Err()
}

func describe(res provision.DefinitionResult) string {
	if res.Err != nil {
		return "failed: " + res.Err.Error()
	}
	parts := []string{"identity ok"}
	for _, step := range []struct {
		name string
		err  error
	}{
		{"profile", res.ProfileErr},
		{"credential", res.CredentialErr},
		{"provider", res.ProviderErr},
	} {
		if step.err != nil {
			parts = append(parts, step.name+" failed: "+step.err.Error())
		}
	}
	if res.ProviderErr == nil {
		parts = append(parts, "provider "+string(res.ProviderOutcome))
	}
	return strings.Join(parts, ", ")
}

// confirmClear requires the operator to type the confirmation word on an interactive terminal.
func (cli *commandLine) confirmClear() error {
	if !isTerminalFunc() {
		return errNoTerminal
	}
	fmt.Fprintf(cli.out, "This deletes every account. Type %q to confirm: ", clearConfirmation)
	answer, err := readLineFunc()
	if err != nil {
		return err
	}
	if strings.TrimSpace(answer) != clearConfirmation {
		return errNotConfirmed
	}
	return nil
}

func (cli *commandLine) clear(ctx context.Context, defs []account.Definition) error {
	report := cli.orchestrator.Clear(ctx, defs)
	for _, step := range report.Steps {
		state := "ok"
		if step.Err != nil {
			state = "failed: " + step.Err.Error()
		}
		fmt.Fprintf(cli.out, "  %-12s deleted %-4d %s\n", step.Name, step.Deleted, state)
		for _, w := range step.Warnings {
			fmt.Fprintf(cli.out, "  %-12s warning: %s\n", "", w)
		}
	}
	return report.Err()
}

func (cli *commandLine) backfill(ctx context.Context) error {
	report, err := cli.detector.Backfill(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "scanned %d, created %d, already present %d\n", report.Scanned, report.Created, report.Present)
	for _, f := range report.Failures {
		fmt.Fprintf(cli.out, "  %s: %s\n", f.Email, f.Err)
	}
	if len(report.Failures) > 0 {
		return errors.Errorf("backfill failed for %d identities", len(report.Failures))
	}
	return nil
}

func (cli *commandLine) inspect(ctx context.Context, q drift.Query) error {
	report, err := cli.detector.Inspect(ctx, q)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func readLine() (string, error) {
	return bufio.NewReader(os.Stdin).ReadString('\n')
}

func isTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}
