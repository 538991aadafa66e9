// Package provision fans logical accounts out to every identity store and tears them down again.
//
// Seed and Clear are best-effort: they never stop at the first failure but report, per
// definition or per step, what went wrong. Definitions are processed strictly in sequence
// and every provider session opened for a definition is ended before the next one starts.
package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/account"
	"github.com/trezcool/masomo-accounts/core/idp"
)

// Operator-facing status strings
const (
	StatusSeedComplete  = "Seeding complete"
	StatusClearComplete = "Clear complete"
	statusErrorPrefix   = "Error: "
)

// Clear steps, in execution order
const (
	StepProvider    = "provider"
	StepLinks       = "links"
	StepCredentials = "credentials"
	StepIdentities  = "identities"
)

var nowFunc = time.Now // mockable

type Orchestrator struct {
	registry account.Registry
	profiles account.ProfileStore
	creds    account.CredentialStore
	provider idp.Provider
	log      core.Logger

	// OnStatus, when set, receives a status string as each step starts and when the operation ends.
	OnStatus func(status string)
}

func NewOrchestrator(
	registry account.Registry,
	profiles account.ProfileStore,
	creds account.CredentialStore,
	provider idp.Provider,
	logger core.Logger,
) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		profiles: profiles,
		creds:    creds,
		provider: provider,
		log:      logger,
	}
}

func (o *Orchestrator) status(format string, args ...interface{}) {
	if o.OnStatus == nil {
		return
	}
	o.OnStatus(fmt.Sprintf(format, args...))
}

// DefinitionResult is the outcome of seeding one definition.
// Err is fatal for the definition; the other errors are recoverable and were logged.
type DefinitionResult struct {
	Email           string
	IdentityID      string
	Err             error
	ProfileErr      error
	CredentialErr   error
	ProviderOutcome idp.Outcome
	ProviderErr     error
	SignOutErr      error
}

// Complete reports whether every step succeeded for the definition.
func (r DefinitionResult) Complete() bool {
	return r.Err == nil && r.ProfileErr == nil && r.CredentialErr == nil &&
		r.ProviderErr == nil && r.ProviderOutcome.Succeeded()
}

type SeedReport struct {
	Results []DefinitionResult
}

// Incomplete returns the results of the definitions that did not complete every step.
func (r SeedReport) Incomplete() []DefinitionResult {
	var out []DefinitionResult
	for _, res := range r.Results {
		if !res.Complete() {
			out = append(out, res)
		}
	}
	return out
}

// Err summarizes the incomplete definitions, or returns nil.
func (r SeedReport) Err() error {
	incomplete := r.Incomplete()
	if len(incomplete) == 0 {
		return nil
	}
	emails := make([]string, 0, len(incomplete))
	for _, res := range incomplete {
		emails = append(emails, res.Email)
	}
	return errors.Errorf("seeding incomplete for %s", strings.Join(emails, ", "))
}

// Seed provisions every definition across the registry, profile store, credential store and provider.
// Re-running it with the same definitions leaves every store unchanged.
func (o *Orchestrator) Seed(ctx context.Context, defs []account.Definition) SeedReport {
	defs = append([]account.Definition(nil), defs...)
	validationErrs := account.ValidateDefinitions(defs)

	report := SeedReport{Results: make([]DefinitionResult, 0, len(defs))}
	for i, def := range defs {
		if err := validationErrs[i]; err != nil {
			o.log.Error("invalid definition", errors.Wrapf(err, "definition %d (%s)", i, def.Email))
			report.Results = append(report.Results, DefinitionResult{Email: def.Email, Err: err})
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Results = append(report.Results, DefinitionResult{Email: def.Email, Err: err})
			continue
		}
		o.status("Seeding %s (%s)", def.Email, def.Role)
		report.Results = append(report.Results, o.seedOne(ctx, def))
	}

	if err := report.Err(); err != nil {
		o.status("%s%v", statusErrorPrefix, err)
	} else {
		o.status(StatusSeedComplete)
	}
	return report
}

func (o *Orchestrator) seedOne(ctx context.Context, def account.Definition) DefinitionResult {
	res := DefinitionResult{Email: def.Email}

	// 1. identity: fatal for the definition
	identity, err := o.resolveIdentity(ctx, def)
	if err != nil {
		o.log.Error("resolving identity", errors.Wrap(err, def.Email))
		res.Err = err
		return res
	}
	res.IdentityID = identity.ID

	// 2. profile extension, in the table of the stored role
	if err := o.profiles.Upsert(ctx, account.DefaultProfile(identity)); err != nil {
		o.log.Warn("upserting profile", errors.Wrap(err, def.Email), identity)
		res.ProfileErr = err
	}

	// 3. credential
	cred := account.Credential{
		Username:   def.Username,
		Email:      identity.Email,
		Role:       identity.Role,
		UserID:     identity.ID,
		IsActive:   true,
		IsVerified: true,
		VerifiedAt: nowFunc().UTC(),
	}
	if err := cred.SetPassword(def.Password); err != nil {
		res.CredentialErr = errors.Wrap(err, "hashing password")
	} else if err := o.creds.Upsert(ctx, cred); err != nil {
		res.CredentialErr = err
	}
	if res.CredentialErr != nil {
		o.log.Warn("upserting credential", errors.Wrap(res.CredentialErr, def.Email), identity)
	}

	// 4. provider registration
	sess, outcome, err := o.provider.Register(ctx, def.Email, def.Password, idp.Metadata{
		Name:     def.DisplayName,
		Role:     identity.Role.String(),
		Username: def.Username,
	})
	res.ProviderOutcome = outcome
	if err != nil {
		o.log.Warn("registering with identity provider", errors.Wrap(err, def.Email), identity)
		res.ProviderErr = err
		res.ProviderOutcome = idp.OutcomeFailed
	}

	// 5. the session must not outlive the definition, whatever happened above
	if err := o.provider.SignOut(ctx, sess); err != nil {
		o.log.Warn("ending identity provider session", errors.Wrap(err, def.Email), identity)
		res.SignOutErr = err
	}
	return res
}

// resolveIdentity finds the identity by email or creates it.
// A concurrent insert of the same email is detected by the unique constraint and re-fetched.
func (o *Orchestrator) resolveIdentity(ctx context.Context, def account.Definition) (account.Identity, error) {
	identity, err := o.registry.FindByEmail(ctx, def.Email)
	switch {
	case err == nil:
		if identity.Role != def.Role {
			o.log.Warn("identity role differs from definition; keeping the stored role", identity, map[string]interface{}{
				"email": def.Email, "stored": identity.Role, "defined": def.Role,
			})
		}
		return identity, nil
	case err != account.ErrNotFound:
		return account.Identity{}, errors.Wrap(err, "finding identity")
	}

	identity, err = o.registry.Insert(ctx, def.Identity())
	if err == account.ErrConflict {
		identity, err = o.registry.FindByEmail(ctx, def.Email)
	}
	if err != nil {
		return account.Identity{}, errors.Wrap(err, "inserting identity")
	}
	return identity, nil
}

// StepResult is the outcome of one Clear step.
// Warnings are expected, non-fatal conditions; Err marks the step as failed.
type StepResult struct {
	Name     string
	Deleted  int
	Warnings []string
	Err      error
}

type ClearReport struct {
	Steps []StepResult
}

// Failed returns the names of the failed steps.
func (r ClearReport) Failed() []string {
	var names []string
	for _, step := range r.Steps {
		if step.Err != nil {
			names = append(names, step.Name)
		}
	}
	return names
}

func (r ClearReport) Err() error {
	if failed := r.Failed(); len(failed) > 0 {
		return errors.Errorf("clear failed at steps: %s", strings.Join(failed, ", "))
	}
	return nil
}

// Clear wipes every store, children before parents: provider accounts of defs, link tables,
// extension tables, credentials and finally identities. A failed step does not stop the next ones.
func (o *Orchestrator) Clear(ctx context.Context, defs []account.Definition) ClearReport {
	var report ClearReport

	o.status("Clearing %s", StepProvider)
	report.Steps = append(report.Steps, o.clearProvider(ctx, defs))

	o.status("Clearing %s", StepLinks)
	n, err := o.profiles.DeleteLinks(ctx)
	report.Steps = append(report.Steps, o.stepResult(StepLinks, n, err))

	for _, table := range account.ExtensionTables {
		o.status("Clearing %s", table)
		n, err := o.profiles.DeleteAll(ctx, table)
		report.Steps = append(report.Steps, o.stepResult(table, n, err))
	}

	o.status("Clearing %s", StepCredentials)
	n, err = o.creds.DeleteAll(ctx)
	report.Steps = append(report.Steps, o.stepResult(StepCredentials, n, err))

	o.status("Clearing %s", StepIdentities)
	n, err = o.registry.DeleteAll(ctx)
	report.Steps = append(report.Steps, o.stepResult(StepIdentities, n, err))

	if err := report.Err(); err != nil {
		o.status("%s%v", statusErrorPrefix, err)
	} else {
		o.status(StatusClearComplete)
	}
	return report
}

func (o *Orchestrator) stepResult(name string, deleted int, err error) StepResult {
	if err != nil {
		o.log.Error("clear step failed", errors.Wrap(err, name))
	}
	return StepResult{Name: name, Deleted: deleted, Err: err}
}

// clearProvider never fails: a missing admin capability or a failed delete only yields warnings.
func (o *Orchestrator) clearProvider(ctx context.Context, defs []account.Definition) StepResult {
	step := StepResult{Name: StepProvider}
	for _, def := range defs {
		email := core.CleanString(def.Email, true)
		err := o.provider.AdminDeleteByEmail(ctx, email)
		switch {
		case err == nil:
			step.Deleted++
		case err == idp.ErrNotFound:
		case err == idp.ErrAdminUnsupported:
			step.Warnings = append(step.Warnings, "identity provider has no admin capability; remote accounts kept")
			o.log.Warn("skipping identity provider cleanup", err)
			return step
		default:
			step.Warnings = append(step.Warnings, email+": "+err.Error())
			o.log.Warn("deleting identity provider account", errors.Wrap(err, email))
		}
	}
	return step
}
