// Package drift finds and repairs logical accounts that are missing from one of the stores.
package drift

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/account"
	"github.com/trezcool/masomo-accounts/core/idp"
)

// Provider presence states
const (
	Present = "present"
	Absent  = "absent"
	Unknown = "unknown"
)

// MaxSampleLimit bounds Query.SampleLimit.
const MaxSampleLimit = 100

// profileRoles are probed, one per extension table, when looking an email up across profiles.
var profileRoles = []account.Role{account.RoleAdmin, account.RoleTeacher, account.RoleStudent, account.RoleParent}

type Detector struct {
	registry account.Registry
	profiles account.ProfileStore
	creds    account.CredentialStore
	lookup   idp.Lookup // nil when the provider cannot be queried
	log      core.Logger
}

func NewDetector(
	registry account.Registry,
	profiles account.ProfileStore,
	creds account.CredentialStore,
	provider idp.Provider,
	logger core.Logger,
) *Detector {
	d := &Detector{
		registry: registry,
		profiles: profiles,
		creds:    creds,
		log:      logger,
	}
	if lookup, ok := provider.(idp.Lookup); ok {
		d.lookup = lookup
	}
	return d
}

type BackfillFailure struct {
	Email string `json:"email"`
	Err   string `json:"error"`
}

type BackfillReport struct {
	Scanned  int               `json:"scanned"`
	Created  int               `json:"created"`
	Present  int               `json:"present"`
	Failures []BackfillFailure `json:"failures,omitempty"`
}

// Backfill creates a default extension row for every identity that has none.
//
// The existence check runs right before each insert but a concurrent writer may still
// win the race: the unique constraint of the extension table is what prevents duplicates,
// and a conflicting insert is counted as already present. Running it again is a no-op.
func (d *Detector) Backfill(ctx context.Context) (BackfillReport, error) {
	var report BackfillReport

	identities, err := d.registry.All(ctx)
	if err != nil {
		return report, errors.Wrap(err, "listing identities")
	}

	for _, identity := range identities {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		created, err := d.backfillOne(ctx, identity)
		switch {
		case err != nil:
			d.log.Warn("backfilling profile", errors.Wrap(err, identity.Email), identity)
			report.Failures = append(report.Failures, BackfillFailure{Email: identity.Email, Err: err.Error()})
		case created:
			d.log.Info("created missing profile", map[string]interface{}{"email": identity.Email, "table": identity.Role.ExtensionTable()})
			report.Created++
		default:
			report.Present++
		}
	}
	return report, nil
}

func (d *Detector) backfillOne(ctx context.Context, identity account.Identity) (bool, error) {
	if !identity.Role.IsValid() {
		return false, account.ErrInvalidRole
	}
	exists, err := d.profiles.Exists(ctx, identity)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	err = d.profiles.Insert(ctx, account.DefaultProfile(identity))
	if err == account.ErrConflict {
		return false, nil
	}
	return err == nil, err
}

// Query selects the sections of an inspection Report. Every section is read-only.
type Query struct {
	Counts      bool   // row count per store
	SampleLimit int    // most recent identities; 0 skips the sample
	Email       string // cross-store presence of one email
	Usernames   bool   // credential collisions and identities without credentials
	Missing     bool   // identities with no extension row (what Backfill would create)
}

type Counts struct {
	Identities  int            `json:"identities"`
	Profiles    map[string]int `json:"profiles"`
	Credentials int            `json:"credentials"`
}

type Presence struct {
	Email         string   `json:"email"`
	Registry      bool     `json:"registry"`
	Role          string   `json:"role,omitempty"`
	ProfileTables []string `json:"profile_tables"`
	Usernames     []string `json:"usernames"`
	Provider      string   `json:"provider"`
}

type Collisions struct {
	// SharedUserIDs maps an identity id to the usernames of the credentials it owns, when more than one.
	SharedUserIDs     map[string][]string `json:"shared_user_ids"`
	WithoutCredential []string            `json:"without_credential"`
}

type Report struct {
	Counts     *Counts            `json:"counts,omitempty"`
	Sample     []account.Identity `json:"sample,omitempty"`
	Presence   *Presence          `json:"presence,omitempty"`
	Collisions *Collisions        `json:"collisions,omitempty"`
	Missing    []string           `json:"missing,omitempty"`
}

// Inspect builds the report sections selected by q.
func (d *Detector) Inspect(ctx context.Context, q Query) (Report, error) {
	var (
		report Report
		err    error
	)

	if q.Counts {
		if report.Counts, err = d.counts(ctx); err != nil {
			return Report{}, err
		}
	}
	if q.SampleLimit > 0 {
		limit := q.SampleLimit
		if limit > MaxSampleLimit {
			limit = MaxSampleLimit
		}
		if report.Sample, err = d.registry.Sample(ctx, limit); err != nil {
			return Report{}, errors.Wrap(err, "sampling identities")
		}
	}
	if email := core.CleanString(q.Email, true); email != "" {
		if report.Presence, err = d.presence(ctx, email); err != nil {
			return Report{}, err
		}
	}
	if q.Usernames {
		if report.Collisions, err = d.collisions(ctx); err != nil {
			return Report{}, err
		}
	}
	if q.Missing {
		if report.Missing, err = d.missing(ctx); err != nil {
			return Report{}, err
		}
	}
	return report, nil
}

func (d *Detector) counts(ctx context.Context) (*Counts, error) {
	c := &Counts{Profiles: make(map[string]int, len(account.ExtensionTables))}
	var err error

	if c.Identities, err = d.registry.Count(ctx); err != nil {
		return nil, errors.Wrap(err, "counting identities")
	}
	for _, table := range account.ExtensionTables {
		if c.Profiles[table], err = d.profiles.Count(ctx, table); err != nil {
			return nil, errors.Wrapf(err, "counting %s", table)
		}
	}
	if c.Credentials, err = d.creds.Count(ctx); err != nil {
		return nil, errors.Wrap(err, "counting credentials")
	}
	return c, nil
}

func (d *Detector) presence(ctx context.Context, email string) (*Presence, error) {
	p := &Presence{Email: email, ProfileTables: make([]string, 0), Usernames: make([]string, 0), Provider: Unknown}

	identity, err := d.registry.FindByEmail(ctx, email)
	switch err {
	case nil:
		p.Registry = true
		p.Role = identity.Role.String()
	case account.ErrNotFound:
	default:
		return nil, errors.Wrap(err, "finding identity")
	}

	for _, role := range profileRoles {
		_, err := d.profiles.FindByEmail(ctx, role, email)
		switch err {
		case nil:
			p.ProfileTables = append(p.ProfileTables, role.ExtensionTable())
		case account.ErrNotFound:
		default:
			return nil, errors.Wrapf(err, "finding %s profile", role.ExtensionTable())
		}
	}

	creds, err := d.creds.FindByEmail(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, "finding credentials")
	}
	for _, cred := range creds {
		p.Usernames = append(p.Usernames, cred.Username)
	}

	if d.lookup != nil {
		switch exists, err := d.lookup.ExistsByEmail(ctx, email); {
		case err != nil:
			// the provider stays "unknown": diagnostics must not fail on it
			d.log.Warn("looking up identity provider account", errors.Wrap(err, email))
		case exists:
			p.Provider = Present
		default:
			p.Provider = Absent
		}
	}
	return p, nil
}

func (d *Detector) collisions(ctx context.Context) (*Collisions, error) {
	c := &Collisions{SharedUserIDs: make(map[string][]string), WithoutCredential: make([]string, 0)}

	creds, err := d.creds.All(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing credentials")
	}
	byUser := make(map[string][]string)
	for _, cred := range creds {
		byUser[cred.UserID] = append(byUser[cred.UserID], cred.Username)
	}
	for userID, usernames := range byUser {
		if len(usernames) > 1 {
			sort.Strings(usernames)
			c.SharedUserIDs[userID] = usernames
		}
	}

	identities, err := d.registry.All(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing identities")
	}
	for _, identity := range identities {
		if _, ok := byUser[identity.ID]; !ok {
			c.WithoutCredential = append(c.WithoutCredential, identity.Email)
		}
	}
	return c, nil
}

func (d *Detector) missing(ctx context.Context) ([]string, error) {
	identities, err := d.registry.All(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing identities")
	}
	missing := make([]string, 0)
	for _, identity := range identities {
		if !identity.Role.IsValid() {
			continue
		}
		exists, err := d.profiles.Exists(ctx, identity)
		if err != nil {
			return nil, errors.Wrap(err, "checking profile existence")
		}
		if !exists {
			missing = append(missing, identity.Email)
		}
	}
	return missing, nil
}
