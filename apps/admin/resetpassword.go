package main

import (
	"context"

	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/account"
)

// resetPassword replaces the password hash of a local credential, looked up by username or email.
// The identity provider password is left untouched.
func (cli *commandLine) resetPassword(ctx context.Context, uname, pwd string) error {
	uname = core.CleanString(uname, true /* lower */)

	cred, err := cli.creds.FindByUsername(ctx, uname)
	if err == account.ErrNotFound {
		var creds []account.Credential
		if creds, err = cli.creds.FindByEmail(ctx, uname); err == nil {
			switch len(creds) {
			case 0:
				err = account.ErrNotFound
			case 1:
				cred = creds[0]
			default:
				return errAmbiguousEmail
			}
		}
	}
	if err != nil {
		return err
	}

	if err := cred.SetPassword(pwd); err != nil {
		return err
	}
	return cli.creds.Upsert(ctx, cred)
}
