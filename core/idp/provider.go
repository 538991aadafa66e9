// Package idp defines the contract of the external identity provider.
//
// Provider sessions are explicit handles: Register and SignIn return a *Session and
// every other call that needs one takes it as an argument. Implementations must not
// keep an ambient "current" session.
package idp

import (
	"context"
	"errors"
)

var (
	// errors
	ErrNotFound           = errors.New("identity provider: account not found")
	ErrAlreadyRegistered  = errors.New("identity provider: email already registered")
	ErrInvalidCredentials = errors.New("identity provider: invalid credentials")
	ErrSessionClosed      = errors.New("identity provider: session closed")
	ErrAdminUnsupported   = errors.New("identity provider: admin capability unavailable")
)

type Outcome string

const (
	OutcomeRegistered        Outcome = "registered"
	OutcomeAlreadyRegistered Outcome = "already_registered"
	OutcomeFailed            Outcome = "failed"
)

// Succeeded reports whether the outcome leaves an account registered with the provider.
func (o Outcome) Succeeded() bool {
	return o == OutcomeRegistered || o == OutcomeAlreadyRegistered
}

// Metadata is attached to the provider account on registration.
type Metadata struct {
	Name     string
	Role     string
	Username string
}

// Session is an authenticated provider session bound to one subject.
type Session struct {
	ID           string
	Subject      string // email
	AccessToken  string
	RefreshToken string
}

type (
	Provider interface {
		// Register creates the provider account and opens a session for it.
		// An email that is already registered yields OutcomeAlreadyRegistered and a nil error;
		// the returned session may be nil in that case.
		Register(ctx context.Context, email, password string, meta Metadata) (*Session, Outcome, error)
		SignIn(ctx context.Context, email, password string) (*Session, error)
		// SignOut ends the session. Ending a nil or already ended session is a no-op.
		SignOut(ctx context.Context, sess *Session) error
		// WhoAmI returns the subject bound to the session.
		WhoAmI(ctx context.Context, sess *Session) (string, error)
		// AdminDeleteByEmail is privileged; ErrAdminUnsupported means the deployment lacks the capability.
		AdminDeleteByEmail(ctx context.Context, email string) error
	}

	// Lookup is an optional read-only capability used by diagnostics.
	Lookup interface {
		ExistsByEmail(ctx context.Context, email string) (bool, error)
	}
)
