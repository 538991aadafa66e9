// Package memidp is an in-process identity provider.
// It backs the "memory" provider kind and the tests.
package memidp

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-accounts/core/idp"
)

type account struct {
	id    string
	email string
	hash  []byte
	meta  idp.Metadata
}

type Provider struct {
	mu           sync.Mutex
	accounts     map[string]*account // {email: account}
	sessions     map[string]string   // {session ID: email}
	failRegister map[string]error
	admin        bool
}

var (
	_ idp.Provider = (*Provider)(nil) // interface compliance check
	_ idp.Lookup   = (*Provider)(nil)
)

type Option func(*Provider)

// WithoutAdmin builds a provider lacking the privileged admin-delete capability.
func WithoutAdmin() Option {
	return func(p *Provider) { p.admin = false }
}

func New(opts ...Option) *Provider {
	p := &Provider{
		accounts:     make(map[string]*account),
		sessions:     make(map[string]string),
		failRegister: make(map[string]error),
		admin:        true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FailRegister makes every Register call for email fail with err.
func (p *Provider) FailRegister(email string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failRegister[normalize(email)] = err
}

// ActiveSessions returns the number of sessions that have not been signed out.
func (p *Provider) ActiveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Accounts returns the number of registered accounts.
func (p *Provider) Accounts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// Metadata returns the metadata stored on registration.
func (p *Provider) Metadata(email string) (idp.Metadata, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[normalize(email)]
	if !ok {
		return idp.Metadata{}, false
	}
	return acc.meta, true
}

func (p *Provider) Register(_ context.Context, email, password string, meta idp.Metadata) (*idp.Session, idp.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	email = normalize(email)
	if err, ok := p.failRegister[email]; ok {
		return nil, idp.OutcomeFailed, err
	}
	if _, ok := p.accounts[email]; ok {
		return nil, idp.OutcomeAlreadyRegistered, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, idp.OutcomeFailed, err
	}
	p.accounts[email] = &account{id: uuid.New().String(), email: email, hash: hash, meta: meta}
	return p.openSession(email), idp.OutcomeRegistered, nil
}

func (p *Provider) SignIn(_ context.Context, email, password string) (*idp.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[normalize(email)]
	if !ok {
		return nil, idp.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return nil, idp.ErrInvalidCredentials
	}
	return p.openSession(acc.email), nil
}

func (p *Provider) SignOut(_ context.Context, sess *idp.Session) error {
	if sess == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sess.ID)
	return nil
}

func (p *Provider) WhoAmI(_ context.Context, sess *idp.Session) (string, error) {
	if sess == nil {
		return "", idp.ErrSessionClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	email, ok := p.sessions[sess.ID]
	if !ok {
		return "", idp.ErrSessionClosed
	}
	return email, nil
}

func (p *Provider) AdminDeleteByEmail(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.admin {
		return idp.ErrAdminUnsupported
	}
	email = normalize(email)
	if _, ok := p.accounts[email]; !ok {
		return idp.ErrNotFound
	}
	delete(p.accounts, email)
	for id, subject := range p.sessions {
		if subject == email {
			delete(p.sessions, id)
		}
	}
	return nil
}

func (p *Provider) ExistsByEmail(_ context.Context, email string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.accounts[normalize(email)]
	return ok, nil
}

// openSession must be called with p.mu held.
func (p *Provider) openSession(email string) *idp.Session {
	sess := &idp.Session{
		ID:          uuid.New().String(),
		Subject:     email,
		AccessToken: uuid.New().String(),
	}
	p.sessions[sess.ID] = email
	return sess
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
