// Package keycloak implements the identity provider on top of a Keycloak realm.
package keycloak

import (
	"context"
	"net/http"
	"strings"

	"github.com/Nerzal/gocloak/v13"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/idp"
)

// client is the subset of the gocloak API used by the provider.
type client interface {
	LoginAdmin(ctx context.Context, username, password, realm string) (*gocloak.JWT, error)
	Login(ctx context.Context, clientID, clientSecret, realm, username, password string) (*gocloak.JWT, error)
	Logout(ctx context.Context, clientID, clientSecret, realm, refreshToken string) error
	GetUserInfo(ctx context.Context, accessToken, realm string) (*gocloak.UserInfo, error)
	CreateUser(ctx context.Context, token, realm string, user gocloak.User) (string, error)
	SetPassword(ctx context.Context, token, userID, realm, password string, temporary bool) error
	GetUsers(ctx context.Context, accessToken, realm string, params gocloak.GetUsersParams) ([]*gocloak.User, error)
	DeleteUser(ctx context.Context, accessToken, realm, userID string) error
}

var _ client = (*gocloak.GoCloak)(nil)

type Provider struct {
	conf   core.IDPConfig
	client client
}

var (
	_ idp.Provider = (*Provider)(nil) // interface compliance check
	_ idp.Lookup   = (*Provider)(nil)
)

func NewProvider(conf core.IDPConfig) *Provider {
	return &Provider{conf: conf, client: gocloak.NewClient(conf.BaseURL)}
}

func (p *Provider) Register(ctx context.Context, email, password string, meta idp.Metadata) (*idp.Session, idp.Outcome, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	token, err := p.adminToken(ctx)
	if err != nil {
		return nil, idp.OutcomeFailed, err
	}

	first, last := splitName(meta.Name)
	attrs := map[string][]string{
		"role":         {meta.Role},
		"display_name": {meta.Name},
		"app_username": {meta.Username},
	}
	userID, err := p.client.CreateUser(ctx, token, p.conf.Realm, gocloak.User{
		Username:      gocloak.StringP(email),
		Email:         gocloak.StringP(email),
		FirstName:     gocloak.StringP(first),
		LastName:      gocloak.StringP(last),
		Enabled:       gocloak.BoolP(true),
		EmailVerified: gocloak.BoolP(true),
		Attributes:    &attrs,
	})
	if err != nil {
		if apiCode(err) == http.StatusConflict {
			// the account predates this call: a session is only available if the password still matches
			sess, err := p.signIn(ctx, email, password)
			if err != nil {
				return nil, idp.OutcomeAlreadyRegistered, nil
			}
			return sess, idp.OutcomeAlreadyRegistered, nil
		}
		return nil, idp.OutcomeFailed, errors.Wrap(err, "creating keycloak user")
	}

	if err := p.client.SetPassword(ctx, token, userID, p.conf.Realm, password, false); err != nil {
		// a user left without password would be reported as already registered on the next run
		if delErr := p.client.DeleteUser(ctx, token, p.conf.Realm, userID); delErr != nil {
			return nil, idp.OutcomeFailed, errors.Wrapf(err, "setting keycloak password (rollback failed: %v)", delErr)
		}
		return nil, idp.OutcomeFailed, errors.Wrap(err, "setting keycloak password")
	}

	sess, err := p.signIn(ctx, email, password)
	if err != nil {
		return nil, idp.OutcomeFailed, err
	}
	return sess, idp.OutcomeRegistered, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*idp.Session, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.signIn(ctx, email, password)
}

func (p *Provider) SignOut(ctx context.Context, sess *idp.Session) error {
	if sess == nil || sess.RefreshToken == "" {
		return nil
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	err := p.client.Logout(ctx, p.conf.ClientID, p.conf.ClientSecret, p.conf.Realm, sess.RefreshToken)
	switch code := apiCode(err); {
	case err == nil, code == http.StatusBadRequest, code == http.StatusUnauthorized:
		// 400/401: the refresh token is already invalid
		sess.AccessToken, sess.RefreshToken = "", ""
		return nil
	default:
		return errors.Wrap(err, "signing out of keycloak")
	}
}

func (p *Provider) WhoAmI(ctx context.Context, sess *idp.Session) (string, error) {
	if sess == nil || sess.AccessToken == "" {
		return "", idp.ErrSessionClosed
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	info, err := p.client.GetUserInfo(ctx, sess.AccessToken, p.conf.Realm)
	if err != nil {
		if apiCode(err) == http.StatusUnauthorized {
			return "", idp.ErrSessionClosed
		}
		return "", errors.Wrap(err, "fetching keycloak user info")
	}
	if info.Email == nil {
		return "", idp.ErrNotFound
	}
	return *info.Email, nil
}

func (p *Provider) AdminDeleteByEmail(ctx context.Context, email string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	token, err := p.adminToken(ctx)
	if err != nil {
		return err
	}
	user, err := p.findByEmail(ctx, token, email)
	if err != nil {
		return err
	}
	if err := p.client.DeleteUser(ctx, token, p.conf.Realm, *user.ID); err != nil {
		return errors.Wrap(err, "deleting keycloak user")
	}
	return nil
}

func (p *Provider) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	token, err := p.adminToken(ctx)
	if err != nil {
		return false, err
	}
	if _, err := p.findByEmail(ctx, token, email); err != nil {
		if err == idp.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *Provider) signIn(ctx context.Context, email, password string) (*idp.Session, error) {
	jwt, err := p.client.Login(ctx, p.conf.ClientID, p.conf.ClientSecret, p.conf.Realm, email, password)
	if err != nil {
		if code := apiCode(err); code == http.StatusUnauthorized || code == http.StatusBadRequest {
			return nil, idp.ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "signing in to keycloak")
	}
	return &idp.Session{
		ID:           jwt.SessionState,
		Subject:      strings.ToLower(email),
		AccessToken:  jwt.AccessToken,
		RefreshToken: jwt.RefreshToken,
	}, nil
}

func (p *Provider) adminToken(ctx context.Context) (string, error) {
	if !p.conf.HasAdmin() {
		return "", idp.ErrAdminUnsupported
	}
	jwt, err := p.client.LoginAdmin(ctx, p.conf.AdminUser, p.conf.AdminPassword, p.conf.AdminRealm)
	if err != nil {
		return "", errors.Wrap(err, "keycloak admin login")
	}
	return jwt.AccessToken, nil
}

func (p *Provider) findByEmail(ctx context.Context, token, email string) (*gocloak.User, error) {
	users, err := p.client.GetUsers(ctx, token, p.conf.Realm, gocloak.GetUsersParams{
		Email: gocloak.StringP(email),
		Exact: gocloak.BoolP(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing keycloak users")
	}
	for _, u := range users {
		if u.ID != nil && u.Email != nil && strings.EqualFold(*u.Email, email) {
			return u, nil
		}
	}
	return nil, idp.ErrNotFound
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.conf.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.conf.Timeout)
}

func apiCode(err error) int {
	var apiErr *gocloak.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
