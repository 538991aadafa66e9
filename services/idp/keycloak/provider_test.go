package keycloak

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/idp"
)

type fakeClient struct {
	users     map[string]string // {email: ID}
	passwords map[string]string // {email: password}
	loggedOut []string

	failSetPassword error
	failDelete      error
}

func newFakeClient() *fakeClient {
	return &fakeClient{users: map[string]string{}, passwords: map[string]string{}}
}

func (c *fakeClient) LoginAdmin(context.Context, string, string, string) (*gocloak.JWT, error) {
	return &gocloak.JWT{AccessToken: "admin-token"}, nil
}

func (c *fakeClient) Login(_ context.Context, _, _, _, username, password string) (*gocloak.JWT, error) {
	if pwd, ok := c.passwords[username]; !ok || pwd != password {
		return nil, &gocloak.APIError{Code: http.StatusUnauthorized, Message: "invalid_grant"}
	}
	return &gocloak.JWT{SessionState: "sess-" + username, AccessToken: "at-" + username, RefreshToken: "rt-" + username}, nil
}

func (c *fakeClient) Logout(_ context.Context, _, _, _, refreshToken string) error {
	c.loggedOut = append(c.loggedOut, refreshToken)
	return nil
}

func (c *fakeClient) GetUserInfo(_ context.Context, accessToken, _ string) (*gocloak.UserInfo, error) {
	for email := range c.users {
		if "at-"+email == accessToken {
			return &gocloak.UserInfo{Email: gocloak.StringP(email)}, nil
		}
	}
	return nil, &gocloak.APIError{Code: http.StatusUnauthorized}
}

func (c *fakeClient) CreateUser(_ context.Context, _, _ string, user gocloak.User) (string, error) {
	email := *user.Email
	if _, ok := c.users[email]; ok {
		return "", &gocloak.APIError{Code: http.StatusConflict, Message: "User exists with same username"}
	}
	c.users[email] = "id-" + email
	return c.users[email], nil
}

func (c *fakeClient) SetPassword(_ context.Context, _, userID, _, password string, _ bool) error {
	if c.failSetPassword != nil {
		return c.failSetPassword
	}
	for email, id := range c.users {
		if id == userID {
			c.passwords[email] = password
			return nil
		}
	}
	return &gocloak.APIError{Code: http.StatusNotFound}
}

func (c *fakeClient) GetUsers(_ context.Context, _, _ string, params gocloak.GetUsersParams) ([]*gocloak.User, error) {
	if id, ok := c.users[*params.Email]; ok {
		return []*gocloak.User{{ID: gocloak.StringP(id), Email: params.Email}}, nil
	}
	return nil, nil
}

func (c *fakeClient) DeleteUser(_ context.Context, _, _, userID string) error {
	if c.failDelete != nil {
		return c.failDelete
	}
	for email, id := range c.users {
		if id == userID {
			delete(c.users, email)
			delete(c.passwords, email)
		}
	}
	return nil
}

func newTestProvider(admin bool) (*Provider, *fakeClient) {
	conf := core.IDPConfig{Realm: "masomo", ClientID: "masomo-app", AdminRealm: "master", Timeout: time.Second}
	if admin {
		conf.AdminUser, conf.AdminPassword = "admin", "admin"
	}
	fc := newFakeClient()
	return &Provider{conf: conf, client: fc}, fc
}

func TestProvider_Register(t *testing.T) {
	ctx := context.Background()
	p, fc := newTestProvider(true)

	sess, outcome, err := p.Register(ctx, "jane@test.cd", "secret1", idp.Metadata{Name: "Jane Doe", Role: "teacher"})
	require.NoError(t, err)
	assert.Equal(t, idp.OutcomeRegistered, outcome)
	require.NotNil(t, sess)
	assert.Equal(t, "rt-jane@test.cd", sess.RefreshToken)
	assert.Contains(t, fc.users, "jane@test.cd")

	t.Run("conflict is already registered", func(t *testing.T) {
		sess, outcome, err := p.Register(ctx, "jane@test.cd", "secret1", idp.Metadata{})
		require.NoError(t, err)
		assert.Equal(t, idp.OutcomeAlreadyRegistered, outcome)
		assert.NotNil(t, sess)

		sess, outcome, err = p.Register(ctx, "jane@test.cd", "changed", idp.Metadata{})
		require.NoError(t, err)
		assert.Equal(t, idp.OutcomeAlreadyRegistered, outcome)
		assert.Nil(t, sess)
	})

	t.Run("password failure removes the user", func(t *testing.T) {
		p, fc := newTestProvider(true)
		fc.failSetPassword = &gocloak.APIError{Code: http.StatusInternalServerError}

		sess, outcome, err := p.Register(ctx, "awe@test.cd", "secret1", idp.Metadata{})
		assert.Error(t, err)
		assert.Equal(t, idp.OutcomeFailed, outcome)
		assert.Nil(t, sess)
		assert.NotContains(t, fc.users, "awe@test.cd")

		// the next run creates the user again and can sign in
		fc.failSetPassword = nil
		sess, outcome, err = p.Register(ctx, "awe@test.cd", "secret1", idp.Metadata{})
		require.NoError(t, err)
		assert.Equal(t, idp.OutcomeRegistered, outcome)
		require.NotNil(t, sess)

		_, err = p.SignIn(ctx, "awe@test.cd", "secret1")
		assert.NoError(t, err)
	})

	t.Run("failed rollback is reported", func(t *testing.T) {
		p, fc := newTestProvider(true)
		fc.failSetPassword = &gocloak.APIError{Code: http.StatusInternalServerError}
		fc.failDelete = &gocloak.APIError{Code: http.StatusInternalServerError}

		_, outcome, err := p.Register(ctx, "awe@test.cd", "secret1", idp.Metadata{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rollback failed")
		assert.Equal(t, idp.OutcomeFailed, outcome)
	})

	t.Run("without admin", func(t *testing.T) {
		p, _ := newTestProvider(false)
		_, outcome, err := p.Register(ctx, "x@test.cd", "secret1", idp.Metadata{})
		assert.Equal(t, idp.ErrAdminUnsupported, err)
		assert.Equal(t, idp.OutcomeFailed, outcome)
	})
}

func TestProvider_Session(t *testing.T) {
	ctx := context.Background()
	p, fc := newTestProvider(true)

	sess, _, err := p.Register(ctx, "jane@test.cd", "secret1", idp.Metadata{})
	require.NoError(t, err)

	who, err := p.WhoAmI(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "jane@test.cd", who)

	require.NoError(t, p.SignOut(ctx, sess))
	assert.Equal(t, []string{"rt-jane@test.cd"}, fc.loggedOut)
	require.NoError(t, p.SignOut(ctx, sess)) // no refresh token left
	require.NoError(t, p.SignOut(ctx, nil))
	assert.Len(t, fc.loggedOut, 1)

	_, err = p.WhoAmI(ctx, sess)
	assert.Equal(t, idp.ErrSessionClosed, err)

	_, err = p.SignIn(ctx, "jane@test.cd", "wrong")
	assert.Equal(t, idp.ErrInvalidCredentials, err)
}

func TestProvider_AdminDeleteByEmail(t *testing.T) {
	ctx := context.Background()
	p, fc := newTestProvider(true)

	_, _, err := p.Register(ctx, "jane@test.cd", "secret1", idp.Metadata{})
	require.NoError(t, err)

	exists, err := p.ExistsByEmail(ctx, "jane@test.cd")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, p.AdminDeleteByEmail(ctx, "jane@test.cd"))
	assert.Empty(t, fc.users)
	assert.Equal(t, idp.ErrNotFound, p.AdminDeleteByEmail(ctx, "jane@test.cd"))

	exists, err = p.ExistsByEmail(ctx, "jane@test.cd")
	require.NoError(t, err)
	assert.False(t, exists)

	noAdmin, _ := newTestProvider(false)
	assert.Equal(t, idp.ErrAdminUnsupported, noAdmin.AdminDeleteByEmail(ctx, "jane@test.cd"))
}

func Test_splitName(t *testing.T) {
	tests := []struct {
		name, first, last string
	}{
		{name: "", first: "", last: ""},
		{name: "Jane", first: "Jane", last: ""},
		{name: " Jane  Mary Doe ", first: "Jane", last: "Mary Doe"},
	}
	for _, tt := range tests {
		first, last := splitName(tt.name)
		if first != tt.first || last != tt.last {
			t.Errorf("splitName(%q) = %q, %q, want %q, %q", tt.name, first, last, tt.first, tt.last)
		}
	}
}
