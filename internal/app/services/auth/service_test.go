package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authsvc "marketplace/internal/app/services/auth"
	domainauth "marketplace/internal/domain/auth"
	domainuser "marketplace/internal/domain/user"
	"marketplace/internal/infra/security"
	"marketplace/internal/infra/storage/memory"
)

type fixture struct {
	svc   *authsvc.Service
	users *memory.UserRepository
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := security.NewJWTIssuer("test-secret", "marketplace")
	require.NoError(t, err)
	f := &fixture{users: memory.NewUserRepository(), now: time.Now().UTC()}
	f.svc = &authsvc.Service{
		Users:      f.users,
		Sessions:   memory.NewSessionStore(),
		Passwords:  security.BcryptHasher{Cost: 4},
		Tokens:     tokens,
		SessionTTL: time.Hour,
		Clock:      func() time.Time { return f.now },
	}
	return f
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params authsvc.RegisterParams
		want   error
	}{
		{"missing email", authsvc.RegisterParams{Name: "A", Password: "password123"}, domainuser.ErrEmailRequired},
		{"missing name", authsvc.RegisterParams{Email: "a@example.com", Password: "password123"}, domainuser.ErrNameRequired},
		{"short password", authsvc.RegisterParams{Email: "a@example.com", Name: "A", Password: "short"}, authsvc.ErrPasswordTooShort},
		{"unknown role", authsvc.RegisterParams{Email: "a@example.com", Name: "A", Password: "password123", Role: "wizard"}, domainuser.ErrInvalidRole},
		{"admin role", authsvc.RegisterParams{Email: "a@example.com", Name: "A", Password: "password123", Role: "admin"}, authsvc.ErrRoleNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tc.params)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRegisterLoginResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, authsvc.RegisterParams{Email: " Alice@Example.com ", Name: "Alice", Password: "password123", Role: "provider"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", reg.User.Email)
	assert.Equal(t, []domainuser.Role{domainuser.RoleWorker}, reg.User.Roles)
	assert.Equal(t, f.now.Add(time.Hour), reg.ExpiresAt)

	_, err = f.svc.Register(ctx, authsvc.RegisterParams{Email: "alice@example.com", Name: "Other", Password: "password123"})
	assert.ErrorIs(t, err, domainuser.ErrEmailAlreadyUsed)

	_, err = f.svc.Login(ctx, authsvc.LoginParams{Email: "alice@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, authsvc.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, authsvc.LoginParams{Email: "nobody@example.com", Password: "password123"})
	assert.ErrorIs(t, err, authsvc.ErrInvalidCredentials)

	login, err := f.svc.Login(ctx, authsvc.LoginParams{Email: "ALICE@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.NotEqual(t, reg.Token, login.Token)

	resolved, err := f.svc.ResolveToken(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, resolved.User.ID)

	_, err = f.svc.ResolveToken(ctx, "")
	assert.ErrorIs(t, err, domainauth.ErrTokenRequired)
	_, err = f.svc.ResolveToken(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)
}

func TestLogoutRevokesOnlyThatSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Register(ctx, authsvc.RegisterParams{Email: "bob@example.com", Name: "Bob", Password: "password123"})
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, authsvc.LoginParams{Email: "bob@example.com", Password: "password123"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, first.Token))
	require.NoError(t, f.svc.Logout(ctx, first.Token))
	require.NoError(t, f.svc.Logout(ctx, "garbage"))

	_, err = f.svc.ResolveToken(ctx, first.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)
	_, err = f.svc.ResolveToken(ctx, second.Token)
	assert.NoError(t, err)
}

func TestResolveRejectsExpiredSessionsAndBlockedUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Register(ctx, authsvc.RegisterParams{Email: "carol@example.com", Name: "Carol", Password: "password123"})
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	_, err = f.svc.ResolveToken(ctx, res.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)

	fresh, err := f.svc.Login(ctx, authsvc.LoginParams{Email: "carol@example.com", Password: "password123"})
	require.NoError(t, err)
	user, err := f.users.ByID(ctx, res.User.ID)
	require.NoError(t, err)
	user.Blocked = true
	require.NoError(t, f.users.Save(ctx, user))

	_, err = f.svc.ResolveToken(ctx, fresh.Token)
	assert.ErrorIs(t, err, authsvc.ErrUserBlocked)
	_, err = f.svc.Login(ctx, authsvc.LoginParams{Email: "carol@example.com", Password: "password123"})
	assert.ErrorIs(t, err, authsvc.ErrUserBlocked)
}

func TestServiceRequiresDependencies(t *testing.T) {
	_, err := (&authsvc.Service{}).Login(context.Background(), authsvc.LoginParams{Email: "x", Password: "y"})
	assert.Error(t, err)
}
