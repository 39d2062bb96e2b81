package localauth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iateclube/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

type quiet struct{}

func (quiet) Error(format string, args ...any) {}
func (quiet) Warn(format string, args ...any)  {}
func (quiet) Info(format string, args ...any)  {}
func (quiet) Debug(format string, args ...any) {}

func newTestBackend(t *testing.T, cfg Config) *Backend {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(context.Background(), db))

	if cfg.SigningKey == "" {
		cfg.SigningKey = "test-signing-key"
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.MinCost
	}

	backend, err := New(db, cfg, WithLogger(quiet{}))
	require.NoError(t, err)
	return backend
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{SigningKey: "k"})
	assert.Error(t, err)

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()

	_, err = New(db, Config{})
	assert.Error(t, err)
}

func TestSignUpAndSignIn(t *testing.T) {
	backend := newTestBackend(t, Config{})
	ctx := context.Background()

	identity, err := backend.SignUp(ctx, "A@X.com", "secret123",
		map[string]any{"name": "Ana", "role": "client"})
	require.NoError(t, err)
	require.NotNil(t, identity)
	// Emails are stored lowercased.
	assert.Equal(t, "a@x.com", identity.Email)
	assert.Equal(t, "Ana", identity.UserMetadata["name"])
	assert.NotEmpty(t, identity.ID)

	// Without AutoConfirm, sign up leaves no session behind.
	current, err := backend.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	sess, err := backend.SignInWithPassword(ctx, "a@x.com", "secret123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, identity.ID, sess.Identity.ID)
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	require.NotNil(t, sess.ExpiresAt)
}

func TestSignUpDeterministicIdentity(t *testing.T) {
	a := newTestBackend(t, Config{})
	b := newTestBackend(t, Config{})
	ctx := context.Background()

	first, err := a.SignUp(ctx, "a@x.com", "secret123", nil)
	require.NoError(t, err)
	second, err := b.SignUp(ctx, "a@x.com", "other-password", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	backend := newTestBackend(t, Config{})
	ctx := context.Background()

	_, err := backend.SignUp(ctx, "a@x.com", "secret123", nil)
	require.NoError(t, err)

	_, err = backend.SignUp(ctx, "A@X.COM", "secret123", nil)
	assert.Error(t, err)
}

func TestSignInRejections(t *testing.T) {
	backend := newTestBackend(t, Config{})
	ctx := context.Background()

	_, err := backend.SignUp(ctx, "a@x.com", "secret123", nil)
	require.NoError(t, err)

	_, wrongPassword := backend.SignInWithPassword(ctx, "a@x.com", "nope")
	require.Error(t, wrongPassword)

	_, unknownEmail := backend.SignInWithPassword(ctx, "nobody@x.com", "secret123")
	require.Error(t, unknownEmail)

	// Unknown email and wrong password are indistinguishable.
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
	assert.True(t, session.IsCredentialError(wrongPassword))
	assert.True(t, session.IsCredentialError(unknownEmail))
}

func TestAutoConfirmEstablishesSession(t *testing.T) {
	backend := newTestBackend(t, Config{AutoConfirm: true})
	ctx := context.Background()

	var events []session.ChangeEvent
	sub := backend.OnSessionChange(func(event session.ChangeEvent, _ *session.Session) {
		events = append(events, event)
	})
	defer sub.Unsubscribe()

	_, err := backend.SignUp(ctx, "a@x.com", "secret123", map[string]any{"name": "Ana"})
	require.NoError(t, err)

	assert.Equal(t, []session.ChangeEvent{session.EventSignedIn}, events)

	current, err := backend.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "a@x.com", current.Identity.Email)
}

func TestAccessTokenClaims(t *testing.T) {
	backend := newTestBackend(t, Config{SigningKey: "claims-key", TokenTTL: time.Minute})
	ctx := context.Background()

	_, err := backend.SignUp(ctx, "a@x.com", "secret123", map[string]any{"name": "Ana"})
	require.NoError(t, err)
	sess, err := backend.SignInWithPassword(ctx, "a@x.com", "secret123")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(sess.AccessToken, claims, func(*jwt.Token) (any, error) {
		return []byte("claims-key"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	require.True(t, token.Valid)

	assert.Equal(t, sess.Identity.ID, claims["sub"])
	assert.Equal(t, "a@x.com", claims["email"])
	meta, _ := claims["user_metadata"].(map[string]any)
	assert.Equal(t, "Ana", meta["name"])
}

func TestRefreshRotatesTokens(t *testing.T) {
	backend := newTestBackend(t, Config{})
	ctx := context.Background()

	_, err := backend.SignUp(ctx, "a@x.com", "secret123", nil)
	require.NoError(t, err)
	sess, err := backend.SignInWithPassword(ctx, "a@x.com", "secret123")
	require.NoError(t, err)

	var events []session.ChangeEvent
	sub := backend.OnSessionChange(func(event session.ChangeEvent, _ *session.Session) {
		events = append(events, event)
	})
	defer sub.Unsubscribe()

	refreshed, err := backend.RefreshSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, sess.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, sess.Identity.ID, refreshed.Identity.ID)
	assert.Equal(t, []session.ChangeEvent{session.EventTokenRefreshed}, events)
}

func TestRefreshWithoutSession(t *testing.T) {
	backend := newTestBackend(t, Config{})
	_, err := backend.RefreshSession(context.Background())
	assert.Error(t, err)
}

func TestSignOutClearsSession(t *testing.T) {
	backend := newTestBackend(t, Config{})
	ctx := context.Background()

	_, err := backend.SignUp(ctx, "a@x.com", "secret123", nil)
	require.NoError(t, err)
	_, err = backend.SignInWithPassword(ctx, "a@x.com", "secret123")
	require.NoError(t, err)

	var events []session.ChangeEvent
	sub := backend.OnSessionChange(func(event session.ChangeEvent, _ *session.Session) {
		events = append(events, event)
	})
	defer sub.Unsubscribe()

	require.NoError(t, backend.SignOut(ctx))
	assert.Equal(t, []session.ChangeEvent{session.EventSignedOut}, events)

	current, err := backend.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	// The old refresh token is revoked along with the session.
	_, err = backend.RefreshSession(ctx)
	assert.Error(t, err)
}

func TestSetRolePromotesOnNextSignIn(t *testing.T) {
	backend := newTestBackend(t, Config{})
	ctx := context.Background()

	_, err := backend.SignUp(ctx, "staff@x.com", "secret123",
		map[string]any{"name": "Staff", "role": "client"})
	require.NoError(t, err)

	sess, err := backend.SignInWithPassword(ctx, "staff@x.com", "secret123")
	require.NoError(t, err)
	assert.Nil(t, sess.Identity.AppMetadata)

	require.NoError(t, backend.SetRole(ctx, "staff@x.com", session.RoleAdmin))

	sess, err = backend.SignInWithPassword(ctx, "staff@x.com", "secret123")
	require.NoError(t, err)
	require.NotNil(t, sess.Identity.AppMetadata)
	assert.Equal(t, session.RoleAdmin, sess.Identity.AppMetadata["role"])
}

func TestSetRoleValidation(t *testing.T) {
	backend := newTestBackend(t, Config{})
	ctx := context.Background()

	assert.Error(t, backend.SetRole(ctx, "a@x.com", "superuser"))
	assert.Error(t, backend.SetRole(ctx, "nobody@x.com", session.RoleAdmin))
}

func TestBackendDrivesStore(t *testing.T) {
	backend := newTestBackend(t, Config{})
	ctx := context.Background()

	store, err := session.NewStore(backend, session.WithLogger(quiet{}))
	require.NoError(t, err)
	listener, err := session.NewListener(store, session.WithListenerLogger(quiet{}))
	require.NoError(t, err)
	listener.Start()
	defer listener.Close()

	store.Init(ctx)
	assert.Equal(t, session.StateAnonymous, store.State())

	result := store.SignUp(ctx, "a@x.com", "secret123", "Ana")
	require.True(t, result.Success, result.Error)

	result = store.SignIn(ctx, "a@x.com", "secret123", session.RoleClient)
	require.True(t, result.Success, result.Error)

	user := store.CurrentUser()
	require.NotNil(t, user)
	assert.Equal(t, session.RoleClient, user.Role)
	assert.Equal(t, "Ana", user.Name)

	require.NoError(t, backend.SetRole(ctx, "a@x.com", session.RoleAdmin))
	result = store.SignIn(ctx, "a@x.com", "secret123", session.RoleAdmin)
	require.True(t, result.Success, result.Error)
	assert.True(t, store.IsAdmin())
}
