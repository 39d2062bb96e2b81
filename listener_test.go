package session_test

import (
	"testing"
	"time"

	"github.com/iateclube/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newListenerFixture(t *testing.T) (*session.Store, *session.Listener, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	store := newTestStore(t, backend)
	listener, err := session.NewListener(store, session.WithListenerLogger(quiet{}))
	require.NoError(t, err)
	return store, listener, backend
}

func TestNewListenerRequiresStore(t *testing.T) {
	listener, err := session.NewListener(nil)
	assert.Nil(t, listener)
	assert.ErrorIs(t, err, session.ErrBackendRequired)
}

func TestListenerPropagatesBackendEvents(t *testing.T) {
	store, listener, backend := newListenerFixture(t)
	listener.Start()
	defer listener.Close()

	backend.emit(session.EventSignedIn, clientSession("a@x.com", "Ana"))
	assert.Equal(t, session.StateAuthenticated, store.State())
	user := store.CurrentUser()
	require.NotNil(t, user)
	assert.Equal(t, session.RoleClient, user.Role)

	backend.emit(session.EventSignedOut, nil)
	assert.Equal(t, session.StateAnonymous, store.State())
	assert.Nil(t, store.CurrentUser())
}

func TestListenerRecomputesRoleOnRefresh(t *testing.T) {
	store, listener, backend := newListenerFixture(t)
	listener.Start()
	defer listener.Close()

	backend.emit(session.EventSignedIn, clientSession("a@x.com", "Ana"))
	require.False(t, store.IsAdmin())

	// A refreshed token can carry changed claims; the role must track it.
	expires := time.Now().Add(time.Hour)
	promoted := &session.Session{
		Identity: session.Identity{
			ID:          "user-a@x.com",
			Email:       "a@x.com",
			AppMetadata: map[string]any{"role": "admin"},
		},
		AccessToken: "refreshed-token",
		ExpiresAt:   &expires,
	}
	backend.emit(session.EventTokenRefreshed, promoted)

	assert.True(t, store.IsAdmin())
	user := store.CurrentUser()
	require.NotNil(t, user)
	assert.Equal(t, session.RoleAdmin, user.Role)

	// And back down when an update strips the assignment.
	backend.emit(session.EventUserUpdated, clientSession("a@x.com", "Ana"))
	assert.False(t, store.IsAdmin())
}

func TestListenerStartIsIdempotent(t *testing.T) {
	_, listener, backend := newListenerFixture(t)
	defer listener.Close()

	listener.Start()
	listener.Start()
	listener.Start()

	assert.Equal(t, 1, backend.subscriberCount())
}

func TestListenerCloseIsIdempotent(t *testing.T) {
	_, listener, backend := newListenerFixture(t)
	listener.Start()

	listener.Close()
	listener.Close()

	assert.Equal(t, 1, backend.unsubCalls)
	assert.Equal(t, 0, backend.subscriberCount())
}

func TestListenerCloseBeforeStart(t *testing.T) {
	_, listener, _ := newListenerFixture(t)
	assert.NotPanics(t, listener.Close)
}

func TestListenerInitialSessionEvent(t *testing.T) {
	store, listener, backend := newListenerFixture(t)
	listener.Start()
	defer listener.Close()

	backend.emit(session.EventInitialSession, nil)
	assert.Equal(t, session.StateAnonymous, store.State())
}
