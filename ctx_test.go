package session_test

import (
	"context"
	"testing"

	"github.com/iateclube/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserContextRoundTrip(t *testing.T) {
	user := &session.User{ID: "u-1", Email: "a@x.com", Name: "Ana", Role: session.RoleClient}

	ctx := session.WithContext(context.Background(), user)
	got, ok := session.FromContext(ctx)

	require.True(t, ok)
	assert.Equal(t, user, got)
}

func TestFromContextMissing(t *testing.T) {
	got, ok := session.FromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestIsAdminContext(t *testing.T) {
	admin := &session.User{ID: "u-2", Email: "admin@rioverde.com", Role: session.RoleAdmin}
	client := &session.User{ID: "u-1", Email: "a@x.com", Role: session.RoleClient}

	assert.True(t, session.IsAdminContext(session.WithContext(context.Background(), admin)))
	assert.False(t, session.IsAdminContext(session.WithContext(context.Background(), client)))
	assert.False(t, session.IsAdminContext(context.Background()))
}
