package session_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/iateclube/go-session"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	assert.True(t, session.IsCredentialError(session.ErrInvalidCredentials))
	assert.False(t, session.IsCredentialError(session.ErrBackendUnreachable))
	assert.False(t, session.IsCredentialError(nil))

	assert.True(t, session.IsTransportError(session.ErrBackendUnreachable))
	assert.False(t, session.IsTransportError(session.ErrInvalidCredentials))
	assert.False(t, session.IsTransportError(nil))

	// Plain errors carry no category.
	assert.False(t, session.IsCredentialError(fmt.Errorf("boom")))
	assert.False(t, session.IsTransportError(fmt.Errorf("boom")))
}

func TestWrappedErrorsKeepCategory(t *testing.T) {
	wrapped := fmt.Errorf("sign in: %w", session.ErrInvalidCredentials)
	assert.True(t, session.IsCredentialError(wrapped))
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()

	var nilSession *session.Session
	assert.True(t, nilSession.Expired(now))

	assert.False(t, (&session.Session{}).Expired(now))

	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	assert.True(t, (&session.Session{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&session.Session{ExpiresAt: &future}).Expired(now))
}
