package session

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity is the authentication record issued by the credential backend.
// UserMetadata carries free form values supplied at sign up (display name,
// requested role), AppMetadata carries values assigned by the backend or an
// administrator. The application never mutates an Identity directly.
type Identity struct {
	ID           string         `json:"id,omitempty"`
	Email        string         `json:"email,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// Session is a live, time bounded authenticated binding to an Identity.
type Session struct {
	Identity     Identity   `json:"identity"`
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the session's expiration time has passed. Sessions
// without an expiration time never expire locally; the backend owns them.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt == nil {
		return false
	}
	return now.After(*s.ExpiresAt)
}

func (s Session) String() string {
	exp := "<nil>"
	if s.ExpiresAt != nil {
		exp = s.ExpiresAt.Format(time.RFC1123)
	}
	return fmt.Sprintf("user=%s email=%s exp=%s", s.Identity.ID, s.Identity.Email, exp)
}

// ChangeEvent identifies the kind of session change the backend reported.
type ChangeEvent string

const (
	EventInitialSession ChangeEvent = "INITIAL_SESSION"
	EventSignedIn       ChangeEvent = "SIGNED_IN"
	EventSignedOut      ChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed ChangeEvent = "TOKEN_REFRESHED"
	EventUserUpdated    ChangeEvent = "USER_UPDATED"
)

// Subscription is a handle to a change notification registration.
// Unsubscribe must be safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// CredentialBackend is the external identity provider the session core is
// built on. Implementations authenticate credentials, own token refresh, and
// push asynchronous change notifications through OnSessionChange.
type CredentialBackend interface {
	// CurrentSession returns the live session, or nil when nobody is
	// signed in.
	CurrentSession(ctx context.Context) (*Session, error)

	// SignInWithPassword exchanges credentials for a session.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignUp creates a new identity. It does not imply a session; backends
	// configured to auto confirm deliver the session through
	// OnSessionChange instead.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Identity, error)

	// SignOut terminates the current session on the backend.
	SignOut(ctx context.Context) error

	// RefreshSession forces a token refresh for the current session.
	RefreshSession(ctx context.Context) (*Session, error)

	// OnSessionChange registers a callback invoked on every backend
	// initiated session change. A nil session means signed out.
	OnSessionChange(fn func(event ChangeEvent, s *Session)) Subscription
}

// Result is the value returned by store operations. Credential and
// authorization failures are reported here, never as panics or returned
// errors, so callers can render inline messages.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func okResult() Result {
	return Result{Success: true}
}

func failResult(msg string) Result {
	return Result{Success: false, Error: msg}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
