// Package guard provides route guards for the back office HTTP surface.
// Decisions come exclusively from the session store snapshot, so every
// route shares the resolver's single notion of "is admin".
package guard

import (
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/iateclube/go-session"
)

// DefaultContextKey is where the guard stores the derived user for
// downstream handlers and templates.
const DefaultContextKey = "session_user"

// SnapshotProvider is the read surface the guard needs from the store.
type SnapshotProvider interface {
	Snapshot() session.Snapshot
}

// ErrNotSettled is returned while the initial session check has not
// finished. An unknown state is never treated as anonymous; callers should
// retry shortly.
var ErrNotSettled = errors.New("session state not settled", errors.CategoryOperation).
	WithCode(errors.CodeInternal)

// ErrAuthenticationRequired is returned for anonymous visitors on guarded
// routes.
var ErrAuthenticationRequired = errors.New("authentication required", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// ErrAdminRequired is returned for authenticated clients on admin routes.
var ErrAdminRequired = errors.New("administrator role required", errors.CategoryAuthz).
	WithCode(errors.CodeForbidden)

// Config holds guard options.
type Config struct {
	// MinRole is the role required to pass. RoleClient admits any
	// authenticated user, RoleAdmin only back office staff.
	MinRole session.Role

	// ContextKey overrides where the user is stored on the request
	// context. Default: DefaultContextKey.
	ContextKey string

	// ErrorHandler renders rejections. Required.
	ErrorHandler router.ErrorHandler
}

func (c Config) contextKey() string {
	if c.ContextKey != "" {
		return c.ContextKey
	}
	return DefaultContextKey
}

// New builds the guard middleware.
func New(store SnapshotProvider, cfg Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			snapshot := store.Snapshot()

			if err := Authorize(snapshot, cfg.MinRole); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.contextKey(), snapshot.User)
			ctx.SetContext(session.WithContext(ctx.Context(), snapshot.User))

			return ctx.Next()
		}
	}
}

// Authorize is the guard's decision function: does this snapshot admit the
// required role. Split out so it can be exercised without a router.
func Authorize(snapshot session.Snapshot, minRole session.Role) error {
	if snapshot.State == session.StateUnknown {
		return ErrNotSettled
	}

	if snapshot.State != session.StateAuthenticated || snapshot.User == nil {
		return ErrAuthenticationRequired
	}

	if minRole == session.RoleAdmin && !snapshot.User.IsAdmin() {
		return ErrAdminRequired
	}

	return nil
}
