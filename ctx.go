package session

import "context"

var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// WithContext sets the derived User in the given context
func WithContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok
}

// IsAdminContext reports whether the context carries an admin user.
func IsAdminContext(ctx context.Context) bool {
	user, ok := FromContext(ctx)
	return ok && user.IsAdmin()
}
