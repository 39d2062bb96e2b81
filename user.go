package session

import "strings"

// User is the in-memory, derived view of an authenticated Identity plus its
// resolved Role. It is recomputed from the Identity on every session change
// and never persisted, so it cannot drift from the backend's record.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role"`
}

// IsAdmin reports whether the resolved role grants back office access.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

const metadataNameKey = "name"

// deriveUser builds the User view for an identity. The display name comes
// from sign up metadata, falling back to the email local part.
func deriveUser(identity Identity, resolver *Resolver) *User {
	name := displayName(identity)

	return &User{
		ID:    identity.ID,
		Email: identity.Email,
		Name:  name,
		Role:  resolver.Resolve(identity),
	}
}

func displayName(identity Identity) string {
	if identity.UserMetadata != nil {
		if raw, ok := identity.UserMetadata[metadataNameKey]; ok {
			if name, ok := raw.(string); ok && strings.TrimSpace(name) != "" {
				return strings.TrimSpace(name)
			}
		}
	}

	if at := strings.Index(identity.Email, "@"); at > 0 {
		return identity.Email[:at]
	}

	return identity.Email
}
