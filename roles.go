package session

import "strings"

// Role is the coarse grained access level derived from an Identity
type Role = string

const (
	// RoleClient is a regular guest account (bookings, client area)
	RoleClient Role = "client"
	// RoleAdmin can manage rooms and reservations in the back office
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is one of the predefined valid roles
func IsValidRole(r Role) bool {
	switch r {
	case RoleClient, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, IsValidRole(role)
}

// DefaultAdminEmails is the bootstrap allow list of administrator accounts.
// It only applies when an identity carries no explicit role metadata.
var DefaultAdminEmails = []string{
	"admin@rioverde.com",
	"criszimn@rioverde.com",
}

const metadataRoleKey = "role"

// Resolver deterministically maps an Identity to a Role. Signals are
// consulted in trust order: a role assigned by the backend outranks one the
// user supplied at sign up, and the email allow list is only a bootstrap
// fallback when neither is present. The first signal that is present decides,
// so a backend assigned "client" shadows a user claimed "admin". Anything
// unresolvable defaults to RoleClient.
type Resolver struct {
	adminEmails map[string]struct{}
}

// NewResolver builds a Resolver with the given administrator email allow
// list. Matching is exact but case insensitive. Pass DefaultAdminEmails to
// keep the stock back office accounts.
func NewResolver(adminEmails []string) *Resolver {
	allow := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		allow[email] = struct{}{}
	}
	return &Resolver{adminEmails: allow}
}

// Resolve maps an Identity to its Role. Pure function of its input; it never
// fails and has no side effects.
func (r *Resolver) Resolve(identity Identity) Role {
	if role, ok := metadataRole(identity.AppMetadata); ok {
		return normalizeRole(role)
	}

	if role, ok := metadataRole(identity.UserMetadata); ok {
		return normalizeRole(role)
	}

	if r.isAllowListed(identity.Email) {
		return RoleAdmin
	}

	return RoleClient
}

func (r *Resolver) isAllowListed(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	_, ok := r.adminEmails[email]
	return ok
}

func metadataRole(metadata map[string]any) (string, bool) {
	if metadata == nil {
		return "", false
	}

	raw, ok := metadata[metadataRoleKey]
	if !ok {
		return "", false
	}

	role, ok := raw.(string)
	if !ok {
		return "", false
	}

	role = strings.TrimSpace(role)
	if role == "" {
		return "", false
	}

	return role, true
}

// normalizeRole grants admin only on an exact claim; every other value
// present in a role field collapses to client (least privilege).
func normalizeRole(role string) Role {
	if role == RoleAdmin {
		return RoleAdmin
	}
	return RoleClient
}
