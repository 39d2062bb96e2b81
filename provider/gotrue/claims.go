package gotrue

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/iateclube/go-session"
)

// accessClaims is the claim set GoTrue puts in access tokens.
type accessClaims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// parseAccessClaims decodes the claims of a token the backend just handed
// us over TLS. No signature check happens here; verification of tokens
// received from untrusted callers goes through TokenValidator.
func parseAccessClaims(raw string) (*accessClaims, error) {
	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// identity maps the claim set to the core Identity shape. The top level
// role claim is folded into AppMetadata when it names an application role
// and no explicit assignment exists, matching how the site historically
// read it.
func (c *accessClaims) identity() session.Identity {
	id := session.Identity{
		Email:        c.Email,
		UserMetadata: c.UserMetadata,
		AppMetadata:  c.AppMetadata,
	}
	if c.Subject != "" {
		id.ID = c.Subject
	}

	foldTopLevelRole(&id, c.Role)

	return id
}

func foldTopLevelRole(id *session.Identity, role string) {
	if _, ok := session.ParseRole(role); !ok {
		return
	}
	if id.AppMetadata == nil {
		id.AppMetadata = map[string]any{}
	}
	if _, exists := id.AppMetadata["role"]; !exists {
		id.AppMetadata["role"] = role
	}
}
