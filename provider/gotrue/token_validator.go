package gotrue

import (
	stderrors "errors"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/iateclube/go-session"
)

// TokenValidator verifies GoTrue issued access tokens against the
// project's JWK Set. Use it on back office services that receive user
// tokens from untrusted callers; the Client itself trusts tokens it just
// obtained over TLS.
type TokenValidator struct {
	jwks *keyfunc.JWKS
}

// NewTokenValidator creates a validator with a background refreshing JWKS.
func NewTokenValidator(cfg Config, logger session.Logger) (*TokenValidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "invalid gotrue configuration")
	}

	if logger == nil {
		logger = defaultLogger{}
	}

	jwks, err := keyfunc.Get(cfg.jwksURL(), keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Warn("jwks background refresh failed: %v", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to fetch jwk set")
	}

	return &TokenValidator{jwks: jwks}, nil
}

// Validate checks the token signature and expiry and returns the Identity
// carried in its claims.
func (v *TokenValidator) Validate(raw string) (session.Identity, error) {
	claims := &accessClaims{}

	token, err := jwt.ParseWithClaims(raw, claims, v.jwks.Keyfunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return session.Identity{}, errors.Wrap(err, errors.CategoryAuth, "token expired").
				WithCode(errors.CodeUnauthorized)
		}
		return session.Identity{}, errors.Wrap(err, errors.CategoryAuth, "token invalid").
			WithCode(errors.CodeUnauthorized)
	}

	if !token.Valid {
		return session.Identity{}, errors.New("token invalid", errors.CategoryAuth).
			WithCode(errors.CodeUnauthorized)
	}

	return claims.identity(), nil
}

// Close stops the JWKS background refresh.
func (v *TokenValidator) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
