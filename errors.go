package session

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeBackendRequired    = "session_backend_required"
	TextCodeInvalidCredential  = "session_invalid_credentials"
	TextCodeAdminRequired      = "session_admin_required"
	TextCodeBackendUnreachable = "session_backend_unreachable"
	TextCodeSignInSuperseded   = "session_sign_in_superseded"
)

// MsgInvalidCredentials is the only message shown to end users for failed
// sign ins. Unknown email, wrong password, wrong role, and backend outages
// all surface this same text so accounts and privileges cannot be
// enumerated.
const MsgInvalidCredentials = "invalid email or password"

// ErrBackendRequired is returned when the store is built without a
// credential backend. Configuration errors are the one class that is fatal
// instead of being folded into a Result.
var ErrBackendRequired = errors.New("credential backend is required", errors.CategoryBadInput).
	WithTextCode(TextCodeBackendRequired).
	WithCode(errors.CodeBadRequest)

// ErrInvalidCredentials is returned when the backend rejects the email or
// password.
var ErrInvalidCredentials = errors.New(MsgInvalidCredentials, errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredential).
	WithCode(errors.CodeUnauthorized)

// ErrAdminRequired is the internal error for a valid credential with an
// insufficient role. It never reaches end users; the store converts it into
// a credential shaped failure.
var ErrAdminRequired = errors.New("administrator role required", errors.CategoryAuthz).
	WithTextCode(TextCodeAdminRequired).
	WithCode(errors.CodeForbidden)

// ErrBackendUnreachable wraps transport failures talking to the credential
// backend. Logged distinctly so operators can tell outages from bad
// credentials, but surfaced to users exactly like a credential error.
var ErrBackendUnreachable = errors.New("credential backend unreachable", errors.CategoryOperation).
	WithTextCode(TextCodeBackendUnreachable).
	WithCode(errors.CodeInternal)

// ErrSignInSuperseded is the internal rejection for a sign in attempt whose
// result arrived after a newer attempt was initiated.
var ErrSignInSuperseded = errors.New("sign in superseded by a newer attempt", errors.CategoryConflict).
	WithTextCode(TextCodeSignInSuperseded).
	WithCode(errors.CodeConflict)

// IsCredentialError reports whether err represents a rejected credential.
func IsCredentialError(err error) bool {
	return hasCategory(err, errors.CategoryAuth)
}

// IsTransportError reports whether err represents backend unavailability
// rather than a genuine rejection.
func IsTransportError(err error) bool {
	return hasCategory(err, errors.CategoryOperation)
}

func hasCategory(err error, category errors.Category) bool {
	if err == nil {
		return false
	}
	var rich *errors.Error
	if !errors.As(err, &rich) {
		return false
	}
	return rich.Category == category
}
