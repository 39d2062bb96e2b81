// Package gotrue implements session.CredentialBackend against a hosted
// GoTrue endpoint (the auth component of a Supabase project). It owns the
// token refresh schedule and translates backend responses into the change
// events the session core consumes.
package gotrue
