// Package session holds the authenticated session state for the Iate Clube
// Rio Verde site: who is signed in, and as what.
//
// Role resolution:
//   - Identities carry potentially redundant role signals (backend assigned
//     metadata, sign up metadata, a bootstrap email allow list). Resolver
//     collapses them deterministically, trusting the least forgeable signal
//     first and defaulting to the client role. Every consumer goes through
//     the resolved role; nothing re-derives "is admin" from raw fields.
//
// Session store:
//   - Store owns the Unknown -> Anonymous <-> Authenticated lifecycle and
//     serializes all mutations. Operations report credential and
//     authorization failures as Result values with a single generic message,
//     so callers render inline errors without being able to enumerate
//     accounts or privileges. Admin sign ins that resolve to a client role
//     are terminated on the backend before the failure is reported.
//
// Change propagation:
//   - Listener subscribes once to the credential backend's change feed and
//     reconciles the store on refreshes, external sign outs, and multi tab
//     sign ins, recomputing the role on every event. Consumers observe the
//     store through OnChange; session events never force an application
//     reload.
//
// Credential backends live under provider/: gotrue speaks to a hosted
// GoTrue/Supabase endpoint, localauth is a self contained backend for
// development and tests.
package session
