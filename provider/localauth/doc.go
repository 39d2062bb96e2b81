// Package localauth is a self contained credential backend for development
// and tests: accounts live in a bun managed table, passwords are bcrypt
// hashed, and sessions are HS256 signed token pairs. It implements the same
// contract as the hosted gotrue provider, including the change event feed.
package localauth
