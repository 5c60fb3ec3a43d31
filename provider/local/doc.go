// Package local provides a self-hosted IdentityProvider for go-station-auth.
//
// Accounts live in the accounts table (or an in-memory store in tests),
// passwords are bcrypt hashed and sessions are HS256 JWTs. A Provider is
// shared process-wide; each browser context gets its own Client, which holds
// exactly one session and notifies listeners while holding its lock.
//
// Signing out records the token id in a RevocationStore so the same token is
// rejected until it would have expired.
package local
