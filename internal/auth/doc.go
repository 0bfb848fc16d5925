// Package auth issues and verifies the bearer tokens of the driverd API.
//
// Tokens are HS256 JWTs carrying a Role. Each role grants a fixed set of
// permissions:
//   - viewer: read instance status, fields and triggers
//   - operator: viewer plus field writes and backdoor commands
//   - admin: operator plus adding, reconfiguring and removing instances
//
// Tokens are minted offline with "driverd token" and validated by signature
// only. There is no user store.
package auth
