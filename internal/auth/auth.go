// Package auth implements the pluggable authentication backends the
// broker calls out to during CONNECT processing (spec.md §4.3 treats
// "run authentication" as an external collaborator, out of scope for
// the broker core itself).
package auth

// Authenticator decides whether a CONNECT's credentials are accepted.
// remoteAddr is the connecting socket's network address — spec.md §1's
// external interface is authenticate(remote_ip, username?, password?),
// never the client-supplied id, which is untrusted input at
// authentication time. username/password are only meaningful when the
// CONNECT carried the corresponding flag; an Authenticator that
// doesn't care about credentials at all (AllowAll) simply ignores
// them.
type Authenticator func(remoteAddr string, hasUsername bool, username string, hasPassword bool, password []byte) bool

// AllowAll accepts every CONNECT regardless of credentials. This is
// the default backend, matching the teacher's original "no auth
// configured" behavior.
func AllowAll(string, bool, string, bool, []byte) bool { return true }
