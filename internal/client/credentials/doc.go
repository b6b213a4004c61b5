// Package credentials persists the session credential: the access token and
// the authenticated user's profile, treated as one unit.
//
// # Consistency
//
// A credential is either fully absent or fully present. Set writes the token
// and the subject in one atomic backend operation, so no reader observes a
// token without its subject. Anything else found in storage (only one half
// present, an undecodable blob, a structurally broken token) is corruption:
// Get reports it as absent and CleanupInvalid purges it.
//
// # Backends
//
//   - SQLBackend keeps both halves in the client's sqlite metadata table,
//     written inside one transaction.
//   - MemoryBackend keeps them in process memory.
//
// Values can be sealed with AES-GCM (see WithSealKey) so that tampered data
// is detected as corruption rather than trusted.
package credentials
