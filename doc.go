// Package authkit is the client-side session and authentication core shared
// by the dashboard applications: token lifecycle, claims decoding, the
// schema-validated request pipeline, and the credential-exchange flow.
//
// Token lifecycle:
//   - TokenStore owns the access/refresh pair. Pairs are stored and cleared
//     atomically, persisted through a pluggable Storage, and every change is
//     published to subscribers. External storage changes (another tab or
//     process) are ingested passively and republished, never written back.
//   - RefreshCoordinator guarantees a single in-flight call to the refresh
//     endpoint no matter how many requests race into a 401. A failed refresh
//     is a hard invalidation: the store is cleared and callers sign out.
//
// Request pipeline:
//   - Client validates outgoing payloads before any network I/O, attaches
//     bearer auth alongside the cookie jar, validates the response envelope
//     and typed payload, and retries exactly once after a successful refresh
//     when a 401 comes back. Failures surface as ValidationError,
//     NetworkError or APIError; context cancellation passes through as is.
//
// Session and credential exchange:
//   - SessionManager composes the store, decoded claims and the delegated
//     user/organization fetchers into one read model, persists the active
//     organization/role selection per user, and keeps a proactive refresh
//     timer armed ahead of token expiry.
//   - LoginFlow drives identifier check, password login, OTP issuance and
//     verification, password reset and registration completion as a sum-type
//     state machine. Server errors render in place and never change phase.
package authkit
