// Package service provides the session lifecycle manager for chatdesk.
//
// SessionManager owns the access/refresh token pair, the refresh budget
// and the single pending refresh timer. It depends on two injected
// collaborators:
//
//   - storage.CredentialStore: durable mirror of the token tuple
//   - AuthEndpoint: the login and refresh exchanges
//
// All state transitions and store writes happen under the manager's
// mutex; the network exchange runs outside it. Refreshes are single-flight
// and every transition out of a session bumps an epoch, so a refresh that
// completes after a logout is discarded instead of reviving the session.
package service
