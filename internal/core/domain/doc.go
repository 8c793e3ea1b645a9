// Package domain defines the core domain models for chatdesk.
//
// Domain models are pure value objects without any IO dependencies or
// framework coupling. This package contains:
//
//   - TokenState: the access/refresh token tuple and its refresh budget
//   - Grant: a decoded token response from the Auth API
//   - Errors: domain error taxonomy shared by the session manager,
//     the credential stores and the API clients
package domain
