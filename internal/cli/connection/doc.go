// Package connection provides the HTTP clients chatdesk uses to talk to
// its three backends.
//
//   - http.go: shared HTTP client (rate limit, request ids, metrics)
//   - auth.go: Auth API token and refresh exchanges
//   - chat.go: Chat API conversations and messages
//   - documents.go: Documents API listing and uploads
//   - manager.go: builds the clients from configured endpoints
//
// Chat and Documents calls carry the session's bearer token and end the
// session when the server answers 401.
package connection
