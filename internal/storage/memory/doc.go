// Package memory provides an in-memory CredentialStore.
//
// It is used when the user opts out of persistence (store.backend=memory)
// and by tests. Failures can be injected per operation to exercise the
// session manager's error paths.
package memory
