// Package tlsroots builds the TLS settings of the API connections.
//
//   - roots.go: system roots plus extra CA certificates from PEM files
//   - watcher.go: client certificate reload via fsnotify
//
// A client certificate is always served through a Watcher so that a
// long-running `session watch` picks up a rotated certificate without a
// restart. Short-lived commands load it once and never start the watcher.
package tlsroots
