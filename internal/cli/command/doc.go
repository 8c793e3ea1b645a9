// Package command defines the chatdesk commands on urfave/cli/v2.
//
//   - root.go: application, global flags, exit codes
//   - runtime.go: per-invocation wiring of config, logger, store and session
//   - login.go: login and logout
//   - session.go: session status, refresh and watch
//   - chat.go: chat history, show and send
//   - docs.go: document list, upload, show, update and delete
//   - config.go: config show, path and init
//
// Every command that needs credentials resumes the stored session first,
// which refreshes an access token close to expiry, and closes the session
// manager on exit without wiping the store.
package command
