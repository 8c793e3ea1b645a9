// Package repl provides the read-eval-print loop behind
// `chatdesk chat interactive`.
//
//   - repl.go: the loop and slash-command dispatch
//   - completer.go: prefix matching of slash commands
//   - history.go: input history persisted across runs
//
// Lines starting with "/" are commands; anything else goes to the
// default handler, which sends it to the assistant.
package repl
