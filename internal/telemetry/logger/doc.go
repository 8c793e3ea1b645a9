// Package logger provides structured logging for chatdesk.
//
//   - logger.go: slog-backed Logger with a process-wide dynamic level
//   - context.go: logger and request ID propagation through context
//   - redact.go: credential masking applied to every attribute
//
// Bearer tokens must never reach a log line. Attributes whose key names a
// credential are redacted, and JWT or "Bearer ..." values are replaced by
// a fingerprint wherever they appear.
package logger
