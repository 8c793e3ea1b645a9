// Package redisstore provides a Redis-backed CredentialStore so several
// chatdesk processes on one host (or a shared jump box) see one session.
//
// Keys are namespaced as <prefix>:credentials:<name>. The refresh counter
// uses INCR, multi-key writes run in MULTI/EXEC.
package redisstore
