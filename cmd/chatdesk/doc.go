// Package main provides the entry point for chatdesk.
//
// chatdesk is a command-line client for the chat assistant and its
// document library. It signs in against the Auth API, keeps the session
// in a local credential store and refreshes it silently.
//
// Usage:
//
//	chatdesk login -u alice
//	chatdesk chat send "What changed in the Q3 report?"
//	chatdesk docs upload report.pdf
//	chatdesk -o json session status
//
// Build metadata is injected with
//
//	-ldflags "-X github.com/yndnr/chatdesk/internal/infra/buildinfo.Version=v1.0.0"
package main
