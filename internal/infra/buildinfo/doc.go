// Package buildinfo provides build information for chatdesk.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/chatdesk/internal/infra/buildinfo.Version=v1.0.0"
package buildinfo
