// Package config provides CLI configuration for chatdesk.
//
//   - spec.go: CLIConfig struct (~/.chatdesk/config.yaml)
//   - loader.go: layered loading via confloader, validation and saving
package config
