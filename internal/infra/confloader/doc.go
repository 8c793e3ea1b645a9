// Package confloader provides configuration loading mechanism.
//
// It wraps koanf to load configuration from layered sources into a typed
// struct. Later sources override earlier ones:
//
//  1. Defaults (LoadMap)
//  2. Configuration file (YAML)
//  3. Environment variables (CHATDESK_ prefix, "__" separates nesting)
//  4. Command-line flags (LoadMap)
//
// Watcher reports changes to configuration files via fsnotify.
package confloader
