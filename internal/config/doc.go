// Package config loads, normalizes, and validates vellum's TOML
// configuration.
//
// Load resolves the config file (explicit flag, then
// ~/.config/vellum/config.toml, then ./vellum.toml), merges it over
// repository defaults, expands every path field, and validates the result.
// Publish-only settings are validated lazily by ValidatePublish so stage
// passes can run without remote credentials.
package config
