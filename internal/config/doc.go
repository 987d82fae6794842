// Package config loads, defaults, and validates the TOML configuration that
// drives the pipeline. Validation runs at load time so misconfiguration
// aborts before any stage executes.
package config
