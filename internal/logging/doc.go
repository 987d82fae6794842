// Package logging wraps log/slog construction and provides the attribute
// helpers and context plumbing used across the pipeline.
package logging
