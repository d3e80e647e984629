// Package logger builds the slog.Logger the SDK uses for human-readable
// diagnostics. SDK internals never log through a global; the configured
// logger is threaded into each component, and the default is Discard so an
// embedding application stays silent unless it opts in.
package logger
