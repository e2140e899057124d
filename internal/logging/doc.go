// Package logging provides slog construction and shared structured-field
// conventions for the conversion pipeline. Console output targets humans
// watching the daemon; JSON output targets log shippers.
package logging
