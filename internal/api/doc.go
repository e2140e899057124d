// Package api contains the transport-neutral service layer between the
// daemon's HTTP surface (and the CLI) and the job store: upload validation,
// job snapshots, and cancel semantics.
package api
