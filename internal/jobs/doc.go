// Package jobs defines the conversion job model, its status machine, and the
// persistence Store used by the workflow manager and API surface.
package jobs
