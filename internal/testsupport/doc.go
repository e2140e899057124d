// Package testsupport provides shared helpers for integration-style tests:
// temp-dir configs, store setup, and presentation archive builders.
package testsupport
